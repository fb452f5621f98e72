package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"livewatch/internal/scheduler"
	"livewatch/internal/twitch"
	logx "livewatch/pkg/logx"
)

const (
	DefaultOpsAddr = "127.0.0.1:9090"
)

// Duration parses a Go duration string field. Empty means 0.
func Duration(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// DurationOr is Duration with def for empty or zero values. Errors were
// already reported by Validate, so they also fall back to def.
func DurationOr(raw string, def time.Duration) time.Duration {
	d, err := Duration("", raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// Names returns the normalized broadcaster list.
func (c *Config) Names() []string {
	return twitch.NormalizeNames(c.Twitch.Broadcasters)
}

// OpsAddr returns the listen address with the default applied.
func (c *Config) OpsAddr() string {
	if a := strings.TrimSpace(c.Ops.Addr); a != "" {
		return a
	}
	return DefaultOpsAddr
}

// Validate checks everything that must hold before the config is used. It
// also gates hot reloads.
func Validate(c *Config) error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if strings.TrimSpace(c.Twitch.ClientID) == "" {
		add("twitch.client_id is required (or %s)", EnvTwitchClientID)
	}
	if strings.TrimSpace(c.Twitch.ClientSecret) == "" {
		add("twitch.client_secret is required (or %s)", EnvTwitchClientSecret)
	}
	switch n := len(c.Names()); {
	case n == 0:
		add("twitch.broadcasters: at least one name is required (or %s)", EnvTwitchUsernames)
	case n > twitch.MaxBatch:
		add("twitch.broadcasters: %d names, at most %d are supported", n, twitch.MaxBatch)
	}
	if strings.TrimSpace(c.Telegram.Token) == "" {
		add("telegram.token is required (or %s)", EnvTelegramToken)
	}
	if c.Telegram.ChatID == 0 {
		add("telegram.chat_id is required (or %s)", EnvTelegramChatID)
	}
	if c.Telegram.ThreadID < 0 {
		add("telegram.thread_id must be >= 0")
	}

	if strings.TrimSpace(c.Watch.Interval) != "" {
		if _, err := scheduler.ParseSchedule(c.Watch.Interval); err != nil {
			add("watch.interval: %w", err)
		}
	}
	if _, err := scheduler.LoadLocation(c.Watch.Timezone); err != nil {
		add("watch.timezone: %w", err)
	}

	for path, raw := range map[string]string{
		"twitch.request_timeout": c.Twitch.RequestTimeout,
		"watch.run_timeout":      c.Watch.RunTimeout,
		"notifier.send_timeout":  c.Notifier.SendTimeout,
	} {
		if _, err := Duration(path, raw); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Notifier.RatePerSec < 0 {
		add("notifier.rate_per_sec must be >= 0")
	}

	if !validLevel(c.Logging.Level) {
		add("logging.level: unknown level %q", c.Logging.Level)
	}
	if c.Logging.Chat.Enabled && !validLevel(c.Logging.Chat.MinLevel) {
		add("logging.chat.min_level: unknown level %q", c.Logging.Chat.MinLevel)
	}

	if c.Ops.Enabled {
		host, _, err := net.SplitHostPort(c.OpsAddr())
		if err != nil {
			add("ops.addr: %w", err)
		} else if !isLoopbackHost(host) && strings.TrimSpace(c.Ops.Token) == "" && !c.Ops.AllowInsecure {
			add("ops.addr %q is not loopback: set ops.token or ops.allow_insecure", c.OpsAddr())
		}
	}

	return errors.Join(errs...)
}

func validLevel(s string) bool { return logx.ValidLevel(s) }

func isLoopbackHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
