package config

import (
	"reflect"
	"strings"

	logx "livewatch/pkg/logx"
)

// Change describes what a reload touched.
type Change struct {
	// Sections lists every changed section.
	Sections []string
	// Restart lists changed settings that only take effect after a restart.
	Restart []string

	Broadcasters bool
	Schedule     bool
	Notifier     bool
	Logging      bool
}

func (c Change) Empty() bool { return len(c.Sections) == 0 }

// SummarizeConfigChange compares two configs and returns the change plus
// structured attrs for logging. Secrets never appear in the attrs.
func SummarizeConfigChange(oldCfg, newCfg *Config) (Change, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change
	attrs := make([]logx.Field, 0, 12)
	section := func(name string) { ch.Sections = append(ch.Sections, name) }

	if !reflect.DeepEqual(oldCfg.Names(), newCfg.Names()) {
		ch.Broadcasters = true
		section("twitch.broadcasters")
		attrs = append(attrs, logx.Int("twitch.broadcasters", len(newCfg.Names())))
	}
	if strings.TrimSpace(oldCfg.Twitch.ClientID) != strings.TrimSpace(newCfg.Twitch.ClientID) ||
		strings.TrimSpace(oldCfg.Twitch.ClientSecret) != strings.TrimSpace(newCfg.Twitch.ClientSecret) ||
		strings.TrimSpace(oldCfg.Twitch.RequestTimeout) != strings.TrimSpace(newCfg.Twitch.RequestTimeout) {
		section("twitch")
		ch.Restart = append(ch.Restart, "twitch")
	}

	if oldCfg.Telegram != newCfg.Telegram {
		section("telegram")
		ch.Restart = append(ch.Restart, "telegram")
		attrs = append(attrs,
			logx.Int64("telegram.chat_id", newCfg.Telegram.ChatID),
			logx.Int("telegram.thread_id", newCfg.Telegram.ThreadID),
			logx.Bool("telegram.token_changed", oldCfg.Telegram.Token != newCfg.Telegram.Token),
		)
	}

	if strings.TrimSpace(oldCfg.Watch.Interval) != strings.TrimSpace(newCfg.Watch.Interval) ||
		strings.TrimSpace(oldCfg.Watch.Timezone) != strings.TrimSpace(newCfg.Watch.Timezone) {
		ch.Schedule = true
		section("watch")
		attrs = append(attrs,
			logx.String("watch.interval", strings.TrimSpace(newCfg.Watch.Interval)),
			logx.String("watch.timezone", strings.TrimSpace(newCfg.Watch.Timezone)),
		)
	}
	if strings.TrimSpace(oldCfg.Watch.RunTimeout) != strings.TrimSpace(newCfg.Watch.RunTimeout) {
		section("watch.run_timeout")
		ch.Restart = append(ch.Restart, "watch.run_timeout")
	}

	if oldCfg.Notifier != newCfg.Notifier {
		ch.Notifier = true
		section("notifier")
		attrs = append(attrs,
			logx.Bool("notifier.announce_offline", newCfg.Notifier.AnnounceOffline),
			logx.Float64("notifier.rate_per_sec", newCfg.Notifier.RatePerSec),
			logx.Bool("notifier.disable_preview", newCfg.Notifier.DisablePreview),
		)
	}

	if oldCfg.Logging.Level != newCfg.Logging.Level ||
		oldCfg.Logging.ConsoleEnabled() != newCfg.Logging.ConsoleEnabled() ||
		oldCfg.Logging.File != newCfg.Logging.File ||
		oldCfg.Logging.Chat != newCfg.Logging.Chat {
		ch.Logging = true
		section("logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.ConsoleEnabled()),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.chat", newCfg.Logging.Chat.Enabled),
		)
	}

	if oldCfg.Ops.Enabled != newCfg.Ops.Enabled ||
		oldCfg.OpsAddr() != newCfg.OpsAddr() ||
		oldCfg.Ops.AllowInsecure != newCfg.Ops.AllowInsecure ||
		oldCfg.Ops.Token != newCfg.Ops.Token {
		section("ops")
		ch.Restart = append(ch.Restart, "ops")
		attrs = append(attrs,
			logx.Bool("ops.enabled", newCfg.Ops.Enabled),
			logx.String("ops.addr", newCfg.OpsAddr()),
			logx.Bool("ops.token_set", strings.TrimSpace(newCfg.Ops.Token) != ""),
		)
	}

	if len(ch.Sections) > 0 {
		attrs = append(attrs, logx.Strings("changed", ch.Sections))
	}
	if len(ch.Restart) > 0 {
		attrs = append(attrs, logx.Strings("restart_required", ch.Restart))
	}
	return ch, attrs
}
