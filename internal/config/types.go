package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

type Config struct {
	Twitch   TwitchConfig   `json:"twitch"`
	Telegram TelegramConfig `json:"telegram"`
	Watch    WatchConfig    `json:"watch"`
	Notifier NotifierConfig `json:"notifier"`
	Logging  LoggingConfig  `json:"logging"`
	Ops      OpsConfig      `json:"ops"`
}

type TwitchConfig struct {
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	Broadcasters NameList `json:"broadcasters"`
	// RequestTimeout is a Go duration string (default "15s").
	RequestTimeout string `json:"request_timeout,omitempty"`
}

type TelegramConfig struct {
	Token    string `json:"token"`
	ChatID   int64  `json:"chat_id"`
	ThreadID int    `json:"thread_id,omitempty"`
}

// WatchConfig controls the polling cadence.
//
// Interval accepts a Go duration ("60s"), HH:MM ("00:01"), bare seconds
// ("60") or a cron expression ("*/2 * * * *"). Default: 60s.
type WatchConfig struct {
	Interval string `json:"interval,omitempty"`
	Timezone string `json:"timezone,omitempty"`
	// RunTimeout bounds one cycle (default: none).
	RunTimeout string `json:"run_timeout,omitempty"`
}

// NotifierConfig controls delivery. All fields apply on reload.
type NotifierConfig struct {
	RatePerSec      float64 `json:"rate_per_sec,omitempty"`
	DisablePreview  bool    `json:"disable_preview,omitempty"`
	AnnounceOffline bool    `json:"announce_offline,omitempty"`
	SendTimeout     string  `json:"send_timeout,omitempty"`
}

type LoggingConfig struct {
	Level string `json:"level"`
	// Console defaults to true when omitted.
	Console *bool       `json:"console,omitempty"`
	File    LoggingFile `json:"file"`
	Chat    LoggingChat `json:"chat"`
}

func (l LoggingConfig) ConsoleEnabled() bool { return l.Console == nil || *l.Console }

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// LoggingChat mirrors log lines at or above MinLevel into the delivery chat.
type LoggingChat struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// OpsConfig controls the operations HTTP server (health, metrics, status, pprof).
//
// Prefer binding to loopback. A non-loopback Addr requires Token unless
// AllowInsecure is set.
type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:9090"
	Token         string `json:"token,omitempty"` // bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}

// NameList accepts either a list of names or one comma separated string.
type NameList []string

func (n *NameList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*n = nil
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*n = splitNames(s)
		return nil
	}
	var list []string
	if err := json.Unmarshal(b, &list); err != nil {
		return fmt.Errorf("broadcasters: expected a list or a comma separated string: %w", err)
	}
	*n = NameList(list)
	return nil
}

func splitNames(s string) NameList {
	var out NameList
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
