package config

import (
	"errors"
	"io/fs"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables that override file values.
const (
	EnvTwitchClientID     = "TWITCH_CLIENT_ID"
	EnvTwitchClientSecret = "TWITCH_CLIENT_SECRET"
	EnvTwitchUsernames    = "TWITCH_USERNAMES"
	EnvTelegramToken      = "TELEGRAM_TOKEN"
	EnvTelegramChatID     = "TELEGRAM_CHAT_ID"
	EnvTelegramThreadID   = "TELEGRAM_THREAD_ID"
	EnvCheckInterval      = "CHECK_INTERVAL"
	EnvLogLevel           = "LOG_LEVEL"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// LoadDotEnv loads KEY=VALUE files into the process environment. Variables
// already set win. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
	}
	return nil
}

// ApplyEnv overrides cfg with any variables present in the environment.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	get := func(k string) (string, bool) {
		v, ok := lookup(k)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get(EnvTwitchClientID); ok {
		cfg.Twitch.ClientID = v
	}
	if v, ok := get(EnvTwitchClientSecret); ok {
		cfg.Twitch.ClientSecret = v
	}
	if v, ok := get(EnvTwitchUsernames); ok {
		cfg.Twitch.Broadcasters = splitNames(v)
	}
	if v, ok := get(EnvTelegramToken); ok {
		cfg.Telegram.Token = v
	}
	if v, ok := get(EnvTelegramChatID); ok {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return errors.New(EnvTelegramChatID + ": not an integer")
		}
		cfg.Telegram.ChatID = id
	}
	if v, ok := get(EnvTelegramThreadID); ok {
		id, err := strconv.Atoi(v)
		if err != nil {
			return errors.New(EnvTelegramThreadID + ": not an integer")
		}
		cfg.Telegram.ThreadID = id
	}
	if v, ok := get(EnvCheckInterval); ok {
		cfg.Watch.Interval = v
	}
	if v, ok := get(EnvLogLevel); ok {
		cfg.Logging.Level = v
	}
	return nil
}
