package app

import (
	"net/http"
	"time"

	"livewatch/internal/config"
	"livewatch/internal/notifier"
	"livewatch/internal/ops"
	"livewatch/internal/transport"
	"livewatch/internal/twitch"
	logx "livewatch/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.ConsoleEnabled(),
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Chat: logx.ChatConfig{
			Enabled:    cfg.Logging.Chat.Enabled,
			MinLevel:   cfg.Logging.Chat.MinLevel,
			RatePerSec: cfg.Logging.Chat.RatePerSec,
		},
	}
}

func mapNotifierConfig(cfg *config.Config) notifier.Config {
	return notifier.Config{
		RatePerSec:      cfg.Notifier.RatePerSec,
		DisablePreview:  cfg.Notifier.DisablePreview,
		AnnounceOffline: cfg.Notifier.AnnounceOffline,
		SendTimeout:     config.DurationOr(cfg.Notifier.SendTimeout, 0),
	}
}

func mapTwitchConfig(cfg *config.Config, hc *http.Client) twitch.Config {
	return twitch.Config{
		ClientID:       cfg.Twitch.ClientID,
		ClientSecret:   cfg.Twitch.ClientSecret,
		HTTPClient:     hc,
		RequestTimeout: config.DurationOr(cfg.Twitch.RequestTimeout, 0),
	}
}

func mapOpsConfig(cfg *config.Config) ops.Config {
	return ops.Config{
		Addr:          cfg.OpsAddr(),
		Token:         cfg.Ops.Token,
		AllowInsecure: cfg.Ops.AllowInsecure,
		WriteTimeout:  60 * time.Second,
	}
}

func chatTarget(cfg *config.Config) transport.ChatTarget {
	return transport.ChatTarget{ChatID: cfg.Telegram.ChatID, ThreadID: cfg.Telegram.ThreadID}
}
