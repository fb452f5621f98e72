package app

import (
	"context"
	"fmt"

	"livewatch/internal/config"
	logx "livewatch/pkg/logx"
)

// startReload fans committed configs out to the components that can take
// them live. Everything else is reported as needing a restart.
func (a *App) startReload() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
}

// validateReload runs before a reloaded config is committed. A new delivery
// chat must be visible to the bot, otherwise the restart it asks for fails.
func (a *App) validateReload(ctx context.Context, cfg *config.Config) error {
	to := chatTarget(cfg)
	if to.ChatID == a.target.ChatID {
		return nil
	}
	if _, err := a.sender.LocateChat(ctx, to); err != nil {
		return fmt.Errorf("telegram chat %d: %w", to.ChatID, err)
	}
	return nil
}

func (a *App) applyConfig(oldCfg, newCfg *config.Config) config.Change {
	ch, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if ch.Empty() {
		a.log.Info("config reloaded (no changes)")
		return ch
	}
	a.log.Debug("config change summary", attrs...)

	if ch.Logging {
		a.logs.Apply(mapLogConfig(newCfg))
	}
	if ch.Notifier {
		a.notif.Apply(mapNotifierConfig(newCfg))
	}
	if ch.Broadcasters {
		a.engine.RequestResolve(newCfg.Names())
		a.log.Info("broadcaster list changed; re-resolving on next cycle", logx.Int("names", len(newCfg.Names())))
	}
	if ch.Schedule {
		if err := a.sched.Reschedule(newCfg.Watch.Interval, newCfg.Watch.Timezone); err != nil {
			a.log.Warn("reschedule failed; keeping previous schedule", logx.Err(err))
		}
	}
	if len(ch.Restart) > 0 {
		a.log.Warn("config changes require a restart to take effect", logx.Strings("sections", ch.Restart))
	}

	a.log.Info("config reloaded", logx.Strings("changed", ch.Sections))
	return ch
}
