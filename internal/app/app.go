// Package app wires livewatch together: config, logging, the Twitch client,
// the watch engine, the notifier, the scheduler and the ops surface.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"livewatch/internal/config"
	"livewatch/internal/eventbus"
	"livewatch/internal/metrics"
	"livewatch/internal/notifier"
	"livewatch/internal/ops"
	"livewatch/internal/runtime/supervisor"
	"livewatch/internal/scheduler"
	"livewatch/internal/transport"
	"livewatch/internal/transport/telegram"
	"livewatch/internal/twitch"
	"livewatch/internal/watch"
	logx "livewatch/pkg/logx"
	"livewatch/pkg/systemd"
)

// daemonNotifier is the sd_notify surface the app uses.
type daemonNotifier interface {
	Ready() (bool, error)
	Stopping() (bool, error)
	Status(s string) (bool, error)
	Watchdog() (bool, error)
	WatchdogInterval() time.Duration
}

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	root logx.Logger
	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	sender transport.Sender
	target transport.ChatTarget

	creds   *twitch.CredentialManager
	engine  *watch.Engine
	notif   *notifier.Service
	sched   *scheduler.Scheduler
	metrics *metrics.Metrics
	sd      daemonNotifier

	httpClient *http.Client
}

type Option func(*App)

// WithSender replaces the Telegram adapter (tests).
func WithSender(s transport.Sender) Option {
	return func(a *App) { a.sender = s }
}

// WithHTTPClient routes every Twitch call through hc (tests, proxies).
func WithHTTPClient(hc *http.Client) Option {
	return func(a *App) { a.httpClient = hc }
}

func withDaemon(d daemonNotifier) Option {
	return func(a *App) { a.sd = d }
}

// New loads the config and builds every component. Nothing talks to Twitch
// until Start.
func New(cfgPath string, opts ...Option) (*App, error) {
	a := &App{}
	for _, o := range opts {
		o(a)
	}
	if a.sd == nil {
		a.sd = systemd.NewNotifier()
	}

	a.cfgm = config.NewConfigManager(cfgPath)
	cfg, err := a.cfgm.Load()
	if err != nil {
		return nil, err
	}
	a.target = chatTarget(cfg)

	if a.sender == nil {
		bootLog := logx.NewConsole("INFO").With(logx.Component("telegram"))
		ad, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token}, bootLog)
		if err != nil {
			return nil, err
		}
		a.sender = ad
	}

	// Bootstrap with the chat sink off, set the target, then apply the real config.
	logCfg := mapLogConfig(cfg)
	boot := logCfg
	boot.Chat.Enabled = false
	a.logs, a.root = logx.New(boot, a.sender)
	a.logs.SetChatTarget(a.target)
	a.logs.Apply(logCfg)
	a.log = a.root.With(logx.Component("app"))
	a.cfgm.SetLogger(a.component("config"))
	a.cfgm.SetValidator(a.validateReload)

	a.bus = eventbus.New()
	a.metrics = metrics.New()

	tcfg := mapTwitchConfig(cfg, a.httpClient)
	a.creds = twitch.NewCredentialManager(tcfg, a.component("twitch.auth"), twitch.WithBus(a.bus))
	api := twitch.NewAPI(tcfg, a.creds, a.component("twitch"))

	a.notif = notifier.New(mapNotifierConfig(cfg), a.sender, a.target, a.component("notifier"), a.bus)
	a.engine = watch.NewEngine(twitch.NewResolver(api), twitch.NewPoller(api), a.notif,
		watch.WithBus(a.bus),
		watch.WithLogger(a.component("watch")),
	)
	a.sched = scheduler.New(a.cycle,
		scheduler.WithLogger(a.component("scheduler")),
		scheduler.WithRunTimeout(config.DurationOr(cfg.Watch.RunTimeout, 0)),
	)
	return a, nil
}

func (a *App) component(name string) logx.Logger {
	return a.root.With(logx.Component(name))
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start verifies the chat, resolves the broadcasters and starts polling.
// Any error here is fatal.
func (a *App) Start(ctx context.Context) error {
	cfg := a.cfgm.Get()
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.component("supervisor")), supervisor.WithCancelOnError(true))

	chat, err := a.sender.LocateChat(ctx, a.target)
	if err != nil {
		if errors.Is(err, transport.ErrChatNotFound) {
			return fmt.Errorf("telegram chat %d: %w", a.target.ChatID, err)
		}
		return fmt.Errorf("locate telegram chat: %w", err)
	}
	a.log.Info("delivery chat located", logx.Int64("chat_id", chat.ID), logx.String("title", chat.Title))

	a.sup.Go0("metrics", func(c context.Context) { a.metrics.Run(c, a.bus) })
	a.startEventLog()

	if err := a.engine.Start(ctx, cfg.Names()); err != nil {
		return err
	}

	if cfg.Ops.Enabled {
		srv := ops.New(mapOpsConfig(cfg), ops.Sources{
			Ready:   a.ready,
			Status:  func() any { return a.Status() },
			Metrics: a.metrics.Handler(),
			Trigger: a.sched.Trigger,
		}, a.component("ops"))
		a.sup.GoRestart("ops.server", srv.Serve,
			supervisor.WithRestartBackoff(time.Second, 30*time.Second),
			supervisor.WithPublishFirstError(false),
		)
	}

	if err := a.sched.Start(a.sup.Context(), cfg.Watch.Interval, cfg.Watch.Timezone); err != nil {
		return err
	}

	a.checkWatchdog(cfg.Watch.Interval)

	a.startReload()
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	if _, err := a.sd.Ready(); err != nil {
		a.log.Debug("sd_notify ready failed", logx.Err(err))
	}
	tracked := len(a.engine.Status().Broadcasters)
	_, _ = a.sd.Status(fmt.Sprintf("watching %d broadcasters", tracked))
	a.log.Info("app started",
		logx.Int("broadcasters", tracked),
		logx.String("schedule", a.sched.Stats().Schedule),
	)
	return nil
}

// cycle is the scheduled job: one engine cycle plus a watchdog ping on success.
func (a *App) cycle(ctx context.Context) error {
	if err := a.engine.RunCycle(ctx); err != nil {
		return err
	}
	if _, err := a.sd.Watchdog(); err != nil {
		a.log.Debug("sd_notify watchdog failed", logx.Err(err))
	}
	return nil
}

// checkWatchdog logs the unit's WatchdogSec. Only successful cycles ping the
// watchdog, so an interval that is not shorter gets the unit killed.
func (a *App) checkWatchdog(interval string) {
	wd := a.sd.WatchdogInterval()
	if wd <= 0 {
		return
	}
	spec, err := scheduler.ParseSchedule(interval)
	if err == nil && spec.Kind == scheduler.SpecInterval && spec.Every >= wd {
		a.log.Warn("poll interval is not shorter than the systemd watchdog",
			logx.Duration("watchdog", wd),
			logx.Duration("interval", spec.Every),
		)
		return
	}
	a.log.Info("systemd watchdog enabled", logx.Duration("watchdog", wd))
}

func (a *App) ready() (bool, string) {
	st := a.engine.Status()
	switch {
	case !st.Started:
		return false, "starting"
	case st.LastError != "":
		return false, st.LastError
	default:
		return true, ""
	}
}

// startEventLog debug-logs every bus event.
func (a *App) startEventLog() {
	events, unsub := a.bus.Subscribe(128)
	log := a.component("events")
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				log.Debug("event", logx.String("type", e.Type), logx.Any("data", e.Data))
			}
		}
	})
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		if a.logs != nil {
			_ = a.logs.Close()
		}
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = a.sd.Stopping()

	// The scheduler goes first so no new cycle (and no new dispatch) starts.
	stepCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := a.sched.Stop(stepCtx); err != nil {
		a.log.Warn("scheduler stop", logx.Err(err))
	}
	cancel()

	a.sup.Cancel()
	stepCtx, cancel = context.WithTimeout(ctx, 3*time.Second)
	if err := a.sup.Wait(stepCtx); err != nil {
		a.log.Warn("supervisor wait", logx.Err(err))
	}
	cancel()

	a.log.Info("stopped")
	return a.logs.Close()
}
