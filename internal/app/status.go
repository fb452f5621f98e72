package app

import (
	"livewatch/internal/notifier"
	"livewatch/internal/runtime/supervisor"
	"livewatch/internal/scheduler"
	"livewatch/internal/watch"
)

// StatusView is what /status renders.
type StatusView struct {
	Watch          watch.Status           `json:"watch"`
	Scheduler      scheduler.Stats        `json:"scheduler"`
	Notifications  []notifier.HistoryItem `json:"notifications"`
	TokenExchanges uint64                 `json:"token_exchanges"`
	Goroutines     supervisor.Counters    `json:"goroutines"`
	Fatal          string                 `json:"fatal,omitempty"`
}

func (a *App) Status() StatusView {
	v := StatusView{
		Watch:          a.engine.Status(),
		Scheduler:      a.sched.Stats(),
		Notifications:  a.notif.History(),
		TokenExchanges: a.creds.Exchanges(),
		Goroutines:     a.sup.Counters(),
	}
	if err := a.Err(); err != nil {
		v.Fatal = err.Error()
	}
	return v
}
