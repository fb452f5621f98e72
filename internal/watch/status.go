package watch

import "time"

// Status is a copy of the registry plus cycle bookkeeping, published after
// every cycle for the ops endpoints.
type Status struct {
	Started      bool          `json:"started"`
	Broadcasters []Broadcaster `json:"broadcasters"`
	Cycles       uint64        `json:"cycles"`
	LastCycle    time.Time     `json:"last_cycle,omitempty"`
	LastError    string        `json:"last_error,omitempty"`
}

// Healthy reports whether startup completed and the last cycle, if any, succeeded.
func (s Status) Healthy() bool { return s.Started && s.LastError == "" }

func (e *Engine) publishStatus(cycleErr error) {
	st := &Status{
		Started:      e.started.Load(),
		Broadcasters: e.tracker.Broadcasters(),
		Cycles:       e.cycles.Load(),
	}
	if st.Cycles > 0 {
		st.LastCycle = e.now()
	}
	if cycleErr != nil {
		st.LastError = cycleErr.Error()
	}
	e.status.Store(st)
}

// Status returns the latest published copy. Safe for concurrent use.
func (e *Engine) Status() Status {
	return *e.status.Load()
}
