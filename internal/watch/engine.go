package watch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"livewatch/internal/eventbus"
	"livewatch/internal/twitch"
	logx "livewatch/pkg/logx"
)

var (
	ErrNoBroadcasters      = errors.New("watch: no broadcaster could be resolved")
	ErrTooManyBroadcasters = errors.New("watch: too many broadcasters for one status query")
	ErrNotStarted          = errors.New("watch: engine not started")
)

type Resolver interface {
	Resolve(ctx context.Context, names []string) (twitch.Resolution, error)
}

type Poller interface {
	Poll(ctx context.Context, ids []string) (twitch.Snapshot, error)
}

// Notifier delivers transition messages. NotifyOffline may decide to send nothing.
type Notifier interface {
	Notify(ctx context.Context, b Broadcaster, info twitch.LiveInfo) error
	NotifyOffline(ctx context.Context, b Broadcaster) error
}

// CycleEvent is published on eventbus.TypeCycle after every cycle.
type CycleEvent struct {
	Result      string        `json:"result"`
	Kind        string        `json:"kind,omitempty"`
	Error       string        `json:"error,omitempty"`
	Duration    time.Duration `json:"duration"`
	Tracked     int           `json:"tracked"`
	Live        int           `json:"live"`
	Transitions int           `json:"transitions"`
}

// TransitionEvent is published on eventbus.TypeTransition.
type TransitionEvent struct {
	Name string `json:"name"`
	From string `json:"from"`
	To   string `json:"to"`
	Kind string `json:"kind"`
}

// ResolveEvent is published on eventbus.TypeResolve.
type ResolveEvent struct {
	Tracked    int      `json:"tracked"`
	Added      []string `json:"added,omitempty"`
	Removed    []string `json:"removed,omitempty"`
	Unresolved []string `json:"unresolved,omitempty"`
}

// Engine runs the watch cycle. RunCycle must not be called concurrently; the
// scheduler serializes it.
type Engine struct {
	resolver Resolver
	poller   Poller
	notifier Notifier
	bus      eventbus.Bus
	log      logx.Logger
	now      func() time.Time

	tracker *Tracker
	started atomic.Bool

	mu      sync.Mutex
	pending []string

	status atomic.Pointer[Status]
	cycles atomic.Uint64
}

type Option func(*Engine)

func WithBus(b eventbus.Bus) Option {
	return func(e *Engine) {
		if b != nil {
			e.bus = b
		}
	}
}

func WithLogger(l logx.Logger) Option {
	return func(e *Engine) {
		if !l.IsZero() {
			e.log = l
		}
	}
}

func WithNow(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func NewEngine(r Resolver, p Poller, n Notifier, opts ...Option) *Engine {
	e := &Engine{
		resolver: r,
		poller:   p,
		notifier: n,
		bus:      eventbus.Nop{},
		log:      logx.Nop(),
		now:      time.Now,
		tracker:  NewTracker(),
	}
	for _, o := range opts {
		o(e)
	}
	e.status.Store(&Status{})
	return e
}

// Start resolves the configured names. Unresolvable names are dropped with a
// warning; it fails with ErrNoBroadcasters when none resolve and with
// ErrTooManyBroadcasters when the result does not fit one status query.
func (e *Engine) Start(ctx context.Context, names []string) error {
	l, err := e.resolve(ctx, names)
	if err != nil {
		return err
	}
	e.commit(l)
	e.started.Store(true)
	e.publishStatus(nil)
	return nil
}

// RequestResolve schedules re-resolution of names at the start of the next cycle.
func (e *Engine) RequestResolve(names []string) {
	e.mu.Lock()
	e.pending = append([]string(nil), names...)
	e.mu.Unlock()
}

// requeue puts names back unless a newer request arrived meanwhile.
func (e *Engine) requeue(names []string) {
	e.mu.Lock()
	if e.pending == nil {
		e.pending = names
	}
	e.mu.Unlock()
}

func (e *Engine) takePending() ([]string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending == nil {
		return nil, false
	}
	p := e.pending
	e.pending = nil
	return p, true
}

// lineup is a resolved broadcaster set that has not reached the tracker yet.
type lineup struct {
	order      []string
	ids        map[string]string
	unresolved []string
}

// providerIDs lists the ids in order, the same way Tracker.IDs will after Sync.
func (l lineup) providerIDs() []string {
	out := make([]string, 0, len(l.ids))
	seen := make(map[string]bool, len(l.ids))
	for _, name := range l.order {
		if id := l.ids[name]; id != "" && !seen[name] {
			seen[name] = true
			out = append(out, id)
		}
	}
	return out
}

// resolve looks names up without touching the tracker.
func (e *Engine) resolve(ctx context.Context, names []string) (lineup, error) {
	norm := twitch.NormalizeNames(names)
	if len(norm) == 0 {
		return lineup{}, ErrNoBroadcasters
	}
	res, err := e.resolver.Resolve(ctx, norm)
	if err != nil {
		return lineup{}, fmt.Errorf("resolve broadcasters: %w", err)
	}
	if nf := res.NotFound(); nf != nil {
		e.log.Warn("ignoring unknown broadcasters", logx.Strings("names", res.Unresolved))
	}
	switch n := len(res.Resolved); {
	case n == 0:
		return lineup{}, ErrNoBroadcasters
	case n > twitch.MaxBatch:
		return lineup{}, fmt.Errorf("%w: %d resolved (max %d): %w", ErrTooManyBroadcasters, n, twitch.MaxBatch, twitch.ErrBatchTooLarge)
	}
	return lineup{order: norm, ids: res.Resolved, unresolved: res.Unresolved}, nil
}

func (e *Engine) commit(l lineup) {
	added, removed := e.tracker.Sync(l.order, l.ids)
	e.log.Info("broadcasters resolved",
		logx.Int("tracked", e.tracker.Len()),
		logx.Strings("added", added),
		logx.Strings("removed", removed),
	)
	e.bus.Publish(eventbus.Event{Type: eventbus.TypeResolve, Data: ResolveEvent{
		Tracked:    e.tracker.Len(),
		Added:      added,
		Removed:    removed,
		Unresolved: l.unresolved,
	}})
}

// RunCycle performs one resolve-if-needed, poll, diff, notify pass.
// Delivery failures are logged and do not fail the cycle.
func (e *Engine) RunCycle(ctx context.Context) (err error) {
	if !e.started.Load() {
		return ErrNotStarted
	}
	start := e.now()
	ev := CycleEvent{}
	defer func() {
		ev.Duration = e.now().Sub(start)
		ev.Tracked = e.tracker.Len()
		ev.Result = "ok"
		if err != nil {
			ev.Result = "error"
			ev.Kind = ErrorKind(err)
			ev.Error = err.Error()
		}
		e.cycles.Add(1)
		e.bus.Publish(eventbus.Event{Type: eventbus.TypeCycle, Data: ev})
		e.publishStatus(err)
	}()

	if err := ctx.Err(); err != nil {
		return err
	}

	// A pending lineup is only committed together with a successful poll.
	ids := e.tracker.IDs()
	var next *lineup
	pendingNames, pending := e.takePending()
	if pending {
		l, rerr := e.resolve(ctx, pendingNames)
		switch {
		case rerr == nil:
			next, ids = &l, l.providerIDs()
		case errors.Is(rerr, ErrNoBroadcasters), errors.Is(rerr, ErrTooManyBroadcasters):
			e.log.Error("new broadcaster list rejected; keeping the current one", logx.Err(rerr))
		default:
			e.requeue(pendingNames)
			return rerr
		}
	}

	if err := ctx.Err(); err != nil {
		if next != nil {
			e.requeue(pendingNames)
		}
		return err
	}
	snap, err := e.poller.Poll(ctx, ids)
	if err != nil {
		if next != nil {
			e.requeue(pendingNames)
		}
		return fmt.Errorf("poll: %w", err)
	}
	if next != nil {
		e.commit(*next)
	}
	ev.Live = len(snap)

	transitions := e.tracker.Apply(snap)
	ev.Transitions = len(transitions)
	for _, t := range transitions {
		e.bus.Publish(eventbus.Event{Type: eventbus.TypeTransition, Data: TransitionEvent{
			Name: t.Broadcaster.Name,
			From: t.From.String(),
			To:   t.To.String(),
			Kind: t.Kind(),
		}})
		e.dispatch(ctx, t)
	}
	return nil
}

func (e *Engine) dispatch(ctx context.Context, t Transition) {
	log := e.log.With(logx.Broadcaster(t.Broadcaster.Name))
	switch {
	case t.Notify():
		log.Info("went live", logx.String("title", t.Info.Title), logx.String("category", t.Info.Category))
	case t.WentOffline():
		log.Info("went offline")
	default:
		log.Debug("initial state", logx.String("state", t.To.String()))
		return
	}
	if ctx.Err() != nil {
		log.Warn("shutting down; notification skipped")
		return
	}

	var err error
	if t.Notify() {
		err = e.notifier.Notify(ctx, t.Broadcaster, t.Info)
	} else {
		err = e.notifier.NotifyOffline(ctx, t.Broadcaster)
	}
	if err != nil {
		log.Warn("notification failed", logx.Err(err))
	}
}

// ErrorKind classifies cycle errors for metrics and logs.
func ErrorKind(err error) string {
	var (
		ae *twitch.AuthError
		ne *twitch.NetworkError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.As(err, &ae):
		return "auth"
	case errors.As(err, &ne):
		return "network"
	case errors.Is(err, twitch.ErrBatchTooLarge):
		return "batch"
	default:
		return "other"
	}
}
