package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "livewatch/pkg/logx"
)

// DefaultInterval is used when no schedule is configured.
const DefaultInterval = 60 * time.Second

var ErrNotRunning = errors.New("scheduler not running")

// Job is one run. Its ctx is cancelled when the scheduler stops.
type Job func(ctx context.Context) error

type Stats struct {
	Schedule string    `json:"schedule"`
	Runs     uint64    `json:"runs"`
	Failures uint64    `json:"failures"`
	Skipped  uint64    `json:"skipped"`
	LastRun  time.Time `json:"last_run,omitempty"`
	Next     time.Time `json:"next,omitempty"`
}

// Scheduler triggers a single Job. Apply-style changes go through Reschedule.
type Scheduler struct {
	job        Job
	log        logx.Logger
	runTimeout time.Duration

	parser cron.Parser

	mu      sync.Mutex
	c       *cron.Cron
	entry   cron.EntryID
	spec    Spec
	tz      string
	wrapped cron.Job
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	runs     atomic.Uint64
	failures atomic.Uint64
	skipped  atomic.Uint64
	lastRun  atomic.Int64
}

type Option func(*Scheduler)

func WithLogger(l logx.Logger) Option {
	return func(s *Scheduler) {
		if !l.IsZero() {
			s.log = l
		}
	}
}

// WithRunTimeout bounds each run. Zero means unbounded.
func WithRunTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.runTimeout = d }
}

func New(job Job, opts ...Option) *Scheduler {
	s := &Scheduler{
		job: job,
		log: logx.Nop(),
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start validates the schedule, runs the job once right away and then on
// every firing.
func (s *Scheduler) Start(ctx context.Context, schedule, timezone string) error {
	spec, loc, err := s.prepare(schedule, timezone)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.c != nil {
		s.mu.Unlock()
		return errors.New("scheduler already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.wrapped = cron.NewChain(cron.SkipIfStillRunning(cronLogger{s})).Then(cron.FuncJob(s.run))
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	s.spec, s.tz = spec, timezone
	s.entry, err = s.c.AddJob(spec.Expr(), s.wrapped)
	if err != nil {
		s.c, s.cancel = nil, nil
		s.mu.Unlock()
		return fmt.Errorf("register schedule: %w", err)
	}
	s.c.Start()
	wrapped := s.wrapped
	s.mu.Unlock()

	s.log.Info("scheduler started", logx.String("schedule", spec.String()), logx.String("tz", loc.String()))
	go wrapped.Run()
	return nil
}

// Trigger requests an extra run now. It is skipped if a run is in progress.
func (s *Scheduler) Trigger() error {
	s.mu.Lock()
	w := s.wrapped
	running := s.c != nil
	s.mu.Unlock()
	if !running {
		return ErrNotRunning
	}
	go w.Run()
	return nil
}

// Reschedule swaps the schedule without interrupting a run in progress.
func (s *Scheduler) Reschedule(schedule, timezone string) error {
	spec, loc, err := s.prepare(schedule, timezone)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return ErrNotRunning
	}
	if spec == s.spec && timezone == s.tz {
		return nil
	}
	if timezone != s.tz {
		old := s.c
		s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
		s.c.Start()
		old.Stop()
	} else {
		s.c.Remove(s.entry)
	}
	id, err := s.c.AddJob(spec.Expr(), s.wrapped)
	if err != nil {
		return fmt.Errorf("register schedule: %w", err)
	}
	s.entry, s.spec, s.tz = id, spec, timezone
	s.log.Info("schedule changed", logx.String("schedule", spec.String()), logx.String("tz", loc.String()))
	return nil
}

// Stop cancels the run context and waits for an in-flight run, bounded by ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	c, cancel := s.c, s.cancel
	s.c, s.cancel = nil, nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}

	start := time.Now()
	cronDone := c.Stop()
	cancel()

	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
		return nil
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out; run still in progress")
		return ctx.Err()
	}
}

func (s *Scheduler) Stats() Stats {
	st := Stats{
		Runs:     s.runs.Load(),
		Failures: s.failures.Load(),
		Skipped:  s.skipped.Load(),
	}
	if ns := s.lastRun.Load(); ns != 0 {
		st.LastRun = time.Unix(0, ns)
	}
	s.mu.Lock()
	st.Schedule = s.spec.String()
	if s.c != nil {
		st.Next = s.c.Entry(s.entry).Next
	}
	s.mu.Unlock()
	return st
}

func (s *Scheduler) prepare(schedule, timezone string) (Spec, *time.Location, error) {
	if strings.TrimSpace(schedule) == "" {
		schedule = DefaultInterval.String()
	}
	spec, err := ParseSchedule(schedule)
	if err != nil {
		return Spec{}, nil, err
	}
	if _, err := s.parser.Parse(spec.Expr()); err != nil {
		return Spec{}, nil, fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}
	loc, err := LoadLocation(timezone)
	if err != nil {
		return Spec{}, nil, err
	}
	return spec, loc, nil
}

// LoadLocation resolves an IANA zone name. Empty means local time.
func LoadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", name, err)
	}
	return loc, nil
}

func (s *Scheduler) run() {
	s.mu.Lock()
	if s.c == nil || s.ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	base := s.ctx
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	ctx, cancel := base, context.CancelFunc(func() {})
	if s.runTimeout > 0 {
		ctx, cancel = context.WithTimeout(base, s.runTimeout)
	}
	defer cancel()

	start := time.Now()
	s.lastRun.Store(start.UnixNano())
	s.runs.Add(1)

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		err = s.job(ctx)
	}()

	took := time.Since(start)
	switch {
	case err == nil:
		s.log.Debug("run finished", logx.Duration("took", took))
	case errors.Is(err, context.Canceled) && base.Err() != nil:
		s.log.Debug("run cancelled by shutdown", logx.Duration("took", took))
	default:
		s.failures.Add(1)
		s.log.Warn("run failed", logx.Duration("took", took), logx.Err(err))
	}
}

// cronLogger routes robfig/cron log lines to logx and counts skipped firings.
type cronLogger struct {
	s *Scheduler
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	if msg == "skip" {
		l.s.skipped.Add(1)
		l.s.log.Debug("firing skipped; previous run still in progress")
		return
	}
	l.s.log.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.log.Error("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
