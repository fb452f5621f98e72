package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestParseScheduleVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		raw      string
		kind     SpecKind
		source   string
		duration time.Duration
	}{
		{name: "cron", raw: "*/5 * * * *", kind: SpecCron, source: "cron"},
		{name: "descriptor", raw: "@hourly", kind: SpecCron, source: "cron"},
		{name: "prefixed cron", raw: "cron:0 0 * * *", kind: SpecCron, source: "cron"},
		{name: "duration", raw: "60s", kind: SpecInterval, source: "duration", duration: time.Minute},
		{name: "prefixed interval", raw: "interval:45s", kind: SpecInterval, source: "duration", duration: 45 * time.Second},
		{name: "hhmm", raw: "00:05", kind: SpecInterval, source: "hhmm", duration: 5 * time.Minute},
		{name: "seconds", raw: "90", kind: SpecInterval, source: "seconds", duration: 90 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSchedule(tt.raw)
			if err != nil {
				t.Fatalf("ParseSchedule(%q) error: %v", tt.raw, err)
			}
			if got.Kind != tt.kind {
				t.Fatalf("Kind = %v, want %v", got.Kind, tt.kind)
			}
			if got.Source != tt.source {
				t.Fatalf("Source = %s, want %s", got.Source, tt.source)
			}
			if tt.kind == SpecInterval && got.Every != tt.duration {
				t.Fatalf("Every = %v, want %v", got.Every, tt.duration)
			}
		})
	}
}

func TestParseScheduleInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "not-a-schedule", "0", "-5s", "00:00", "01:75"} {
		if _, err := ParseSchedule(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStartRunsImmediately(t *testing.T) {
	t.Parallel()
	var runs atomic.Int32
	s := New(func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})
	if err := s.Start(context.Background(), "1h", "UTC"); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop(context.Background())

	waitFor(t, func() bool { return runs.Load() == 1 })
	st := s.Stats()
	if st.Schedule != "every 1h0m0s" || st.Next.IsZero() {
		t.Fatalf("stats=%+v", st)
	}
}

func TestRunsNeverOverlap(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	var active, maxActive, runs atomic.Int32
	s := New(func(ctx context.Context) error {
		n := active.Add(1)
		if n > maxActive.Load() {
			maxActive.Store(n)
		}
		runs.Add(1)
		<-release
		active.Add(-1)
		return nil
	})
	if err := s.Start(context.Background(), "1h", ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, func() bool { return runs.Load() == 1 })

	_ = s.Trigger()
	_ = s.Trigger()
	waitFor(t, func() bool { return s.Stats().Skipped == 2 })
	close(release)

	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if maxActive.Load() != 1 || runs.Load() != 1 {
		t.Fatalf("max active=%d runs=%d", maxActive.Load(), runs.Load())
	}
}

func TestStopCancelsAndWaits(t *testing.T) {
	t.Parallel()
	started := make(chan struct{})
	var finished atomic.Bool
	s := New(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		time.Sleep(20 * time.Millisecond)
		finished.Store(true)
		return ctx.Err()
	})
	if err := s.Start(context.Background(), "1h", ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	<-started
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if !finished.Load() {
		t.Fatalf("Stop returned before the run finished")
	}
	if s.Stats().Failures != 0 {
		t.Fatalf("shutdown cancellation counted as failure")
	}
	if err := s.Trigger(); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("trigger after stop: %v", err)
	}
}

func TestRescheduleAndFailures(t *testing.T) {
	t.Parallel()
	var runs atomic.Int32
	s := New(func(ctx context.Context) error {
		runs.Add(1)
		return errors.New("poll failed")
	})
	if err := s.Start(context.Background(), "1h", "UTC"); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop(context.Background())
	waitFor(t, func() bool { return s.Stats().Failures == 1 })

	if err := s.Reschedule("bogus", "UTC"); err == nil {
		t.Fatalf("expected invalid schedule error")
	}
	if err := s.Reschedule("00:05", "UTC"); err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	st := s.Stats()
	if st.Schedule != "every 5m0s" {
		t.Fatalf("schedule=%q", st.Schedule)
	}
	if until := time.Until(st.Next); until > 5*time.Minute || until <= 0 {
		t.Fatalf("next=%v", st.Next)
	}
	if err := s.Reschedule("00:05", "Europe/Nowhere"); err == nil {
		t.Fatalf("expected timezone error")
	}
}
