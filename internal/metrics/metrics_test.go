package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"livewatch/internal/eventbus"
	"livewatch/internal/notifier"
	"livewatch/internal/twitch"
	"livewatch/internal/watch"
)

func TestObserve(t *testing.T) {
	t.Parallel()
	m := New()
	now := time.Unix(1700000000, 0)

	m.Observe(eventbus.Event{Type: eventbus.TypeCycle, Time: now, Data: watch.CycleEvent{Result: "ok", Tracked: 3, Live: 2, Duration: time.Second}})
	m.Observe(eventbus.Event{Type: eventbus.TypeCycle, Time: now, Data: watch.CycleEvent{Result: "error", Kind: "network", Tracked: 3}})
	m.Observe(eventbus.Event{Type: eventbus.TypeTransition, Data: watch.TransitionEvent{Kind: "live"}})
	m.Observe(eventbus.Event{Type: eventbus.TypeSent, Data: notifier.DeliveryEvent{Kind: "live"}})
	m.Observe(eventbus.Event{Type: eventbus.TypeFailed, Data: notifier.DeliveryEvent{Kind: "live", Error: "x"}})
	m.Observe(eventbus.Event{Type: eventbus.TypeToken, Data: twitch.TokenEvent{OK: true}})

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"cycles ok", testutil.ToFloat64(m.cycles.WithLabelValues("ok", "")), 1},
		{"cycles network", testutil.ToFloat64(m.cycles.WithLabelValues("error", "network")), 1},
		{"live", testutil.ToFloat64(m.liveNow), 2},
		{"tracked", testutil.ToFloat64(m.tracked), 3},
		{"transitions", testutil.ToFloat64(m.transitions.WithLabelValues("live")), 1},
		{"sent", testutil.ToFloat64(m.notifications.WithLabelValues("live", "sent")), 1},
		{"failed", testutil.ToFloat64(m.notifications.WithLabelValues("live", "failed")), 1},
		{"tokens", testutil.ToFloat64(m.tokens.WithLabelValues("ok")), 1},
		{"last success", testutil.ToFloat64(m.lastSuccess), 1700000000},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Fatalf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestRunAndHandler(t *testing.T) {
	t.Parallel()
	m := New()
	bus := eventbus.New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx, bus)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for testutil.ToFloat64(m.tokens.WithLabelValues("error")) == 0 {
		bus.Publish(eventbus.Event{Type: eventbus.TypeToken, Data: twitch.TokenEvent{OK: false}})
		if time.Now().After(deadline) {
			t.Fatal("event not consumed")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "livewatch_token_exchanges_total") {
		t.Fatalf("metrics output missing counter:\n%s", body)
	}
}
