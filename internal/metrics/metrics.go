// Package metrics exposes livewatch counters in Prometheus format. It is fed
// entirely from the event bus.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"livewatch/internal/eventbus"
	"livewatch/internal/notifier"
	"livewatch/internal/twitch"
	"livewatch/internal/watch"
)

const namespace = "livewatch"

type Metrics struct {
	registry *prometheus.Registry

	cycles        *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	liveNow       prometheus.Gauge
	tracked       prometheus.Gauge
	transitions   *prometheus.CounterVec
	notifications *prometheus.CounterVec
	tokens        *prometheus.CounterVec
	lastSuccess   prometheus.Gauge
}

// New creates a private registry with the livewatch metrics plus the Go and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Watch cycles by result and error kind.",
		}, []string{"result", "kind"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of a watch cycle.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),
		liveNow: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "broadcasters_live",
			Help:      "Broadcasters live in the last successful poll.",
		}),
		tracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "broadcasters_tracked",
			Help:      "Resolved broadcasters being watched.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "State transitions by kind (live, offline, initial).",
		}, []string{"kind"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification deliveries by kind and result.",
		}, []string{"kind", "result"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_exchanges_total",
			Help:      "App access token exchanges by result.",
		}, []string{"result"}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful cycle.",
		}),
	}
	m.registry.MustRegister(
		m.cycles,
		m.cycleDuration,
		m.liveNow,
		m.tracked,
		m.transitions,
		m.notifications,
		m.tokens,
		m.lastSuccess,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Run consumes bus events until ctx is done.
func (m *Metrics) Run(ctx context.Context, bus eventbus.Bus) {
	ch, unsub := bus.Subscribe(256)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			m.Observe(ev)
		}
	}
}

// Observe applies one event.
func (m *Metrics) Observe(ev eventbus.Event) {
	switch d := ev.Data.(type) {
	case watch.CycleEvent:
		m.cycles.WithLabelValues(d.Result, d.Kind).Inc()
		m.cycleDuration.Observe(d.Duration.Seconds())
		m.tracked.Set(float64(d.Tracked))
		if d.Result == "ok" {
			m.liveNow.Set(float64(d.Live))
			m.lastSuccess.Set(float64(ev.Time.Unix()))
		}
	case watch.ResolveEvent:
		m.tracked.Set(float64(d.Tracked))
	case watch.TransitionEvent:
		m.transitions.WithLabelValues(d.Kind).Inc()
	case notifier.DeliveryEvent:
		result := "sent"
		if ev.Type == eventbus.TypeFailed {
			result = "failed"
		}
		m.notifications.WithLabelValues(d.Kind, result).Inc()
	case twitch.TokenEvent:
		result := "ok"
		if !d.OK {
			result = "error"
		}
		m.tokens.WithLabelValues(result).Inc()
	}
}
