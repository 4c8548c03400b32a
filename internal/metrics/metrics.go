// Package metrics registers the Prometheus instruments for the flow
// engine. New must be called once per process.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	InitsTotal      *prometheus.CounterVec
	SubmitsTotal    *prometheus.CounterVec
	CancelsTotal    prometheus.Counter
	ActiveSessions  prometheus.Gauge
	EventsPublished *prometheus.CounterVec
	HookDuration    *prometheus.HistogramVec
}

func New() *Metrics {
	return &Metrics{
		InitsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flow_inits_total",
				Help: "Flow session initializations by status",
			},
			[]string{"status"}, // status: ok, error
		),

		SubmitsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flow_submits_total",
				Help: "Flow submits by outcome",
			},
			[]string{"outcome"}, // continue, redirect, or an error code
		),

		CancelsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "flow_cancels_total",
				Help: "Flow session cancellations",
			},
		),

		ActiveSessions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "flow_sessions_active",
				Help: "Sessions initialized minus completed/cancelled",
			},
		),

		EventsPublished: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flow_events_published_total",
				Help: "Events by publish result",
			},
			[]string{"result"}, // published, denied, deduplicated
		),

		HookDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "flow_hook_duration_seconds",
				Help:    "Hook execution duration by phase",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"phase"}, // before, after
		),
	}
}

// The observe helpers are nil-safe so components can run without metrics
// in tests.

func (m *Metrics) ObserveInit(status string) {
	if m == nil {
		return
	}
	m.InitsTotal.WithLabelValues(status).Inc()
	if status == "ok" {
		m.ActiveSessions.Inc()
	}
}

func (m *Metrics) ObserveSubmit(outcome string) {
	if m == nil {
		return
	}
	m.SubmitsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveCancel() {
	if m == nil {
		return
	}
	m.CancelsTotal.Inc()
	m.ActiveSessions.Dec()
}

func (m *Metrics) ObserveEvent(result string) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveHookDuration(phase string, seconds float64) {
	if m == nil {
		return
	}
	m.HookDuration.WithLabelValues(phase).Observe(seconds)
}
