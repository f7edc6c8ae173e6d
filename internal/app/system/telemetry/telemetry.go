// Package telemetry holds the Prometheus counters for engine outcomes.
// A nil *Metrics is valid and records nothing.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Check-in outcomes.
const (
	CheckinWithin      = "within"
	CheckinOutside     = "outside"
	CheckinDuplicate   = "duplicate"
	CheckinNoLocation  = "no_location"
	CheckinNoGeofence  = "no_geofence"
	CheckinBadCoords   = "invalid_coordinates"
	CheckinEventAbsent = "event_not_found"
	CheckinError       = "error"
)

// Scan outcomes.
const (
	ScanIgnored     = "ignored"
	ScanVerified    = "verified"
	ScanRejected    = "rejected"
	ScanRateLimited = "rate_limited"
	ScanApproved    = "approved"
)

type Metrics struct {
	reg             *prometheus.Registry
	checkins        *prometheus.CounterVec
	xpAppended      *prometheus.CounterVec
	xpPoints        *prometheus.CounterVec
	scans           *prometheus.CounterVec
	taskTransitions *prometheus.CounterVec
	xpRepairs       prometheus.Counter
}

// New registers the engine counters (and the Go/process collectors) on a
// fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		checkins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "volunteerhub",
			Name:      "checkin_attempts_total",
			Help:      "Geofence check-in attempts by outcome.",
		}, []string{"outcome"}),
		xpAppended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "volunteerhub",
			Name:      "xp_appended_total",
			Help:      "XP ledger transactions appended by source.",
		}, []string{"source"}),
		xpPoints: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "volunteerhub",
			Name:      "xp_points_total",
			Help:      "Absolute XP moved by source.",
		}, []string{"source"}),
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "volunteerhub",
			Name:      "identity_scans_total",
			Help:      "Identity scan and approval outcomes.",
		}, []string{"outcome"}),
		taskTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "volunteerhub",
			Name:      "task_transitions_total",
			Help:      "Task lifecycle transitions by target state.",
		}, []string{"to"}),
		xpRepairs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "volunteerhub",
			Name:      "xp_counter_repairs_total",
			Help:      "Cached XP counters repaired by reconciliation.",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.checkins, m.xpAppended, m.xpPoints, m.scans, m.taskTransitions, m.xpRepairs,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) Checkin(outcome string) {
	if m != nil {
		m.checkins.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) XPAppended(source string, delta int64) {
	if m == nil {
		return
	}
	m.xpAppended.WithLabelValues(source).Inc()
	if delta < 0 {
		delta = -delta
	}
	m.xpPoints.WithLabelValues(source).Add(float64(delta))
}

func (m *Metrics) Scan(outcome string) {
	if m != nil {
		m.scans.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) TaskTransition(to string) {
	if m != nil {
		m.taskTransitions.WithLabelValues(to).Inc()
	}
}

func (m *Metrics) XPRepaired() {
	if m != nil {
		m.xpRepairs.Inc()
	}
}
