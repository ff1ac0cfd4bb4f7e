// Package observability holds the Prometheus metrics shared by the
// settlement, scheduling and realtime components.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups every collector. A nil *Metrics is valid and records
// nothing, which keeps call sites free of nil checks.
type Metrics struct {
	// --- Settlement ---
	SettlementsTotal   *prometheus.CounterVec
	SettlementDuration prometheus.Histogram
	EndSnapshotRetries *prometheus.CounterVec
	ScoreConflicts     prometheus.Counter

	// --- Scheduling ---
	Registrations *prometheus.CounterVec

	// --- Realtime ---
	RelayListeners   *prometheus.GaugeVec
	ListenerFailures *prometheus.CounterVec
	UpstreamConnects *prometheus.CounterVec
	UpstreamDropped  *prometheus.CounterVec
}

// NewMetrics registers all collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SettlementsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "btcguess_settlements_total",
			Help: "Settlement invocations by terminal status and reason.",
		}, []string{"status", "reason"}),
		SettlementDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "btcguess_settlement_duration_seconds",
			Help:    "Wall time of one settlement invocation.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
		}),
		EndSnapshotRetries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "btcguess_end_snapshot_retries_total",
			Help: "End snapshot re-queries by how the retry loop ended.",
		}, []string{"result"}),
		ScoreConflicts: f.NewCounter(prometheus.CounterOpts{
			Name: "btcguess_score_update_conflicts_total",
			Help: "Conditional score writes rejected because the record changed.",
		}),
		Registrations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "btcguess_schedule_registrations_total",
			Help: "Change-feed records handled by the schedule registrar.",
		}, []string{"disposition"}),
		RelayListeners: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "btcguess_relay_listeners",
			Help: "Live downstream listeners per relay.",
		}, []string{"relay"}),
		ListenerFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "btcguess_relay_listener_failures_total",
			Help: "Listener deliveries that returned an error or panicked.",
		}, []string{"relay"}),
		UpstreamConnects: f.NewCounterVec(prometheus.CounterOpts{
			Name: "btcguess_upstream_connects_total",
			Help: "Upstream subscription connection attempts by kind.",
		}, []string{"relay", "kind"}),
		UpstreamDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "btcguess_upstream_dropped_total",
			Help: "Upstream messages dropped before delivery.",
		}, []string{"relay", "why"}),
	}
}

func (m *Metrics) ObserveSettlement(status, reason string, d time.Duration) {
	if m == nil {
		return
	}
	m.SettlementsTotal.WithLabelValues(status, reason).Inc()
	m.SettlementDuration.Observe(d.Seconds())
}

func (m *Metrics) EndSnapshotRetry(result string) {
	if m == nil {
		return
	}
	m.EndSnapshotRetries.WithLabelValues(result).Inc()
}

func (m *Metrics) ScoreConflict() {
	if m == nil {
		return
	}
	m.ScoreConflicts.Inc()
}

func (m *Metrics) Registration(disposition string) {
	if m == nil {
		return
	}
	m.Registrations.WithLabelValues(disposition).Inc()
}

func (m *Metrics) Listeners(relay string, delta float64) {
	if m == nil {
		return
	}
	m.RelayListeners.WithLabelValues(relay).Add(delta)
}

func (m *Metrics) ListenerFailure(relay string) {
	if m == nil {
		return
	}
	m.ListenerFailures.WithLabelValues(relay).Inc()
}

func (m *Metrics) UpstreamConnect(relay, kind string) {
	if m == nil {
		return
	}
	m.UpstreamConnects.WithLabelValues(relay, kind).Inc()
}

func (m *Metrics) UpstreamDrop(relay, why string) {
	if m == nil {
		return
	}
	m.UpstreamDropped.WithLabelValues(relay, why).Inc()
}
