// Package metrics registers the relay's Prometheus counters and gauges —
// one per state change spec §4.11 and §8 enumerate: attestation outcome,
// bridge-out outcome, validation failure reason, in-flight count,
// rate-limit hits, pause triggers, and cursor advance.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "bridge_relay"

// Registry wires every relay metric into its own prometheus.Registry so
// the health server can expose exactly this set on /metrics rather than
// the default global registry (which would also pull in Go runtime
// metrics the operator didn't ask for; no runtime or process collectors
// are registered here).
type Registry struct {
	reg *prometheus.Registry

	AttestationsSubmitted  *prometheus.CounterVec
	BridgeOutOutcomes      *prometheus.CounterVec
	ValidationFailures     *prometheus.CounterVec
	RateLimitDenials       *prometheus.CounterVec
	PauseTriggers          prometheus.Counter
	CursorAdvances         *prometheus.CounterVec
	InFlightAttestations   prometheus.Gauge
	DirectionStatus        *prometheus.GaugeVec
	CycleDuration          *prometheus.HistogramVec
}

// direction/outcome/reason are the label names shared across several
// metrics, kept consistent so dashboards can join on them.
const (
	labelDirection = "direction"
	labelOutcome   = "outcome"
	labelReason    = "reason"
)

// New builds and registers every metric on a fresh registry.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		AttestationsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attestations_submitted_total",
			Help:      "Attestation relay (D1) outcomes by result.",
		}, []string{labelOutcome}),
		BridgeOutOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bridge_out_outcomes_total",
			Help:      "Bridge-in watcher and completion (D2) outcomes by result.",
		}, []string{labelOutcome}),
		ValidationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_failures_total",
			Help:      "Validation failures by reason, across all directions.",
		}, []string{labelDirection, labelReason}),
		RateLimitDenials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_denials_total",
			Help:      "Submissions denied by the token-bucket rate limiter, by bucket.",
		}, []string{"bucket"}),
		PauseTriggers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pause_triggers_total",
			Help:      "Times the pause guardian tripped the bridge's emergency pause.",
		}),
		CursorAdvances: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cursor_advances_total",
			Help:      "Scan cursor advances, by direction.",
		}, []string{labelDirection}),
		InFlightAttestations: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "in_flight_attestations",
			Help:      "Attestations currently marked in-flight (submitted, awaiting confirmation).",
		}),
		DirectionStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "direction_status",
			Help:      "Per-direction health: 0=Healthy, 1=Degraded, 2=Failed.",
		}, []string{labelDirection}),
		CycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall-clock duration of each direction handler's pass.",
			Buckets:   prometheus.DefBuckets,
		}, []string{labelDirection}),
	}

	reg.MustRegister(
		r.AttestationsSubmitted,
		r.BridgeOutOutcomes,
		r.ValidationFailures,
		r.RateLimitDenials,
		r.PauseTriggers,
		r.CursorAdvances,
		r.InFlightAttestations,
		r.DirectionStatus,
		r.CycleDuration,
	)

	return r
}

// Gatherer exposes the underlying prometheus.Gatherer for the /metrics
// HTTP handler.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }
