package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"geoattend/internal/geo"
)

const namespace = "geoattend"

var (
	// Decisions counts submissions by authority, outcome and rejection reason.
	Decisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "attendance_decisions_total",
		Help:      "Attendance submissions by authority, outcome and reason.",
	}, []string{"authority", "outcome", "reason"})

	GeofenceDistance = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "geofence_distance_meters",
		Help:      "Distance of evaluated samples from the campus center.",
		Buckets:   []float64{10, 25, 50, 100, 200, 500, 1000, 5000, 20000},
	})

	Samples = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "location_samples_total",
		Help:      "Location fix attempts by result.",
	}, []string{"result"})

	TrackedSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "tracked_sessions",
		Help:      "Active location tracking sessions.",
	})

	LedgerErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ledger_errors_total",
		Help:      "Retryable storage failures by operation.",
	}, []string{"op"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "audit_queue_depth",
		Help:      "Accepted marks waiting in the redis queue for the audit worker.",
	})

	AuditWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "audit_writes_total",
		Help:      "Audit entries consumed by the worker, by result.",
	}, []string{"result"})
)

// ObserveDecision records one decision. An empty reason means accepted.
func ObserveDecision(authority, reason string) {
	outcome := "accepted"
	if reason != "" {
		outcome = "rejected"
	}
	Decisions.WithLabelValues(authority, outcome, reason).Inc()
}

// ObserveSample records one sampler availability event.
func ObserveSample(a geo.Availability) {
	Samples.WithLabelValues(SampleResult(a.Err)).Inc()
}

// SampleResult maps a sampler error to a metric label.
func SampleResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, geo.ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, geo.ErrTimeout):
		return "timeout"
	default:
		return "unavailable"
	}
}
