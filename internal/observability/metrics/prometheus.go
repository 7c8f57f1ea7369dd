// Package metrics provides Prometheus metrics for the workflow engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	TransitionsApplied    *prometheus.CounterVec
	TransitionsRejected   *prometheus.CounterVec
	QueueDepth            *prometheus.GaugeVec
	QueueOverdue          prometheus.Gauge
	VerificationsStarted  prometheus.Counter
	VerificationsByResult *prometheus.CounterVec
	PickupsCompleted      prometheus.Counter
	PickupsBlocked        prometheus.Counter
	WillCallReversals     prometheus.Counter
	WillCallReminders     prometheus.Counter
	OutboxPending         prometheus.Gauge
	CircuitBreakerState   *prometheus.GaugeVec
	CASConflicts          prometheus.Counter
}

// New creates and registers all metrics
func New() *Metrics {
	m := &Metrics{
		TransitionsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workflow_transitions_applied_total",
			Help: "Workflow state transitions applied, by target state",
		}, []string{"to_state"}),
		TransitionsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workflow_transitions_rejected_total",
			Help: "Workflow state transitions rejected, by guard",
		}, []string{"guard"}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "workflow_queue_depth",
			Help: "Active queue items by state",
		}, []string{"state"}),
		QueueOverdue: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "workflow_queue_overdue",
			Help: "Queue items past their promise time",
		}),
		VerificationsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "verification_sessions_started_total",
			Help: "Verification sessions opened",
		}),
		VerificationsByResult: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "verification_sessions_completed_total",
			Help: "Verification sessions completed, by decision",
		}, []string{"decision"}),
		PickupsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pickup_sessions_completed_total",
			Help: "Pickup sessions completed",
		}),
		PickupsBlocked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pickup_completions_blocked_total",
			Help: "Pickup completion attempts rejected with blockers",
		}),
		WillCallReversals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "willcall_reversals_total",
			Help: "Will-call bins classified for insurance reversal",
		}),
		WillCallReminders: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "willcall_reminders_total",
			Help: "Will-call pickup reminders classified for delivery",
		}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_pending_entries",
			Help: "Pending outbox entries",
		}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
		CASConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "workflow_cas_conflicts_total",
			Help: "Stale-version write conflicts on workflow items",
		}),
	}

	prometheus.MustRegister(
		m.TransitionsApplied,
		m.TransitionsRejected,
		m.QueueDepth,
		m.QueueOverdue,
		m.VerificationsStarted,
		m.VerificationsByResult,
		m.PickupsCompleted,
		m.PickupsBlocked,
		m.WillCallReversals,
		m.WillCallReminders,
		m.OutboxPending,
		m.CircuitBreakerState,
		m.CASConflicts,
	)

	return m
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
