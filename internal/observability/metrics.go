package observability

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LifecycleTransitions counts successful state changes of invites, keys and link codes.
	LifecycleTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zalupaspb_lifecycle_transitions_total",
		Help: "Lifecycle transitions by entity and target status",
	}, []string{"entity", "status"})

	// LifecycleConflicts counts redemption attempts that lost a race or hit a non-active record.
	LifecycleConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zalupaspb_lifecycle_conflicts_total",
		Help: "Rejected lifecycle transitions by entity and reason",
	}, []string{"entity", "reason"})

	// AuthAttempts counts login attempts by outcome.
	AuthAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zalupaspb_auth_attempts_total",
		Help: "Login attempts by outcome",
	}, []string{"outcome"})

	// AuditWriteFailures counts audit entries that could not be persisted.
	AuditWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "zalupaspb_audit_write_failures_total",
		Help: "Audit log entries that failed to persist",
	})

	// AuditStreamClients is the number of connected live audit feed sockets.
	AuditStreamClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "zalupaspb_audit_stream_clients",
		Help: "Connected audit feed WebSocket clients",
	})
)

// RecordTransition counts a status change and adds it to the current span.
func RecordTransition(ctx context.Context, entity, status string) {
	LifecycleTransitions.WithLabelValues(entity, status).Inc()
	lifecycleEvent(ctx, "lifecycle.transition", entity, "lifecycle.status", status)
}

// RecordConflict counts a refused transition and adds it to the current span.
func RecordConflict(ctx context.Context, entity, reason string) {
	LifecycleConflicts.WithLabelValues(entity, reason).Inc()
	lifecycleEvent(ctx, "lifecycle.conflict", entity, "lifecycle.reason", reason)
}
