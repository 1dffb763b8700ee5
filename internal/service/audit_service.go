package service

import (
	"context"
	"log/slog"
	"time"

	"zalupaspb/internal/authz"
	"zalupaspb/internal/middleware"
	"zalupaspb/internal/models"
	"zalupaspb/internal/notifications"
	"zalupaspb/internal/observability"
	"zalupaspb/internal/repository"
)

// AuditEntry describes one action to record.
type AuditEntry struct {
	Type       models.AuditType
	Action     string
	ActorID    *uint
	TargetID   *uint
	TargetType string
	Metadata   map[string]any
}

// AuditQuery filters the audit listing.
type AuditQuery struct {
	Type   models.AuditType
	Action string
	UserID uint
	Start  time.Time
	End    time.Time
}

// AuditService appends to and reads the audit log.
type AuditService struct {
	base
}

// Record appends an entry and publishes it to the live feed. It never
// fails the caller: a lost audit line is logged and counted instead.
// Call it after the recorded change has committed.
func (s *AuditService) Record(ctx context.Context, e AuditEntry) {
	meta := requestMetaFrom(ctx)
	entry := &models.AuditLog{
		Type:       e.Type,
		Action:     e.Action,
		ActorID:    e.ActorID,
		TargetID:   e.TargetID,
		TargetType: e.TargetType,
		Metadata:   e.Metadata,
		IP:         meta.IP,
		UserAgent:  truncate(meta.UserAgent, 512),
	}
	if err := s.store.Audit.Create(ctx, entry); err != nil {
		observability.AuditWriteFailures.Inc()
		logWarn(ctx, "audit write failed", err,
			slog.String("type", string(e.Type)),
			slog.String("action", e.Action),
		)
		return
	}
	if err := s.events.Publish(ctx, notifications.AuditChannel, entry); err != nil {
		logWarn(ctx, "audit publish failed", err, slog.Uint64("audit_id", uint64(entry.ID)))
	}
}

// List returns audit entries newest first. Moderator or admin only.
func (s *AuditService) List(ctx context.Context, actorID uint, q AuditQuery, page Page) (*List[models.AuditLog], error) {
	actor, err := s.actor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if err := authz.CanViewAudit(actor); err != nil {
		return nil, err
	}
	if q.Type != "" && !q.Type.Valid() {
		return nil, models.NewValidationError("Unknown audit type")
	}
	if !q.Start.IsZero() && !q.End.IsZero() && q.End.Before(q.Start) {
		return nil, models.NewValidationError("End must not precede start")
	}

	p := page.normalize()
	entries, total, err := s.store.Audit.List(ctx, repository.AuditFilter{
		Type:    q.Type,
		Action:  q.Action,
		ActorID: q.UserID,
		Since:   q.Start,
		Until:   q.End,
	}, p)
	if err != nil {
		return nil, err
	}
	return newList(entries, total, p), nil
}

func logWarn(ctx context.Context, msg string, err error, attrs ...any) {
	middleware.Logger.WarnContext(ctx, msg, append([]any{slog.String("error", err.Error())}, attrs...)...)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
