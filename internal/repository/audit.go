package repository

import (
	"context"
	"time"

	"zalupaspb/internal/models"

	"gorm.io/gorm"
)

// AuditFilter narrows audit listings. Zero values are ignored.
type AuditFilter struct {
	Type    models.AuditType
	Action  string
	ActorID uint
	Since   time.Time
	Until   time.Time
}

// AuditRepository is append-only: there is no update or delete.
type AuditRepository interface {
	Create(ctx context.Context, entry *models.AuditLog) error
	List(ctx context.Context, filter AuditFilter, page Page) ([]models.AuditLog, int64, error)
}

type auditRepository struct {
	db   *gorm.DB
	read *gorm.DB
}

func (r *auditRepository) Create(ctx context.Context, entry *models.AuditLog) error {
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *auditRepository) List(ctx context.Context, filter AuditFilter, page Page) ([]models.AuditLog, int64, error) {
	q := r.read.WithContext(ctx).Model(&models.AuditLog{})
	if filter.Type != "" {
		q = q.Where("type = ?", filter.Type)
	}
	if filter.Action != "" {
		q = q.Where("action = ?", filter.Action)
	}
	if filter.ActorID != 0 {
		q = q.Where("actor_id = ?", filter.ActorID)
	}
	if !filter.Since.IsZero() {
		q = q.Where("created_at >= ?", filter.Since)
	}
	if !filter.Until.IsZero() {
		q = q.Where("created_at <= ?", filter.Until)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, models.NewInternalError(err)
	}

	var entries []models.AuditLog
	if err := page.apply(q.Order("created_at DESC, id DESC")).Find(&entries).Error; err != nil {
		return nil, 0, models.NewInternalError(err)
	}
	return entries, total, nil
}
