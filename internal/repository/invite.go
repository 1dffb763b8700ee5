package repository

import (
	"context"
	"time"

	"zalupaspb/internal/models"

	"gorm.io/gorm"
)

// InviteFilter narrows invite listings. Status is compared as effective
// status at Now, so active rows past their expiry match "expired".
type InviteFilter struct {
	Status      models.Status
	Role        models.Role
	CreatedByID uint
	Now         time.Time
}

// InviteRepository defines persistence operations for invite codes.
type InviteRepository interface {
	Create(ctx context.Context, invite *models.Invite) error
	GetByID(ctx context.Context, id uint) (*models.Invite, error)
	GetByCode(ctx context.Context, code string) (*models.Invite, error)
	MarkUsed(ctx context.Context, id, userID uint, now time.Time) (bool, error)
	MarkExpired(ctx context.Context, id uint) (bool, error)
	Revoke(ctx context.Context, id uint, now time.Time) (bool, error)
	RevokeActiveByCreator(ctx context.Context, creatorID uint) (int64, error)
	ListByCreator(ctx context.Context, creatorID uint) ([]models.Invite, error)
	List(ctx context.Context, filter InviteFilter, page Page) ([]models.Invite, int64, error)
	CountByStatus(ctx context.Context) (map[models.Status]int64, error)
}

type inviteRepository struct {
	db   *gorm.DB
	read *gorm.DB
}

func (r *inviteRepository) Create(ctx context.Context, invite *models.Invite) error {
	if err := r.db.WithContext(ctx).Create(invite).Error; err != nil {
		if isUniqueConstraintError(err) {
			return models.NewConflictError("Invite code collision")
		}
		return models.NewInternalError(err)
	}
	return nil
}

func (r *inviteRepository) GetByID(ctx context.Context, id uint) (*models.Invite, error) {
	var invite models.Invite
	if err := r.db.WithContext(ctx).First(&invite, id).Error; err != nil {
		return nil, notFoundOr(err, "Invite", id)
	}
	return &invite, nil
}

func (r *inviteRepository) GetByCode(ctx context.Context, code string) (*models.Invite, error) {
	var invite models.Invite
	if err := r.db.WithContext(ctx).Where("code = ?", code).First(&invite).Error; err != nil {
		return nil, notFoundOr(err, "Invite", code)
	}
	return &invite, nil
}

// MarkUsed flips an active, unexpired invite to used. It reports false when
// another request got there first or the invite expired in the meantime.
func (r *inviteRepository) MarkUsed(ctx context.Context, id, userID uint, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Invite{}).
		Where("id = ? AND status = ? AND expires_at > ?", id, models.StatusActive, now).
		Updates(map[string]any{
			"status":     models.StatusUsed,
			"used_by_id": userID,
			"used_at":    now,
		})
	if res.Error != nil {
		return false, models.NewInternalError(res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *inviteRepository) MarkExpired(ctx context.Context, id uint) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Invite{}).
		Where("id = ? AND status = ?", id, models.StatusActive).
		Update("status", models.StatusExpired)
	if res.Error != nil {
		return false, models.NewInternalError(res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *inviteRepository) Revoke(ctx context.Context, id uint, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Invite{}).
		Where("id = ? AND status = ? AND expires_at > ?", id, models.StatusActive, now).
		Update("status", models.StatusRevoked)
	if res.Error != nil {
		return false, models.NewInternalError(res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *inviteRepository) RevokeActiveByCreator(ctx context.Context, creatorID uint) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Invite{}).
		Where("created_by_id = ? AND status = ?", creatorID, models.StatusActive).
		Update("status", models.StatusRevoked)
	if res.Error != nil {
		return 0, models.NewInternalError(res.Error)
	}
	return res.RowsAffected, nil
}

func (r *inviteRepository) ListByCreator(ctx context.Context, creatorID uint) ([]models.Invite, error) {
	var invites []models.Invite
	if err := r.db.WithContext(ctx).
		Where("created_by_id = ?", creatorID).
		Order("created_at DESC, id DESC").
		Find(&invites).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return invites, nil
}

func (r *inviteRepository) List(ctx context.Context, filter InviteFilter, page Page) ([]models.Invite, int64, error) {
	q := r.read.WithContext(ctx).Model(&models.Invite{})
	switch filter.Status {
	case "":
	case models.StatusActive:
		q = q.Where("status = ? AND expires_at > ?", models.StatusActive, filter.Now)
	case models.StatusExpired:
		q = q.Where("status = ? OR (status = ? AND expires_at <= ?)", models.StatusExpired, models.StatusActive, filter.Now)
	default:
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Role != "" {
		q = q.Where("role = ?", filter.Role)
	}
	if filter.CreatedByID != 0 {
		q = q.Where("created_by_id = ?", filter.CreatedByID)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, models.NewInternalError(err)
	}

	var invites []models.Invite
	if err := page.apply(q.Order("created_at DESC, id DESC")).Find(&invites).Error; err != nil {
		return nil, 0, models.NewInternalError(err)
	}
	return invites, total, nil
}

func (r *inviteRepository) CountByStatus(ctx context.Context) (map[models.Status]int64, error) {
	return countByStatus(ctx, r.read, &models.Invite{})
}
