package repository

import (
	"context"
	"time"

	"zalupaspb/internal/models"

	"gorm.io/gorm"
)

// KeyFilter narrows activation key listings.
type KeyFilter struct {
	Status      models.Status
	Type        string
	CreatedByID uint
}

// KeyRepository defines persistence operations for activation keys.
type KeyRepository interface {
	Create(ctx context.Context, key *models.ActivationKey) error
	GetByID(ctx context.Context, id uint) (*models.ActivationKey, error)
	GetByCode(ctx context.Context, code string) (*models.ActivationKey, error)
	Activate(ctx context.Context, id, userID uint, now time.Time, expiresAt *time.Time) (bool, error)
	MarkExpired(ctx context.Context, id uint) (bool, error)
	Revoke(ctx context.Context, id uint) (bool, error)
	RevokeHeldBy(ctx context.Context, userID uint) (int64, error)
	ListByHolder(ctx context.Context, userID uint) ([]models.ActivationKey, error)
	ListUsedBy(ctx context.Context, userID uint) ([]models.ActivationKey, error)
	List(ctx context.Context, filter KeyFilter, page Page) ([]models.ActivationKey, int64, error)
	CountByStatus(ctx context.Context) (map[models.Status]int64, error)
	CountCreatedBy(ctx context.Context, creatorID uint) (int64, error)
}

type keyRepository struct {
	db   *gorm.DB
	read *gorm.DB
}

func (r *keyRepository) Create(ctx context.Context, key *models.ActivationKey) error {
	if err := r.db.WithContext(ctx).Create(key).Error; err != nil {
		if isUniqueConstraintError(err) {
			return models.NewConflictError("Key code collision")
		}
		return models.NewInternalError(err)
	}
	return nil
}

func (r *keyRepository) GetByID(ctx context.Context, id uint) (*models.ActivationKey, error) {
	var key models.ActivationKey
	if err := r.db.WithContext(ctx).First(&key, id).Error; err != nil {
		return nil, notFoundOr(err, "Key", id)
	}
	return &key, nil
}

func (r *keyRepository) GetByCode(ctx context.Context, code string) (*models.ActivationKey, error) {
	var key models.ActivationKey
	if err := r.db.WithContext(ctx).Where("code = ?", code).First(&key).Error; err != nil {
		return nil, notFoundOr(err, "Key", code)
	}
	return &key, nil
}

// Activate binds an active key to userID and opens its validity window; a
// nil expiresAt never closes. False means the key was no longer active.
func (r *keyRepository) Activate(ctx context.Context, id, userID uint, now time.Time, expiresAt *time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.ActivationKey{}).
		Where("id = ? AND status = ?", id, models.StatusActive).
		Updates(map[string]any{
			"status":       models.StatusUsed,
			"used_by_id":   userID,
			"holder_id":    userID,
			"activated_at": now,
			"expires_at":   expiresAt,
		})
	if res.Error != nil {
		return false, models.NewInternalError(res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *keyRepository) MarkExpired(ctx context.Context, id uint) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.ActivationKey{}).
		Where("id = ? AND status = ?", id, models.StatusUsed).
		Update("status", models.StatusExpired)
	if res.Error != nil {
		return false, models.NewInternalError(res.Error)
	}
	return res.RowsAffected == 1, nil
}

// Revoke is a terminal override from any non-revoked status. The holder
// reference is cleared so the key no longer counts toward entitlement.
func (r *keyRepository) Revoke(ctx context.Context, id uint) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.ActivationKey{}).
		Where("id = ? AND status <> ?", id, models.StatusRevoked).
		Updates(map[string]any{"status": models.StatusRevoked, "holder_id": nil})
	if res.Error != nil {
		return false, models.NewInternalError(res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *keyRepository) RevokeHeldBy(ctx context.Context, userID uint) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.ActivationKey{}).
		Where("holder_id = ? AND status IN ?", userID, []models.Status{models.StatusUsed, models.StatusExpired}).
		Updates(map[string]any{"status": models.StatusRevoked, "holder_id": nil})
	if res.Error != nil {
		return 0, models.NewInternalError(res.Error)
	}
	return res.RowsAffected, nil
}

func (r *keyRepository) ListByHolder(ctx context.Context, userID uint) ([]models.ActivationKey, error) {
	var keys []models.ActivationKey
	if err := r.db.WithContext(ctx).
		Where("holder_id = ?", userID).
		Order("activated_at DESC, id DESC").
		Find(&keys).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return keys, nil
}

// ListUsedBy returns every key the account ever activated, revoked ones included.
func (r *keyRepository) ListUsedBy(ctx context.Context, userID uint) ([]models.ActivationKey, error) {
	var keys []models.ActivationKey
	if err := r.read.WithContext(ctx).
		Where("used_by_id = ?", userID).
		Order("activated_at DESC, id DESC").
		Find(&keys).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return keys, nil
}

func (r *keyRepository) List(ctx context.Context, filter KeyFilter, page Page) ([]models.ActivationKey, int64, error) {
	q := r.read.WithContext(ctx).Model(&models.ActivationKey{})
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Type != "" {
		q = q.Where("type = ?", filter.Type)
	}
	if filter.CreatedByID != 0 {
		q = q.Where("created_by_id = ?", filter.CreatedByID)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, models.NewInternalError(err)
	}

	var keys []models.ActivationKey
	if err := page.apply(q.Order("created_at DESC, id DESC")).Find(&keys).Error; err != nil {
		return nil, 0, models.NewInternalError(err)
	}
	return keys, total, nil
}

func (r *keyRepository) CountByStatus(ctx context.Context) (map[models.Status]int64, error) {
	return countByStatus(ctx, r.read, &models.ActivationKey{})
}

func (r *keyRepository) CountCreatedBy(ctx context.Context, creatorID uint) (int64, error) {
	var n int64
	if err := r.read.WithContext(ctx).Model(&models.ActivationKey{}).
		Where("created_by_id = ?", creatorID).
		Count(&n).Error; err != nil {
		return 0, models.NewInternalError(err)
	}
	return n, nil
}
