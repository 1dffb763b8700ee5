package repository

import (
	"context"
	"errors"
	"time"

	"zalupaspb/internal/models"

	"gorm.io/gorm"
)

// LinkRepository defines persistence operations for Discord link codes.
type LinkRepository interface {
	Create(ctx context.Context, link *models.DiscordLink) error
	GetByCode(ctx context.Context, code string) (*models.DiscordLink, error)
	LatestActive(ctx context.Context, userID uint, now time.Time) (*models.DiscordLink, error)
	ExpireActiveForUser(ctx context.Context, userID uint) (int64, error)
	MarkUsed(ctx context.Context, id uint, discordID, discordUsername string, now time.Time) (bool, error)
	MarkExpired(ctx context.Context, id uint) (bool, error)
}

type linkRepository struct {
	db *gorm.DB
}

func (r *linkRepository) Create(ctx context.Context, link *models.DiscordLink) error {
	if err := r.db.WithContext(ctx).Create(link).Error; err != nil {
		if isUniqueConstraintError(err) {
			return models.NewConflictError("Link code collision")
		}
		return models.NewInternalError(err)
	}
	return nil
}

func (r *linkRepository) GetByCode(ctx context.Context, code string) (*models.DiscordLink, error) {
	var link models.DiscordLink
	if err := r.db.WithContext(ctx).Where("code = ?", code).First(&link).Error; err != nil {
		return nil, notFoundOr(err, "Link code", code)
	}
	return &link, nil
}

// LatestActive returns the account's pending code, or nil when none is usable.
func (r *linkRepository) LatestActive(ctx context.Context, userID uint, now time.Time) (*models.DiscordLink, error) {
	var link models.DiscordLink
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ? AND expires_at > ?", userID, models.StatusActive, now).
		Order("created_at DESC, id DESC").
		First(&link).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, models.NewInternalError(err)
	}
	return &link, nil
}

func (r *linkRepository) ExpireActiveForUser(ctx context.Context, userID uint) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.DiscordLink{}).
		Where("user_id = ? AND status = ?", userID, models.StatusActive).
		Update("status", models.StatusExpired)
	if res.Error != nil {
		return 0, models.NewInternalError(res.Error)
	}
	return res.RowsAffected, nil
}

func (r *linkRepository) MarkUsed(ctx context.Context, id uint, discordID, discordUsername string, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.DiscordLink{}).
		Where("id = ? AND status = ? AND expires_at > ?", id, models.StatusActive, now).
		Updates(map[string]any{
			"status":           models.StatusUsed,
			"discord_id":       discordID,
			"discord_username": discordUsername,
			"used_at":          now,
		})
	if res.Error != nil {
		return false, models.NewInternalError(res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *linkRepository) MarkExpired(ctx context.Context, id uint) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.DiscordLink{}).
		Where("id = ? AND status = ?", id, models.StatusActive).
		Update("status", models.StatusExpired)
	if res.Error != nil {
		return false, models.NewInternalError(res.Error)
	}
	return res.RowsAffected == 1, nil
}
