package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"zalupaspb/internal/cache"
	"zalupaspb/internal/models"

	"gorm.io/gorm"
)

// UserFilter narrows account listings.
type UserFilter struct {
	Role   models.Role
	Search string
	Banned *bool
}

// UserRepository defines persistence operations for accounts.
type UserRepository interface {
	GetByID(ctx context.Context, id uint) (*models.User, error)
	GetCached(ctx context.Context, id uint) (*models.User, error)
	GetByLogin(ctx context.Context, login string) (*models.User, error)
	GetByDiscordID(ctx context.Context, discordID string) (*models.User, error)
	Taken(ctx context.Context, username, email string) (usernameTaken, emailTaken bool, err error)
	Create(ctx context.Context, user *models.User) error
	UpdateFields(ctx context.Context, id uint, fields map[string]any) error
	ResetInvites(ctx context.Context, user *models.User, now time.Time) (bool, error)
	ConsumeInvite(ctx context.Context, id uint) (bool, error)
	RefundInvite(ctx context.Context, id uint) error
	BindDiscord(ctx context.Context, id uint, discordID, discordUsername string) error
	UnbindDiscord(ctx context.Context, id uint) (bool, error)
	Delete(ctx context.Context, id uint) error
	List(ctx context.Context, filter UserFilter, page Page) ([]models.User, int64, error)
	ListByRoles(ctx context.Context, roles ...models.Role) ([]models.User, error)
	ListInvitedBy(ctx context.Context, inviterID uint) ([]models.User, error)
	CountInvitedBy(ctx context.Context, inviterID uint) (int64, error)
	CountByRole(ctx context.Context) (map[models.Role]int64, error)
	CountBanned(ctx context.Context) (int64, error)
	CreatedSince(ctx context.Context, since time.Time) ([]time.Time, error)
}

type userRepository struct {
	db   *gorm.DB
	read *gorm.DB
}

func (r *userRepository) GetByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, notFoundOr(err, "User", id)
	}
	return &user, nil
}

// GetCached serves the authentication path. The cached copy carries no
// password hash, so callers must not use it for credential checks.
func (r *userRepository) GetCached(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	err := cache.Aside(ctx, cache.UserKey(id), &user, cache.UserTTL, func() error {
		if err := r.read.WithContext(ctx).First(&user, id).Error; err != nil {
			return notFoundOr(err, "User", id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetByLogin matches a username or a (case-insensitive) email; nil when absent.
func (r *userRepository) GetByLogin(ctx context.Context, login string) (*models.User, error) {
	login = strings.TrimSpace(login)
	var user models.User
	err := r.db.WithContext(ctx).
		Where("username = ? OR email = ?", login, strings.ToLower(login)).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, models.NewInternalError(err)
	}
	return &user, nil
}

func (r *userRepository) GetByDiscordID(ctx context.Context, discordID string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("discord_id = ?", discordID).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, models.NewInternalError(err)
	}
	return &user, nil
}

func (r *userRepository) Taken(ctx context.Context, username, email string) (bool, bool, error) {
	var users []models.User
	if err := r.db.WithContext(ctx).
		Select("username", "email").
		Where("username = ? OR email = ?", username, email).
		Find(&users).Error; err != nil {
		return false, false, models.NewInternalError(err)
	}
	var u, e bool
	for _, existing := range users {
		u = u || existing.Username == username
		e = e || existing.Email == email
	}
	return u, e, nil
}

func (r *userRepository) Create(ctx context.Context, user *models.User) error {
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		if isUniqueConstraintError(err) {
			return models.NewConflictError("Username or email already registered")
		}
		return models.NewInternalError(err)
	}
	return nil
}

func (r *userRepository) UpdateFields(ctx context.Context, id uint, fields map[string]any) error {
	res := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		if isUniqueConstraintError(res.Error) {
			return models.NewConflictError("Value already in use")
		}
		return models.NewInternalError(res.Error)
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("User", id)
	}
	cache.InvalidateUser(ctx, id)
	return nil
}

// ResetInvites restores the role baseline when a new month has started.
// The update is conditional on the previously observed reset time so two
// concurrent requests cannot both reset; the loser reloads the winner's row.
func (r *userRepository) ResetInvites(ctx context.Context, user *models.User, now time.Time) (bool, error) {
	next := *user
	if !next.ResetInvitesIfNeeded(now) {
		return false, nil
	}
	res := r.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND last_invite_reset = ?", user.ID, user.LastInviteReset).
		Updates(map[string]any{"invites_left": next.InvitesLeft, "last_invite_reset": next.LastInviteReset})
	if res.Error != nil {
		return false, models.NewInternalError(res.Error)
	}
	cache.InvalidateUser(ctx, user.ID)
	if res.RowsAffected == 0 {
		fresh, err := r.GetByID(ctx, user.ID)
		if err != nil {
			return false, err
		}
		*user = *fresh
		return false, nil
	}
	*user = next
	return true, nil
}

// ConsumeInvite decrements the quota only while it is positive.
func (r *userRepository) ConsumeInvite(ctx context.Context, id uint) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND invites_left > 0", id).
		UpdateColumn("invites_left", gorm.Expr("invites_left - 1"))
	if res.Error != nil {
		return false, models.NewInternalError(res.Error)
	}
	cache.InvalidateUser(ctx, id)
	return res.RowsAffected == 1, nil
}

// RefundInvite returns one quota unit. The balance may exceed the role
// baseline when the invite was issued before a monthly reset.
func (r *userRepository) RefundInvite(ctx context.Context, id uint) error {
	if err := r.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", id).
		UpdateColumn("invites_left", gorm.Expr("invites_left + 1")).Error; err != nil {
		return models.NewInternalError(err)
	}
	cache.InvalidateUser(ctx, id)
	return nil
}

func (r *userRepository) BindDiscord(ctx context.Context, id uint, discordID, discordUsername string) error {
	return r.UpdateFields(ctx, id, map[string]any{
		"discord_id":       discordID,
		"discord_username": discordUsername,
	})
}

// UnbindDiscord clears the identity; false when none was bound.
func (r *userRepository) UnbindDiscord(ctx context.Context, id uint) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND discord_id IS NOT NULL", id).
		Updates(map[string]any{"discord_id": nil, "discord_username": ""})
	if res.Error != nil {
		return false, models.NewInternalError(res.Error)
	}
	cache.InvalidateUser(ctx, id)
	return res.RowsAffected == 1, nil
}

func (r *userRepository) Delete(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Delete(&models.User{}, id)
	if res.Error != nil {
		return models.NewInternalError(res.Error)
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("User", id)
	}
	cache.InvalidateUser(ctx, id)
	return nil
}

func (r *userRepository) List(ctx context.Context, filter UserFilter, page Page) ([]models.User, int64, error) {
	q := r.read.WithContext(ctx).Model(&models.User{})
	if filter.Role != "" {
		q = q.Where("role = ?", filter.Role)
	}
	if filter.Search != "" {
		pattern := likePattern(filter.Search)
		q = q.Where(`LOWER(username) LIKE ? ESCAPE '\' OR LOWER(email) LIKE ? ESCAPE '\'`, pattern, pattern)
	}
	if filter.Banned != nil {
		q = q.Where("is_banned = ?", *filter.Banned)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, models.NewInternalError(err)
	}

	var users []models.User
	if err := page.apply(q.Order("created_at DESC, id DESC")).Find(&users).Error; err != nil {
		return nil, 0, models.NewInternalError(err)
	}
	return users, total, nil
}

func (r *userRepository) ListByRoles(ctx context.Context, roles ...models.Role) ([]models.User, error) {
	var users []models.User
	if err := r.read.WithContext(ctx).Where("role IN ?", roles).Order("id").Find(&users).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return users, nil
}

func (r *userRepository) ListInvitedBy(ctx context.Context, inviterID uint) ([]models.User, error) {
	var users []models.User
	if err := r.read.WithContext(ctx).
		Where("invited_by_id = ?", inviterID).
		Order("created_at DESC").
		Find(&users).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return users, nil
}

func (r *userRepository) CountInvitedBy(ctx context.Context, inviterID uint) (int64, error) {
	var n int64
	if err := r.read.WithContext(ctx).Model(&models.User{}).Where("invited_by_id = ?", inviterID).Count(&n).Error; err != nil {
		return 0, models.NewInternalError(err)
	}
	return n, nil
}

func (r *userRepository) CountByRole(ctx context.Context) (map[models.Role]int64, error) {
	var rows []struct {
		Role  models.Role
		Count int64
	}
	if err := r.read.WithContext(ctx).Model(&models.User{}).
		Select("role, COUNT(*) AS count").
		Group("role").
		Scan(&rows).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	out := make(map[models.Role]int64, len(rows))
	for _, row := range rows {
		out[row.Role] = row.Count
	}
	return out, nil
}

func (r *userRepository) CountBanned(ctx context.Context) (int64, error) {
	var n int64
	if err := r.read.WithContext(ctx).Model(&models.User{}).Where("is_banned = ?", true).Count(&n).Error; err != nil {
		return 0, models.NewInternalError(err)
	}
	return n, nil
}

func (r *userRepository) CreatedSince(ctx context.Context, since time.Time) ([]time.Time, error) {
	var stamps []time.Time
	if err := r.read.WithContext(ctx).Model(&models.User{}).
		Where("created_at >= ?", since).
		Order("created_at").
		Pluck("created_at", &stamps).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return stamps, nil
}
