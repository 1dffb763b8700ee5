package service

import (
	"context"
	"strings"
	"time"

	"zalupaspb/internal/authz"
	"zalupaspb/internal/models"
	"zalupaspb/internal/notifications"
	"zalupaspb/internal/observability"
	"zalupaspb/internal/repository"
	"zalupaspb/internal/validation"

	"golang.org/x/crypto/bcrypt"
)

const (
	defaultBanReason = "Rule violation"
	statsWindowDays  = 30
)

// UserQuery filters the account listing.
type UserQuery struct {
	Role   models.Role
	Search string
	Banned *bool
}

// UserDetail is the staff view of one account.
type UserDetail struct {
	*models.User
	InvitedUsersCount int64           `json:"invited_users_count"`
	CreatedKeysCount  int64           `json:"created_keys_count"`
	InvitedBy         *models.Summary `json:"invited_by,omitempty"`
	HasValidKey       bool            `json:"has_valid_key"`
	Keys              []KeyView       `json:"keys"`
}

// DayCount is one bucket of the registration histogram.
type DayCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// Stats is the admin dashboard summary.
type Stats struct {
	Users struct {
		Total  int64                 `json:"total"`
		Active int64                 `json:"active"`
		Banned int64                 `json:"banned"`
		ByRole map[models.Role]int64 `json:"by_role"`
	} `json:"users"`
	Keys struct {
		Total    int64                   `json:"total"`
		Active   int64                   `json:"active"`
		Used     int64                   `json:"used"`
		ByStatus map[models.Status]int64 `json:"by_status"`
	} `json:"keys"`
	Invites struct {
		Total    int64                   `json:"total"`
		ByStatus map[models.Status]int64 `json:"by_status"`
	} `json:"invites"`
	Registrations []DayCount `json:"registrations"`
}

// AdminService covers account administration.
type AdminService struct {
	base
	keys *KeyService
	cost int
}

// ListUsers pages through accounts. Moderator or admin only.
func (s *AdminService) ListUsers(ctx context.Context, actorID uint, q UserQuery, page Page) (*List[models.User], error) {
	actor, err := s.actor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if err := authz.CanListAccounts(actor); err != nil {
		return nil, err
	}
	if q.Role != "" && !q.Role.Valid() {
		return nil, models.NewValidationError("Unknown role")
	}

	p := page.normalize()
	users, total, err := s.store.Users.List(ctx, repository.UserFilter{
		Role:   q.Role,
		Search: strings.TrimSpace(q.Search),
		Banned: q.Banned,
	}, p)
	if err != nil {
		return nil, err
	}
	return newList(users, total, p), nil
}

// GetUserDetail returns an account with its invite and key context.
func (s *AdminService) GetUserDetail(ctx context.Context, actorID, targetID uint) (*UserDetail, error) {
	actor, err := s.actor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if err := authz.CanListAccounts(actor); err != nil {
		return nil, err
	}
	user, err := s.store.Users.GetByID(ctx, targetID)
	if err != nil {
		return nil, err
	}

	d := &UserDetail{User: user}
	if d.InvitedUsersCount, err = s.store.Users.CountInvitedBy(ctx, user.ID); err != nil {
		return nil, err
	}
	if d.CreatedKeysCount, err = s.store.Keys.CountCreatedBy(ctx, user.ID); err != nil {
		return nil, err
	}
	if user.InvitedByID != nil {
		if inviter, err := s.store.Users.GetByID(ctx, *user.InvitedByID); err == nil {
			sum := inviter.Summary()
			d.InvitedBy = &sum
		}
	}
	held, err := s.store.Keys.ListByHolder(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	for i := range held {
		if err := s.keys.RefreshStatus(ctx, &held[i]); err != nil {
			return nil, err
		}
	}
	d.Keys = s.keys.views(held)
	if d.HasValidKey, err = s.keys.HasValidKey(ctx, user); err != nil {
		return nil, err
	}
	return d, nil
}

// adjustedQuota is the invite balance after a role change: admins are
// unlimited, promotion to moderator never lowers the balance, and any
// demotion clamps to the new role's baseline.
func adjustedQuota(current int, from, to models.Role) int {
	switch {
	case to == models.RoleAdmin:
		return models.UnlimitedInvites
	case from == models.RoleAdmin:
		return to.InviteQuota()
	case to.Above(from):
		return max(current, to.InviteQuota())
	default:
		return min(current, to.InviteQuota())
	}
}

// UpdateRole changes target's role. Admin only, never on oneself.
func (s *AdminService) UpdateRole(ctx context.Context, actorID, targetID uint, role models.Role) (user *models.User, err error) {
	ctx, finish := observability.StartServiceSpan(ctx, "AdminService", "UpdateRole")
	defer func() { finish(err) }()

	actor, err := s.actor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	target, err := s.store.Users.GetByID(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if err := authz.CanAssignRole(actor, target, role); err != nil {
		return nil, err
	}
	return s.applyRole(ctx, uintPtr(actor.ID), models.AuditAdmin, target, role)
}

// Promote changes a role without an acting account, for operator tooling.
func (s *AdminService) Promote(ctx context.Context, targetID uint, role models.Role) (*models.User, error) {
	if !role.Valid() {
		return nil, models.NewValidationError("Unknown role")
	}
	target, err := s.store.Users.GetByID(ctx, targetID)
	if err != nil {
		return nil, err
	}
	return s.applyRole(ctx, nil, models.AuditSystem, target, role)
}

func (s *AdminService) applyRole(ctx context.Context, actorID *uint, auditType models.AuditType, target *models.User, role models.Role) (*models.User, error) {
	if target.Role == role {
		return target, nil
	}
	prev := target.Role
	quota := adjustedQuota(target.InvitesLeft, prev, role)
	if err := s.store.Users.UpdateFields(ctx, target.ID, map[string]any{
		"role":         role,
		"invites_left": quota,
	}); err != nil {
		return nil, err
	}
	target.Role = role
	target.InvitesLeft = quota

	if target.IsLinked() {
		s.publishDiscord(ctx, notifications.DiscordEvent{
			Event:     notifications.EventRoleChanged,
			UserID:    target.ID,
			DiscordID: *target.DiscordID,
			Role:      string(role),
			Banned:    target.IsBanned,
		})
	}
	s.audit.Record(ctx, AuditEntry{
		Type:       auditType,
		Action:     "update_role",
		ActorID:    actorID,
		TargetID:   uintPtr(target.ID),
		TargetType: "user",
		Metadata:   map[string]any{"from": prev, "to": role},
	})
	return target, nil
}

// SetBan bans or unbans target. Moderators may not act on admins.
func (s *AdminService) SetBan(ctx context.Context, actorID, targetID uint, banned bool, reason string) (user *models.User, err error) {
	ctx, finish := observability.StartServiceSpan(ctx, "AdminService", "SetBan")
	defer func() { finish(err) }()

	actor, err := s.actor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	target, err := s.store.Users.GetByID(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if err := authz.CanBan(actor, target); err != nil {
		return nil, err
	}

	reason = strings.TrimSpace(reason)
	fields := map[string]any{"is_banned": banned}
	if banned {
		if reason == "" {
			reason = defaultBanReason
		}
		fields["ban_reason"] = reason
		fields["banned_by_id"] = actor.ID
	} else {
		reason = ""
		fields["ban_reason"] = ""
		fields["banned_by_id"] = nil
	}
	if err := s.store.Users.UpdateFields(ctx, target.ID, fields); err != nil {
		return nil, err
	}
	target.IsBanned = banned
	target.BanReason = reason
	if banned {
		target.BannedByID = uintPtr(actor.ID)
	} else {
		target.BannedByID = nil
	}

	event, action := notifications.EventUnbanned, "unban_user"
	if banned {
		event, action = notifications.EventBanned, "ban_user"
	}
	if target.IsLinked() {
		s.publishDiscord(ctx, notifications.DiscordEvent{
			Event:     event,
			UserID:    target.ID,
			DiscordID: *target.DiscordID,
			Role:      string(target.Role),
			Banned:    banned,
		})
	}
	s.audit.Record(ctx, AuditEntry{
		Type:       models.AuditAdmin,
		Action:     action,
		ActorID:    uintPtr(actor.ID),
		TargetID:   uintPtr(target.ID),
		TargetType: "user",
		Metadata:   map[string]any{"reason": reason},
	})
	return target, nil
}

// ResetPassword forces a new password on target. Admin only.
func (s *AdminService) ResetPassword(ctx context.Context, actorID, targetID uint, password string) error {
	actor, err := s.actor(ctx, actorID)
	if err != nil {
		return err
	}
	target, err := s.store.Users.GetByID(ctx, targetID)
	if err != nil {
		return err
	}
	if err := authz.CanResetPassword(actor, target); err != nil {
		return err
	}
	if err := validation.ValidatePassword(password, target.Username, target.Email); err != nil {
		return models.NewValidationError(err.Error())
	}
	cost := s.cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return models.NewInternalError(err)
	}
	if err := s.store.Users.UpdateFields(ctx, target.ID, map[string]any{"password": string(hash)}); err != nil {
		return err
	}

	s.audit.Record(ctx, AuditEntry{
		Type:       models.AuditAdmin,
		Action:     "reset_password",
		ActorID:    uintPtr(actor.ID),
		TargetID:   uintPtr(target.ID),
		TargetType: "user",
	})
	return nil
}

// DeleteUser removes an account together with everything that would
// otherwise dangle from it, in one transaction.
func (s *AdminService) DeleteUser(ctx context.Context, actorID, targetID uint) (err error) {
	ctx, finish := observability.StartServiceSpan(ctx, "AdminService", "DeleteUser")
	defer func() { finish(err) }()

	actor, err := s.actor(ctx, actorID)
	if err != nil {
		return err
	}
	target, err := s.store.Users.GetByID(ctx, targetID)
	if err != nil {
		return err
	}
	if err := authz.CanDelete(actor, target); err != nil {
		return err
	}

	var keys, invites, links int64
	err = s.store.Transaction(ctx, func(tx *repository.Store) error {
		var err error
		if keys, err = tx.Keys.RevokeHeldBy(ctx, target.ID); err != nil {
			return err
		}
		if invites, err = tx.Invites.RevokeActiveByCreator(ctx, target.ID); err != nil {
			return err
		}
		if links, err = tx.Links.ExpireActiveForUser(ctx, target.ID); err != nil {
			return err
		}
		return tx.Users.Delete(ctx, target.ID)
	})
	if err != nil {
		return err
	}
	observability.LifecycleTransitions.WithLabelValues("key", string(models.StatusRevoked)).Add(float64(keys))
	observability.LifecycleTransitions.WithLabelValues("invite", string(models.StatusRevoked)).Add(float64(invites))

	snapshot := map[string]any{
		"username":        target.Username,
		"email":           target.Email,
		"role":            target.Role,
		"revoked_keys":    keys,
		"revoked_invites": invites,
		"expired_links":   links,
	}
	if target.IsLinked() {
		snapshot["discord_id"] = *target.DiscordID
		s.publishDiscord(ctx, notifications.DiscordEvent{
			Event:     notifications.EventDiscordUnlinked,
			UserID:    target.ID,
			DiscordID: *target.DiscordID,
		})
	}
	s.audit.Record(ctx, AuditEntry{
		Type:       models.AuditAdmin,
		Action:     "delete_user",
		ActorID:    uintPtr(actor.ID),
		TargetID:   uintPtr(target.ID),
		TargetType: "user",
		Metadata:   snapshot,
	})
	return nil
}

// ListStaff returns every moderator and admin, for operator tooling.
func (s *AdminService) ListStaff(ctx context.Context) ([]models.User, error) {
	return s.store.Users.ListByRoles(ctx, models.RoleAdmin, models.RoleModerator)
}

// Stats aggregates the dashboard counters. Admin only.
func (s *AdminService) Stats(ctx context.Context, actorID uint) (*Stats, error) {
	actor, err := s.actor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if err := authz.RequireRole(actor, models.RoleAdmin); err != nil {
		return nil, err
	}

	out := &Stats{}
	if out.Users.ByRole, err = s.store.Users.CountByRole(ctx); err != nil {
		return nil, err
	}
	for _, n := range out.Users.ByRole {
		out.Users.Total += n
	}
	if out.Users.Banned, err = s.store.Users.CountBanned(ctx); err != nil {
		return nil, err
	}
	out.Users.Active = out.Users.Total - out.Users.Banned

	if out.Keys.ByStatus, err = s.store.Keys.CountByStatus(ctx); err != nil {
		return nil, err
	}
	for _, n := range out.Keys.ByStatus {
		out.Keys.Total += n
	}
	out.Keys.Active = out.Keys.ByStatus[models.StatusActive]
	out.Keys.Used = out.Keys.ByStatus[models.StatusUsed]

	if out.Invites.ByStatus, err = s.store.Invites.CountByStatus(ctx); err != nil {
		return nil, err
	}
	for _, n := range out.Invites.ByStatus {
		out.Invites.Total += n
	}

	now := s.now()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -(statsWindowDays - 1))
	stamps, err := s.store.Users.CreatedSince(ctx, start)
	if err != nil {
		return nil, err
	}
	out.Registrations = bucketByDay(stamps, start, statsWindowDays)
	return out, nil
}

// bucketByDay counts stamps per UTC day for days consecutive days from start.
func bucketByDay(stamps []time.Time, start time.Time, days int) []DayCount {
	out := make([]DayCount, days)
	for i := range out {
		out[i].Date = start.AddDate(0, 0, i).Format(time.DateOnly)
	}
	for _, t := range stamps {
		if t.Before(start) {
			continue
		}
		i := int(t.Sub(start) / (24 * time.Hour))
		if i < days {
			out[i].Count++
		}
	}
	return out
}
