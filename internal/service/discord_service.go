package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"zalupaspb/internal/models"
	"zalupaspb/internal/notifications"
	"zalupaspb/internal/observability"
	"zalupaspb/internal/repository"
	"zalupaspb/internal/validation"
)

// LinkStatus is the caller's Discord binding state.
type LinkStatus struct {
	Linked          bool       `json:"linked"`
	DiscordID       string     `json:"discord_id,omitempty"`
	DiscordUsername string     `json:"discord_username,omitempty"`
	PendingCode     string     `json:"pending_code,omitempty"`
	PendingExpires  *time.Time `json:"pending_expires_at,omitempty"`
}

// BotUser is what the chat bot's /status command shows.
type BotUser struct {
	UserID      uint        `json:"user_id"`
	Username    string      `json:"username"`
	Role        models.Role `json:"role"`
	IsBanned    bool        `json:"is_banned"`
	BanReason   string      `json:"ban_reason,omitempty"`
	HasValidKey bool        `json:"has_valid_key"`
}

// DiscordService owns the account-linking flow used by the chat bot.
type DiscordService struct {
	base
	ttl  time.Duration
	keys *KeyService
}

// IssueCode replaces any pending code with a fresh one, so an account
// never holds more than one active code.
func (s *DiscordService) IssueCode(ctx context.Context, userID uint) (link *models.DiscordLink, err error) {
	ctx, finish := observability.StartServiceSpan(ctx, "DiscordService", "IssueCode")
	defer func() { finish(err) }()

	user, err := s.actor(ctx, userID)
	if err != nil {
		return nil, err
	}
	code, err := generateLinkCode()
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	link = &models.DiscordLink{
		Code:      code,
		UserID:    user.ID,
		Status:    models.StatusActive,
		ExpiresAt: s.now().Add(s.ttl),
	}

	var superseded int64
	err = s.store.Transaction(ctx, func(tx *repository.Store) error {
		n, err := tx.Links.ExpireActiveForUser(ctx, user.ID)
		if err != nil {
			return err
		}
		superseded = n
		return tx.Links.Create(ctx, link)
	})
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, AuditEntry{
		Type:       models.AuditDiscord,
		Action:     "generate_link_code",
		ActorID:    uintPtr(user.ID),
		TargetID:   uintPtr(user.ID),
		TargetType: "user",
		Metadata:   map[string]any{"expires_at": link.ExpiresAt, "superseded": superseded},
	})
	return link, nil
}

// Redeem is called by the bot when a member submits a code. The code is
// consumed and the identity stamped on the account in one transaction.
func (s *DiscordService) Redeem(ctx context.Context, code, discordID, discordUsername string) (user *models.User, err error) {
	ctx, finish := observability.StartServiceSpan(ctx, "DiscordService", "Redeem")
	defer func() { finish(err) }()

	code = strings.ToUpper(strings.TrimSpace(code))
	discordID = strings.TrimSpace(discordID)
	discordUsername = strings.TrimSpace(discordUsername)
	if code == "" || discordID == "" || discordUsername == "" {
		return nil, models.NewValidationError("code, discord_id and discord_username are required")
	}
	if err := validation.ValidateDiscordID(discordID); err != nil {
		return nil, models.NewValidationError(err.Error())
	}

	now := s.now()
	link, err := s.store.Links.GetByCode(ctx, code)
	if errors.Is(err, models.ErrNotFound) {
		return nil, models.NewNotFoundMessage("Link code is invalid or expired")
	}
	if err != nil {
		return nil, err
	}
	if link.EffectiveStatus(now) != models.StatusActive {
		if link.CanTransition(models.StatusExpired) {
			if _, err := s.store.Links.MarkExpired(ctx, link.ID); err != nil {
				logWarn(ctx, "link code expiry not persisted", err)
			}
		}
		observability.RecordConflict(ctx, "discord_link", "inactive")
		return nil, models.NewNotFoundMessage("Link code is invalid or expired")
	}

	holder, err := s.store.Users.GetByDiscordID(ctx, discordID)
	if err != nil {
		return nil, err
	}
	if holder != nil && holder.ID != link.UserID {
		return nil, models.NewConflictError("This Discord account is already linked to another user")
	}

	err = s.store.Transaction(ctx, func(tx *repository.Store) error {
		ok, err := tx.Links.MarkUsed(ctx, link.ID, discordID, discordUsername, now)
		if err != nil {
			return err
		}
		if !ok {
			return models.NewNotFoundMessage("Link code is invalid or expired")
		}
		return tx.Users.BindDiscord(ctx, link.UserID, discordID, discordUsername)
	})
	if err != nil {
		return nil, err
	}
	observability.RecordTransition(ctx, "discord_link", string(models.StatusUsed))

	user, err = s.store.Users.GetByID(ctx, link.UserID)
	if err != nil {
		return nil, err
	}

	s.publishDiscord(ctx, notifications.DiscordEvent{
		Event:     notifications.EventDiscordLinked,
		UserID:    user.ID,
		DiscordID: discordID,
		Role:      string(user.Role),
		Banned:    user.IsBanned,
	})
	s.audit.Record(ctx, AuditEntry{
		Type:       models.AuditDiscord,
		Action:     "link",
		ActorID:    uintPtr(user.ID),
		TargetID:   uintPtr(user.ID),
		TargetType: "user",
		Metadata:   map[string]any{"discord_id": discordID, "discord_username": discordUsername},
	})
	return user, nil
}

// Unlink removes the caller's Discord identity.
func (s *DiscordService) Unlink(ctx context.Context, userID uint) error {
	user, err := s.actor(ctx, userID)
	if err != nil {
		return err
	}
	if !user.IsLinked() {
		return models.NewConflictError("No Discord account is linked")
	}
	discordID := *user.DiscordID

	ok, err := s.store.Users.UnbindDiscord(ctx, user.ID)
	if err != nil {
		return err
	}
	if !ok {
		return models.NewConflictError("No Discord account is linked")
	}

	s.publishDiscord(ctx, notifications.DiscordEvent{
		Event:     notifications.EventDiscordUnlinked,
		UserID:    user.ID,
		DiscordID: discordID,
		Role:      string(user.Role),
	})
	s.audit.Record(ctx, AuditEntry{
		Type:       models.AuditDiscord,
		Action:     "unlink",
		ActorID:    uintPtr(user.ID),
		TargetID:   uintPtr(user.ID),
		TargetType: "user",
		Metadata:   map[string]any{"discord_id": discordID},
	})
	return nil
}

// LinkStatus reports whether the caller is linked and any pending code.
func (s *DiscordService) LinkStatus(ctx context.Context, userID uint) (*LinkStatus, error) {
	user, err := s.actor(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := &LinkStatus{Linked: user.IsLinked(), DiscordUsername: user.DiscordUsername}
	if out.Linked {
		out.DiscordID = *user.DiscordID
	}

	pending, err := s.store.Links.LatestActive(ctx, user.ID, s.now())
	if err != nil {
		return nil, err
	}
	if pending != nil {
		out.PendingCode = pending.Code
		out.PendingExpires = &pending.ExpiresAt
	}
	return out, nil
}

// LookupByDiscordID answers the bot's status query for a guild member.
func (s *DiscordService) LookupByDiscordID(ctx context.Context, discordID string) (*BotUser, error) {
	discordID = strings.TrimSpace(discordID)
	if err := validation.ValidateDiscordID(discordID); err != nil {
		return nil, models.NewValidationError(err.Error())
	}
	user, err := s.store.Users.GetByDiscordID(ctx, discordID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, models.NewNotFoundMessage("No account is linked to this Discord user")
	}
	valid, err := s.keys.HasValidKey(ctx, user)
	if err != nil {
		return nil, err
	}
	return &BotUser{
		UserID:      user.ID,
		Username:    user.Username,
		Role:        user.Role,
		IsBanned:    user.IsBanned,
		BanReason:   user.BanReason,
		HasValidKey: valid,
	}, nil
}
