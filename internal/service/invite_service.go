package service

import (
	"context"
	"time"

	"zalupaspb/internal/authz"
	"zalupaspb/internal/models"
	"zalupaspb/internal/observability"
	"zalupaspb/internal/repository"
)

const maxInviteTTL = 90 * 24 * time.Hour

// IssueInviteInput describes a new invite. Zero values pick defaults.
type IssueInviteInput struct {
	Role      models.Role
	ExpiresIn time.Duration
}

// Registration is a new account waiting for an invite to be redeemed.
type Registration struct {
	Username     string
	Email        string
	PasswordHash string
}

// InviteCheck is the public answer to "is this code usable".
type InviteCheck struct {
	Code      string      `json:"code"`
	Role      models.Role `json:"role"`
	ExpiresAt time.Time   `json:"expires_at"`
	CreatedBy string      `json:"created_by"`
}

// MyInvites is the caller's invite page.
type MyInvites struct {
	Invites     []models.Invite `json:"invites"`
	InvitesLeft int             `json:"invites_left"`
	Unlimited   bool            `json:"unlimited"`
}

// InvitedUser is an account created from one of the caller's invites.
type InvitedUser struct {
	ID          uint        `json:"id"`
	Username    string      `json:"username"`
	Role        models.Role `json:"role"`
	IsBanned    bool        `json:"is_banned"`
	HasValidKey bool        `json:"has_valid_key"`
	CreatedAt   time.Time   `json:"created_at"`
}

// InviteQuery filters the global invite listing.
type InviteQuery struct {
	Status    models.Status
	Role      models.Role
	CreatedBy uint
}

// InviteService owns the invite lifecycle.
type InviteService struct {
	base
	ttl  time.Duration
	keys *KeyService
}

// Issue creates an invite for role on behalf of creatorID. Non-admin
// creators spend one unit of monthly quota, taken in the same transaction
// that inserts the invite.
func (s *InviteService) Issue(ctx context.Context, creatorID uint, in IssueInviteInput) (invite *models.Invite, err error) {
	ctx, finish := observability.StartServiceSpan(ctx, "InviteService", "Issue")
	defer func() { finish(err) }()

	creator, err := s.actor(ctx, creatorID)
	if err != nil {
		return nil, err
	}
	if in.Role == "" {
		in.Role = models.RoleUser
	}
	if err := authz.CanIssueInviteRole(creator, in.Role); err != nil {
		return nil, err
	}

	ttl := in.ExpiresIn
	switch {
	case ttl == 0:
		ttl = s.ttl
	case ttl < 0 || ttl > maxInviteTTL:
		return nil, models.NewValidationError("Invite lifetime must be between 1 second and 90 days")
	}

	now := s.now()
	if _, err := s.store.Users.ResetInvites(ctx, creator, now); err != nil {
		return nil, err
	}
	unlimited := creator.HasUnlimitedInvites()
	if !unlimited && creator.InvitesLeft <= 0 {
		return nil, models.NewQuotaExhaustedError()
	}

	code, err := generateCode(inviteCodeBytes)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	invite = &models.Invite{
		Code:        code,
		CreatedByID: creator.ID,
		Role:        in.Role,
		Status:      models.StatusActive,
		ExpiresAt:   now.Add(ttl),
	}

	err = s.store.Transaction(ctx, func(tx *repository.Store) error {
		if !unlimited {
			ok, err := tx.Users.ConsumeInvite(ctx, creator.ID)
			if err != nil {
				return err
			}
			if !ok {
				return models.NewQuotaExhaustedError()
			}
		}
		return tx.Invites.Create(ctx, invite)
	})
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, AuditEntry{
		Type:       models.AuditInvite,
		Action:     "create",
		ActorID:    uintPtr(creator.ID),
		TargetID:   uintPtr(invite.ID),
		TargetType: "invite",
		Metadata:   map[string]any{"code": invite.Code, "role": invite.Role, "expires_at": invite.ExpiresAt},
	})
	return invite, nil
}

// redeemable loads an invite by code and settles lazy expiry. Anything
// other than an effectively active invite is a conflict.
func (s *InviteService) redeemable(ctx context.Context, code string, now time.Time) (*models.Invite, error) {
	invite, err := s.store.Invites.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	switch {
	case invite.EffectiveStatus(now) == models.StatusExpired:
		s.settleInvite(ctx, invite, now)
		observability.RecordConflict(ctx, "invite", "expired")
		return nil, models.NewConflictError("Invite has expired")
	case !invite.CanTransition(models.StatusUsed):
		observability.RecordConflict(ctx, "invite", string(invite.Status))
		return nil, models.NewConflictError("Invite is no longer valid")
	}
	return invite, nil
}

// Redeem creates the account described by reg and consumes the invite in
// one transaction. When two requests race for the same code, the
// conditional status update lets exactly one of them commit.
func (s *InviteService) Redeem(ctx context.Context, code string, reg Registration) (user *models.User, err error) {
	ctx, finish := observability.StartServiceSpan(ctx, "InviteService", "Redeem")
	defer func() { finish(err) }()

	now := s.now()
	invite, err := s.redeemable(ctx, code, now)
	if err != nil {
		return nil, err
	}

	user = models.NewAccount(reg.Username, reg.Email, reg.PasswordHash, invite.Role, now)
	user.InvitedByID = uintPtr(invite.CreatedByID)

	err = s.store.Transaction(ctx, func(tx *repository.Store) error {
		if err := tx.Users.Create(ctx, user); err != nil {
			return err
		}
		ok, err := tx.Invites.MarkUsed(ctx, invite.ID, user.ID, now)
		if err != nil {
			return err
		}
		if !ok {
			return models.NewConflictError("Invite is no longer valid")
		}
		return nil
	})
	if err != nil {
		if appErr := models.AsAppError(err); appErr.Code == models.CodeConflict {
			observability.RecordConflict(ctx, "invite", "race")
		}
		return nil, err
	}
	observability.RecordTransition(ctx, "invite", string(models.StatusUsed))

	meta := requestMetaFrom(ctx)
	s.audit.Record(ctx, AuditEntry{
		Type:       models.AuditUser,
		Action:     "register",
		ActorID:    uintPtr(user.ID),
		TargetID:   uintPtr(user.ID),
		TargetType: "user",
		Metadata:   map[string]any{"username": user.Username, "invite_code": invite.Code, "role": user.Role},
	})
	s.audit.Record(ctx, AuditEntry{
		Type:       models.AuditInvite,
		Action:     "use",
		ActorID:    uintPtr(user.ID),
		TargetID:   uintPtr(invite.ID),
		TargetType: "invite",
		Metadata:   map[string]any{"code": invite.Code, "created_by_id": invite.CreatedByID, "ip": meta.IP},
	})
	return user, nil
}

// Revoke withdraws an active invite. A non-admin creator revoking their
// own invite gets the quota unit back.
func (s *InviteService) Revoke(ctx context.Context, actorID, inviteID uint) (invite *models.Invite, err error) {
	ctx, finish := observability.StartServiceSpan(ctx, "InviteService", "Revoke")
	defer func() { finish(err) }()

	actor, err := s.actor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	invite, err = s.store.Invites.GetByID(ctx, inviteID)
	if err != nil {
		return nil, err
	}
	if err := authz.CanRevokeInvite(actor, invite); err != nil {
		return nil, err
	}

	now := s.now()
	if invite.EffectiveStatus(now) != models.StatusActive || !invite.CanTransition(models.StatusRevoked) {
		s.settleInvite(ctx, invite, now)
		return nil, models.NewConflictError("Only active invites can be revoked")
	}

	refund := invite.CreatedByID == actor.ID && !actor.HasUnlimitedInvites()
	err = s.store.Transaction(ctx, func(tx *repository.Store) error {
		ok, err := tx.Invites.Revoke(ctx, invite.ID, now)
		if err != nil {
			return err
		}
		if !ok {
			return models.NewConflictError("Only active invites can be revoked")
		}
		if refund {
			return tx.Users.RefundInvite(ctx, actor.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	invite.Status = models.StatusRevoked
	observability.RecordTransition(ctx, "invite", string(models.StatusRevoked))

	s.audit.Record(ctx, AuditEntry{
		Type:       models.AuditInvite,
		Action:     "revoke",
		ActorID:    uintPtr(actor.ID),
		TargetID:   uintPtr(invite.ID),
		TargetType: "invite",
		Metadata:   map[string]any{"code": invite.Code, "refunded": refund},
	})
	return invite, nil
}

// Check reports whether code is currently redeemable, for the public
// registration form.
func (s *InviteService) Check(ctx context.Context, code string) (*InviteCheck, error) {
	invite, err := s.store.Invites.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if invite.EffectiveStatus(now) != models.StatusActive {
		s.settleInvite(ctx, invite, now)
		return nil, models.NewNotFoundMessage("Invite code is not active")
	}

	out := &InviteCheck{Code: invite.Code, Role: invite.Role, ExpiresAt: invite.ExpiresAt}
	if creator, err := s.store.Users.GetByID(ctx, invite.CreatedByID); err == nil {
		out.CreatedBy = creator.Username
	}
	return out, nil
}

// ListMine returns the caller's invites and remaining quota.
func (s *InviteService) ListMine(ctx context.Context, userID uint) (*MyInvites, error) {
	user, err := s.actor(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if _, err := s.store.Users.ResetInvites(ctx, user, now); err != nil {
		return nil, err
	}
	invites, err := s.store.Invites.ListByCreator(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	s.settleInvites(ctx, invites, now)

	if invites == nil {
		invites = []models.Invite{}
	}
	return &MyInvites{
		Invites:     invites,
		InvitesLeft: user.InvitesLeft,
		Unlimited:   user.HasUnlimitedInvites(),
	}, nil
}

// ListAll is the staff view over every invite.
func (s *InviteService) ListAll(ctx context.Context, actorID uint, q InviteQuery, page Page) (*List[models.Invite], error) {
	actor, err := s.actor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if err := authz.CanViewAllInvites(actor); err != nil {
		return nil, err
	}
	if q.Status != "" && !q.Status.Valid() {
		return nil, models.NewValidationError("Unknown status")
	}
	if q.Role != "" && !q.Role.Valid() {
		return nil, models.NewValidationError("Unknown role")
	}

	now := s.now()
	p := page.normalize()
	invites, total, err := s.store.Invites.List(ctx, repository.InviteFilter{
		Status:      q.Status,
		Role:        q.Role,
		CreatedByID: q.CreatedBy,
		Now:         now,
	}, p)
	if err != nil {
		return nil, err
	}
	s.settleInvites(ctx, invites, now)
	return newList(invites, total, p), nil
}

// InvitedUsers lists accounts registered with the caller's invites.
func (s *InviteService) InvitedUsers(ctx context.Context, userID uint) ([]InvitedUser, error) {
	if _, err := s.actor(ctx, userID); err != nil {
		return nil, err
	}
	users, err := s.store.Users.ListInvitedBy(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := make([]InvitedUser, 0, len(users))
	for i := range users {
		u := &users[i]
		valid, err := s.keys.HasValidKey(ctx, u)
		if err != nil {
			return nil, err
		}
		out = append(out, InvitedUser{
			ID:          u.ID,
			Username:    u.Username,
			Role:        u.Role,
			IsBanned:    u.IsBanned,
			HasValidKey: valid,
			CreatedAt:   u.CreatedAt,
		})
	}
	return out, nil
}

// settleInvite persists lazy expiry. Losing the conditional update just
// means another request already settled it.
func (s *InviteService) settleInvite(ctx context.Context, invite *models.Invite, now time.Time) {
	if invite.EffectiveStatus(now) != models.StatusExpired || !invite.CanTransition(models.StatusExpired) {
		return
	}
	ok, err := s.store.Invites.MarkExpired(ctx, invite.ID)
	if err != nil {
		logWarn(ctx, "invite expiry not persisted", err)
		return
	}
	invite.Status = models.StatusExpired
	if ok {
		observability.RecordTransition(ctx, "invite", string(models.StatusExpired))
	}
}

func (s *InviteService) settleInvites(ctx context.Context, invites []models.Invite, now time.Time) {
	for i := range invites {
		s.settleInvite(ctx, &invites[i], now)
	}
}
