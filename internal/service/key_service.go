package service

import (
	"context"
	"strings"
	"time"

	"zalupaspb/internal/authz"
	"zalupaspb/internal/models"
	"zalupaspb/internal/observability"
	"zalupaspb/internal/repository"
	"zalupaspb/internal/validation"
)

const (
	maxKeyDuration = 10 * 365 * 24 * time.Hour

	// LifetimeKeyType never expires once activated.
	LifetimeKeyType = "lifetime"
)

// IssueKeyInput describes a new activation key. Zero values pick defaults.
type IssueKeyInput struct {
	Duration time.Duration
	Type     string
	Metadata map[string]any
}

// KeyView is a key as presented to clients.
type KeyView struct {
	models.ActivationKey
	RemainingDays *int `json:"remaining_days,omitempty"`
}

// KeyStatus summarises an account's entitlement.
type KeyStatus struct {
	HasValidKey bool      `json:"has_valid_key"`
	ByRole      bool      `json:"by_role"`
	ValidKeys   []KeyView `json:"valid_keys"`
}

// KeyQuery filters the staff key listing.
type KeyQuery struct {
	Status    models.Status
	Type      string
	CreatedBy uint
}

// KeyService owns the activation key lifecycle.
type KeyService struct {
	base
	defaultDuration time.Duration
}

// Issue creates an active key. Moderator or admin only.
func (s *KeyService) Issue(ctx context.Context, creatorID uint, in IssueKeyInput) (key *models.ActivationKey, err error) {
	ctx, finish := observability.StartServiceSpan(ctx, "KeyService", "Issue")
	defer func() { finish(err) }()

	creator, err := s.actor(ctx, creatorID)
	if err != nil {
		return nil, err
	}
	if err := authz.CanManageKeys(creator); err != nil {
		return nil, err
	}

	duration := in.Duration
	switch {
	case duration == 0:
		duration = s.defaultDuration
	case duration < time.Second || duration > maxKeyDuration:
		return nil, models.NewValidationError("Key duration must be between 1 second and 10 years")
	}
	keyType := strings.TrimSpace(in.Type)
	if keyType == "" {
		keyType = models.DefaultKeyType
	}
	if err := validation.ValidateKeyType(keyType); err != nil {
		return nil, models.NewValidationError(err.Error())
	}

	code, err := generateCode(keyCodeBytes)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	key = &models.ActivationKey{
		Code:        code,
		Status:      models.StatusActive,
		Type:        keyType,
		CreatedByID: creator.ID,
		Duration:    int64(duration / time.Second),
		Metadata:    in.Metadata,
	}
	if err := s.store.Keys.Create(ctx, key); err != nil {
		return nil, err
	}

	s.audit.Record(ctx, AuditEntry{
		Type:       models.AuditKey,
		Action:     "generate",
		ActorID:    uintPtr(creator.ID),
		TargetID:   uintPtr(key.ID),
		TargetType: "key",
		Metadata:   map[string]any{"type": key.Type, "duration_seconds": key.Duration},
	})
	return key, nil
}

// Activate binds an active key to accountID and starts its validity window.
func (s *KeyService) Activate(ctx context.Context, accountID uint, code string) (key *models.ActivationKey, err error) {
	ctx, finish := observability.StartServiceSpan(ctx, "KeyService", "Activate")
	defer func() { finish(err) }()

	user, err := s.actor(ctx, accountID)
	if err != nil {
		return nil, err
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, models.NewValidationError("Key code is required")
	}
	key, err = s.store.Keys.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if !key.CanTransition(models.StatusUsed) {
		observability.RecordConflict(ctx, "key", string(key.Status))
		return nil, models.NewConflictError("Key has already been used or is no longer valid")
	}

	now := s.now()
	var expiresAt *time.Time
	if key.Type != LifetimeKeyType {
		t := now.Add(key.DurationValue())
		expiresAt = &t
	}

	ok, err := s.store.Keys.Activate(ctx, key.ID, user.ID, now, expiresAt)
	if err != nil {
		return nil, err
	}
	if !ok {
		observability.RecordConflict(ctx, "key", "race")
		return nil, models.NewConflictError("Key has already been used or is no longer valid")
	}
	observability.RecordTransition(ctx, "key", string(models.StatusUsed))

	key.Status = models.StatusUsed
	key.UsedByID = uintPtr(user.ID)
	key.HolderID = uintPtr(user.ID)
	key.ActivatedAt = &now
	key.ExpiresAt = expiresAt

	s.audit.Record(ctx, AuditEntry{
		Type:       models.AuditKey,
		Action:     "activate",
		ActorID:    uintPtr(user.ID),
		TargetID:   uintPtr(key.ID),
		TargetType: "key",
		Metadata:   map[string]any{"type": key.Type, "expires_at": key.ExpiresAt},
	})
	return key, nil
}

// RefreshStatus persists the lazy used -> expired decay. It is idempotent
// and never moves a key backwards.
func (s *KeyService) RefreshStatus(ctx context.Context, key *models.ActivationKey) error {
	if key.EffectiveStatus(s.now()) != models.StatusExpired || !key.CanTransition(models.StatusExpired) {
		return nil
	}
	ok, err := s.store.Keys.MarkExpired(ctx, key.ID)
	if err != nil {
		return err
	}
	key.Status = models.StatusExpired
	if ok {
		observability.RecordTransition(ctx, "key", string(models.StatusExpired))
	}
	return nil
}

// Revoke is the staff override that ends a key in any state.
func (s *KeyService) Revoke(ctx context.Context, actorID, keyID uint) (key *models.ActivationKey, err error) {
	ctx, finish := observability.StartServiceSpan(ctx, "KeyService", "Revoke")
	defer func() { finish(err) }()

	actor, err := s.actor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if err := authz.CanManageKeys(actor); err != nil {
		return nil, err
	}
	key, err = s.store.Keys.GetByID(ctx, keyID)
	if err != nil {
		return nil, err
	}
	if !key.CanTransition(models.StatusRevoked) {
		return nil, models.NewConflictError("Key is already revoked")
	}

	ok, err := s.store.Keys.Revoke(ctx, key.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, models.NewConflictError("Key is already revoked")
	}
	observability.RecordTransition(ctx, "key", string(models.StatusRevoked))

	prevHolder := key.HolderID
	key.Status = models.StatusRevoked
	key.HolderID = nil

	s.audit.Record(ctx, AuditEntry{
		Type:       models.AuditKey,
		Action:     "revoke",
		ActorID:    uintPtr(actor.ID),
		TargetID:   uintPtr(key.ID),
		TargetType: "key",
		Metadata:   map[string]any{"code": key.Code, "holder_id": prevHolder},
	})
	return key, nil
}

// HasValidKey reports whether user is entitled to access: staff always
// are; everyone else needs a held key that is used and not yet expired.
func (s *KeyService) HasValidKey(ctx context.Context, user *models.User) (bool, error) {
	if user.Role != models.RoleUser {
		return true, nil
	}
	valid, err := s.validKeys(ctx, user.ID)
	if err != nil {
		return false, err
	}
	return len(valid) > 0, nil
}

func (s *KeyService) validKeys(ctx context.Context, userID uint) ([]models.ActivationKey, error) {
	held, err := s.store.Keys.ListByHolder(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	var valid []models.ActivationKey
	for i := range held {
		if err := s.RefreshStatus(ctx, &held[i]); err != nil {
			return nil, err
		}
		if held[i].GrantsAccess(now) {
			valid = append(valid, held[i])
		}
	}
	return valid, nil
}

// Status reports the caller's entitlement and the keys that grant it.
func (s *KeyService) Status(ctx context.Context, userID uint) (*KeyStatus, error) {
	user, err := s.actor(ctx, userID)
	if err != nil {
		return nil, err
	}
	valid, err := s.validKeys(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	byRole := user.Role != models.RoleUser
	return &KeyStatus{
		HasValidKey: byRole || len(valid) > 0,
		ByRole:      byRole,
		ValidKeys:   s.views(valid),
	}, nil
}

// ListMine returns every key the caller has activated.
func (s *KeyService) ListMine(ctx context.Context, userID uint) ([]KeyView, error) {
	if _, err := s.actor(ctx, userID); err != nil {
		return nil, err
	}
	keys, err := s.store.Keys.ListUsedBy(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range keys {
		if err := s.RefreshStatus(ctx, &keys[i]); err != nil {
			return nil, err
		}
	}
	return s.views(keys), nil
}

// ListAll is the staff view over every key.
func (s *KeyService) ListAll(ctx context.Context, actorID uint, q KeyQuery, page Page) (*List[KeyView], error) {
	actor, err := s.actor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if err := authz.CanManageKeys(actor); err != nil {
		return nil, err
	}
	if q.Status != "" && !q.Status.Valid() {
		return nil, models.NewValidationError("Unknown status")
	}

	p := page.normalize()
	keys, total, err := s.store.Keys.List(ctx, repository.KeyFilter{
		Status:      q.Status,
		Type:        q.Type,
		CreatedByID: q.CreatedBy,
	}, p)
	if err != nil {
		return nil, err
	}
	for i := range keys {
		if err := s.RefreshStatus(ctx, &keys[i]); err != nil {
			return nil, err
		}
	}
	return newList(s.views(keys), total, p), nil
}

// Get returns one key for staff.
func (s *KeyService) Get(ctx context.Context, actorID, keyID uint) (*KeyView, error) {
	actor, err := s.actor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if err := authz.CanManageKeys(actor); err != nil {
		return nil, err
	}
	key, err := s.store.Keys.GetByID(ctx, keyID)
	if err != nil {
		return nil, err
	}
	if err := s.RefreshStatus(ctx, key); err != nil {
		return nil, err
	}
	view := s.view(*key)
	return &view, nil
}

func (s *KeyService) view(k models.ActivationKey) KeyView {
	v := KeyView{ActivationKey: k}
	if k.Status == models.StatusUsed && k.ExpiresAt != nil {
		days := int(k.ExpiresAt.Sub(s.now()) / (24 * time.Hour))
		if days < 0 {
			days = 0
		}
		v.RemainingDays = &days
	}
	return v
}

func (s *KeyService) views(keys []models.ActivationKey) []KeyView {
	out := make([]KeyView, 0, len(keys))
	for _, k := range keys {
		out = append(out, s.view(k))
	}
	return out
}
