package models

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRole_Order(t *testing.T) {
	t.Parallel()
	assert.True(t, RoleAdmin.Above(RoleModerator))
	assert.True(t, RoleModerator.Above(RoleUser))
	assert.False(t, RoleUser.Above(RoleUser))
	assert.True(t, RoleModerator.AtLeast(RoleModerator))
	assert.False(t, RoleUser.AtLeast(RoleModerator))
	assert.False(t, Role("root").AtLeast(RoleUser))

	r, ok := ParseRole(" Moderator ")
	assert.True(t, ok)
	assert.Equal(t, RoleModerator, r)
	_, ok = ParseRole("owner")
	assert.False(t, ok)
}

func TestRole_InviteQuota(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 2, RoleUser.InviteQuota())
	assert.Equal(t, 10, RoleModerator.InviteQuota())
	assert.Equal(t, UnlimitedInvites, RoleAdmin.InviteQuota())
}

func TestUser_ResetInvitesIfNeeded(t *testing.T) {
	t.Parallel()
	jan := time.Date(2026, time.January, 31, 23, 0, 0, 0, time.UTC)
	u := NewAccount("alice", "a@example.com", "hash", RoleUser, jan)
	u.InvitesLeft = 0

	assert.False(t, u.ResetInvitesIfNeeded(jan.Add(30*time.Minute)))
	assert.Equal(t, 0, u.InvitesLeft)

	feb := time.Date(2026, time.February, 1, 0, 0, 1, 0, time.UTC)
	assert.True(t, u.ResetInvitesIfNeeded(feb))
	assert.Equal(t, 2, u.InvitesLeft)
	assert.Equal(t, feb, u.LastInviteReset)

	// second access in the same month is a no-op
	u.InvitesLeft = 1
	assert.False(t, u.ResetInvitesIfNeeded(feb.Add(time.Hour)))
	assert.Equal(t, 1, u.InvitesLeft)

	// same month number, different year
	nextYear := time.Date(2027, time.February, 10, 0, 0, 0, 0, time.UTC)
	assert.True(t, u.ResetInvitesIfNeeded(nextYear))
}

func TestInvite_EffectiveStatus(t *testing.T) {
	t.Parallel()
	now := time.Now()
	inv := &Invite{Status: StatusActive, ExpiresAt: now.Add(time.Minute)}
	assert.Equal(t, StatusActive, inv.EffectiveStatus(now))
	assert.Equal(t, StatusExpired, inv.EffectiveStatus(now.Add(time.Minute)))

	inv.Status = StatusUsed
	assert.Equal(t, StatusUsed, inv.EffectiveStatus(now.Add(time.Hour)))
	assert.False(t, inv.CanTransition(StatusActive))
	assert.False(t, inv.CanTransition(StatusRevoked))
}

func TestActivationKey_EffectiveStatus(t *testing.T) {
	t.Parallel()
	now := time.Now()
	exp := now.Add(time.Hour)
	k := &ActivationKey{Status: StatusUsed, ExpiresAt: &exp}

	assert.Equal(t, StatusUsed, k.EffectiveStatus(now))
	assert.True(t, k.GrantsAccess(now))
	assert.True(t, k.GrantsAccess(exp.Add(-time.Nanosecond)))
	assert.Equal(t, StatusExpired, k.EffectiveStatus(exp))
	assert.False(t, k.GrantsAccess(exp))
	assert.Equal(t, StatusExpired, k.EffectiveStatus(exp.Add(time.Nanosecond)))
	assert.False(t, k.GrantsAccess(exp.Add(time.Second)))

	active := &ActivationKey{Status: StatusActive}
	assert.Equal(t, StatusActive, active.EffectiveStatus(now.Add(100*24*time.Hour)))

	assert.True(t, k.CanTransition(StatusExpired))
	assert.True(t, k.CanTransition(StatusRevoked))
	assert.False(t, k.CanTransition(StatusActive))
	revoked := &ActivationKey{Status: StatusRevoked}
	assert.False(t, revoked.CanTransition(StatusExpired))
}

func TestParseStatus(t *testing.T) {
	t.Parallel()
	st, ok := ParseStatus("revoked")
	assert.True(t, ok)
	assert.Equal(t, StatusRevoked, st)

	for _, raw := range []string{"", "Active", "pending", "used "} {
		_, ok := ParseStatus(raw)
		assert.False(t, ok, raw)
	}
}

func TestDiscordLink_Transitions(t *testing.T) {
	t.Parallel()
	l := &DiscordLink{Status: StatusActive, ExpiresAt: time.Now().Add(15 * time.Minute)}
	assert.True(t, l.CanTransition(StatusUsed))
	assert.True(t, l.CanTransition(StatusExpired))
	assert.False(t, l.CanTransition(StatusRevoked))
}

func TestStatusFor(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		want int
	}{
		{NewValidationError("bad"), 400},
		{NewUnauthorizedError("no"), 401},
		{NewForbiddenError("no"), 403},
		{NewBannedError("spam"), 403},
		{NewQuotaExhaustedError(), 403},
		{NewNotFoundError("Invite", 1), 404},
		{NewConflictError("used"), 409},
		{NewInternalError(errors.New("db down")), 500},
		{errors.New("plain"), 500},
		{fmt.Errorf("wrapped: %w", NewConflictError("x")), 409},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusFor(tt.err), tt.err.Error())
	}
}

func TestAppError_Is(t *testing.T) {
	t.Parallel()
	err := fmt.Errorf("redeem: %w", NewConflictError("Invite already used"))
	assert.ErrorIs(t, err, ErrConflict)
	assert.NotErrorIs(t, err, ErrNotFound)
}
