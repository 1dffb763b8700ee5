package models

import (
	"time"
)

// User is an account. Accounts are created by redeeming an invite and
// removed only through the administrative deletion cascade.
type User struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	Username        string    `gorm:"uniqueIndex;size:30;not null" json:"username"`
	Email           string    `gorm:"uniqueIndex;size:254;not null" json:"email"`
	Password        string    `gorm:"not null" json:"-"`
	Role            Role      `gorm:"size:16;not null;index" json:"role"`
	InvitesLeft     int       `gorm:"not null" json:"invites_left"`
	LastInviteReset time.Time `gorm:"not null" json:"last_invite_reset"`
	InvitedByID     *uint     `gorm:"index" json:"invited_by_id,omitempty"`
	IsBanned        bool      `gorm:"not null;index" json:"is_banned"`
	BanReason       string    `json:"ban_reason,omitempty"`
	BannedByID      *uint     `json:"banned_by_id,omitempty"`
	DiscordID       *string   `gorm:"uniqueIndex;size:32" json:"discord_id,omitempty"`
	DiscordUsername string    `gorm:"size:64" json:"discord_username,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// NewAccount returns an account with the baseline quota for role.
func NewAccount(username, email, passwordHash string, role Role, now time.Time) *User {
	return &User{
		Username:        username,
		Email:           email,
		Password:        passwordHash,
		Role:            role,
		InvitesLeft:     role.InviteQuota(),
		LastInviteReset: now,
	}
}

// NeedsInviteReset reports whether a calendar month (UTC) has started since the last reset.
func (u *User) NeedsInviteReset(now time.Time) bool {
	last := u.LastInviteReset.UTC()
	cur := now.UTC()
	return last.Year() != cur.Year() || last.Month() != cur.Month()
}

// ResetInvitesIfNeeded restores the role baseline at most once per calendar month.
// It reports whether the record changed and must be persisted.
func (u *User) ResetInvitesIfNeeded(now time.Time) bool {
	if !u.NeedsInviteReset(now) {
		return false
	}
	u.InvitesLeft = u.Role.InviteQuota()
	u.LastInviteReset = now
	return true
}

// HasUnlimitedInvites reports whether issuing invites never consumes quota.
func (u *User) HasUnlimitedInvites() bool {
	return u.Role == RoleAdmin
}

// IsLinked reports whether a Discord identity is bound to the account.
func (u *User) IsLinked() bool {
	return u.DiscordID != nil && *u.DiscordID != ""
}

// Summary is the public projection used in listings and references.
type Summary struct {
	ID       uint   `json:"id"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
}

// Summary returns the public projection of u.
func (u *User) Summary() Summary {
	return Summary{ID: u.ID, Username: u.Username, Role: u.Role}
}
