package models

import "time"

// DiscordLink is a short-lived code that binds a chat identity to an account.
type DiscordLink struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	Code            string     `gorm:"uniqueIndex;size:16;not null" json:"code"`
	UserID          uint       `gorm:"index;not null" json:"user_id"`
	Status          Status     `gorm:"size:16;not null;index" json:"status"`
	ExpiresAt       time.Time  `gorm:"not null" json:"expires_at"`
	DiscordID       string     `gorm:"size:32" json:"discord_id,omitempty"`
	DiscordUsername string     `gorm:"size:64" json:"discord_username,omitempty"`
	UsedAt          *time.Time `json:"used_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// EffectiveStatus is the status as observed at now.
func (l *DiscordLink) EffectiveStatus(now time.Time) Status {
	if l.Status == StatusActive && !now.Before(l.ExpiresAt) {
		return StatusExpired
	}
	return l.Status
}

// CanTransition reports whether the code may move from its stored status to next.
func (l *DiscordLink) CanTransition(next Status) bool {
	return allowed(singleUseTransitions, l.Status, next) && next != StatusRevoked
}
