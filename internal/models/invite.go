package models

import "time"

// Invite is a single-use registration token.
type Invite struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	Code        string     `gorm:"uniqueIndex;size:32;not null" json:"code"`
	CreatedByID uint       `gorm:"index;not null" json:"created_by_id"`
	Role        Role       `gorm:"size:16;not null" json:"role"`
	Status      Status     `gorm:"size:16;not null;index" json:"status"`
	ExpiresAt   time.Time  `gorm:"not null;index" json:"expires_at"`
	UsedByID    *uint      `gorm:"index" json:"used_by_id,omitempty"`
	UsedAt      *time.Time `json:"used_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// EffectiveStatus is the status as observed at now: an active invite past
// its expiry reads as expired.
func (i *Invite) EffectiveStatus(now time.Time) Status {
	if i.Status == StatusActive && !now.Before(i.ExpiresAt) {
		return StatusExpired
	}
	return i.Status
}

// CanTransition reports whether the invite may move from its stored status to next.
func (i *Invite) CanTransition(next Status) bool {
	return allowed(singleUseTransitions, i.Status, next)
}
