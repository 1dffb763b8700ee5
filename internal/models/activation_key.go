package models

import "time"

// DefaultKeyType is assigned when a key is issued without a type.
const DefaultKeyType = "default"

// ActivationKey grants time-limited access once bound to an account.
type ActivationKey struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	Code        string         `gorm:"uniqueIndex;size:64;not null" json:"code"`
	Status      Status         `gorm:"size:16;not null;index" json:"status"`
	Type        string         `gorm:"size:32;not null;index" json:"type"`
	CreatedByID uint           `gorm:"index;not null" json:"created_by_id"`
	Duration    int64          `gorm:"not null" json:"duration"` // seconds
	UsedByID    *uint          `gorm:"index" json:"used_by_id,omitempty"`
	HolderID    *uint          `gorm:"index" json:"holder_id,omitempty"`
	ActivatedAt *time.Time     `json:"activated_at,omitempty"`
	ExpiresAt   *time.Time     `json:"expires_at,omitempty"`
	Metadata    map[string]any `gorm:"type:text;serializer:json" json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// DurationValue returns the configured validity period.
func (k *ActivationKey) DurationValue() time.Duration {
	return time.Duration(k.Duration) * time.Second
}

// EffectiveStatus is the status as observed at now: a used key whose
// validity window has closed reads as expired.
func (k *ActivationKey) EffectiveStatus(now time.Time) Status {
	if k.Status == StatusUsed && k.ExpiresAt != nil && !now.Before(*k.ExpiresAt) {
		return StatusExpired
	}
	return k.Status
}

// GrantsAccess reports whether the key currently entitles its holder.
func (k *ActivationKey) GrantsAccess(now time.Time) bool {
	return k.EffectiveStatus(now) == StatusUsed
}

// CanTransition reports whether the key may move from its stored status to next.
func (k *ActivationKey) CanTransition(next Status) bool {
	return allowed(keyTransitions, k.Status, next)
}
