package models

import "time"

// AuditType groups audit entries by subsystem.
type AuditType string

const (
	AuditAuth    AuditType = "auth"
	AuditUser    AuditType = "user"
	AuditKey     AuditType = "key"
	AuditInvite  AuditType = "invite"
	AuditDiscord AuditType = "discord"
	AuditAdmin   AuditType = "admin"
	AuditSystem  AuditType = "system"
)

// Valid reports whether t is a known audit type.
func (t AuditType) Valid() bool {
	switch t {
	case AuditAuth, AuditUser, AuditKey, AuditInvite, AuditDiscord, AuditAdmin, AuditSystem:
		return true
	}
	return false
}

// AuditLog is an append-only record of a state-changing action.
type AuditLog struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	Type       AuditType      `gorm:"size:16;not null;index" json:"type"`
	Action     string         `gorm:"size:64;not null;index" json:"action"`
	ActorID    *uint          `gorm:"index" json:"actor_id,omitempty"`
	TargetID   *uint          `json:"target_id,omitempty"`
	TargetType string         `gorm:"size:32" json:"target_type,omitempty"`
	Metadata   map[string]any `gorm:"type:text;serializer:json" json:"metadata,omitempty"`
	IP         string         `gorm:"size:64" json:"ip,omitempty"`
	UserAgent  string         `gorm:"size:512" json:"user_agent,omitempty"`
	CreatedAt  time.Time      `gorm:"index" json:"created_at"`
}
