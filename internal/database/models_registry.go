package database

import "zalupaspb/internal/models"

// PersistentModels returns the authoritative set of schema-managed GORM models.
func PersistentModels() []interface{} {
	return []interface{}{
		&models.User{},
		&models.Invite{},
		&models.ActivationKey{},
		&models.DiscordLink{},
		&models.AuditLog{},
	}
}
