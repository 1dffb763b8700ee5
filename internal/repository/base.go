// Package repository implements the data access layer for the application.
package repository

import (
	"context"
	"errors"
	"strings"

	"zalupaspb/internal/database"
	"zalupaspb/internal/models"

	"gorm.io/gorm"
)

// Page is a limit/offset window over a listing.
type Page struct {
	Limit  int
	Offset int
}

func (p Page) apply(q *gorm.DB) *gorm.DB {
	if p.Limit > 0 {
		q = q.Limit(p.Limit)
	}
	if p.Offset > 0 {
		q = q.Offset(p.Offset)
	}
	return q
}

// Store groups the repositories over one connection or transaction.
type Store struct {
	db      *gorm.DB
	Users   UserRepository
	Invites InviteRepository
	Keys    KeyRepository
	Links   LinkRepository
	Audit   AuditRepository
}

// NewStore builds a Store on the primary connection. Reads that tolerate
// replica lag go to the read replica when one is configured.
func NewStore(db *gorm.DB) *Store {
	read := db
	if replica := database.GetReadDB(); replica != nil {
		read = replica
	}
	return newStore(db, read)
}

func newStore(db, read *gorm.DB) *Store {
	return &Store{
		db:      db,
		Users:   &userRepository{db: db, read: read},
		Invites: &inviteRepository{db: db, read: read},
		Keys:    &keyRepository{db: db, read: read},
		Links:   &linkRepository{db: db},
		Audit:   &auditRepository{db: db, read: read},
	}
}

// DB exposes the underlying connection for health checks.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Transaction runs fn against a Store bound to a single database
// transaction. Returning an error from fn rolls everything back.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(newStore(tx, tx))
	})
}

// isUniqueConstraintError checks if a DB error is a unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	// PostgreSQL unique violation SQLSTATE 23505; SQLite "UNIQUE constraint failed"
	return strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "23505")
}

func notFoundOr(err error, resource string, id interface{}) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.NewNotFoundError(resource, id)
	}
	return models.NewInternalError(err)
}

// likePattern builds a case-insensitive substring pattern with LIKE
// metacharacters escaped.
func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.ToLower(strings.TrimSpace(s))) + "%"
}

type statusCount struct {
	Status models.Status
	Count  int64
}

func countByStatus(ctx context.Context, db *gorm.DB, model interface{}) (map[models.Status]int64, error) {
	var rows []statusCount
	if err := db.WithContext(ctx).Model(model).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	out := make(map[models.Status]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.Count
	}
	return out, nil
}
