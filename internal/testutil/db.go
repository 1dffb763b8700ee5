// Package testutil provides shared fixtures for package tests.
package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"zalupaspb/internal/database"
	"zalupaspb/internal/models"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Password is the plaintext behind every fixture account.
const Password = "Tz8!kq#Vw2@pLm5r"

var (
	seq       atomic.Int64
	hashCache atomic.Pointer[string]
)

// NewDB opens a migrated in-memory SQLite database. Each in-memory
// connection is its own database, so the pool is pinned to one connection.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: database.NowUTC,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	return db
}

// PasswordHash returns a bcrypt hash of Password, computed once per test binary.
func PasswordHash(t testing.TB) string {
	t.Helper()
	if h := hashCache.Load(); h != nil {
		return *h
	}
	b, err := bcrypt.GenerateFromPassword([]byte(Password), bcrypt.MinCost)
	require.NoError(t, err)
	h := string(b)
	hashCache.Store(&h)
	return h
}

// CreateUser inserts an account with a unique name and the role baseline quota.
func CreateUser(t testing.TB, db *gorm.DB, role models.Role) *models.User {
	t.Helper()
	n := seq.Add(1)
	user := models.NewAccount(
		fmt.Sprintf("user%d", n),
		fmt.Sprintf("user%d@example.com", n),
		PasswordHash(t),
		role,
		time.Now().UTC(),
	)
	require.NoError(t, db.Create(user).Error)
	return user
}

// Reload re-reads a row by primary key.
func Reload[T any](t testing.TB, db *gorm.DB, id uint) *T {
	t.Helper()
	var out T
	require.NoError(t, db.First(&out, id).Error)
	return &out
}
