// Package bootstrap connects the runtime dependencies shared by the
// server and the operator commands.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log"

	"zalupaspb/internal/cache"
	"zalupaspb/internal/config"
	"zalupaspb/internal/database"
	"zalupaspb/internal/notifications"
	"zalupaspb/internal/repository"
	"zalupaspb/internal/seed"
	"zalupaspb/internal/service"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Options control runtime initialization behavior.
type Options struct {
	// Seed applies cfg.SeedFile once connected. Refused in production.
	Seed bool
}

// InitRuntime connects to DB and Redis and optionally applies the seed file.
// The Redis client is nil when Redis is unreachable.
func InitRuntime(cfg *config.Config, opts Options) (*gorm.DB, *redis.Client, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}

	cache.InitRedis(cfg.RedisURL)
	r := cache.GetClient()

	if opts.Seed {
		report, err := ApplySeed(context.Background(), cfg, db, r, seed.Options{})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to apply seed file: %w", err)
		}
		log.Printf("seed applied from %s: %d accounts, %d invites, %d keys, %d fake users",
			cfg.SeedFile, len(report.Accounts), len(report.Invites), len(report.Keys), len(report.FakeUsers))
	}

	return db, r, nil
}

// ServiceOptions maps configuration onto the service graph settings.
func ServiceOptions(cfg *config.Config, events service.EventPublisher) service.Options {
	return service.Options{
		InviteTTL:          cfg.InviteTTL,
		LinkTTL:            cfg.DiscordLinkTTL,
		KeyDefaultDuration: cfg.KeyDefaultDuration,
		JWTSecret:          cfg.JWTSecret,
		AccessTTL:          cfg.JWTAccessTTL,
		RefreshTTL:         cfg.JWTRefreshTTL,
		Events:             events,
	}
}

// Services builds the service graph for tooling that runs without the HTTP server.
func Services(cfg *config.Config, db *gorm.DB, rdb *redis.Client) (*repository.Store, *service.Services) {
	store := repository.NewStore(db)
	return store, service.New(store, ServiceOptions(cfg, notifications.NewNotifier(rdb)))
}

// ApplySeed loads cfg.SeedFile and applies it through the services.
func ApplySeed(ctx context.Context, cfg *config.Config, db *gorm.DB, rdb *redis.Client, opts seed.Options) (*seed.Report, error) {
	if cfg.IsProduction() {
		return nil, errors.New("seeding is disabled in production")
	}
	if cfg.SeedFile == "" {
		return nil, errors.New("SEED_FILE is not set")
	}

	fx, err := seed.LoadFixture(cfg.SeedFile)
	if err != nil {
		return nil, err
	}
	store, services := Services(cfg, db, rdb)
	return seed.NewSeeder(store, services, opts).Apply(ctx, fx)
}
