package seed

import (
	"context"
	"fmt"
	"time"

	"zalupaspb/internal/models"
	"zalupaspb/internal/repository"
	"zalupaspb/internal/service"
	"zalupaspb/internal/validation"

	"golang.org/x/crypto/bcrypt"
)

// Options tune a Seeder. Zero values pick defaults.
type Options struct {
	// BcryptCost defaults to bcrypt.DefaultCost.
	BcryptCost int
	// FakerSeed makes generated users reproducible; 0 picks a random seed.
	FakerSeed int64
	Now       func() time.Time
}

// Report lists what a run created. Accounts that already existed are not repeated.
type Report struct {
	Accounts  []models.Summary
	Invites   []string
	Keys      []string
	FakeUsers []models.Summary
}

// Seeder applies fixtures against a store.
type Seeder struct {
	store    *repository.Store
	services *service.Services
	opts     Options
}

// NewSeeder creates a Seeder over the given service graph.
func NewSeeder(store *repository.Store, services *service.Services, opts Options) *Seeder {
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Seeder{store: store, services: services, opts: opts}
}

// Apply creates the fixture's accounts, then its invites and keys, then
// any fake users. Accounts are matched by username, so re-running a
// fixture only corrects roles; invites and keys are issued on every run.
func (s *Seeder) Apply(ctx context.Context, fx *Fixture) (*Report, error) {
	report := &Report{}
	accounts := make(map[string]*models.User, 1+len(fx.Staff))

	for _, acc := range fx.Accounts() {
		user, created, err := s.ensureAccount(ctx, acc)
		if err != nil {
			return report, fmt.Errorf("seed account %q: %w", acc.Username, err)
		}
		accounts[acc.Username] = user
		if created {
			report.Accounts = append(report.Accounts, user.Summary())
		}
	}

	for _, spec := range fx.Invites {
		issuer := accounts[spec.IssuedBy]
		for i := 0; i < spec.Count; i++ {
			invite, err := s.services.Invites.Issue(ctx, issuer.ID, service.IssueInviteInput{
				Role:      spec.Role,
				ExpiresIn: spec.ExpiresIn,
			})
			if err != nil {
				return report, fmt.Errorf("seed invite from %q: %w", spec.IssuedBy, err)
			}
			report.Invites = append(report.Invites, invite.Code)
		}
	}

	for _, spec := range fx.Keys {
		issuer := accounts[spec.IssuedBy]
		for i := 0; i < spec.Count; i++ {
			key, err := s.services.Keys.Issue(ctx, issuer.ID, service.IssueKeyInput{
				Duration: spec.Duration,
				Type:     spec.Type,
				Metadata: spec.Metadata,
			})
			if err != nil {
				return report, fmt.Errorf("seed key from %q: %w", spec.IssuedBy, err)
			}
			report.Keys = append(report.Keys, key.Code)
		}
	}

	if fx.FakeUsers > 0 {
		factory, err := NewFactory(s.services, s.opts)
		if err != nil {
			return report, err
		}
		users, err := factory.Users(ctx, accounts[fx.Admin.Username].ID, fx.FakeUsers)
		for _, u := range users {
			report.FakeUsers = append(report.FakeUsers, u.Summary())
		}
		if err != nil {
			return report, fmt.Errorf("seed fake users: %w", err)
		}
	}

	return report, nil
}

// ensureAccount returns the account named acc.Username, creating it with
// the role baseline quota when absent. An existing account with a
// different role is moved to acc.Role.
func (s *Seeder) ensureAccount(ctx context.Context, acc Account) (*models.User, bool, error) {
	existing, err := s.store.Users.GetByLogin(ctx, acc.Username)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		if existing.Role != acc.Role {
			existing, err = s.services.Admin.Promote(ctx, existing.ID, acc.Role)
		}
		return existing, false, err
	}

	email := validation.NormalizeEmail(acc.Email)
	if err := validation.ValidateUsername(acc.Username); err != nil {
		return nil, false, models.NewValidationError(err.Error())
	}
	if err := validation.ValidateEmail(email); err != nil {
		return nil, false, models.NewValidationError(err.Error())
	}
	if err := validation.ValidatePassword(acc.Password, acc.Username, email); err != nil {
		return nil, false, models.NewValidationError(err.Error())
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(acc.Password), s.opts.BcryptCost)
	if err != nil {
		return nil, false, fmt.Errorf("hash password: %w", err)
	}
	user := models.NewAccount(acc.Username, email, string(hash), acc.Role, s.opts.Now().UTC())
	if err := s.store.Users.Create(ctx, user); err != nil {
		return nil, false, err
	}

	s.services.Audit.Record(ctx, service.AuditEntry{
		Type:       models.AuditSystem,
		Action:     "seed_account",
		TargetID:   &user.ID,
		TargetType: "user",
		Metadata:   map[string]any{"role": user.Role},
	})
	return user, true, nil
}
