// Package seed loads bootstrap fixtures and generates development data.
// Everything it creates goes through the service layer, so seeded records
// carry the same audit trail and quota bookkeeping as real ones.
package seed

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"zalupaspb/internal/models"

	"gopkg.in/yaml.v3"
)

// Fixture is the layout of a seed file.
type Fixture struct {
	Admin     Account      `yaml:"admin"`
	Staff     []Account    `yaml:"staff"`
	Invites   []InviteSpec `yaml:"invites"`
	Keys      []KeySpec    `yaml:"keys"`
	FakeUsers int          `yaml:"fake_users"`
}

// Account is a privileged account created outside the invite flow.
type Account struct {
	Username string      `yaml:"username"`
	Email    string      `yaml:"email"`
	Password string      `yaml:"password"`
	Role     models.Role `yaml:"role"`
}

// InviteSpec issues Count invites on behalf of a fixture account.
type InviteSpec struct {
	IssuedBy  string        `yaml:"issued_by"`
	Role      models.Role   `yaml:"role"`
	Count     int           `yaml:"count"`
	ExpiresIn time.Duration `yaml:"expires_in"`
}

// KeySpec issues Count unclaimed activation keys.
type KeySpec struct {
	IssuedBy string         `yaml:"issued_by"`
	Type     string         `yaml:"type"`
	Duration time.Duration  `yaml:"duration"`
	Count    int            `yaml:"count"`
	Metadata map[string]any `yaml:"metadata"`
}

// LoadFixture reads a seed file. ${VAR} references are expanded from the
// environment so passwords need not live in the file.
func LoadFixture(path string) (*Fixture, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return ParseFixture([]byte(os.ExpandEnv(string(raw))))
}

// ParseFixture decodes and validates a fixture, filling defaults.
// Unknown keys are rejected.
func ParseFixture(raw []byte) (*Fixture, error) {
	var fx Fixture
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&fx); err != nil {
		return nil, fmt.Errorf("decode seed file: %w", err)
	}
	if err := fx.normalize(); err != nil {
		return nil, err
	}
	return &fx, nil
}

func (fx *Fixture) normalize() error {
	if strings.TrimSpace(fx.Admin.Username) == "" {
		return errors.New("seed: admin.username is required")
	}
	if fx.Admin.Role == "" {
		fx.Admin.Role = models.RoleAdmin
	}
	if fx.Admin.Role != models.RoleAdmin {
		return fmt.Errorf("seed: admin %q must have role admin", fx.Admin.Username)
	}

	known := map[string]bool{fx.Admin.Username: true}
	for i := range fx.Staff {
		acc := &fx.Staff[i]
		if strings.TrimSpace(acc.Username) == "" {
			return fmt.Errorf("seed: staff[%d].username is required", i)
		}
		if acc.Role == "" {
			acc.Role = models.RoleModerator
		}
		if !acc.Role.Valid() {
			return fmt.Errorf("seed: staff %q has unknown role %q", acc.Username, acc.Role)
		}
		if known[acc.Username] {
			return fmt.Errorf("seed: account %q is listed twice", acc.Username)
		}
		known[acc.Username] = true
	}

	for i := range fx.Invites {
		spec := &fx.Invites[i]
		if spec.IssuedBy == "" {
			spec.IssuedBy = fx.Admin.Username
		}
		if !known[spec.IssuedBy] {
			return fmt.Errorf("seed: invites[%d] issued by unknown account %q", i, spec.IssuedBy)
		}
		if spec.Role == "" {
			spec.Role = models.RoleUser
		}
		if !spec.Role.Valid() {
			return fmt.Errorf("seed: invites[%d] has unknown role %q", i, spec.Role)
		}
		if spec.Count <= 0 {
			spec.Count = 1
		}
	}

	for i := range fx.Keys {
		spec := &fx.Keys[i]
		if spec.IssuedBy == "" {
			spec.IssuedBy = fx.Admin.Username
		}
		if !known[spec.IssuedBy] {
			return fmt.Errorf("seed: keys[%d] issued by unknown account %q", i, spec.IssuedBy)
		}
		if spec.Count <= 0 {
			spec.Count = 1
		}
	}

	if fx.FakeUsers < 0 {
		return errors.New("seed: fake_users must not be negative")
	}
	return nil
}

// Accounts lists the admin followed by the staff, in file order.
func (fx *Fixture) Accounts() []Account {
	out := make([]Account, 0, 1+len(fx.Staff))
	out = append(out, fx.Admin)
	return append(out, fx.Staff...)
}
