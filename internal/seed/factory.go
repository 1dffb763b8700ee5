package seed

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"zalupaspb/internal/models"
	"zalupaspb/internal/service"

	"github.com/brianvoe/gofakeit/v6"
	"golang.org/x/crypto/bcrypt"
)

// FakePassword is the plaintext behind every generated account.
const FakePassword = "Spb-dev!member#2024"

var nonAlnum = regexp.MustCompile(`[^a-z0-9]`)

// Factory generates plausible members through the invite flow.
type Factory struct {
	services *service.Services
	faker    *gofakeit.Faker
	hash     string
}

// NewFactory hashes FakePassword once for every account it will create.
func NewFactory(services *service.Services, opts Options) (*Factory, error) {
	cost := opts.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(FakePassword), cost)
	if err != nil {
		return nil, fmt.Errorf("hash fake password: %w", err)
	}
	return &Factory{
		services: services,
		faker:    gofakeit.New(opts.FakerSeed),
		hash:     string(hash),
	}, nil
}

// Users registers n members from invites issued by issuerID. About half
// of them get an activated key, and about half of those a Discord link.
// Accounts created before a failure are returned with the error.
func (f *Factory) Users(ctx context.Context, issuerID uint, n int) ([]*models.User, error) {
	users := make([]*models.User, 0, n)
	for i := 0; i < n; i++ {
		user, err := f.member(ctx, issuerID)
		if err != nil {
			return users, err
		}
		users = append(users, user)
	}
	return users, nil
}

func (f *Factory) member(ctx context.Context, issuerID uint) (*models.User, error) {
	invite, err := f.services.Invites.Issue(ctx, issuerID, service.IssueInviteInput{Role: models.RoleUser})
	if err != nil {
		return nil, err
	}

	username := f.username()
	user, err := f.services.Invites.Redeem(ctx, invite.Code, service.Registration{
		Username:     username,
		Email:        username + "@" + strings.ToLower(f.faker.DomainName()),
		PasswordHash: f.hash,
	})
	if err != nil {
		return nil, err
	}

	if !f.faker.Bool() {
		return user, nil
	}
	key, err := f.services.Keys.Issue(ctx, issuerID, service.IssueKeyInput{
		Metadata: map[string]any{"note": f.faker.Sentence(4)},
	})
	if err != nil {
		return user, err
	}
	if _, err := f.services.Keys.Activate(ctx, user.ID, key.Code); err != nil {
		return user, err
	}

	if !f.faker.Bool() {
		return user, nil
	}
	link, err := f.services.Discord.IssueCode(ctx, user.ID)
	if err != nil {
		return user, err
	}
	discordName := nonAlnum.ReplaceAllString(strings.ToLower(f.faker.Username()), "")
	if discordName == "" {
		discordName = username
	}
	return f.services.Discord.Redeem(ctx, link.Code, f.faker.Numerify("1#################"), discordName)
}

// username is a lowercase alphanumeric base plus a random suffix, well
// inside the username length limit.
func (f *Factory) username() string {
	base := nonAlnum.ReplaceAllString(strings.ToLower(f.faker.Username()), "")
	if len(base) > 20 {
		base = base[:20]
	}
	if len(base) < 3 {
		base = "member"
	}
	return base + "_" + strings.ToLower(f.faker.LetterN(5))
}
