// Package service holds the business rules for accounts, invites,
// activation keys, Discord linking and the audit log.
package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"zalupaspb/internal/models"
	"zalupaspb/internal/notifications"
	"zalupaspb/internal/repository"
)

// Clock supplies the current time. Tests substitute a fixed one.
type Clock func() time.Time

// EventPublisher delivers events to out-of-process consumers. A
// *notifications.Notifier satisfies it; delivery failures never fail the
// operation that produced the event.
type EventPublisher interface {
	Publish(ctx context.Context, channel string, v any) error
	PublishDiscordEvent(ctx context.Context, ev notifications.DiscordEvent) error
}

// Options configures the service layer.
type Options struct {
	InviteTTL          time.Duration
	LinkTTL            time.Duration
	KeyDefaultDuration time.Duration

	JWTSecret  string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// BcryptCost defaults to bcrypt.DefaultCost.
	BcryptCost int

	Clock  Clock
	Events EventPublisher
}

func (o *Options) setDefaults() {
	if o.InviteTTL <= 0 {
		o.InviteTTL = 7 * 24 * time.Hour
	}
	if o.LinkTTL <= 0 {
		o.LinkTTL = 15 * time.Minute
	}
	if o.KeyDefaultDuration <= 0 {
		o.KeyDefaultDuration = 30 * 24 * time.Hour
	}
	if o.AccessTTL <= 0 {
		o.AccessTTL = 15 * time.Minute
	}
	if o.RefreshTTL <= 0 {
		o.RefreshTTL = 7 * 24 * time.Hour
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.Events == nil {
		o.Events = notifications.NewNotifier(nil)
	}
}

// Services wires every service over one Store.
type Services struct {
	Audit   *AuditService
	Invites *InviteService
	Keys    *KeyService
	Discord *DiscordService
	Auth    *AuthService
	Admin   *AdminService
}

// New builds the service graph.
func New(store *repository.Store, opts Options) *Services {
	opts.setDefaults()
	b := base{store: store, clock: opts.Clock, events: opts.Events}

	audit := &AuditService{base: b}
	b.audit = audit

	keys := &KeyService{base: b, defaultDuration: opts.KeyDefaultDuration}
	invites := &InviteService{base: b, ttl: opts.InviteTTL, keys: keys}
	return &Services{
		Audit:   audit,
		Invites: invites,
		Keys:    keys,
		Discord: &DiscordService{base: b, ttl: opts.LinkTTL, keys: keys},
		Auth: &AuthService{
			base:       b,
			invites:    invites,
			keys:       keys,
			secret:     []byte(opts.JWTSecret),
			accessTTL:  opts.AccessTTL,
			refreshTTL: opts.RefreshTTL,
			cost:       opts.BcryptCost,
		},
		Admin: &AdminService{base: b, keys: keys, cost: opts.BcryptCost},
	}
}

// base carries the dependencies every service shares.
type base struct {
	store  *repository.Store
	clock  Clock
	events EventPublisher
	audit  *AuditService
}

// now is UTC at microsecond precision so values round-trip through both
// database drivers unchanged.
func (b base) now() time.Time {
	return b.clock().UTC().Truncate(time.Microsecond)
}

// actor loads the acting account fresh and rejects banned accounts.
func (b base) actor(ctx context.Context, id uint) (*models.User, error) {
	user, err := b.store.Users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user.IsBanned {
		return nil, models.NewBannedError(user.BanReason)
	}
	return user, nil
}

func (b base) publishDiscord(ctx context.Context, ev notifications.DiscordEvent) {
	if err := b.events.PublishDiscordEvent(ctx, ev); err != nil {
		logWarn(ctx, "discord event publish failed", err, slog.String("event", ev.Event))
	}
}

// RequestMeta describes the client behind an operation, for the audit log.
type RequestMeta struct {
	IP        string
	UserAgent string
}

type requestMetaKey struct{}

// WithRequestMeta attaches client details to ctx.
func WithRequestMeta(ctx context.Context, meta RequestMeta) context.Context {
	return context.WithValue(ctx, requestMetaKey{}, meta)
}

func requestMetaFrom(ctx context.Context) RequestMeta {
	meta, _ := ctx.Value(requestMetaKey{}).(RequestMeta)
	return meta
}

// Code sizes in random bytes; the hex form is twice as long.
const (
	inviteCodeBytes = 8
	keyCodeBytes    = 16
	linkCodeBytes   = 8
)

// generateCode returns n random bytes as lowercase hex.
func generateCode(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func generateLinkCode() (string, error) {
	code, err := generateCode(linkCodeBytes)
	return strings.ToUpper(code), err
}

// Page bounds listing requests.
type Page struct {
	Limit  int
	Offset int
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

func (p Page) normalize() repository.Page {
	limit := p.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	offset := p.Offset
	if offset < 0 {
		offset = 0
	}
	return repository.Page{Limit: limit, Offset: offset}
}

// List is a page of results with the unpaged total.
type List[T any] struct {
	Items  []T   `json:"items"`
	Total  int64 `json:"total"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
}

func newList[T any](items []T, total int64, p repository.Page) *List[T] {
	if items == nil {
		items = []T{}
	}
	return &List[T]{Items: items, Total: total, Limit: p.Limit, Offset: p.Offset}
}

func uintPtr(v uint) *uint {
	return &v
}
