package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"zalupaspb/internal/models"
	"zalupaspb/internal/notifications"
	"zalupaspb/internal/repository"
	"zalupaspb/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const testSecret = "test-secret-that-is-at-least-32-chars"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Now().UTC().Truncate(time.Second)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordedEvents struct {
	mu      sync.Mutex
	discord []notifications.DiscordEvent
	audit   int
}

func (r *recordedEvents) Publish(_ context.Context, channel string, _ any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if channel == notifications.AuditChannel {
		r.audit++
	}
	return nil
}

func (r *recordedEvents) PublishDiscordEvent(_ context.Context, ev notifications.DiscordEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.discord = append(r.discord, ev)
	return nil
}

func (r *recordedEvents) Discord() []notifications.DiscordEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notifications.DiscordEvent(nil), r.discord...)
}

type fixture struct {
	*Services
	db     *gorm.DB
	clock  *fakeClock
	events *recordedEvents
	ctx    context.Context
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	clock := newFakeClock()
	events := &recordedEvents{}
	svc := New(repository.NewStore(db), Options{
		JWTSecret:  testSecret,
		BcryptCost: bcrypt.MinCost,
		Clock:      clock.Now,
		Events:     events,
	})
	return &fixture{Services: svc, db: db, clock: clock, events: events, ctx: context.Background()}
}

func (f *fixture) user(t *testing.T, role models.Role) *models.User {
	return testutil.CreateUser(t, f.db, role)
}

func (f *fixture) ban(t *testing.T, u *models.User, reason string) {
	t.Helper()
	require.NoError(t, f.db.Model(&models.User{}).Where("id = ?", u.ID).
		Updates(map[string]any{"is_banned": true, "ban_reason": reason}).Error)
}

func registration(name string) Registration {
	return Registration{
		Username:     name,
		Email:        name + "@example.com",
		PasswordHash: "x",
	}
}

func TestInvite_RedeemCreatesAccount(t *testing.T) {
	f := newFixture(t)
	creator := f.user(t, models.RoleUser)

	invite, err := f.Invites.Issue(f.ctx, creator.ID, IssueInviteInput{ExpiresIn: time.Hour})
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, invite.Status)
	assert.Equal(t, models.RoleUser, invite.Role)
	assert.Len(t, invite.Code, 2*inviteCodeBytes)

	newbie, err := f.Invites.Redeem(f.ctx, invite.Code, registration("newbie"))
	require.NoError(t, err)
	require.NotNil(t, newbie.InvitedByID)
	assert.Equal(t, creator.ID, *newbie.InvitedByID)
	assert.Equal(t, models.RoleUser, newbie.Role)
	assert.Equal(t, models.RoleUser.InviteQuota(), newbie.InvitesLeft)

	stored := testutil.Reload[models.Invite](t, f.db, invite.ID)
	assert.Equal(t, models.StatusUsed, stored.Status)
	require.NotNil(t, stored.UsedByID)
	assert.Equal(t, newbie.ID, *stored.UsedByID)
	assert.NotNil(t, stored.UsedAt)

	invited, err := f.Invites.InvitedUsers(f.ctx, creator.ID)
	require.NoError(t, err)
	require.Len(t, invited, 1)
	assert.Equal(t, newbie.ID, invited[0].ID)
	assert.False(t, invited[0].HasValidKey)
}

func TestInvite_NeverRedeemsTwice(t *testing.T) {
	f := newFixture(t)
	creator := f.user(t, models.RoleModerator)

	used, err := f.Invites.Issue(f.ctx, creator.ID, IssueInviteInput{})
	require.NoError(t, err)
	_, err = f.Invites.Redeem(f.ctx, used.Code, registration("first"))
	require.NoError(t, err)

	revoked, err := f.Invites.Issue(f.ctx, creator.ID, IssueInviteInput{})
	require.NoError(t, err)
	_, err = f.Invites.Revoke(f.ctx, creator.ID, revoked.ID)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = f.Invites.Redeem(f.ctx, used.Code, registration(fmt.Sprintf("again%d", i)))
		assert.ErrorIs(t, err, models.ErrConflict)
		_, err = f.Invites.Redeem(f.ctx, revoked.Code, registration(fmt.Sprintf("revoked%d", i)))
		assert.ErrorIs(t, err, models.ErrConflict)
	}

	_, err = f.Invites.Redeem(f.ctx, "does-not-exist", registration("ghost"))
	assert.ErrorIs(t, err, models.ErrNotFound)

	var count int64
	require.NoError(t, f.db.Model(&models.User{}).Where("username LIKE ?", "again%").Count(&count).Error)
	assert.Zero(t, count, "failed redemptions must not leave accounts behind")
}

func TestInvite_ConcurrentRedeemHasOneWinner(t *testing.T) {
	f := newFixture(t)
	creator := f.user(t, models.RoleAdmin)
	invite, err := f.Invites.Issue(f.ctx, creator.ID, IssueInviteInput{})
	require.NoError(t, err)

	const racers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		winners   int
		conflicts int
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.Invites.Redeem(f.ctx, invite.Code, registration(fmt.Sprintf("racer%d", i)))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners++
			case assert.ErrorIs(t, err, models.ErrConflict):
				conflicts++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
	assert.Equal(t, racers-1, conflicts)

	var accounts int64
	require.NoError(t, f.db.Model(&models.User{}).Where("username LIKE ?", "racer%").Count(&accounts).Error)
	assert.Equal(t, int64(1), accounts)
}

func TestInvite_LazyExpiry(t *testing.T) {
	f := newFixture(t)
	creator := f.user(t, models.RoleModerator)
	invite, err := f.Invites.Issue(f.ctx, creator.ID, IssueInviteInput{ExpiresIn: time.Hour})
	require.NoError(t, err)

	_, err = f.Invites.Check(f.ctx, invite.Code)
	require.NoError(t, err)

	f.clock.Advance(time.Hour)

	_, err = f.Invites.Check(f.ctx, invite.Code)
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = f.Invites.Redeem(f.ctx, invite.Code, registration("late"))
	assert.ErrorIs(t, err, models.ErrConflict)
	assert.Equal(t, models.StatusExpired, testutil.Reload[models.Invite](t, f.db, invite.ID).Status)

	_, err = f.Invites.Revoke(f.ctx, creator.ID, invite.ID)
	assert.ErrorIs(t, err, models.ErrConflict)
}

func TestInvite_QuotaAndRefund(t *testing.T) {
	f := newFixture(t)
	creator := f.user(t, models.RoleUser)
	quota := func() int { return testutil.Reload[models.User](t, f.db, creator.ID).InvitesLeft }
	require.Equal(t, 2, quota())

	first, err := f.Invites.Issue(f.ctx, creator.ID, IssueInviteInput{})
	require.NoError(t, err)
	assert.Equal(t, 1, quota())

	_, err = f.Invites.Revoke(f.ctx, creator.ID, first.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, quota())

	for i := 0; i < 2; i++ {
		_, err = f.Invites.Issue(f.ctx, creator.ID, IssueInviteInput{})
		require.NoError(t, err)
	}
	assert.Equal(t, 0, quota())

	_, err = f.Invites.Issue(f.ctx, creator.ID, IssueInviteInput{})
	assert.ErrorIs(t, err, models.ErrQuotaExhausted)
	assert.Equal(t, 0, quota())

	mine, err := f.Invites.ListMine(f.ctx, creator.ID)
	require.NoError(t, err)
	assert.Len(t, mine.Invites, 3)
	assert.False(t, mine.Unlimited)
}

func TestInvite_RevokeAfterMonthlyResetRefundsInFull(t *testing.T) {
	f := newFixture(t)
	creator := f.user(t, models.RoleUser)
	quota := func() int { return testutil.Reload[models.User](t, f.db, creator.ID).InvitesLeft }

	invite, err := f.Invites.Issue(f.ctx, creator.ID, IssueInviteInput{ExpiresIn: 60 * 24 * time.Hour})
	require.NoError(t, err)
	require.Equal(t, 1, quota())

	f.clock.Advance(40 * 24 * time.Hour)
	mine, err := f.Invites.ListMine(f.ctx, creator.ID)
	require.NoError(t, err)
	require.Equal(t, models.RoleUser.InviteQuota(), mine.InvitesLeft)

	_, err = f.Invites.Revoke(f.ctx, creator.ID, invite.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoleUser.InviteQuota()+1, quota())
}

func TestInvite_StaffRevokeDoesNotRefundCreator(t *testing.T) {
	f := newFixture(t)
	creator := f.user(t, models.RoleUser)
	mod := f.user(t, models.RoleModerator)

	invite, err := f.Invites.Issue(f.ctx, creator.ID, IssueInviteInput{})
	require.NoError(t, err)

	other := f.user(t, models.RoleUser)
	_, err = f.Invites.Revoke(f.ctx, other.ID, invite.ID)
	assert.ErrorIs(t, err, models.ErrForbidden)

	_, err = f.Invites.Revoke(f.ctx, mod.ID, invite.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, testutil.Reload[models.User](t, f.db, creator.ID).InvitesLeft)
	assert.Equal(t, models.RoleModerator.InviteQuota(), testutil.Reload[models.User](t, f.db, mod.ID).InvitesLeft)
}

func TestInvite_RoleRestriction(t *testing.T) {
	f := newFixture(t)
	mod := f.user(t, models.RoleModerator)
	admin := f.user(t, models.RoleAdmin)

	_, err := f.Invites.Issue(f.ctx, mod.ID, IssueInviteInput{Role: models.RoleAdmin})
	assert.ErrorIs(t, err, models.ErrForbidden)
	assert.Equal(t, 10, testutil.Reload[models.User](t, f.db, mod.ID).InvitesLeft)

	invite, err := f.Invites.Issue(f.ctx, admin.ID, IssueInviteInput{Role: models.RoleModerator})
	require.NoError(t, err)
	assert.Equal(t, models.RoleModerator, invite.Role)
	assert.Equal(t, models.UnlimitedInvites, testutil.Reload[models.User](t, f.db, admin.ID).InvitesLeft)

	staff, err := f.Invites.Redeem(f.ctx, invite.Code, registration("newmod"))
	require.NoError(t, err)
	assert.Equal(t, models.RoleModerator, staff.Role)
	assert.Equal(t, 10, staff.InvitesLeft)
}

func TestInvite_ListAllSettlesExpiry(t *testing.T) {
	f := newFixture(t)
	mod := f.user(t, models.RoleModerator)
	user := f.user(t, models.RoleUser)

	stale, err := f.Invites.Issue(f.ctx, mod.ID, IssueInviteInput{ExpiresIn: time.Minute})
	require.NoError(t, err)
	f.clock.Advance(2 * time.Minute)
	_, err = f.Invites.Issue(f.ctx, mod.ID, IssueInviteInput{})
	require.NoError(t, err)

	_, err = f.Invites.ListAll(f.ctx, user.ID, InviteQuery{}, Page{})
	assert.ErrorIs(t, err, models.ErrForbidden)

	active, err := f.Invites.ListAll(f.ctx, mod.ID, InviteQuery{Status: models.StatusActive}, Page{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), active.Total)

	all, err := f.Invites.ListAll(f.ctx, mod.ID, InviteQuery{}, Page{Limit: 1000})
	require.NoError(t, err)
	assert.Equal(t, maxPageSize, all.Limit)
	assert.Equal(t, int64(2), all.Total)
	assert.Equal(t, models.StatusExpired, testutil.Reload[models.Invite](t, f.db, stale.ID).Status)
}

func TestKey_ActivateAndExpire(t *testing.T) {
	f := newFixture(t)
	mod := f.user(t, models.RoleModerator)
	user := f.user(t, models.RoleUser)

	_, err := f.Keys.Issue(f.ctx, user.ID, IssueKeyInput{})
	assert.ErrorIs(t, err, models.ErrForbidden)

	key, err := f.Keys.Issue(f.ctx, mod.ID, IssueKeyInput{Duration: 86400 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, key.Status)
	assert.Equal(t, models.DefaultKeyType, key.Type)

	t0 := f.clock.Now()
	activated, err := f.Keys.Activate(f.ctx, user.ID, key.Code)
	require.NoError(t, err)
	assert.Equal(t, models.StatusUsed, activated.Status)
	require.NotNil(t, activated.ExpiresAt)
	assert.True(t, activated.ExpiresAt.Equal(t0.Add(86400*time.Second)))

	stored := testutil.Reload[models.ActivationKey](t, f.db, key.ID)
	require.NoError(t, f.Keys.RefreshStatus(f.ctx, stored))
	assert.Equal(t, models.StatusUsed, stored.Status)

	ok, err := f.Keys.HasValidKey(f.ctx, user)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = f.Keys.Activate(f.ctx, user.ID, key.Code)
	assert.ErrorIs(t, err, models.ErrConflict)

	f.clock.Advance(86401 * time.Second)

	stored = testutil.Reload[models.ActivationKey](t, f.db, key.ID)
	require.NoError(t, f.Keys.RefreshStatus(f.ctx, stored))
	assert.Equal(t, models.StatusExpired, stored.Status)
	assert.Equal(t, models.StatusExpired, testutil.Reload[models.ActivationKey](t, f.db, key.ID).Status)

	require.NoError(t, f.Keys.RefreshStatus(f.ctx, stored))
	assert.Equal(t, models.StatusExpired, stored.Status)

	ok, err = f.Keys.HasValidKey(f.ctx, user)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestKey_ExpiresAtExactDeadline(t *testing.T) {
	f := newFixture(t)
	mod := f.user(t, models.RoleModerator)
	user := f.user(t, models.RoleUser)

	key, err := f.Keys.Issue(f.ctx, mod.ID, IssueKeyInput{Duration: 24 * time.Hour})
	require.NoError(t, err)
	_, err = f.Keys.Activate(f.ctx, user.ID, key.Code)
	require.NoError(t, err)

	f.clock.Advance(24*time.Hour - time.Second)
	ok, err := f.Keys.HasValidKey(f.ctx, user)
	require.NoError(t, err)
	assert.True(t, ok)

	f.clock.Advance(time.Second)
	ok, err = f.Keys.HasValidKey(f.ctx, user)
	require.NoError(t, err)
	assert.False(t, ok)

	stored := testutil.Reload[models.ActivationKey](t, f.db, key.ID)
	require.NoError(t, f.Keys.RefreshStatus(f.ctx, stored))
	assert.Equal(t, models.StatusExpired, stored.Status)
}

func TestKey_RevokeExpiredAndRevoked(t *testing.T) {
	f := newFixture(t)
	mod := f.user(t, models.RoleModerator)
	user := f.user(t, models.RoleUser)

	key, err := f.Keys.Issue(f.ctx, mod.ID, IssueKeyInput{Duration: time.Hour})
	require.NoError(t, err)
	_, err = f.Keys.Activate(f.ctx, user.ID, key.Code)
	require.NoError(t, err)

	f.clock.Advance(2 * time.Hour)
	stored := testutil.Reload[models.ActivationKey](t, f.db, key.ID)
	require.NoError(t, f.Keys.RefreshStatus(f.ctx, stored))
	require.Equal(t, models.StatusExpired, stored.Status)

	_, err = f.Keys.Activate(f.ctx, user.ID, key.Code)
	assert.ErrorIs(t, err, models.ErrConflict)

	revoked, err := f.Keys.Revoke(f.ctx, mod.ID, key.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRevoked, revoked.Status)

	_, err = f.Keys.Revoke(f.ctx, mod.ID, key.ID)
	assert.ErrorIs(t, err, models.ErrConflict)
	assert.Equal(t, models.StatusRevoked, testutil.Reload[models.ActivationKey](t, f.db, key.ID).Status)
}

func TestKey_ActivateUnknownCode(t *testing.T) {
	f := newFixture(t)
	user := f.user(t, models.RoleUser)

	_, err := f.Keys.Activate(f.ctx, user.ID, "nope")
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = f.Keys.Activate(f.ctx, user.ID, "  ")
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestKey_LifetimeNeverExpires(t *testing.T) {
	f := newFixture(t)
	admin := f.user(t, models.RoleAdmin)
	user := f.user(t, models.RoleUser)

	key, err := f.Keys.Issue(f.ctx, admin.ID, IssueKeyInput{Type: LifetimeKeyType})
	require.NoError(t, err)
	activated, err := f.Keys.Activate(f.ctx, user.ID, key.Code)
	require.NoError(t, err)
	assert.Nil(t, activated.ExpiresAt)

	f.clock.Advance(5 * 365 * 24 * time.Hour)
	status, err := f.Keys.Status(f.ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, status.HasValidKey)
	assert.False(t, status.ByRole)
	require.Len(t, status.ValidKeys, 1)
	assert.Nil(t, status.ValidKeys[0].RemainingDays)
}

func TestKey_RevokeDetachesHolder(t *testing.T) {
	f := newFixture(t)
	mod := f.user(t, models.RoleModerator)
	user := f.user(t, models.RoleUser)

	key, err := f.Keys.Issue(f.ctx, mod.ID, IssueKeyInput{Duration: 48 * time.Hour})
	require.NoError(t, err)
	_, err = f.Keys.Activate(f.ctx, user.ID, key.Code)
	require.NoError(t, err)

	mine, err := f.Keys.ListMine(f.ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	require.NotNil(t, mine[0].RemainingDays)
	assert.Equal(t, 2, *mine[0].RemainingDays)

	_, err = f.Keys.Revoke(f.ctx, user.ID, key.ID)
	assert.ErrorIs(t, err, models.ErrForbidden)

	revoked, err := f.Keys.Revoke(f.ctx, mod.ID, key.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRevoked, revoked.Status)

	stored := testutil.Reload[models.ActivationKey](t, f.db, key.ID)
	assert.Nil(t, stored.HolderID)
	require.NotNil(t, stored.UsedByID)
	assert.Equal(t, user.ID, *stored.UsedByID)

	ok, err := f.Keys.HasValidKey(f.ctx, user)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = f.Keys.Revoke(f.ctx, mod.ID, key.ID)
	assert.ErrorIs(t, err, models.ErrConflict)
}

func TestKey_StaffAreEntitledByRole(t *testing.T) {
	f := newFixture(t)
	mod := f.user(t, models.RoleModerator)

	status, err := f.Keys.Status(f.ctx, mod.ID)
	require.NoError(t, err)
	assert.True(t, status.HasValidKey)
	assert.True(t, status.ByRole)
	assert.Empty(t, status.ValidKeys)
}

func TestDiscord_IssueCodeSupersedesPrevious(t *testing.T) {
	f := newFixture(t)
	user := f.user(t, models.RoleUser)

	first, err := f.Discord.IssueCode(f.ctx, user.ID)
	require.NoError(t, err)
	second, err := f.Discord.IssueCode(f.ctx, user.ID)
	require.NoError(t, err)
	assert.NotEqual(t, first.Code, second.Code)
	assert.Equal(t, models.StatusExpired, testutil.Reload[models.DiscordLink](t, f.db, first.ID).Status)

	var active int64
	require.NoError(t, f.db.Model(&models.DiscordLink{}).
		Where("user_id = ? AND status = ?", user.ID, models.StatusActive).Count(&active).Error)
	assert.Equal(t, int64(1), active)

	status, err := f.Discord.LinkStatus(f.ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, status.Linked)
	assert.Equal(t, second.Code, status.PendingCode)

	_, err = f.Discord.Redeem(f.ctx, first.Code, "1001", "member#1")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestDiscord_RedeemAndUnlink(t *testing.T) {
	f := newFixture(t)
	user := f.user(t, models.RoleUser)

	link, err := f.Discord.IssueCode(f.ctx, user.ID)
	require.NoError(t, err)

	linked, err := f.Discord.Redeem(f.ctx, " "+link.Code+" ", "1001", "member#1")
	require.NoError(t, err)
	assert.Equal(t, user.ID, linked.ID)
	require.True(t, linked.IsLinked())
	assert.Equal(t, "1001", *linked.DiscordID)

	stored := testutil.Reload[models.DiscordLink](t, f.db, link.ID)
	assert.Equal(t, models.StatusUsed, stored.Status)
	assert.Equal(t, "1001", stored.DiscordID)

	_, err = f.Discord.Redeem(f.ctx, link.Code, "1001", "member#1")
	assert.ErrorIs(t, err, models.ErrNotFound)

	bot, err := f.Discord.LookupByDiscordID(f.ctx, "1001")
	require.NoError(t, err)
	assert.Equal(t, user.Username, bot.Username)
	assert.False(t, bot.HasValidKey)

	events := f.events.Discord()
	require.Len(t, events, 1)
	assert.Equal(t, notifications.EventDiscordLinked, events[0].Event)

	require.NoError(t, f.Discord.Unlink(f.ctx, user.ID))
	assert.Nil(t, testutil.Reload[models.User](t, f.db, user.ID).DiscordID)
	assert.ErrorIs(t, f.Discord.Unlink(f.ctx, user.ID), models.ErrConflict)

	_, err = f.Discord.LookupByDiscordID(f.ctx, "1001")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestDiscord_IdentityBoundElsewhere(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t, models.RoleUser)
	other := f.user(t, models.RoleUser)

	link, err := f.Discord.IssueCode(f.ctx, owner.ID)
	require.NoError(t, err)
	_, err = f.Discord.Redeem(f.ctx, link.Code, "2002", "owner")
	require.NoError(t, err)

	link, err = f.Discord.IssueCode(f.ctx, other.ID)
	require.NoError(t, err)
	_, err = f.Discord.Redeem(f.ctx, link.Code, "2002", "owner")
	assert.ErrorIs(t, err, models.ErrConflict)
	assert.Equal(t, models.StatusActive, testutil.Reload[models.DiscordLink](t, f.db, link.ID).Status)
}

func TestDiscord_CodeExpires(t *testing.T) {
	f := newFixture(t)
	user := f.user(t, models.RoleUser)

	link, err := f.Discord.IssueCode(f.ctx, user.ID)
	require.NoError(t, err)
	f.clock.Advance(16 * time.Minute)

	_, err = f.Discord.Redeem(f.ctx, link.Code, "3003", "late")
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.Equal(t, models.StatusExpired, testutil.Reload[models.DiscordLink](t, f.db, link.ID).Status)

	_, err = f.Discord.Redeem(f.ctx, link.Code, "not-a-snowflake", "late")
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestBannedAccountIsRejected(t *testing.T) {
	f := newFixture(t)
	mod := f.user(t, models.RoleModerator)
	admin := f.user(t, models.RoleAdmin)
	target := f.user(t, models.RoleUser)
	f.ban(t, mod, "spam")
	f.ban(t, admin, "compromised")

	ops := map[string]func(actorID uint) error{
		"issue invite": func(id uint) error {
			_, err := f.Invites.Issue(f.ctx, id, IssueInviteInput{})
			return err
		},
		"issue key": func(id uint) error {
			_, err := f.Keys.Issue(f.ctx, id, IssueKeyInput{})
			return err
		},
		"activate key": func(id uint) error {
			_, err := f.Keys.Activate(f.ctx, id, "whatever")
			return err
		},
		"issue link code": func(id uint) error {
			_, err := f.Discord.IssueCode(f.ctx, id)
			return err
		},
		"ban": func(id uint) error {
			_, err := f.Admin.SetBan(f.ctx, id, target.ID, true, "")
			return err
		},
		"change password": func(id uint) error {
			return f.Auth.ChangePassword(f.ctx, id, testutil.Password, "An0ther!Secret#9")
		},
	}

	for name, op := range ops {
		t.Run(name, func(t *testing.T) {
			err := op(mod.ID)
			require.ErrorIs(t, err, models.ErrBanned)
			assert.Equal(t, "spam", models.AsAppError(err).BanReason)

			err = op(admin.ID)
			require.ErrorIs(t, err, models.ErrBanned)
			assert.Equal(t, "compromised", models.AsAppError(err).BanReason)
		})
	}

	status, err := f.Auth.BanStatus(f.ctx, mod.ID)
	require.NoError(t, err)
	assert.True(t, status.IsBanned)
	assert.Equal(t, "spam", status.BanReason)
}

func TestAudit_RecordsAndLists(t *testing.T) {
	f := newFixture(t)
	mod := f.user(t, models.RoleModerator)
	user := f.user(t, models.RoleUser)

	ctx := WithRequestMeta(f.ctx, RequestMeta{IP: "10.0.0.1", UserAgent: "test-agent"})
	invite, err := f.Invites.Issue(ctx, mod.ID, IssueInviteInput{})
	require.NoError(t, err)
	_, err = f.Invites.Redeem(ctx, invite.Code, registration("audited"))
	require.NoError(t, err)

	_, err = f.Audit.List(f.ctx, user.ID, AuditQuery{}, Page{})
	assert.ErrorIs(t, err, models.ErrForbidden)

	_, err = f.Audit.List(f.ctx, mod.ID, AuditQuery{Type: "bogus"}, Page{})
	assert.ErrorIs(t, err, models.ErrValidation)

	all, err := f.Audit.List(f.ctx, mod.ID, AuditQuery{}, Page{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), all.Total)
	assert.Equal(t, 3, f.events.audit)

	invites, err := f.Audit.List(f.ctx, mod.ID, AuditQuery{Type: models.AuditInvite}, Page{})
	require.NoError(t, err)
	require.Equal(t, int64(2), invites.Total)
	assert.Equal(t, "use", invites.Items[0].Action)
	assert.Equal(t, "10.0.0.1", invites.Items[0].IP)
	assert.Equal(t, "test-agent", invites.Items[0].UserAgent)

	mine, err := f.Audit.List(f.ctx, mod.ID, AuditQuery{UserID: mod.ID}, Page{})
	require.NoError(t, err)
	require.Equal(t, int64(1), mine.Total)
	assert.Equal(t, "create", mine.Items[0].Action)
}

func TestPageNormalize(t *testing.T) {
	tests := []struct {
		in   Page
		want repository.Page
	}{
		{Page{}, repository.Page{Limit: defaultPageSize}},
		{Page{Limit: 5, Offset: 10}, repository.Page{Limit: 5, Offset: 10}},
		{Page{Limit: 500, Offset: -3}, repository.Page{Limit: maxPageSize}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.in.normalize())
	}
}
