package service

import (
	"testing"
	"time"

	"zalupaspb/internal/models"
	"zalupaspb/internal/notifications"
	"zalupaspb/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdjustedQuota(t *testing.T) {
	tests := []struct {
		name     string
		current  int
		from, to models.Role
		want     int
	}{
		{"user to moderator", 1, models.RoleUser, models.RoleModerator, 10},
		{"user to admin", 0, models.RoleUser, models.RoleAdmin, models.UnlimitedInvites},
		{"admin to moderator", models.UnlimitedInvites, models.RoleAdmin, models.RoleModerator, 10},
		{"admin to user", models.UnlimitedInvites, models.RoleAdmin, models.RoleUser, 2},
		{"moderator to user keeps lower balance", 1, models.RoleModerator, models.RoleUser, 1},
		{"moderator to user clamps", 7, models.RoleModerator, models.RoleUser, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, adjustedQuota(tt.current, tt.from, tt.to))
		})
	}
}

func TestAdmin_UpdateRole(t *testing.T) {
	f := newFixture(t)
	admin := f.user(t, models.RoleAdmin)
	mod := f.user(t, models.RoleModerator)
	target := f.user(t, models.RoleUser)

	_, err := f.Admin.UpdateRole(f.ctx, mod.ID, target.ID, models.RoleModerator)
	assert.ErrorIs(t, err, models.ErrForbidden)

	_, err = f.Admin.UpdateRole(f.ctx, admin.ID, admin.ID, models.RoleUser)
	assert.ErrorIs(t, err, models.ErrForbidden)

	_, err = f.Admin.UpdateRole(f.ctx, admin.ID, target.ID, "owner")
	assert.ErrorIs(t, err, models.ErrValidation)

	link, err := f.Discord.IssueCode(f.ctx, target.ID)
	require.NoError(t, err)
	_, err = f.Discord.Redeem(f.ctx, link.Code, "4004", "target")
	require.NoError(t, err)

	updated, err := f.Admin.UpdateRole(f.ctx, admin.ID, target.ID, models.RoleModerator)
	require.NoError(t, err)
	assert.Equal(t, models.RoleModerator, updated.Role)

	stored := testutil.Reload[models.User](t, f.db, target.ID)
	assert.Equal(t, models.RoleModerator, stored.Role)
	assert.Equal(t, 10, stored.InvitesLeft)

	events := f.events.Discord()
	require.Len(t, events, 2)
	assert.Equal(t, notifications.EventRoleChanged, events[1].Event)
	assert.Equal(t, "moderator", events[1].Role)
	assert.Equal(t, "4004", events[1].DiscordID)

	_, err = f.Admin.UpdateRole(f.ctx, admin.ID, target.ID, models.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, models.UnlimitedInvites, testutil.Reload[models.User](t, f.db, target.ID).InvitesLeft)

	_, err = f.Admin.UpdateRole(f.ctx, admin.ID, target.ID, models.RoleUser)
	require.NoError(t, err)
	stored = testutil.Reload[models.User](t, f.db, target.ID)
	assert.Equal(t, models.RoleUser, stored.Role)
	assert.Equal(t, 2, stored.InvitesLeft)

	logs, err := f.Audit.List(f.ctx, admin.ID, AuditQuery{Action: "update_role"}, Page{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), logs.Total)
}

func TestAdmin_Promote(t *testing.T) {
	f := newFixture(t)
	target := f.user(t, models.RoleUser)

	user, err := f.Admin.Promote(f.ctx, target.ID, models.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, user.Role)

	staff, err := f.Admin.ListStaff(f.ctx)
	require.NoError(t, err)
	require.Len(t, staff, 1)
	assert.Equal(t, target.ID, staff[0].ID)

	var entry models.AuditLog
	require.NoError(t, f.db.Where("action = ?", "update_role").First(&entry).Error)
	assert.Equal(t, models.AuditSystem, entry.Type)
	assert.Nil(t, entry.ActorID)

	_, err = f.Admin.Promote(f.ctx, target.ID, "root")
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestAdmin_SetBan(t *testing.T) {
	f := newFixture(t)
	admin := f.user(t, models.RoleAdmin)
	mod := f.user(t, models.RoleModerator)
	target := f.user(t, models.RoleUser)

	_, err := f.Admin.SetBan(f.ctx, target.ID, mod.ID, true, "")
	assert.ErrorIs(t, err, models.ErrForbidden)

	_, err = f.Admin.SetBan(f.ctx, mod.ID, admin.ID, true, "")
	assert.ErrorIs(t, err, models.ErrForbidden)

	_, err = f.Admin.SetBan(f.ctx, mod.ID, mod.ID, true, "")
	assert.ErrorIs(t, err, models.ErrForbidden)

	banned, err := f.Admin.SetBan(f.ctx, mod.ID, target.ID, true, "  ")
	require.NoError(t, err)
	assert.True(t, banned.IsBanned)
	assert.Equal(t, defaultBanReason, banned.BanReason)

	stored := testutil.Reload[models.User](t, f.db, target.ID)
	assert.True(t, stored.IsBanned)
	require.NotNil(t, stored.BannedByID)
	assert.Equal(t, mod.ID, *stored.BannedByID)

	_, err = f.Auth.Login(f.ctx, target.Username, testutil.Password)
	assert.ErrorIs(t, err, models.ErrBanned)

	_, err = f.Admin.SetBan(f.ctx, admin.ID, target.ID, false, "ignored")
	require.NoError(t, err)
	stored = testutil.Reload[models.User](t, f.db, target.ID)
	assert.False(t, stored.IsBanned)
	assert.Empty(t, stored.BanReason)
	assert.Nil(t, stored.BannedByID)

	banAdmin, err := f.Admin.SetBan(f.ctx, admin.ID, mod.ID, true, "abuse")
	require.NoError(t, err)
	assert.Equal(t, "abuse", banAdmin.BanReason)
}

func TestAdmin_ResetPassword(t *testing.T) {
	f := newFixture(t)
	admin := f.user(t, models.RoleAdmin)
	mod := f.user(t, models.RoleModerator)
	other := f.user(t, models.RoleAdmin)

	const next = "Fresh!Horse#Battery9"

	assert.ErrorIs(t, f.Admin.ResetPassword(f.ctx, mod.ID, other.ID, next), models.ErrForbidden)
	assert.ErrorIs(t, f.Admin.ResetPassword(f.ctx, admin.ID, other.ID, "12345678"), models.ErrValidation)

	require.NoError(t, f.Admin.ResetPassword(f.ctx, admin.ID, other.ID, next))

	_, err := f.Auth.Login(f.ctx, other.Username, testutil.Password)
	assert.ErrorIs(t, err, models.ErrUnauthorized)
	_, err = f.Auth.Login(f.ctx, other.Email, next)
	assert.NoError(t, err)
}

func TestAdmin_DeleteUserCascades(t *testing.T) {
	f := newFixture(t)
	admin := f.user(t, models.RoleAdmin)
	mod := f.user(t, models.RoleModerator)
	target := f.user(t, models.RoleUser)

	key, err := f.Keys.Issue(f.ctx, mod.ID, IssueKeyInput{})
	require.NoError(t, err)
	_, err = f.Keys.Activate(f.ctx, target.ID, key.Code)
	require.NoError(t, err)

	invite, err := f.Invites.Issue(f.ctx, target.ID, IssueInviteInput{})
	require.NoError(t, err)
	link, err := f.Discord.IssueCode(f.ctx, target.ID)
	require.NoError(t, err)

	assert.ErrorIs(t, f.Admin.DeleteUser(f.ctx, mod.ID, target.ID), models.ErrForbidden)
	assert.ErrorIs(t, f.Admin.DeleteUser(f.ctx, admin.ID, admin.ID), models.ErrForbidden)

	require.NoError(t, f.Admin.DeleteUser(f.ctx, admin.ID, target.ID))

	var count int64
	require.NoError(t, f.db.Model(&models.User{}).Where("id = ?", target.ID).Count(&count).Error)
	assert.Zero(t, count)

	storedKey := testutil.Reload[models.ActivationKey](t, f.db, key.ID)
	assert.Equal(t, models.StatusRevoked, storedKey.Status)
	assert.Nil(t, storedKey.HolderID)
	assert.Equal(t, models.StatusRevoked, testutil.Reload[models.Invite](t, f.db, invite.ID).Status)
	assert.Equal(t, models.StatusExpired, testutil.Reload[models.DiscordLink](t, f.db, link.ID).Status)

	var entry models.AuditLog
	require.NoError(t, f.db.Where("action = ?", "delete_user").First(&entry).Error)
	assert.Equal(t, target.Username, entry.Metadata["username"])
	assert.EqualValues(t, 1, entry.Metadata["revoked_keys"])
	assert.EqualValues(t, 1, entry.Metadata["revoked_invites"])

	assert.ErrorIs(t, f.Admin.DeleteUser(f.ctx, admin.ID, target.ID), models.ErrNotFound)
}

func TestAdmin_ListAndDetail(t *testing.T) {
	f := newFixture(t)
	admin := f.user(t, models.RoleAdmin)
	mod := f.user(t, models.RoleModerator)
	user := f.user(t, models.RoleUser)

	invite, err := f.Invites.Issue(f.ctx, mod.ID, IssueInviteInput{})
	require.NoError(t, err)
	invited, err := f.Invites.Redeem(f.ctx, invite.Code, registration("invitee"))
	require.NoError(t, err)
	_, err = f.Keys.Issue(f.ctx, mod.ID, IssueKeyInput{})
	require.NoError(t, err)

	_, err = f.Admin.ListUsers(f.ctx, user.ID, UserQuery{}, Page{})
	assert.ErrorIs(t, err, models.ErrForbidden)

	all, err := f.Admin.ListUsers(f.ctx, mod.ID, UserQuery{}, Page{})
	require.NoError(t, err)
	assert.Equal(t, int64(4), all.Total)

	admins, err := f.Admin.ListUsers(f.ctx, mod.ID, UserQuery{Role: models.RoleAdmin}, Page{})
	require.NoError(t, err)
	require.Equal(t, int64(1), admins.Total)
	assert.Equal(t, admin.ID, admins.Items[0].ID)

	found, err := f.Admin.ListUsers(f.ctx, mod.ID, UserQuery{Search: "invitee"}, Page{})
	require.NoError(t, err)
	require.Equal(t, int64(1), found.Total)
	assert.Equal(t, invited.ID, found.Items[0].ID)

	detail, err := f.Admin.GetUserDetail(f.ctx, mod.ID, mod.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), detail.InvitedUsersCount)
	assert.Equal(t, int64(1), detail.CreatedKeysCount)
	assert.True(t, detail.HasValidKey)

	detail, err = f.Admin.GetUserDetail(f.ctx, mod.ID, invited.ID)
	require.NoError(t, err)
	require.NotNil(t, detail.InvitedBy)
	assert.Equal(t, mod.Username, detail.InvitedBy.Username)
	assert.False(t, detail.HasValidKey)
	assert.Empty(t, detail.Keys)
}

func TestAdmin_Stats(t *testing.T) {
	f := newFixture(t)
	admin := f.user(t, models.RoleAdmin)
	mod := f.user(t, models.RoleModerator)
	user := f.user(t, models.RoleUser)
	f.ban(t, user, "spam")

	_, err := f.Keys.Issue(f.ctx, mod.ID, IssueKeyInput{})
	require.NoError(t, err)
	_, err = f.Invites.Issue(f.ctx, mod.ID, IssueInviteInput{})
	require.NoError(t, err)

	_, err = f.Admin.Stats(f.ctx, mod.ID)
	assert.ErrorIs(t, err, models.ErrForbidden)

	stats, err := f.Admin.Stats(f.ctx, admin.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Users.Total)
	assert.Equal(t, int64(1), stats.Users.Banned)
	assert.Equal(t, int64(2), stats.Users.Active)
	assert.Equal(t, int64(1), stats.Users.ByRole[models.RoleModerator])
	assert.Equal(t, int64(1), stats.Keys.Total)
	assert.Equal(t, int64(1), stats.Keys.Active)
	assert.Equal(t, int64(1), stats.Invites.ByStatus[models.StatusActive])

	require.Len(t, stats.Registrations, statsWindowDays)
	var registered int
	for _, d := range stats.Registrations {
		registered += d.Count
	}
	assert.Equal(t, 3, registered)
}

func TestBucketByDay(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	stamps := []time.Time{
		start.Add(time.Hour),
		start.Add(23 * time.Hour),
		start.Add(50 * time.Hour),
		start.Add(-time.Hour),
		start.AddDate(0, 0, 5),
	}

	got := bucketByDay(stamps, start, 3)
	require.Len(t, got, 3)
	assert.Equal(t, DayCount{Date: "2026-03-01", Count: 2}, got[0])
	assert.Equal(t, DayCount{Date: "2026-03-02", Count: 0}, got[1])
	assert.Equal(t, DayCount{Date: "2026-03-03", Count: 1}, got[2])
}
