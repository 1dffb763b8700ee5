package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"zalupaspb/internal/cache"
	"zalupaspb/internal/config"
	"zalupaspb/internal/models"
	"zalupaspb/internal/testutil"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const testBotToken = "bot-shared-secret"

type testServer struct {
	*Server
	app *fiber.App
	db  *gorm.DB
}

func testConfig() *config.Config {
	return &config.Config{
		Env:         "test",
		Port:        "0",
		JWTSecret:   "handler-test-secret-of-sufficient-length",
		BotAPIToken: testBotToken,
	}
}

func newTestServer(t *testing.T, mutate ...func(*config.Config)) *testServer {
	t.Helper()
	t.Setenv("APP_ENV", "test")
	cfg := testConfig()
	for _, m := range mutate {
		m(cfg)
	}
	db := testutil.NewDB(t)
	s := newServer(cfg, db, cache.GetClient(), bcrypt.MinCost)
	return &testServer{Server: s, app: s.newApp(), db: db}
}

type call struct {
	method string
	path   string
	token  string
	body   any
	header map[string]string
}

func (ts *testServer) do(t *testing.T, c call) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if c.body != nil {
		raw, err := json.Marshal(c.body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(c.method, c.path, reader)
	if c.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, v := range c.header {
		req.Header.Set(k, v)
	}

	resp, err := ts.app.Test(req, -1)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

// login signs a fixture account in over HTTP and returns the access token.
func (ts *testServer) login(t *testing.T, u *models.User) string {
	t.Helper()
	status, body := ts.do(t, call{method: http.MethodPost, path: "/api/auth/login",
		body: LoginRequest{Login: u.Username, Password: testutil.Password}})
	require.Equal(t, http.StatusOK, status, body)
	token, _ := body["access_token"].(string)
	require.NotEmpty(t, token)
	return token
}

func (ts *testServer) account(t *testing.T, role models.Role) (*models.User, string) {
	t.Helper()
	u := testutil.CreateUser(t, ts.db, role)
	return u, ts.login(t, u)
}

func TestHealthChecks(t *testing.T) {
	ts := newTestServer(t)

	status, body := ts.do(t, call{method: http.MethodGet, path: "/health/live"})
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "up", body["status"])

	status, body = ts.do(t, call{method: http.MethodGet, path: "/health/ready"})
	assert.Equal(t, http.StatusOK, status)
	checks, _ := body["checks"].(map[string]any)
	assert.Equal(t, "healthy", checks["database"])
	assert.Equal(t, "unavailable", checks["redis"])
}

func TestRegisterWithInviteFlow(t *testing.T) {
	ts := newTestServer(t)
	_, adminToken := ts.account(t, models.RoleAdmin)

	status, invite := ts.do(t, call{method: http.MethodPost, path: "/api/invites", token: adminToken,
		body: IssueInviteRequest{Role: models.RoleModerator}})
	require.Equal(t, http.StatusCreated, status, invite)
	code, _ := invite["code"].(string)
	require.NotEmpty(t, code)

	status, check := ts.do(t, call{method: http.MethodPost, path: "/api/invites/check",
		body: CheckInviteRequest{Code: code}})
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "moderator", check["role"])

	reg := RegisterRequest{
		Username:   "newmod",
		Email:      "newmod@example.com",
		Password:   testutil.Password,
		InviteCode: code,
	}
	status, res := ts.do(t, call{method: http.MethodPost, path: "/api/auth/register", body: reg})
	require.Equal(t, http.StatusCreated, status, res)
	token, _ := res["access_token"].(string)

	status, me := ts.do(t, call{method: http.MethodGet, path: "/api/auth/me", token: token})
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "newmod", me["username"])
	assert.Equal(t, "moderator", me["role"])
	assert.Equal(t, true, me["has_valid_key"])

	reg.Username, reg.Email = "second", "second@example.com"
	status, res = ts.do(t, call{method: http.MethodPost, path: "/api/auth/register", body: reg})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, models.CodeConflict, res["code"])

	status, _ = ts.do(t, call{method: http.MethodPost, path: "/api/invites/check",
		body: CheckInviteRequest{Code: code}})
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t)

	status, body := ts.do(t, call{method: http.MethodGet, path: "/api/auth/me"})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, models.CodeUnauthorized, body["code"])

	status, _ = ts.do(t, call{method: http.MethodGet, path: "/api/auth/me", token: "not-a-jwt"})
	assert.Equal(t, http.StatusUnauthorized, status)

	u, token := ts.account(t, models.RoleUser)
	require.NoError(t, ts.db.Delete(&models.User{}, u.ID).Error)
	status, body = ts.do(t, call{method: http.MethodGet, path: "/api/auth/me", token: token})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "Account no longer exists", body["error"])
}

func TestBannedAccountOnlyReadsBanStatus(t *testing.T) {
	ts := newTestServer(t)
	u, token := ts.account(t, models.RoleUser)
	require.NoError(t, ts.db.Model(&models.User{}).Where("id = ?", u.ID).
		Updates(map[string]any{"is_banned": true, "ban_reason": "spam"}).Error)

	status, body := ts.do(t, call{method: http.MethodGet, path: "/api/auth/me", token: token})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, models.CodeBanned, body["code"])
	assert.Equal(t, "spam", body["ban_reason"])

	status, body = ts.do(t, call{method: http.MethodPost, path: "/api/invites", token: token})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, models.CodeBanned, body["code"])

	status, body = ts.do(t, call{method: http.MethodGet, path: "/api/auth/ban-status", token: token})
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["is_banned"])
	assert.Equal(t, "spam", body["ban_reason"])
}

func TestRoleGates(t *testing.T) {
	ts := newTestServer(t)
	_, userToken := ts.account(t, models.RoleUser)
	_, modToken := ts.account(t, models.RoleModerator)
	_, adminToken := ts.account(t, models.RoleAdmin)

	tests := []struct {
		name   string
		path   string
		token  string
		status int
	}{
		{"user lists accounts", "/api/admin/users", userToken, http.StatusForbidden},
		{"moderator lists accounts", "/api/admin/users", modToken, http.StatusOK},
		{"user lists keys", "/api/keys", userToken, http.StatusForbidden},
		{"moderator lists keys", "/api/keys", modToken, http.StatusOK},
		{"user lists invites", "/api/invites", userToken, http.StatusForbidden},
		{"moderator reads logs", "/api/admin/logs", modToken, http.StatusOK},
		{"moderator reads stats", "/api/admin/stats", modToken, http.StatusForbidden},
		{"admin reads stats", "/api/admin/stats", adminToken, http.StatusOK},
		{"moderator reads flags", "/api/admin/feature-flags", modToken, http.StatusForbidden},
		{"admin reads flags", "/api/admin/feature-flags", adminToken, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := ts.do(t, call{method: http.MethodGet, path: tt.path, token: tt.token})
			assert.Equal(t, tt.status, status, body)
			if tt.status == http.StatusForbidden {
				assert.Equal(t, models.CodeForbidden, body["code"])
			}
		})
	}
}

func TestKeyIssueAndActivate(t *testing.T) {
	ts := newTestServer(t)
	_, modToken := ts.account(t, models.RoleModerator)
	_, userToken := ts.account(t, models.RoleUser)

	status, key := ts.do(t, call{method: http.MethodPost, path: "/api/keys", token: modToken,
		body: IssueKeyRequest{DurationDays: 7}})
	require.Equal(t, http.StatusCreated, status, key)
	assert.Equal(t, float64(7*24*3600), key["duration"])

	status, _ = ts.do(t, call{method: http.MethodPost, path: "/api/keys", token: userToken})
	assert.Equal(t, http.StatusForbidden, status)

	status, activated := ts.do(t, call{method: http.MethodPost, path: "/api/keys/activate", token: userToken,
		body: ActivateKeyRequest{Code: key["code"].(string)}})
	require.Equal(t, http.StatusOK, status, activated)
	assert.Equal(t, "used", activated["status"])

	status, keyStatus := ts.do(t, call{method: http.MethodGet, path: "/api/keys/status", token: userToken})
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, keyStatus["has_valid_key"])

	status, _ = ts.do(t, call{method: http.MethodPost, path: "/api/keys/activate", token: userToken,
		body: ActivateKeyRequest{Code: key["code"].(string)}})
	assert.Equal(t, http.StatusConflict, status)
}

func TestInvalidInput(t *testing.T) {
	ts := newTestServer(t)
	_, modToken := ts.account(t, models.RoleModerator)

	status, body := ts.do(t, call{method: http.MethodDelete, path: "/api/invites/abc", token: modToken})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Invalid ID", body["error"])

	status, _ = ts.do(t, call{method: http.MethodGet, path: "/api/admin/users?banned=maybe", token: modToken})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = ts.do(t, call{method: http.MethodGet, path: "/api/admin/logs?start=yesterday", token: modToken})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = ts.do(t, call{method: http.MethodGet, path: "/api/keys?status=bogus", token: modToken})
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = ts.do(t, call{method: http.MethodGet, path: "/api/invites?status=pending", token: modToken})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, models.CodeValidation, body["code"])

	status, _ = ts.do(t, call{method: http.MethodGet, path: "/api/invites?status=Revoked", token: modToken})
	assert.Equal(t, http.StatusOK, status)

	status, body = ts.do(t, call{method: http.MethodGet, path: "/api/keys/999", token: modToken})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, models.CodeNotFound, body["code"])
}

func TestDiscordLinkThroughBot(t *testing.T) {
	ts := newTestServer(t)
	u, token := ts.account(t, models.RoleUser)
	bot := map[string]string{"X-Bot-Token": testBotToken}

	status, gen := ts.do(t, call{method: http.MethodPost, path: "/api/discord/link/generate", token: token})
	require.Equal(t, http.StatusCreated, status, gen)
	code, _ := gen["code"].(string)

	req := BotLinkRequest{Code: code, DiscordID: "123456789012345678", DiscordUsername: "member"}
	status, _ = ts.do(t, call{method: http.MethodPost, path: "/api/discord/bot/link", body: req})
	assert.Equal(t, http.StatusUnauthorized, status)

	status, linked := ts.do(t, call{method: http.MethodPost, path: "/api/discord/bot/link", body: req, header: bot})
	require.Equal(t, http.StatusOK, status, linked)
	assert.Equal(t, u.Username, linked["username"])

	status, info := ts.do(t, call{method: http.MethodGet, path: "/api/discord/bot/user/123456789012345678", header: bot})
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(u.ID), info["user_id"])

	status, linkStatus := ts.do(t, call{method: http.MethodGet, path: "/api/discord/link/status", token: token})
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, linkStatus["linked"])

	status, _ = ts.do(t, call{method: http.MethodPost, path: "/api/discord/unlink", token: token})
	assert.Equal(t, http.StatusOK, status)

	status, _ = ts.do(t, call{method: http.MethodGet, path: "/api/discord/bot/user/123456789012345678", header: bot})
	assert.Equal(t, http.StatusNotFound, status)
}

func TestBotAPIFlag(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) { c.FeatureFlags = "bot_api=off" })

	status, body := ts.do(t, call{method: http.MethodGet, path: "/api/discord/bot/user/1",
		header: map[string]string{"X-Bot-Token": testBotToken}})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "Bot API is disabled", body["error"])
}

func TestAuditFeedGuards(t *testing.T) {
	ts := newTestServer(t)
	_, userToken := ts.account(t, models.RoleUser)
	_, modToken := ts.account(t, models.RoleModerator)

	status, _ := ts.do(t, call{method: http.MethodGet, path: "/api/ws/audit", token: userToken})
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = ts.do(t, call{method: http.MethodGet, path: "/api/ws/audit", token: modToken})
	assert.Equal(t, http.StatusUpgradeRequired, status)

	off := newTestServer(t, func(c *config.Config) { c.FeatureFlags = "audit_stream=off" })
	_, offToken := off.account(t, models.RoleModerator)
	status, _ = off.do(t, call{method: http.MethodGet, path: "/api/ws/audit", token: offToken})
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAuditFeedDropsReaderOnAccessChange(t *testing.T) {
	ts := newTestServer(t)
	_, adminToken := ts.account(t, models.RoleAdmin)
	banned, _ := ts.account(t, models.RoleModerator)
	demoted, _ := ts.account(t, models.RoleModerator)
	kept, _ := ts.account(t, models.RoleModerator)

	for _, u := range []*models.User{banned, demoted, kept} {
		_, err := ts.auditHub.Register(u.ID, nil)
		require.NoError(t, err)
	}
	require.Equal(t, 3, ts.auditHub.Count())

	yes := true
	status, body := ts.do(t, call{method: http.MethodPut, path: fmt.Sprintf("/api/admin/users/%d/ban", banned.ID),
		token: adminToken, body: SetBanRequest{Banned: &yes, Reason: "leak"}})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, 2, ts.auditHub.Count())

	status, body = ts.do(t, call{method: http.MethodPut, path: fmt.Sprintf("/api/admin/users/%d/role", demoted.ID),
		token: adminToken, body: UpdateRoleRequest{Role: string(models.RoleUser)}})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, 1, ts.auditHub.Count())

	assert.True(t, ts.canReadAuditFeed(context.Background(), kept.ID))
	assert.False(t, ts.canReadAuditFeed(context.Background(), banned.ID))
	assert.False(t, ts.canReadAuditFeed(context.Background(), 9999))
}

func TestLogoutRevokesToken(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache.SetClient(rdb)
	t.Cleanup(func() {
		cache.SetClient(nil)
		_ = rdb.Close()
		mr.Close()
	})

	ts := newTestServer(t)
	_, token := ts.account(t, models.RoleUser)

	status, _ := ts.do(t, call{method: http.MethodGet, path: "/api/auth/me", token: token})
	require.Equal(t, http.StatusOK, status)

	status, _ = ts.do(t, call{method: http.MethodPost, path: "/api/auth/logout", token: token})
	require.Equal(t, http.StatusOK, status)

	status, body := ts.do(t, call{method: http.MethodGet, path: "/api/auth/me", token: token})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "Token has been revoked", body["error"])

	status, body = ts.do(t, call{method: http.MethodGet, path: "/health/ready"})
	assert.Equal(t, http.StatusOK, status)
	checks, _ := body["checks"].(map[string]any)
	assert.Equal(t, "healthy", checks["redis"])
}

func TestErrorHandlerUsesUniformShape(t *testing.T) {
	ts := newTestServer(t)

	status, body := ts.do(t, call{method: http.MethodGet, path: "/api/nowhere"})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, models.CodeNotFound, body["code"])
}
