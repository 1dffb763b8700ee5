package server

import (
	"crypto/subtle"
	"errors"
	"strings"

	"zalupaspb/internal/authz"
	"zalupaspb/internal/cache"
	"zalupaspb/internal/featureflags"
	"zalupaspb/internal/middleware"
	"zalupaspb/internal/models"
	"zalupaspb/internal/service"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

const banStatusPath = "/api/auth/ban-status"

// requestMeta records the client address and agent for the audit log.
func requestMeta() fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := service.WithRequestMeta(c.UserContext(), service.RequestMeta{
			IP:        c.IP(),
			UserAgent: c.Get(fiber.HeaderUserAgent),
		})
		c.SetUserContext(ctx)
		return c.Next()
	}
}

// bearerToken returns the token from the Authorization header. Browsers
// cannot set headers on a WebSocket handshake, so upgrades may pass it as
// the token query parameter instead.
func bearerToken(c *fiber.Ctx) string {
	authHeader := c.Get(fiber.HeaderAuthorization)
	if authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) == 2 && parts[0] == "Bearer" {
			return parts[1]
		}
		return ""
	}
	if websocket.IsWebSocketUpgrade(c) {
		return c.Query("token")
	}
	return ""
}

// AuthRequired verifies the access token, loads the account and rejects
// banned accounts everywhere except the ban status endpoint.
func (s *Server) AuthRequired() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString := bearerToken(c)
		if tokenString == "" {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError("Authorization required"))
		}

		claims, err := s.services.Auth.ParseToken(tokenString, service.TokenAccess)
		if err != nil {
			return respond(c, err)
		}

		ctx := c.UserContext()
		if cache.IsBlacklisted(ctx, claims.JTI) {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError("Token has been revoked"))
		}

		user, err := s.store.Users.GetCached(ctx, claims.UserID)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				return models.RespondWithError(c, fiber.StatusUnauthorized,
					models.NewUnauthorizedError("Account no longer exists"))
			}
			return respond(c, err)
		}
		if user.IsBanned && c.Path() != banStatusPath {
			return respond(c, models.NewBannedError(user.BanReason))
		}

		c.Locals("userID", user.ID)
		c.Locals("user", user)
		c.Locals("claims", claims)
		ctx = middleware.WithUserID(ctx, user.ID)
		c.SetUserContext(middleware.WithRole(ctx, string(user.Role)))

		return c.Next()
	}
}

// RoleRequired rejects accounts below min. Must be placed after AuthRequired.
// Services repeat the check against a fresh read; this one only keeps
// unprivileged callers off staff routes early.
func (s *Server) RoleRequired(min models.Role) fiber.Handler {
	return func(c *fiber.Ctx) error {
		user := currentUser(c)
		if user == nil {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError("Authorization required"))
		}
		if err := authz.RequireRole(user, min); err != nil {
			return respond(c, err)
		}
		return c.Next()
	}
}

// BotRequired guards the chat bot endpoints with the bot_api flag and,
// when configured, the shared bot token.
func (s *Server) BotRequired() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !s.featureFlags.Enabled(featureflags.BotAPI) {
			return models.RespondWithError(c, fiber.StatusNotFound,
				models.NewNotFoundMessage("Bot API is disabled"))
		}
		want := s.config.BotAPIToken
		if want != "" && subtle.ConstantTimeCompare([]byte(c.Get("X-Bot-Token")), []byte(want)) != 1 {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError("Invalid bot token"))
		}
		c.SetUserContext(middleware.WithCaller(c.UserContext(), "bot"))
		return c.Next()
	}
}
