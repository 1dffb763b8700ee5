package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"zalupaspb/internal/featureflags"
	"zalupaspb/internal/middleware"
	"zalupaspb/internal/models"
	"zalupaspb/internal/notifications"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

const feedRevalidateInterval = time.Minute

// canReadAuditFeed re-applies the route guards to an open connection:
// the account must still exist, be unbanned staff, and have the stream enabled.
func (s *Server) canReadAuditFeed(ctx context.Context, userID uint) bool {
	user, err := s.store.Users.GetByID(ctx, userID)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			middleware.Logger.WarnContext(ctx, "audit feed revalidation failed",
				slog.Uint64("user_id", uint64(userID)), slog.String("error", err.Error()))
		}
		return false
	}
	return !user.IsBanned &&
		user.Role.AtLeast(models.RoleModerator) &&
		s.featureFlags.EnabledFor(featureflags.AuditStream, userID)
}

// AuditFeed handles GET /api/ws/audit
// @Summary Live audit feed
// @Description WebSocket stream of audit entries as they are appended. Pass the access token as the token query parameter.
// @Tags admin
// @Param token query string false "Access token"
// @Success 101 {string} string "Switching Protocols"
// @Failure 403 {object} models.ErrorResponse
// @Failure 426 {object} models.ErrorResponse
// @Router /ws/audit [get]
func (s *Server) AuditFeed() fiber.Handler {
	upgrade := websocket.New(func(conn *websocket.Conn) {
		userID, _ := conn.Locals("userID").(uint)

		client, err := s.auditHub.Register(userID, conn)
		if err != nil {
			if !errors.Is(err, notifications.ErrHubFull) {
				middleware.Logger.Error("audit feed register failed", slog.String("error", err.Error()))
			}
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"`+err.Error()+`"}`))
			_ = conn.Close()
			return
		}

		middleware.Logger.Info("audit feed client connected", slog.Uint64("user_id", uint64(userID)))
		go client.WritePump()
		client.ReadPump()
	})

	return func(c *fiber.Ctx) error {
		if !s.featureFlags.EnabledFor(featureflags.AuditStream, userID(c)) {
			return models.RespondWithError(c, fiber.StatusNotFound,
				models.NewNotFoundMessage("Audit stream is disabled"))
		}
		if !websocket.IsWebSocketUpgrade(c) {
			return c.Status(fiber.StatusUpgradeRequired).JSON(models.ErrorResponse{
				Error: "WebSocket upgrade required",
			})
		}
		return upgrade(c)
	}
}
