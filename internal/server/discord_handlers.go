package server

import (
	"time"

	"zalupaspb/internal/models"

	"github.com/gofiber/fiber/v2"
)

// LinkCodeResponse is returned when a new link code is generated.
type LinkCodeResponse struct {
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
}

// BotLinkRequest is sent by the chat bot when a member submits a code.
type BotLinkRequest struct {
	Code            string `json:"code"`
	DiscordID       string `json:"discord_id"`
	DiscordUsername string `json:"discord_username"`
}

// GetLinkStatus handles GET /api/discord/link/status
// @Summary Discord link status
// @Tags discord
// @Produce json
// @Success 200 {object} service.LinkStatus
// @Failure 401 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /discord/link/status [get]
func (s *Server) GetLinkStatus(c *fiber.Ctx) error {
	status, err := s.services.Discord.LinkStatus(c.UserContext(), userID(c))
	if err != nil {
		return respond(c, err)
	}
	return c.JSON(status)
}

// GenerateLinkCode handles POST /api/discord/link/generate
// @Summary Generate a link code
// @Description Issue a short-lived code to submit to the bot; earlier codes stop working
// @Tags discord
// @Produce json
// @Success 201 {object} LinkCodeResponse
// @Failure 401 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /discord/link/generate [post]
func (s *Server) GenerateLinkCode(c *fiber.Ctx) error {
	link, err := s.services.Discord.IssueCode(c.UserContext(), userID(c))
	if err != nil {
		return respond(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(LinkCodeResponse{
		Code:      link.Code,
		ExpiresAt: link.ExpiresAt,
	})
}

// Unlink handles POST /api/discord/unlink
// @Summary Unlink Discord
// @Tags discord
// @Produce json
// @Success 200 {object} MessageResponse
// @Failure 401 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /discord/unlink [post]
func (s *Server) Unlink(c *fiber.Ctx) error {
	if err := s.services.Discord.Unlink(c.UserContext(), userID(c)); err != nil {
		return respond(c, err)
	}
	return message(c, "Discord account unlinked")
}

// BotLink handles POST /api/discord/bot/link
// @Summary Redeem a link code (bot)
// @Tags discord
// @Accept json
// @Produce json
// @Param X-Bot-Token header string false "Bot token"
// @Param request body BotLinkRequest true "Code and member identity"
// @Success 200 {object} models.Summary
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Router /discord/bot/link [post]
func (s *Server) BotLink(c *fiber.Ctx) error {
	var req BotLinkRequest
	if err := parseBody(c, &req); err != nil {
		return nil
	}

	user, err := s.services.Discord.Redeem(c.UserContext(), req.Code, req.DiscordID, req.DiscordUsername)
	if err != nil {
		return respond(c, err)
	}
	return c.JSON(user.Summary())
}

// BotUser handles GET /api/discord/bot/user/:discordId
// @Summary Look up a member (bot)
// @Tags discord
// @Produce json
// @Param X-Bot-Token header string false "Bot token"
// @Param discordId path string true "Discord user ID"
// @Success 200 {object} service.BotUser
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /discord/bot/user/{discordId} [get]
func (s *Server) BotUser(c *fiber.Ctx) error {
	discordID := c.Params("discordId")
	if discordID == "" {
		return respond(c, models.NewValidationError("discordId is required"))
	}

	user, err := s.services.Discord.LookupByDiscordID(c.UserContext(), discordID)
	if err != nil {
		return respond(c, err)
	}
	return c.JSON(user)
}
