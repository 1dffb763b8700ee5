package server

import (
	"time"

	"zalupaspb/internal/models"
	"zalupaspb/internal/service"

	"github.com/gofiber/fiber/v2"
)

// IssueKeyRequest is the body of POST /api/keys. Zero values pick defaults.
type IssueKeyRequest struct {
	DurationDays    int            `json:"duration_days"`
	DurationSeconds int64          `json:"duration_seconds"`
	Type            string         `json:"type"`
	Metadata        map[string]any `json:"metadata"`
}

// ActivateKeyRequest is the body of POST /api/keys/activate.
type ActivateKeyRequest struct {
	Code string `json:"code"`
}

// IssueKey handles POST /api/keys
// @Summary Generate an activation key
// @Tags keys
// @Accept json
// @Produce json
// @Param request body IssueKeyRequest false "Key options"
// @Success 201 {object} models.ActivationKey
// @Failure 400 {object} models.ErrorResponse
// @Failure 403 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /keys [post]
func (s *Server) IssueKey(c *fiber.Ctx) error {
	var req IssueKeyRequest
	if err := parseBody(c, &req); err != nil {
		return nil
	}
	if req.DurationDays < 0 || req.DurationSeconds < 0 {
		return respond(c, models.NewValidationError("Key duration must not be negative"))
	}

	duration := time.Duration(req.DurationSeconds) * time.Second
	if req.DurationDays > 0 {
		duration = time.Duration(req.DurationDays) * 24 * time.Hour
	}

	key, err := s.services.Keys.Issue(c.UserContext(), userID(c), service.IssueKeyInput{
		Duration: duration,
		Type:     req.Type,
		Metadata: req.Metadata,
	})
	if err != nil {
		return respond(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(key)
}

// ActivateKey handles POST /api/keys/activate
// @Summary Activate a key
// @Description Bind an active key to the caller and start its validity window
// @Tags keys
// @Accept json
// @Produce json
// @Param request body ActivateKeyRequest true "Code"
// @Success 200 {object} models.ActivationKey
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /keys/activate [post]
func (s *Server) ActivateKey(c *fiber.Ctx) error {
	var req ActivateKeyRequest
	if err := parseBody(c, &req); err != nil {
		return nil
	}

	key, err := s.services.Keys.Activate(c.UserContext(), userID(c), req.Code)
	if err != nil {
		return respond(c, err)
	}
	return c.JSON(key)
}

// GetMyKeys handles GET /api/keys/me
// @Summary My keys
// @Tags keys
// @Produce json
// @Success 200 {array} service.KeyView
// @Failure 401 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /keys/me [get]
func (s *Server) GetMyKeys(c *fiber.Ctx) error {
	keys, err := s.services.Keys.ListMine(c.UserContext(), userID(c))
	if err != nil {
		return respond(c, err)
	}
	return c.JSON(keys)
}

// GetKeyStatus handles GET /api/keys/status
// @Summary Entitlement status
// @Description Whether the caller holds product access, by key or by role
// @Tags keys
// @Produce json
// @Success 200 {object} service.KeyStatus
// @Failure 401 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /keys/status [get]
func (s *Server) GetKeyStatus(c *fiber.Ctx) error {
	status, err := s.services.Keys.Status(c.UserContext(), userID(c))
	if err != nil {
		return respond(c, err)
	}
	return c.JSON(status)
}

// ListKeys handles GET /api/keys
// @Summary List all keys
// @Tags keys
// @Produce json
// @Param status query string false "active, used, expired or revoked"
// @Param type query string false "Key type"
// @Param created_by query int false "Creator account id"
// @Param limit query int false "Page size"
// @Param offset query int false "Page offset"
// @Success 200 {object} service.List[service.KeyView]
// @Failure 403 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /keys [get]
func (s *Server) ListKeys(c *fiber.Ctx) error {
	createdBy, err := queryUint(c, "created_by")
	if err != nil {
		return respond(c, err)
	}
	status, err := queryStatus(c, "status")
	if err != nil {
		return respond(c, err)
	}

	list, err := s.services.Keys.ListAll(c.UserContext(), userID(c), service.KeyQuery{
		Status:    status,
		Type:      c.Query("type"),
		CreatedBy: createdBy,
	}, parsePagination(c))
	if err != nil {
		return respond(c, err)
	}
	return c.JSON(list)
}

// GetKey handles GET /api/keys/:id
// @Summary Get a key
// @Tags keys
// @Produce json
// @Param id path int true "Key ID"
// @Success 200 {object} service.KeyView
// @Failure 403 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /keys/{id} [get]
func (s *Server) GetKey(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	key, err := s.services.Keys.Get(c.UserContext(), userID(c), id)
	if err != nil {
		return respond(c, err)
	}
	return c.JSON(key)
}

// RevokeKey handles DELETE /api/keys/:id
// @Summary Revoke a key
// @Description Revoking detaches the holder and ends the entitlement
// @Tags keys
// @Produce json
// @Param id path int true "Key ID"
// @Success 200 {object} models.ActivationKey
// @Failure 403 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /keys/{id} [delete]
func (s *Server) RevokeKey(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	key, err := s.services.Keys.Revoke(c.UserContext(), userID(c), id)
	if err != nil {
		return respond(c, err)
	}
	return c.JSON(key)
}
