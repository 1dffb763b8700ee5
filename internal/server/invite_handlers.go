package server

import (
	"time"

	"zalupaspb/internal/models"
	"zalupaspb/internal/service"

	"github.com/gofiber/fiber/v2"
)

// IssueInviteRequest is the body of POST /api/invites. Zero values pick defaults.
type IssueInviteRequest struct {
	Role           models.Role `json:"role"`
	ExpiresInHours int         `json:"expires_in_hours"`
}

// CheckInviteRequest is the body of POST /api/invites/check.
type CheckInviteRequest struct {
	Code string `json:"code"`
}

// CheckInvite handles POST /api/invites/check
// @Summary Check an invite code
// @Description Report whether a code can still be redeemed
// @Tags invites
// @Accept json
// @Produce json
// @Param request body CheckInviteRequest true "Code"
// @Success 200 {object} service.InviteCheck
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Router /invites/check [post]
func (s *Server) CheckInvite(c *fiber.Ctx) error {
	var req CheckInviteRequest
	if err := parseBody(c, &req); err != nil {
		return nil
	}

	check, err := s.services.Invites.Check(c.UserContext(), req.Code)
	if err != nil {
		return respond(c, err)
	}
	return c.JSON(check)
}

// IssueInvite handles POST /api/invites
// @Summary Issue an invite
// @Description Consumes one monthly invite unless the caller is an admin
// @Tags invites
// @Accept json
// @Produce json
// @Param request body IssueInviteRequest false "Invite options"
// @Success 201 {object} models.Invite
// @Failure 400 {object} models.ErrorResponse
// @Failure 403 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /invites [post]
func (s *Server) IssueInvite(c *fiber.Ctx) error {
	var req IssueInviteRequest
	if err := parseBody(c, &req); err != nil {
		return nil
	}
	if req.ExpiresInHours < 0 {
		return respond(c, models.NewValidationError("expires_in_hours must not be negative"))
	}

	invite, err := s.services.Invites.Issue(c.UserContext(), userID(c), service.IssueInviteInput{
		Role:      req.Role,
		ExpiresIn: time.Duration(req.ExpiresInHours) * time.Hour,
	})
	if err != nil {
		return respond(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(invite)
}

// GetMyInvites handles GET /api/invites/me
// @Summary My invites
// @Description The caller's invites and remaining monthly quota
// @Tags invites
// @Produce json
// @Success 200 {object} service.MyInvites
// @Failure 401 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /invites/me [get]
func (s *Server) GetMyInvites(c *fiber.Ctx) error {
	mine, err := s.services.Invites.ListMine(c.UserContext(), userID(c))
	if err != nil {
		return respond(c, err)
	}
	return c.JSON(mine)
}

// GetInvitedUsers handles GET /api/invites/invited-users
// @Summary Accounts I invited
// @Tags invites
// @Produce json
// @Success 200 {array} service.InvitedUser
// @Failure 401 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /invites/invited-users [get]
func (s *Server) GetInvitedUsers(c *fiber.Ctx) error {
	users, err := s.services.Invites.InvitedUsers(c.UserContext(), userID(c))
	if err != nil {
		return respond(c, err)
	}
	return c.JSON(users)
}

// ListInvites handles GET /api/invites
// @Summary List all invites
// @Tags invites
// @Produce json
// @Param status query string false "active, used, expired or revoked"
// @Param role query string false "Role the invite grants"
// @Param created_by query int false "Creator account id"
// @Param limit query int false "Page size"
// @Param offset query int false "Page offset"
// @Success 200 {object} service.List[models.Invite]
// @Failure 403 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /invites [get]
func (s *Server) ListInvites(c *fiber.Ctx) error {
	createdBy, err := queryUint(c, "created_by")
	if err != nil {
		return respond(c, err)
	}
	status, err := queryStatus(c, "status")
	if err != nil {
		return respond(c, err)
	}

	list, err := s.services.Invites.ListAll(c.UserContext(), userID(c), service.InviteQuery{
		Status:    status,
		Role:      models.Role(c.Query("role")),
		CreatedBy: createdBy,
	}, parsePagination(c))
	if err != nil {
		return respond(c, err)
	}
	return c.JSON(list)
}

// RevokeInvite handles DELETE /api/invites/:id
// @Summary Revoke an invite
// @Description Creators revoke their own active invites; staff may revoke any
// @Tags invites
// @Produce json
// @Param id path int true "Invite ID"
// @Success 200 {object} models.Invite
// @Failure 403 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /invites/{id} [delete]
func (s *Server) RevokeInvite(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	invite, err := s.services.Invites.Revoke(c.UserContext(), userID(c), id)
	if err != nil {
		return respond(c, err)
	}
	return c.JSON(invite)
}
