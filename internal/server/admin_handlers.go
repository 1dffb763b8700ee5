package server

import (
	"strings"

	"zalupaspb/internal/models"
	"zalupaspb/internal/service"

	"github.com/gofiber/fiber/v2"
)

// UpdateRoleRequest is the body of PUT /api/admin/users/:id/role.
type UpdateRoleRequest struct {
	Role string `json:"role"`
}

// SetBanRequest is the body of PUT /api/admin/users/:id/ban.
type SetBanRequest struct {
	Banned *bool  `json:"banned"`
	Reason string `json:"reason"`
}

// ResetPasswordRequest is the body of PUT /api/admin/users/:id/password.
type ResetPasswordRequest struct {
	Password string `json:"password"`
}

// ListUsers handles GET /api/admin/users
// @Summary List accounts
// @Tags admin
// @Produce json
// @Param role query string false "Role filter"
// @Param search query string false "Username or email substring"
// @Param banned query bool false "Ban filter"
// @Param limit query int false "Page size"
// @Param offset query int false "Page offset"
// @Success 200 {object} service.List[models.User]
// @Failure 400 {object} models.ErrorResponse
// @Failure 403 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /admin/users [get]
func (s *Server) ListUsers(c *fiber.Ctx) error {
	banned, err := queryBool(c, "banned")
	if err != nil {
		return respond(c, err)
	}

	list, err := s.services.Admin.ListUsers(c.UserContext(), userID(c), service.UserQuery{
		Role:   models.Role(strings.ToLower(c.Query("role"))),
		Search: c.Query("search"),
		Banned: banned,
	}, parsePagination(c))
	if err != nil {
		return respond(c, err)
	}
	return c.JSON(list)
}

// GetUser handles GET /api/admin/users/:id
// @Summary Account detail
// @Tags admin
// @Produce json
// @Param id path int true "User ID"
// @Success 200 {object} service.UserDetail
// @Failure 403 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /admin/users/{id} [get]
func (s *Server) GetUser(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	detail, err := s.services.Admin.GetUserDetail(c.UserContext(), userID(c), id)
	if err != nil {
		return respond(c, err)
	}
	return c.JSON(detail)
}

// SetBan handles PUT /api/admin/users/:id/ban
// @Summary Ban or unban an account
// @Description Moderators may ban users; admins may ban anyone below them
// @Tags admin
// @Accept json
// @Produce json
// @Param id path int true "User ID"
// @Param request body SetBanRequest true "Ban state"
// @Success 200 {object} models.User
// @Failure 400 {object} models.ErrorResponse
// @Failure 403 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /admin/users/{id}/ban [put]
func (s *Server) SetBan(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	var req SetBanRequest
	if err := parseBody(c, &req); err != nil {
		return nil
	}
	if req.Banned == nil {
		return respond(c, models.NewValidationError("banned is required"))
	}

	user, err := s.services.Admin.SetBan(c.UserContext(), userID(c), id, *req.Banned, req.Reason)
	if err != nil {
		return respond(c, err)
	}
	return c.JSON(user)
}

// UpdateRole handles PUT /api/admin/users/:id/role
// @Summary Change an account's role
// @Description Adjusts the invite quota to the new role
// @Tags admin
// @Accept json
// @Produce json
// @Param id path int true "User ID"
// @Param request body UpdateRoleRequest true "New role"
// @Success 200 {object} models.User
// @Failure 400 {object} models.ErrorResponse
// @Failure 403 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /admin/users/{id}/role [put]
func (s *Server) UpdateRole(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	var req UpdateRoleRequest
	if err := parseBody(c, &req); err != nil {
		return nil
	}
	role, ok := models.ParseRole(req.Role)
	if !ok {
		return respond(c, models.NewValidationError("Role must be user, moderator or admin"))
	}

	user, err := s.services.Admin.UpdateRole(c.UserContext(), userID(c), id, role)
	if err != nil {
		return respond(c, err)
	}
	return c.JSON(user)
}

// ResetPassword handles PUT /api/admin/users/:id/password
// @Summary Reset an account's password
// @Tags admin
// @Accept json
// @Produce json
// @Param id path int true "User ID"
// @Param request body ResetPasswordRequest true "New password"
// @Success 200 {object} MessageResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 403 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /admin/users/{id}/password [put]
func (s *Server) ResetPassword(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	var req ResetPasswordRequest
	if err := parseBody(c, &req); err != nil {
		return nil
	}

	if err := s.services.Admin.ResetPassword(c.UserContext(), userID(c), id, req.Password); err != nil {
		return respond(c, err)
	}
	return message(c, "Password reset")
}

// DeleteUser handles DELETE /api/admin/users/:id
// @Summary Delete an account
// @Description Revokes held keys and open invites, expires link codes, then deletes the account
// @Tags admin
// @Produce json
// @Param id path int true "User ID"
// @Success 200 {object} MessageResponse
// @Failure 403 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /admin/users/{id} [delete]
func (s *Server) DeleteUser(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	if err := s.services.Admin.DeleteUser(c.UserContext(), userID(c), id); err != nil {
		return respond(c, err)
	}
	return message(c, "User deleted")
}

// GetStats handles GET /api/admin/stats
// @Summary Dashboard statistics
// @Tags admin
// @Produce json
// @Success 200 {object} service.Stats
// @Failure 403 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /admin/stats [get]
func (s *Server) GetStats(c *fiber.Ctx) error {
	stats, err := s.services.Admin.Stats(c.UserContext(), userID(c))
	if err != nil {
		return respond(c, err)
	}
	return c.JSON(stats)
}

// ListAuditLogs handles GET /api/admin/logs
// @Summary Audit log
// @Tags admin
// @Produce json
// @Param type query string false "auth, user, key, invite, discord, admin or system"
// @Param action query string false "Action name"
// @Param user_id query int false "Acting account"
// @Param start query string false "RFC 3339 time or YYYY-MM-DD"
// @Param end query string false "RFC 3339 time or YYYY-MM-DD"
// @Param limit query int false "Page size"
// @Param offset query int false "Page offset"
// @Success 200 {object} service.List[models.AuditLog]
// @Failure 400 {object} models.ErrorResponse
// @Failure 403 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /admin/logs [get]
func (s *Server) ListAuditLogs(c *fiber.Ctx) error {
	actor, err := queryUint(c, "user_id")
	if err != nil {
		return respond(c, err)
	}
	start, err := queryTime(c, "start")
	if err != nil {
		return respond(c, err)
	}
	end, err := queryTime(c, "end")
	if err != nil {
		return respond(c, err)
	}

	list, err := s.services.Audit.List(c.UserContext(), userID(c), service.AuditQuery{
		Type:   models.AuditType(c.Query("type")),
		Action: c.Query("action"),
		UserID: actor,
		Start:  start,
		End:    end,
	}, parsePagination(c))
	if err != nil {
		return respond(c, err)
	}
	return c.JSON(list)
}
