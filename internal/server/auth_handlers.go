package server

import (
	"zalupaspb/internal/models"
	"zalupaspb/internal/service"

	"github.com/gofiber/fiber/v2"
)

// RegisterRequest is the body of POST /api/auth/register.
type RegisterRequest struct {
	Username   string `json:"username"`
	Email      string `json:"email"`
	Password   string `json:"password"`
	InviteCode string `json:"invite_code"`
}

// LoginRequest accepts a username or an email in Login.
type LoginRequest struct {
	Login    string `json:"login"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// RefreshRequest carries a refresh token.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// ChangePasswordRequest is the body of POST /api/auth/change-password.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// Register handles POST /api/auth/register
// @Summary Register with an invite
// @Description Create an account by redeeming an invite code
// @Tags auth
// @Accept json
// @Produce json
// @Param request body RegisterRequest true "Registration"
// @Success 201 {object} service.AuthResult
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Router /auth/register [post]
func (s *Server) Register(c *fiber.Ctx) error {
	var req RegisterRequest
	if err := parseBody(c, &req); err != nil {
		return nil
	}

	res, err := s.services.Auth.Register(c.UserContext(), service.RegisterInput{
		Username:   req.Username,
		Email:      req.Email,
		Password:   req.Password,
		InviteCode: req.InviteCode,
	})
	if err != nil {
		return respond(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(res)
}

// Login handles POST /api/auth/login
// @Summary Sign in
// @Description Sign in with a username or email and password
// @Tags auth
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Credentials"
// @Success 200 {object} service.AuthResult
// @Failure 400 {object} models.ErrorResponse
// @Failure 401 {object} models.ErrorResponse
// @Failure 403 {object} models.ErrorResponse
// @Router /auth/login [post]
func (s *Server) Login(c *fiber.Ctx) error {
	var req LoginRequest
	if err := parseBody(c, &req); err != nil {
		return nil
	}
	login := req.Login
	if login == "" {
		login = req.Username
	}

	res, err := s.services.Auth.Login(c.UserContext(), login, req.Password)
	if err != nil {
		return respond(c, err)
	}
	return c.JSON(res)
}

// Refresh handles POST /api/auth/refresh
// @Summary Rotate tokens
// @Description Exchange a refresh token for a new token pair; the old refresh token is revoked
// @Tags auth
// @Accept json
// @Produce json
// @Param request body RefreshRequest true "Refresh token"
// @Success 200 {object} service.AuthResult
// @Failure 401 {object} models.ErrorResponse
// @Failure 403 {object} models.ErrorResponse
// @Router /auth/refresh [post]
func (s *Server) Refresh(c *fiber.Ctx) error {
	var req RefreshRequest
	if err := parseBody(c, &req); err != nil {
		return nil
	}
	if req.RefreshToken == "" {
		return respond(c, models.NewValidationError("refresh_token is required"))
	}

	res, err := s.services.Auth.Refresh(c.UserContext(), req.RefreshToken)
	if err != nil {
		return respond(c, err)
	}
	return c.JSON(res)
}

// Logout handles POST /api/auth/logout
// @Summary Sign out
// @Description Revoke the current access token and, when given, the refresh token
// @Tags auth
// @Accept json
// @Produce json
// @Param request body RefreshRequest false "Refresh token to revoke"
// @Success 200 {object} MessageResponse
// @Failure 401 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /auth/logout [post]
func (s *Server) Logout(c *fiber.Ctx) error {
	var req RefreshRequest
	if err := parseBody(c, &req); err != nil {
		return nil
	}
	claims, _ := c.Locals("claims").(*service.Claims)
	if claims == nil {
		return models.RespondWithError(c, fiber.StatusUnauthorized,
			models.NewUnauthorizedError("Authorization required"))
	}

	if err := s.services.Auth.Logout(c.UserContext(), claims, req.RefreshToken); err != nil {
		return respond(c, err)
	}
	return message(c, "Logged out")
}

// GetMe handles GET /api/auth/me
// @Summary Current account
// @Description Get the caller's profile with entitlement and inviter
// @Tags auth
// @Produce json
// @Success 200 {object} service.Profile
// @Failure 401 {object} models.ErrorResponse
// @Failure 403 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /auth/me [get]
func (s *Server) GetMe(c *fiber.Ctx) error {
	profile, err := s.services.Auth.Me(c.UserContext(), userID(c))
	if err != nil {
		return respond(c, err)
	}
	return c.JSON(profile)
}

// ChangePassword handles POST /api/auth/change-password
// @Summary Change password
// @Tags auth
// @Accept json
// @Produce json
// @Param request body ChangePasswordRequest true "Passwords"
// @Success 200 {object} MessageResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 401 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /auth/change-password [post]
func (s *Server) ChangePassword(c *fiber.Ctx) error {
	var req ChangePasswordRequest
	if err := parseBody(c, &req); err != nil {
		return nil
	}

	err := s.services.Auth.ChangePassword(c.UserContext(), userID(c), req.CurrentPassword, req.NewPassword)
	if err != nil {
		return respond(c, err)
	}
	return message(c, "Password changed")
}

// GetBanStatus handles GET /api/auth/ban-status
// @Summary Ban status
// @Description The only endpoint a banned account may call
// @Tags auth
// @Produce json
// @Success 200 {object} service.BanStatus
// @Failure 401 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /auth/ban-status [get]
func (s *Server) GetBanStatus(c *fiber.Ctx) error {
	status, err := s.services.Auth.BanStatus(c.UserContext(), userID(c))
	if err != nil {
		return respond(c, err)
	}
	return c.JSON(status)
}
