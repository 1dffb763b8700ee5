package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"zalupaspb/internal/cache"
	"zalupaspb/internal/models"
	"zalupaspb/internal/observability"
	"zalupaspb/internal/validation"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Token types carried in the "typ" claim.
const (
	TokenAccess  = "access"
	TokenRefresh = "refresh"
)

const (
	tokenIssuer   = "zalupaspb-api"
	tokenAudience = "zalupaspb-client"
)

// Claims is the verified content of a token.
type Claims struct {
	UserID    uint
	JTI       string
	Type      string
	ExpiresAt time.Time
}

// TokenPair is returned by every successful sign-in.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// AuthResult couples the signed-in account with its tokens.
type AuthResult struct {
	TokenPair
	User *models.User `json:"user"`
}

// RegisterInput is a registration request.
type RegisterInput struct {
	Username   string
	Email      string
	Password   string
	InviteCode string
}

// Profile is the caller's own account view.
type Profile struct {
	*models.User
	HasValidKey bool            `json:"has_valid_key"`
	InvitedBy   *models.Summary `json:"invited_by,omitempty"`
}

// BanStatus is the only view a banned account may read.
type BanStatus struct {
	IsBanned  bool   `json:"is_banned"`
	BanReason string `json:"ban_reason,omitempty"`
}

// AuthService covers registration, sign-in and token lifecycle.
type AuthService struct {
	base
	invites    *InviteService
	keys       *KeyService
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	cost       int
}

func (s *AuthService) hash(password string) (string, error) {
	cost := s.cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	b, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", models.NewInternalError(err)
	}
	return string(b), nil
}

// HashPassword hashes with the default cost, for tooling that creates
// accounts outside the registration flow.
func HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(b), nil
}

// Register validates the request, redeems the invite and signs the new account in.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = validation.NormalizeEmail(in.Email)
	in.InviteCode = strings.TrimSpace(in.InviteCode)

	if in.Username == "" || in.Email == "" || in.Password == "" || in.InviteCode == "" {
		return nil, models.NewValidationError("Username, email, password and invite code are required")
	}
	if err := validation.ValidateUsername(in.Username); err != nil {
		return nil, models.NewValidationError(err.Error())
	}
	if err := validation.ValidateEmail(in.Email); err != nil {
		return nil, models.NewValidationError(err.Error())
	}
	if err := validation.ValidatePassword(in.Password, in.Username, in.Email); err != nil {
		return nil, models.NewValidationError(err.Error())
	}

	usernameTaken, emailTaken, err := s.store.Users.Taken(ctx, in.Username, in.Email)
	if err != nil {
		return nil, err
	}
	if usernameTaken {
		return nil, models.NewConflictError("Username is already taken")
	}
	if emailTaken {
		return nil, models.NewConflictError("Email is already registered")
	}

	hash, err := s.hash(in.Password)
	if err != nil {
		return nil, err
	}
	user, err := s.invites.Redeem(ctx, in.InviteCode, Registration{
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
	})
	if err != nil {
		return nil, err
	}

	pair, err := s.issue(user.ID)
	if err != nil {
		return nil, err
	}
	return &AuthResult{TokenPair: *pair, User: user}, nil
}

// Login authenticates by username or email.
func (s *AuthService) Login(ctx context.Context, login, password string) (*AuthResult, error) {
	if strings.TrimSpace(login) == "" || password == "" {
		return nil, models.NewValidationError("Login and password are required")
	}
	user, err := s.store.Users.GetByLogin(ctx, login)
	if err != nil {
		return nil, err
	}
	if user == nil {
		observability.AuthAttempts.WithLabelValues("unknown_user").Inc()
		return nil, models.NewUnauthorizedError("Invalid credentials")
	}
	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)) != nil {
		observability.AuthAttempts.WithLabelValues("bad_password").Inc()
		s.audit.Record(ctx, AuditEntry{
			Type:       models.AuditAuth,
			Action:     "login_failed",
			TargetID:   uintPtr(user.ID),
			TargetType: "user",
		})
		return nil, models.NewUnauthorizedError("Invalid credentials")
	}
	if user.IsBanned {
		observability.AuthAttempts.WithLabelValues("banned").Inc()
		return nil, models.NewBannedError(user.BanReason)
	}

	pair, err := s.issue(user.ID)
	if err != nil {
		return nil, err
	}
	observability.AuthAttempts.WithLabelValues("success").Inc()
	s.audit.Record(ctx, AuditEntry{
		Type:       models.AuditAuth,
		Action:     "login",
		ActorID:    uintPtr(user.ID),
		TargetID:   uintPtr(user.ID),
		TargetType: "user",
	})
	return &AuthResult{TokenPair: *pair, User: user}, nil
}

// Refresh exchanges a refresh token for a new pair. The presented refresh
// token is revoked so it cannot be replayed.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*AuthResult, error) {
	claims, err := s.ParseToken(refreshToken, TokenRefresh)
	if err != nil {
		return nil, err
	}
	if cache.IsBlacklisted(ctx, claims.JTI) {
		return nil, models.NewUnauthorizedError("Token has been revoked")
	}
	user, err := s.store.Users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.NewUnauthorizedError("Account no longer exists")
		}
		return nil, err
	}
	if user.IsBanned {
		return nil, models.NewBannedError(user.BanReason)
	}

	s.revoke(ctx, claims)
	pair, err := s.issue(user.ID)
	if err != nil {
		return nil, err
	}
	return &AuthResult{TokenPair: *pair, User: user}, nil
}

// Logout revokes the access token and, when given, the refresh token.
func (s *AuthService) Logout(ctx context.Context, access *Claims, refreshToken string) error {
	s.revoke(ctx, access)
	if refreshToken != "" {
		if rc, err := s.ParseToken(refreshToken, TokenRefresh); err == nil && rc.UserID == access.UserID {
			s.revoke(ctx, rc)
		}
	}
	s.audit.Record(ctx, AuditEntry{
		Type:       models.AuditAuth,
		Action:     "logout",
		ActorID:    uintPtr(access.UserID),
		TargetID:   uintPtr(access.UserID),
		TargetType: "user",
	})
	return nil
}

func (s *AuthService) revoke(ctx context.Context, c *Claims) {
	ttl := c.ExpiresAt.Sub(s.now())
	if err := cache.Blacklist(ctx, c.JTI, ttl); err != nil {
		logWarn(ctx, "token blacklist failed", err)
	}
}

// Me returns the caller's profile, applying any due monthly quota reset.
func (s *AuthService) Me(ctx context.Context, userID uint) (*Profile, error) {
	user, err := s.actor(ctx, userID)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.Users.ResetInvites(ctx, user, s.now()); err != nil {
		return nil, err
	}
	valid, err := s.keys.HasValidKey(ctx, user)
	if err != nil {
		return nil, err
	}

	p := &Profile{User: user, HasValidKey: valid}
	if user.InvitedByID != nil {
		if inviter, err := s.store.Users.GetByID(ctx, *user.InvitedByID); err == nil {
			sum := inviter.Summary()
			p.InvitedBy = &sum
		}
	}
	return p, nil
}

// ChangePassword replaces the caller's password after verifying the current one.
func (s *AuthService) ChangePassword(ctx context.Context, userID uint, current, next string) error {
	user, err := s.actor(ctx, userID)
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(current)) != nil {
		return models.NewUnauthorizedError("Current password is incorrect")
	}
	if current == next {
		return models.NewValidationError("New password must differ from the current one")
	}
	if err := validation.ValidatePassword(next, user.Username, user.Email); err != nil {
		return models.NewValidationError(err.Error())
	}
	hash, err := s.hash(next)
	if err != nil {
		return err
	}
	if err := s.store.Users.UpdateFields(ctx, user.ID, map[string]any{"password": hash}); err != nil {
		return err
	}

	s.audit.Record(ctx, AuditEntry{
		Type:       models.AuditUser,
		Action:     "change_password",
		ActorID:    uintPtr(user.ID),
		TargetID:   uintPtr(user.ID),
		TargetType: "user",
	})
	return nil
}

// BanStatus is reachable by banned accounts.
func (s *AuthService) BanStatus(ctx context.Context, userID uint) (*BanStatus, error) {
	user, err := s.store.Users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &BanStatus{IsBanned: user.IsBanned, BanReason: user.BanReason}, nil
}

func (s *AuthService) issue(userID uint) (*TokenPair, error) {
	access, err := s.sign(userID, TokenAccess, s.accessTTL)
	if err != nil {
		return nil, err
	}
	refresh, err := s.sign(userID, TokenRefresh, s.refreshTTL)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.accessTTL / time.Second),
	}, nil
}

func (s *AuthService) sign(userID uint, typ string, ttl time.Duration) (string, error) {
	if len(s.secret) == 0 {
		return "", models.NewInternalError(errors.New("JWT secret not configured"))
	}
	now := s.now()
	claims := jwt.MapClaims{
		"sub": strconv.FormatUint(uint64(userID), 10),
		"typ": typ,
		"iss": tokenIssuer,
		"aud": tokenAudience,
		"exp": now.Add(ttl).Unix(),
		"iat": now.Unix(),
		"nbf": now.Unix(),
		"jti": uuid.NewString(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", models.NewInternalError(err)
	}
	return signed, nil
}

// ParseToken verifies signature, issuer, audience, lifetime and type.
func (s *AuthService) ParseToken(tokenString, wantType string) (*Claims, error) {
	invalid := models.NewUnauthorizedError("Invalid or expired token")

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithAudience(tokenAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.clock),
	)
	if err != nil || !token.Valid {
		return nil, invalid
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, invalid
	}
	if typ, _ := claims["typ"].(string); typ != wantType {
		return nil, invalid
	}
	sub, _ := claims["sub"].(string)
	id, err := strconv.ParseUint(sub, 10, 32)
	if err != nil || id == 0 {
		return nil, invalid
	}
	jti, _ := claims["jti"].(string)
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil, invalid
	}
	return &Claims{UserID: uint(id), JTI: jti, Type: wantType, ExpiresAt: exp.Time}, nil
}
