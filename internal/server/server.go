// Package server contains HTTP and WebSocket handlers for the application's API endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "zalupaspb/docs" // swagger docs
	"zalupaspb/internal/bootstrap"
	"zalupaspb/internal/config"
	"zalupaspb/internal/featureflags"
	"zalupaspb/internal/middleware"
	"zalupaspb/internal/models"
	"zalupaspb/internal/notifications"
	"zalupaspb/internal/repository"
	"zalupaspb/internal/service"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/swagger"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Server holds all dependencies and provides handlers
type Server struct {
	config         *config.Config
	db             *gorm.DB
	redis          *redis.Client
	app            *fiber.App
	promMiddleware *fiberprometheus.FiberPrometheus
	shutdownCtx    context.Context
	shutdownFn     context.CancelFunc
	store          *repository.Store
	services       *service.Services
	notifier       *notifications.Notifier
	auditHub       *notifications.AuditHub
	featureFlags   *featureflags.Manager
}

// NewServerWithDeps creates a Server using already-initialized dependencies.
// Use this in tests or when a bootstrap layer establishes DB/Redis.
func NewServerWithDeps(cfg *config.Config, db *gorm.DB, redisClient *redis.Client) (*Server, error) {
	return newServer(cfg, db, redisClient, 0), nil
}

func newServer(cfg *config.Config, db *gorm.DB, redisClient *redis.Client, bcryptCost int) *Server {
	store := repository.NewStore(db)

	server := &Server{
		config:         cfg,
		db:             db,
		redis:          redisClient,
		promMiddleware: middleware.InitMetrics("zalupaspb-api"),
		store:          store,
		notifier:       notifications.NewNotifier(redisClient),
		auditHub:       notifications.NewAuditHub(),
		featureFlags:   featureflags.NewManager(cfg.FeatureFlags),
	}

	var events service.EventPublisher = server.notifier
	if redisClient == nil {
		// Single instance: the feed is fed in-process.
		events = localEvents{hub: server.auditHub}
	}

	opts := bootstrap.ServiceOptions(cfg, events)
	opts.BcryptCost = bcryptCost
	server.services = service.New(store, opts)
	server.auditHub.SetAuthorizer(server.canReadAuditFeed)
	return server
}

// Services exposes the service graph to command-line tools sharing the server's wiring.
func (s *Server) Services() *service.Services {
	return s.services
}

// localEvents delivers audit entries straight to the hub when there is no
// Redis to fan them out. Discord events have no consumer without Redis.
type localEvents struct {
	hub *notifications.AuditHub
}

func (e localEvents) Publish(_ context.Context, channel string, v any) error {
	if channel != notifications.AuditChannel {
		return nil
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	e.hub.Broadcast(payload)
	return nil
}

func (e localEvents) PublishDiscordEvent(context.Context, notifications.DiscordEvent) error {
	return nil
}

// newApp builds the Fiber app with the full middleware chain and routes.
func (s *Server) newApp() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      "ZalupaSPB API",
		ErrorHandler: errorHandler,
	})
	s.SetupMiddleware(app)
	s.SetupRoutes(app)
	return app
}

// errorHandler renders errors that escape handlers in the uniform error shape.
func errorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(models.ErrorResponse{
			Error: fe.Message,
			Code:  codeForStatus(fe.Code),
		})
	}
	middleware.Logger.ErrorContext(c.UserContext(), "unhandled error", slog.String("error", err.Error()))
	return models.RespondWithError(c, fiber.StatusInternalServerError, models.NewInternalError(err))
}

func codeForStatus(status int) string {
	switch status {
	case fiber.StatusBadRequest:
		return models.CodeValidation
	case fiber.StatusUnauthorized:
		return models.CodeUnauthorized
	case fiber.StatusForbidden:
		return models.CodeForbidden
	case fiber.StatusNotFound:
		return models.CodeNotFound
	case fiber.StatusConflict:
		return models.CodeConflict
	}
	if status >= fiber.StatusInternalServerError {
		return models.CodeInternal
	}
	return ""
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	// Panic recovery
	app.Use(recover.New())

	// Request ID for tracing
	app.Use(requestid.New())

	// Spans before the context middleware so trace_id reaches the logger
	app.Use(middleware.TracingMiddleware())

	// Context Middleware to propagate Request ID and User ID
	app.Use(middleware.ContextMiddleware())
	app.Use(requestMeta())

	// Prometheus Metrics
	if s.promMiddleware != nil {
		app.Use(middleware.MetricsMiddleware(s.promMiddleware))
	}

	// Security headers
	app.Use(helmet.New())

	// Structured Logging middleware (after requestid and context middleware)
	app.Use(middleware.StructuredLogger())

	// CORS runs before the limiter so rejected requests still carry CORS headers.
	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:5173,http://localhost:3000,http://127.0.0.1:5173"
	}

	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Bot-Token, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version",
		AllowCredentials: true,
		MaxAge:           86400, // 24 hours
	}))

	// Global rate limiting (100 requests per minute per IP)
	app.Use(limiter.New(limiter.Config{
		Max:        100,
		Expiration: 1 * time.Minute,
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions || s.config.Env == "test"
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(models.ErrorResponse{
				Error: "Too many requests, please try again later.",
			})
		},
	}))
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	api := app.Group("/api")

	// Health checks
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)
	app.Get("/health", s.ReadinessCheck)

	// Metrics endpoint for Prometheus
	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}

	// Swagger documentation
	api.Get("/swagger/*", swagger.HandlerDefault)

	authed := s.AuthRequired()
	staff := s.RoleRequired(models.RoleModerator)
	adminOnly := s.RoleRequired(models.RoleAdmin)

	api.Get("/metrics/dashboard", authed, adminOnly, monitor.New(monitor.Config{
		Title: "ZalupaSPB Metrics Dashboard",
	}))

	// Auth routes
	auth := api.Group("/auth")
	auth.Post("/register", middleware.RateLimit(s.redis, middleware.RegisterLimit), s.Register)
	auth.Post("/login", middleware.RateLimit(s.redis, middleware.LoginLimit), s.Login)
	auth.Post("/refresh", middleware.RateLimit(s.redis, middleware.RefreshLimit), s.Refresh)
	auth.Post("/logout", authed, s.Logout)
	auth.Get("/me", authed, s.GetMe)
	auth.Post("/change-password", authed, s.ChangePassword)
	auth.Get("/ban-status", authed, s.GetBanStatus)

	// Invite routes; the code check is public for the registration page
	invites := api.Group("/invites")
	invites.Post("/check", middleware.RateLimit(s.redis, middleware.InviteCheckLimit), s.CheckInvite)
	invites.Post("/", authed, s.IssueInvite)
	invites.Get("/me", authed, s.GetMyInvites)
	invites.Get("/invited-users", authed, s.GetInvitedUsers)
	invites.Get("/", authed, staff, s.ListInvites)
	invites.Delete("/:id", authed, s.RevokeInvite)

	// Activation key routes
	keys := api.Group("/keys")
	keys.Post("/activate", authed, middleware.RateLimit(s.redis, middleware.KeyActivateLimit), s.ActivateKey)
	keys.Get("/me", authed, s.GetMyKeys)
	keys.Get("/status", authed, s.GetKeyStatus)
	keys.Post("/", authed, staff, s.IssueKey)
	keys.Get("/", authed, staff, s.ListKeys)
	keys.Get("/:id", authed, staff, s.GetKey)
	keys.Delete("/:id", authed, staff, s.RevokeKey)

	// Discord linking; bot routes authenticate with the bot token, not a user JWT
	discord := api.Group("/discord")
	bot := discord.Group("/bot", s.BotRequired())
	bot.Post("/link", middleware.RateLimit(s.redis, middleware.BotLinkLimit), s.BotLink)
	bot.Get("/user/:discordId", s.BotUser)
	discord.Get("/link/status", authed, s.GetLinkStatus)
	discord.Post("/link/generate", authed, middleware.RateLimit(s.redis, middleware.LinkGenerateLimit), s.GenerateLinkCode)
	discord.Post("/unlink", authed, s.Unlink)

	// Administration
	admin := api.Group("/admin", authed, staff)
	admin.Get("/users", s.ListUsers)
	admin.Get("/users/:id", s.GetUser)
	admin.Put("/users/:id/ban", s.SetBan)
	admin.Get("/logs", s.ListAuditLogs)
	admin.Put("/users/:id/role", adminOnly, s.UpdateRole)
	admin.Put("/users/:id/password", adminOnly, s.ResetPassword)
	admin.Delete("/users/:id", adminOnly, s.DeleteUser)
	admin.Get("/stats", adminOnly, s.GetStats)
	admin.Get("/feature-flags", adminOnly, s.GetFeatureFlags)

	// Live audit feed
	api.Get("/ws/audit", authed, staff, s.AuditFeed())
}

// LivenessCheck handles liveness probe requests
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now(),
	})
}

// ReadinessCheck handles readiness probe requests
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
	defer cancel()

	dbStatus := "healthy"
	sqlDB, err := s.db.DB()
	if err != nil {
		dbStatus = "unhealthy"
	} else if err := sqlDB.PingContext(ctx); err != nil {
		dbStatus = "unhealthy"
	}

	// Redis is optional: without it caching and fan-out are skipped.
	redisStatus := "unavailable"
	if s.redis != nil {
		redisStatus = "healthy"
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
		}
	}

	status := fiber.StatusOK
	overallStatus := "healthy"
	if dbStatus == "unhealthy" || redisStatus == "unhealthy" {
		status = fiber.StatusServiceUnavailable
		overallStatus = "unhealthy"
	}

	return c.Status(status).JSON(fiber.Map{
		"message": "ZalupaSPB",
		"version": "1.0.0",
		"status":  overallStatus,
		"checks": fiber.Map{
			"database": dbStatus,
			"redis":    redisStatus,
		},
		"feed_clients": s.auditHub.Count(),
		"time":         time.Now(),
	})
}

// Start starts the server
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.shutdownCtx = ctx
	s.shutdownFn = cancel

	s.app = s.newApp()

	if s.redis != nil {
		go func() {
			if err := s.auditHub.StartWiring(s.shutdownCtx, s.notifier); err != nil {
				middleware.Logger.Error("failed to start audit feed wiring", slog.String("error", err.Error()))
			}
		}()
	}
	go s.auditHub.StartRevalidation(s.shutdownCtx, feedRevalidateInterval)

	middleware.Logger.Info("Server starting", slog.String("port", s.config.Port))
	return s.app.Listen(":" + s.config.Port)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	// Stops the audit feed subscription
	if s.shutdownFn != nil {
		s.shutdownFn()
	}

	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			middleware.Logger.Error("error shutting down HTTP server", slog.String("error", err.Error()))
		}
	}

	if err := s.auditHub.Shutdown(ctx); err != nil {
		middleware.Logger.Error("error shutting down audit feed", slog.String("error", err.Error()))
	}

	if sqlDB, err := s.db.DB(); err == nil {
		if cerr := sqlDB.Close(); cerr != nil {
			middleware.Logger.Error("error closing sql DB", slog.String("error", cerr.Error()))
		}
	}

	if s.redis != nil {
		if rerr := s.redis.Close(); rerr != nil {
			middleware.Logger.Error("error closing redis", slog.String("error", rerr.Error()))
		}
	}

	middleware.Logger.Info("Server shutdown complete")
	return nil
}
