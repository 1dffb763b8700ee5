package middleware

import (
	"context"
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"zalupaspb/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

// FailPolicy defines the behavior when the counter store (Redis) errors.
type FailPolicy int

const (
	// FailOpen lets the request through when Redis errors.
	FailOpen FailPolicy = iota
	// FailClosed answers 503 when Redis errors.
	FailClosed
)

// RateLimited counts rejected requests by policy.
var RateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "zalupaspb_rate_limited_total",
	Help: "Requests rejected by a rate limit policy",
}, []string{"policy"})

// Policy is the request budget of one throttled endpoint.
type Policy struct {
	Name   string
	Limit  int
	Window time.Duration
	Fail   FailPolicy
	// PerIP counts by client address even for signed-in callers.
	PerIP bool
}

// Budgets for the endpoints that accept guessable codes or passwords.
// Code checks fail closed so an unreachable store never uncaps guessing.
var (
	RegisterLimit     = Policy{Name: "register", Limit: 5, Window: 10 * time.Minute, PerIP: true}
	LoginLimit        = Policy{Name: "login", Limit: 10, Window: 5 * time.Minute, PerIP: true}
	RefreshLimit      = Policy{Name: "refresh", Limit: 30, Window: 5 * time.Minute}
	InviteCheckLimit  = Policy{Name: "invite-check", Limit: 20, Window: time.Minute, Fail: FailClosed, PerIP: true}
	KeyActivateLimit  = Policy{Name: "key-activate", Limit: 10, Window: 5 * time.Minute, Fail: FailClosed}
	LinkGenerateLimit = Policy{Name: "link-generate", Limit: 5, Window: 5 * time.Minute}
	BotLinkLimit      = Policy{Name: "bot-link", Limit: 120, Window: time.Minute, Fail: FailClosed, PerIP: true}
)

// rateLimitDisabled reports whether APP_ENV switches limiting off.
func rateLimitDisabled() bool {
	switch os.Getenv("APP_ENV") {
	case "", "test", "development":
		return true
	}
	return false
}

// Allow counts one hit for caller and reports whether it fits the window.
// When it does not, retryAfter is the time left in the window.
func (p Policy) Allow(ctx context.Context, rdb *redis.Client, caller string) (allowed bool, retryAfter time.Duration, err error) {
	if rdb == nil {
		return false, 0, fmt.Errorf("redis client is nil")
	}
	key := fmt.Sprintf("rl:%s:%s", p.Name, caller)

	cnt, err := rdb.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, err
	}
	if cnt == 1 {
		rdb.Expire(ctx, key, p.Window)
	}
	if cnt <= int64(p.Limit) {
		return true, 0, nil
	}
	ttl, err := rdb.TTL(ctx, key).Result()
	if err != nil || ttl < 0 {
		ttl = p.Window
	}
	return false, ttl, nil
}

// RateLimit enforces p on a route. Callers are keyed by account id once
// AuthRequired has run, otherwise by remote IP. Without Redis the
// service runs unthrottled, as it does for caching.
func RateLimit(rdb *redis.Client, p Policy) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if rateLimitDisabled() || rdb == nil {
			return c.Next()
		}

		caller := "ip:" + c.IP()
		if uid := c.Locals("userID"); uid != nil && !p.PerIP {
			caller = fmt.Sprintf("user:%v", uid)
		}

		allowed, retryAfter, err := p.Allow(c.UserContext(), rdb, caller)
		if err != nil {
			if p.Fail == FailClosed {
				Logger.WarnContext(c.UserContext(), "rate limit store unavailable, failing closed",
					"policy", p.Name, "path", c.Path(), "error", err)
				return models.RespondWithError(c, fiber.StatusServiceUnavailable,
					&models.AppError{Code: models.CodeUnavailable, Message: "Please try again shortly"})
			}
			Logger.WarnContext(c.UserContext(), "rate limit store unavailable, failing open",
				"policy", p.Name, "path", c.Path(), "error", err)
			return c.Next()
		}

		if !allowed {
			RateLimited.WithLabelValues(p.Name).Inc()
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
			return models.RespondWithError(c, fiber.StatusTooManyRequests,
				&models.AppError{Code: models.CodeRateLimited, Message: "Too many attempts, try again later"})
		}
		return c.Next()
	}
}
