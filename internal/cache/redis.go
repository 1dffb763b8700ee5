// Package cache provides Redis caching utilities for the application.
package cache

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"zalupaspb/internal/middleware"

	"github.com/redis/go-redis/v9"
)

var client *redis.Client

// keyFamily groups a command by the kind of key it touches, so error
// counts separate the session cache, token revocations, rate limit
// counters and event fan-out.
func keyFamily(cmd redis.Cmder) string {
	switch strings.ToLower(cmd.Name()) {
	case "publish", "subscribe", "unsubscribe", "ping":
		return "events"
	}
	args := cmd.Args()
	if len(args) < 2 {
		return "other"
	}
	key, ok := args[1].(string)
	if !ok {
		return "other"
	}
	prefix, _, _ := strings.Cut(key, ":")
	switch prefix {
	case "user", "blacklist", "rl":
		return prefix
	}
	return "other"
}

type metricsHook struct{}

func (h metricsHook) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

func (h metricsHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		err := next(ctx, cmd)
		if err != nil && !errors.Is(err, redis.Nil) {
			middleware.RedisErrors.WithLabelValues(cmd.Name(), keyFamily(cmd)).Inc()
		}
		return err
	}
}

func (h metricsHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		err := next(ctx, cmds)
		if err != nil && !errors.Is(err, redis.Nil) {
			middleware.RedisErrors.WithLabelValues("pipeline", "other").Inc()
		}
		return err
	}
}

// InitRedis connects the shared client. The service keeps working
// without Redis: the user cache and token revocation are skipped,
// requests are not rate limited and the audit feed stays local.
func InitRedis(addr string) {
	var opts *redis.Options
	if strings.Contains(addr, "://") {
		parsed, err := redis.ParseURL(addr)
		if err != nil {
			middleware.Logger.Warn("invalid REDIS_URL, continuing without Redis",
				slog.String("addr", addr), slog.String("error", err.Error()))
			client = nil
			return
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: addr}
	}
	if opts.ClientName == "" {
		opts.ClientName = "zalupaspb-api"
	}

	client = redis.NewClient(opts)
	client.AddHook(metricsHook{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		middleware.Logger.Warn("Redis unreachable, continuing without Redis",
			slog.String("addr", opts.Addr), slog.String("error", err.Error()))
		_ = client.Close()
		client = nil
		return
	}
	middleware.Logger.Info("Redis connected", slog.String("addr", opts.Addr))
}

// GetClient returns the current Redis client instance.
func GetClient() *redis.Client {
	return client
}

// SetClient replaces the package client; tests point it at miniredis.
func SetClient(c *redis.Client) {
	client = c
}
