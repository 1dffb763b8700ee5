// Package notifications publishes domain events over Redis and fans the
// audit stream out to WebSocket clients.
package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"

	"zalupaspb/internal/middleware"

	"github.com/redis/go-redis/v9"
)

// Redis channels.
const (
	DiscordChannel = "discord:events"
	AuditChannel   = "audit:events"
)

// Discord role-sync event names.
const (
	EventDiscordLinked   = "discord.linked"
	EventDiscordUnlinked = "discord.unlinked"
	EventRoleChanged     = "user.role_changed"
	EventBanned          = "user.banned"
	EventUnbanned        = "user.unbanned"
)

// DiscordEvent is consumed by the chat bot to apply guild roles.
type DiscordEvent struct {
	Event     string `json:"event"`
	UserID    uint   `json:"user_id"`
	DiscordID string `json:"discord_id,omitempty"`
	Role      string `json:"role,omitempty"`
	Banned    bool   `json:"banned"`
}

// Notifier provides helpers to publish events into Redis channels.
// A nil client turns every call into a no-op.
type Notifier struct {
	rdb *redis.Client
}

// NewNotifier creates a new Notifier instance using the provided Redis client.
func NewNotifier(rdb *redis.Client) *Notifier {
	return &Notifier{rdb: rdb}
}

// Publish JSON-encodes v onto channel.
func (n *Notifier) Publish(ctx context.Context, channel string, v any) error {
	if n == nil || n.rdb == nil {
		return nil
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return n.rdb.Publish(ctx, channel, payload).Err()
}

// PublishDiscordEvent sends a role-sync event to the bot channel.
func (n *Notifier) PublishDiscordEvent(ctx context.Context, ev DiscordEvent) error {
	return n.Publish(ctx, DiscordChannel, ev)
}

// Subscribe listens on channels until ctx is cancelled, calling onMessage
// for each message. A panicking handler is logged and the loop continues.
func (n *Notifier) Subscribe(
	ctx context.Context, onMessage func(channel string, payload string), channels ...string,
) error {
	if n == nil || n.rdb == nil {
		return nil
	}
	sub := n.rdb.Subscribe(ctx, channels...)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe %v: %w", channels, err)
	}
	ch := sub.Channel()

	go func() {
		defer func() { _ = sub.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				func() {
					defer func() {
						if r := recover(); r != nil {
							middleware.Logger.Error("panic in subscriber",
								slog.String("channel", msg.Channel),
								slog.Any("panic", r),
								slog.String("stack", string(debug.Stack())),
							)
						}
					}()
					onMessage(msg.Channel, msg.Payload)
				}()
			}
		}
	}()

	return nil
}
