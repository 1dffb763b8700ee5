package notifications

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestNotifier_NilClientIsNoop(t *testing.T) {
	n := NewNotifier(nil)
	assert.NoError(t, n.PublishDiscordEvent(context.Background(), DiscordEvent{Event: EventBanned}))
	assert.NoError(t, n.Subscribe(context.Background(), func(string, string) {}, AuditChannel))

	var nilNotifier *Notifier
	assert.NoError(t, nilNotifier.Publish(context.Background(), AuditChannel, "x"))
}

func TestNotifier_PublishDiscordEvent(t *testing.T) {
	rdb := newRedis(t)
	n := NewNotifier(rdb)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan string, 1)
	require.NoError(t, n.Subscribe(ctx, func(channel, payload string) {
		assert.Equal(t, DiscordChannel, channel)
		got <- payload
	}, DiscordChannel))

	require.NoError(t, n.PublishDiscordEvent(context.Background(), DiscordEvent{
		Event: EventRoleChanged, UserID: 7, DiscordID: "123", Role: "moderator",
	}))

	select {
	case payload := <-got:
		var ev DiscordEvent
		require.NoError(t, json.Unmarshal([]byte(payload), &ev))
		assert.Equal(t, EventRoleChanged, ev.Event)
		assert.Equal(t, uint(7), ev.UserID)
		assert.Equal(t, "moderator", ev.Role)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestNotifier_SubscriberSurvivesPanic(t *testing.T) {
	rdb := newRedis(t)
	n := NewNotifier(rdb)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan string, 2)
	require.NoError(t, n.Subscribe(ctx, func(_ string, payload string) {
		if payload == `"boom"` {
			panic("handler failure")
		}
		got <- payload
	}, AuditChannel))

	require.NoError(t, n.Publish(context.Background(), AuditChannel, "boom"))
	require.NoError(t, n.Publish(context.Background(), AuditChannel, "ok"))

	select {
	case payload := <-got:
		assert.Equal(t, `"ok"`, payload)
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber stopped after panic")
	}
}

func TestAuditHub_RegisterBroadcastUnregister(t *testing.T) {
	hub := NewAuditHub()

	a, err := hub.Register(1, nil)
	require.NoError(t, err)
	b, err := hub.Register(2, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, hub.Count())

	assert.Equal(t, 2, hub.Broadcast([]byte(`{"action":"login"}`)))
	assert.Equal(t, `{"action":"login"}`, string(<-a.Send))
	assert.Equal(t, `{"action":"login"}`, string(<-b.Send))

	hub.UnregisterClient(a)
	hub.UnregisterClient(a)
	assert.Equal(t, 1, hub.Count())
	_, open := <-a.Send
	assert.False(t, open)
}

func TestAuditHub_AccessChangeDropsTarget(t *testing.T) {
	hub := NewAuditHub()
	revoked := map[uint]bool{}
	var checked []uint
	hub.SetAuthorizer(func(_ context.Context, userID uint) bool {
		checked = append(checked, userID)
		return !revoked[userID]
	})

	banned, err := hub.Register(1, nil)
	require.NoError(t, err)
	admin, err := hub.Register(2, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, hub.Broadcast([]byte(`{"type":"admin","action":"unban_user","target_id":1}`)))
	assert.Empty(t, checked)
	<-banned.Send
	<-admin.Send

	revoked[1] = true
	entry := []byte(`{"type":"admin","action":"ban_user","target_id":1}`)
	assert.Equal(t, 1, hub.Broadcast(entry))
	assert.Equal(t, []uint{1}, checked)
	assert.Equal(t, 1, hub.Count())
	_, open := <-banned.Send
	assert.False(t, open)
	assert.Equal(t, string(entry), string(<-admin.Send))

	// A target with no connected client is not looked up.
	hub.Broadcast([]byte(`{"type":"admin","action":"update_role","target_id":9}`))
	assert.Equal(t, []uint{1}, checked)
}

func TestAuditHub_RevalidateAll(t *testing.T) {
	hub := NewAuditHub()
	a, err := hub.Register(1, nil)
	require.NoError(t, err)
	_, err = hub.Register(2, nil)
	require.NoError(t, err)

	assert.Zero(t, hub.Revalidate(context.Background()))

	hub.SetAuthorizer(func(_ context.Context, userID uint) bool { return userID != 1 })
	assert.Equal(t, 1, hub.Revalidate(context.Background()))
	assert.Equal(t, 1, hub.Count())
	_, open := <-a.Send
	assert.False(t, open)
}

func TestAuditHub_SlowClientDropsMessages(t *testing.T) {
	hub := NewAuditHub()
	c, err := hub.Register(1, nil)
	require.NoError(t, err)

	for i := 0; i < sendBuffer; i++ {
		require.True(t, c.TrySend([]byte("x")))
	}
	assert.Equal(t, 0, hub.Broadcast([]byte("overflow")))
}

func TestAuditHub_ShutdownRejectsNewClients(t *testing.T) {
	hub := NewAuditHub()
	c, err := hub.Register(1, nil)
	require.NoError(t, err)

	require.NoError(t, hub.Shutdown(context.Background()))
	_, open := <-c.Send
	assert.False(t, open)

	_, err = hub.Register(2, nil)
	assert.ErrorIs(t, err, ErrHubFull)
}

func TestAuditHub_StartWiring(t *testing.T) {
	rdb := newRedis(t)
	n := NewNotifier(rdb)
	hub := NewAuditHub()
	c, err := hub.Register(1, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, hub.StartWiring(ctx, n))

	require.NoError(t, n.Publish(context.Background(), AuditChannel, map[string]string{"action": "revoke"}))
	select {
	case msg := <-c.Send:
		assert.JSONEq(t, `{"action":"revoke"}`, string(msg))
	case <-time.After(2 * time.Second):
		t.Fatal("audit entry not forwarded")
	}
}
