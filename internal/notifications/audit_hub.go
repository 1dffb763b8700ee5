package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"zalupaspb/internal/models"
	"zalupaspb/internal/observability"

	"github.com/gofiber/websocket/v2"
)

const maxFeedClients = 256

// ErrHubFull is returned when the feed has no room for another client.
var ErrHubFull = errors.New("audit feed connection limit reached")

// Authorizer reports whether userID may still read the feed.
type Authorizer func(ctx context.Context, userID uint) bool

// Admin actions after which the target's feed access is re-checked.
var accessActions = map[string]bool{
	"ban_user":    true,
	"update_role": true,
	"delete_user": true,
}

// AuditHub fans appended audit entries out to connected staff clients.
type AuditHub struct {
	mu        sync.RWMutex
	clients   map[*Client]struct{}
	closed    bool
	authorize Authorizer
}

// NewAuditHub creates an empty hub.
func NewAuditHub() *AuditHub {
	return &AuditHub{clients: make(map[*Client]struct{})}
}

// Register adds a connection for userID.
func (h *AuditHub) Register(userID uint, conn *websocket.Conn) (*Client, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed || len(h.clients) >= maxFeedClients {
		return nil, ErrHubFull
	}
	client := newClient(h, conn, userID)
	h.clients[client] = struct{}{}
	observability.AuditStreamClients.Inc()
	return client, nil
}

// UnregisterClient removes client and closes its send queue. Safe to call twice.
func (h *AuditHub) UnregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.Send)
		observability.AuditStreamClients.Dec()
	}
}

// SetAuthorizer installs the check used to drop clients whose account
// lost feed access after they connected.
func (h *AuditHub) SetAuthorizer(fn Authorizer) {
	h.mu.Lock()
	h.authorize = fn
	h.mu.Unlock()
}

// Broadcast queues payload for every client and returns how many accepted it.
// An entry that changes an account's access first re-checks that
// account's clients, so a banned or demoted reader never receives it.
func (h *AuditHub) Broadcast(payload []byte) int {
	if target, ok := accessChangeTarget(payload); ok {
		h.Revalidate(context.Background(), target)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for c := range h.clients {
		if c.TrySend(payload) {
			delivered++
		}
	}
	return delivered
}

// Revalidate drops the clients of the given accounts, or of every account
// when none are named, that no longer pass the authorizer. It returns
// how many were dropped.
func (h *AuditHub) Revalidate(ctx context.Context, userIDs ...uint) int {
	h.mu.RLock()
	authorize := h.authorize
	byUser := make(map[uint][]*Client)
	for c := range h.clients {
		byUser[c.UserID] = append(byUser[c.UserID], c)
	}
	h.mu.RUnlock()
	if authorize == nil {
		return 0
	}

	if len(userIDs) == 0 {
		for id := range byUser {
			userIDs = append(userIDs, id)
		}
	}
	dropped := 0
	for _, id := range userIDs {
		clients := byUser[id]
		if len(clients) == 0 || authorize(ctx, id) {
			continue
		}
		for _, c := range clients {
			h.UnregisterClient(c)
			dropped++
		}
	}
	return dropped
}

// StartRevalidation re-checks every client each interval until ctx is done.
// It covers access changes whose audit entry never reached this instance.
func (h *AuditHub) StartRevalidation(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Revalidate(ctx)
		}
	}
}

func accessChangeTarget(payload []byte) (uint, bool) {
	var entry struct {
		Type     models.AuditType `json:"type"`
		Action   string           `json:"action"`
		TargetID *uint            `json:"target_id"`
	}
	if err := json.Unmarshal(payload, &entry); err != nil {
		return 0, false
	}
	if entry.Type != models.AuditAdmin && entry.Type != models.AuditSystem {
		return 0, false
	}
	if !accessActions[entry.Action] || entry.TargetID == nil {
		return 0, false
	}
	return *entry.TargetID, true
}

// Count returns the number of connected clients.
func (h *AuditHub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// StartWiring forwards every message on the audit channel to the hub, so
// entries written by any instance reach every instance's clients.
func (h *AuditHub) StartWiring(ctx context.Context, n *Notifier) error {
	return n.Subscribe(ctx, func(_ string, payload string) {
		h.Broadcast([]byte(payload))
	}, AuditChannel)
}

// Shutdown closes every client queue; their write pumps then send a close frame.
func (h *AuditHub) Shutdown(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		close(c.Send)
		observability.AuditStreamClients.Dec()
	}
	h.clients = make(map[*Client]struct{})
	h.closed = true
	return nil
}
