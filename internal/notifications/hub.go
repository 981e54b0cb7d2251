package notifications

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"workplace/internal/middleware"
	"workplace/internal/observability"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

const (
	// Max connections per user
	maxConnsPerUser = 12
	// Max total connections
	maxTotalConns = 10000
)

var (
	ErrServerFull = errors.New("server connection limit reached")
	ErrUserFull   = errors.New("user connection limit reached")
)

// Hub tracks change-feed clients and fans change events out to those
// subscribed to them.
type Hub struct {
	mu         sync.RWMutex
	conns      map[uuid.UUID]map[*Client]struct{}
	totalConns int
}

func NewHub() *Hub {
	return &Hub{conns: make(map[uuid.UUID]map[*Client]struct{})}
}

// Register adds a connection for userID, enforcing connection limits.
func (h *Hub) Register(userID uuid.UUID, conn *websocket.Conn) (*Client, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.totalConns >= maxTotalConns {
		return nil, ErrServerFull
	}
	m, ok := h.conns[userID]
	if !ok {
		m = make(map[*Client]struct{})
		h.conns[userID] = m
	}
	if len(m) >= maxConnsPerUser {
		return nil, ErrUserFull
	}

	client := newClient(h, conn, userID)
	m[client] = struct{}{}
	h.totalConns++
	observability.RealtimeConnections.Inc()
	return client, nil
}

// Unregister removes the client and closes its send channel. Safe to call twice.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	removed := false
	if m, ok := h.conns[client.UserID]; ok {
		if _, exists := m[client]; exists {
			delete(m, client)
			h.totalConns--
			removed = true
		}
		if len(m) == 0 {
			delete(h.conns, client.UserID)
		}
	}
	h.mu.Unlock()

	if removed {
		observability.RealtimeConnections.Dec()
		client.close()
	}
}

// Count returns the number of registered clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.totalConns
}

// Dispatch sends event to every client subscribed to its table and type and
// returns how many clients it was queued for.
func (h *Hub) Dispatch(event ChangeEvent) int {
	data, err := json.Marshal(serverMessage{Type: "change", Payload: event})
	if err != nil {
		middleware.Logger.Error("failed to marshal change event", slog.String("error", err.Error()))
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for _, clients := range h.conns {
		for c := range clients {
			if c.Wants(event.Table, event.Type) && c.TrySend(data) {
				delivered++
			}
		}
	}
	observability.RealtimeEvents.WithLabelValues(event.Table, event.Type).Inc()
	return delivered
}

// PublishChange dispatches a change straight to local clients. It serves
// single-process deployments that run without Redis.
func (h *Hub) PublishChange(_ context.Context, table, eventType string, record interface{}) error {
	event, err := newChangeEvent(table, eventType, record, time.Now())
	if err != nil {
		return err
	}
	h.Dispatch(event)
	return nil
}

// StartWiring forwards every event the notifier receives to subscribed clients.
func (h *Hub) StartWiring(ctx context.Context, n *Notifier) error {
	return n.StartChangeSubscriber(ctx, func(event ChangeEvent) {
		h.Dispatch(event)
	})
}

// Shutdown closes all websocket connections.
func (h *Hub) Shutdown(_ context.Context) error {
	h.mu.Lock()
	clients := make([]*Client, 0, h.totalConns)
	for _, userConns := range h.conns {
		for client := range userConns {
			clients = append(clients, client)
		}
	}
	h.mu.Unlock()

	for _, client := range clients {
		if client.Conn != nil {
			if err := client.Conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "Server shutting down")); err != nil {
				middleware.Logger.Warn("failed to write close message",
					slog.String("user_id", client.UserID.String()),
					slog.String("error", err.Error()),
				)
			}
		}
		h.Unregister(client)
	}
	return nil
}
