package notifications

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"workplace/internal/middleware"
	"workplace/internal/observability"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096

	sendBuffer = 256
)

// Subscribable tables and the wildcard event.
var subscribableTables = map[string]bool{
	"posts":     true,
	"comments":  true,
	"reactions": true,
	"profiles":  true,
}

const AnyEvent = "*"

var knownEvents = map[string]bool{
	"INSERT": true,
	"UPDATE": true,
	"DELETE": true,
	AnyEvent: true,
}

// Subscription selects change events by table and event type.
type Subscription struct {
	Table string `json:"table"`
	Event string `json:"event"`
}

// Normalize upper-cases the event and defaults it to AnyEvent.
func (s Subscription) Normalize() Subscription {
	s.Table = strings.ToLower(strings.TrimSpace(s.Table))
	s.Event = strings.ToUpper(strings.TrimSpace(s.Event))
	if s.Event == "" {
		s.Event = AnyEvent
	}
	return s
}

func (s Subscription) Valid() bool {
	return subscribableTables[s.Table] && knownEvents[s.Event]
}

// Client is the middleman between one change-feed websocket and the hub.
type Client struct {
	hub *Hub

	// The websocket connection. Nil in tests.
	Conn *websocket.Conn

	// Buffered channel of outbound messages.
	Send chan []byte

	UserID uuid.UUID

	mu     sync.RWMutex
	subs   map[Subscription]struct{}
	closed bool
}

func newClient(hub *Hub, conn *websocket.Conn, userID uuid.UUID) *Client {
	return &Client{
		hub:    hub,
		Conn:   conn,
		UserID: userID,
		Send:   make(chan []byte, sendBuffer),
		subs:   make(map[Subscription]struct{}),
	}
}

func (c *Client) Subscribe(sub Subscription) {
	c.mu.Lock()
	c.subs[sub] = struct{}{}
	c.mu.Unlock()
}

func (c *Client) Unsubscribe(sub Subscription) {
	c.mu.Lock()
	delete(c.subs, sub)
	c.mu.Unlock()
}

// Wants reports whether the client subscribed to events of this kind.
func (c *Client) Wants(table, eventType string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.subs[Subscription{Table: table, Event: eventType}]; ok {
		return true
	}
	_, ok := c.subs[Subscription{Table: table, Event: AnyEvent}]
	return ok
}

// clientMessage is what a subscriber sends over the socket.
type clientMessage struct {
	Action string `json:"action"`
	Subscription
}

// serverMessage is what the hub sends to a subscriber.
type serverMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

func (c *Client) reply(kind string, payload interface{}) {
	data, err := json.Marshal(serverMessage{Type: kind, Payload: payload})
	if err != nil {
		return
	}
	c.TrySend(data)
}

// HandleMessage applies a subscribe or unsubscribe request.
func (c *Client) HandleMessage(message []byte) {
	var msg clientMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.reply("error", map[string]string{"message": "invalid message"})
		return
	}
	sub := msg.Subscription.Normalize()

	switch msg.Action {
	case "subscribe":
		if !sub.Valid() {
			c.reply("error", map[string]string{"message": "unknown table or event"})
			return
		}
		c.Subscribe(sub)
		c.reply("subscribed", sub)
	case "unsubscribe":
		c.Unsubscribe(sub)
		c.reply("unsubscribed", sub)
	case "ping":
		c.reply("pong", nil)
	default:
		c.reply("error", map[string]string{"message": "unknown action"})
	}
}

// ReadPump reads subscription requests until the connection closes.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error { _ = c.Conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				middleware.Logger.Warn("change feed read error",
					slog.String("user_id", c.UserID.String()),
					slog.String("error", err.Error()),
				)
			}
			return
		}
		c.HandleMessage(message)
	}
}

// WritePump writes queued messages and keepalive pings to the connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// TrySend queues message without blocking; a full buffer drops it.
func (c *Client) TrySend(message []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}

	select {
	case c.Send <- message:
		return true
	default:
		observability.RealtimeDrops.Inc()
		middleware.Logger.Warn("change feed buffer full, dropped message",
			slog.String("user_id", c.UserID.String()),
		)
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}
