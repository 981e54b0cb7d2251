package workplace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
)

const (
	writeWait  = 10 * time.Second
	ackTimeout = 10 * time.Second
)

// ErrFeedClosed is returned to subscribers waiting on a socket that went away.
var ErrFeedClosed = errors.New("workplace: change feed closed")

type subKey struct {
	Table string `json:"table"`
	Event string `json:"event"`
}

func newSubKey(table, event string) subKey {
	k := subKey{
		Table: strings.ToLower(strings.TrimSpace(table)),
		Event: strings.ToUpper(strings.TrimSpace(event)),
	}
	if k.Event == "" {
		k.Event = EventAny
	}
	return k
}

type feedMessage struct {
	Action string `json:"action"`
	subKey
}

type feedFrame struct {
	Type    string              `json:"type"`
	Payload jsoniter.RawMessage `json:"payload"`
}

type pendingAck struct {
	key subKey
	ch  chan error
}

// changeFeed multiplexes every subscription over one websocket. The socket
// is opened on the first subscription and closed after the last one goes.
// A dropped socket is not redialed; the next Subscribe opens a new one.
type changeFeed struct {
	backend *HTTPBackend

	connectMu sync.Mutex
	writeMu   sync.Mutex

	mu       sync.Mutex
	conn     *websocket.Conn
	handlers map[subKey]map[int]func(ChangeEvent)
	nextID   int
	pending  []pendingAck

	lost listeners[error]
}

func newChangeFeed(b *HTTPBackend) *changeFeed {
	return &changeFeed{backend: b, handlers: make(map[subKey]map[int]func(ChangeEvent))}
}

type feedSubscription struct {
	once sync.Once
	fn   func()
}

func (s *feedSubscription) Unsubscribe() { s.once.Do(s.fn) }

func (f *changeFeed) subscribe(ctx context.Context, table, eventType string, handler func(ChangeEvent)) (Subscription, error) {
	key := newSubKey(table, eventType)
	conn, err := f.connection(ctx)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	if f.conn != conn {
		f.mu.Unlock()
		return nil, ErrFeedClosed
	}
	id := f.nextID
	f.nextID++
	group, known := f.handlers[key]
	if !known {
		group = make(map[int]func(ChangeEvent))
		f.handlers[key] = group
	}
	group[id] = handler
	var ack chan error
	if !known {
		ack = make(chan error, 1)
		f.pending = append(f.pending, pendingAck{key: key, ch: ack})
	}
	f.mu.Unlock()

	sub := &feedSubscription{fn: func() { f.unsubscribe(conn, key, id) }}
	if known {
		return sub, nil
	}

	if err := f.write(conn, feedMessage{Action: "subscribe", subKey: key}); err != nil {
		sub.Unsubscribe()
		return nil, err
	}

	timer := time.NewTimer(ackTimeout)
	defer timer.Stop()
	select {
	case err := <-ack:
		if err != nil {
			sub.Unsubscribe()
			return nil, err
		}
		return sub, nil
	case <-timer.C:
		sub.Unsubscribe()
		return nil, fmt.Errorf("subscribe %s %s: no acknowledgement", key.Table, key.Event)
	case <-ctx.Done():
		sub.Unsubscribe()
		return nil, ctx.Err()
	}
}

func (f *changeFeed) unsubscribe(conn *websocket.Conn, key subKey, id int) {
	f.mu.Lock()
	if f.conn != conn {
		f.mu.Unlock()
		return
	}
	group := f.handlers[key]
	delete(group, id)
	last := len(group) == 0
	if last {
		delete(f.handlers, key)
	}
	idle := len(f.handlers) == 0
	f.mu.Unlock()

	if last {
		_ = f.write(conn, feedMessage{Action: "unsubscribe", subKey: key})
	}
	if idle {
		f.drop(conn, nil)
	}
}

// connection returns the open socket, dialing with a fresh ticket if needed.
func (f *changeFeed) connection(ctx context.Context) (*websocket.Conn, error) {
	f.connectMu.Lock()
	defer f.connectMu.Unlock()

	f.mu.Lock()
	conn := f.conn
	f.mu.Unlock()
	if conn != nil {
		return conn, nil
	}

	var ticket struct {
		Ticket string `json:"ticket"`
	}
	err := f.backend.do(ctx, request{method: http.MethodPost, path: "/api/ws/ticket", out: &ticket, authed: true})
	if err != nil {
		return nil, fmt.Errorf("realtime ticket: %w", err)
	}

	target := *f.backend.baseURL
	switch target.Scheme {
	case "https":
		target.Scheme = "wss"
	default:
		target.Scheme = "ws"
	}
	target.Path = strings.TrimRight(target.Path, "/") + "/api/realtime"
	target.RawQuery = url.Values{"ticket": {ticket.Ticket}}.Encode()

	conn, resp, err := f.backend.dialer.DialContext(ctx, target.String(), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial realtime: %w", err)
	}

	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()
	go f.readLoop(conn)
	return conn, nil
}

func (f *changeFeed) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				f.backend.logger.Warn("change feed disconnected", slog.String("error", err.Error()))
			}
			f.drop(conn, fmt.Errorf("%w: %w", ErrFeedClosed, err))
			return
		}

		var frame feedFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			f.backend.logger.Warn("ignoring malformed change feed frame", slog.String("error", err.Error()))
			continue
		}
		switch frame.Type {
		case "change":
			var ev ChangeEvent
			if err := json.Unmarshal(frame.Payload, &ev); err != nil {
				continue
			}
			f.dispatch(ev)
		case "subscribed":
			var key subKey
			if err := json.Unmarshal(frame.Payload, &key); err == nil {
				f.ack(&key, nil)
			}
		case "error":
			var body struct {
				Message string `json:"message"`
			}
			_ = json.Unmarshal(frame.Payload, &body)
			f.ack(nil, errors.New(body.Message))
		}
	}
}

// ack resolves the oldest pending subscribe for key, or the oldest of all
// when the server's error does not say which one failed.
func (f *changeFeed) ack(key *subKey, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, p := range f.pending {
		if key == nil || p.key == *key {
			f.pending = append(f.pending[:i], f.pending[i+1:]...)
			p.ch <- err
			return
		}
	}
}

func (f *changeFeed) dispatch(ev ChangeEvent) {
	f.mu.Lock()
	var targets []func(ChangeEvent)
	for _, key := range []subKey{newSubKey(ev.Table, ev.Type), newSubKey(ev.Table, EventAny)} {
		for _, h := range f.handlers[key] {
			targets = append(targets, h)
		}
		if key.Event == EventAny {
			break
		}
	}
	f.mu.Unlock()

	for _, h := range targets {
		h(ev)
	}
}

func (f *changeFeed) write(conn *websocket.Conn, msg feedMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// drop closes conn and forgets its subscriptions. A non-nil cause means the
// socket went away on its own; live subscribers are told through lost.
func (f *changeFeed) drop(conn *websocket.Conn, cause error) {
	f.mu.Lock()
	if f.conn != conn {
		f.mu.Unlock()
		return
	}
	f.conn = nil
	live := len(f.handlers) > 0
	f.handlers = make(map[subKey]map[int]func(ChangeEvent))
	pending := f.pending
	f.pending = nil
	f.mu.Unlock()

	for _, p := range pending {
		p.ch <- ErrFeedClosed
	}
	if cause != nil && live {
		f.lost.emit(cause)
	}
	f.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	f.writeMu.Unlock()
	_ = conn.Close()
}

func (f *changeFeed) close() {
	f.mu.Lock()
	conn := f.conn
	f.mu.Unlock()
	if conn != nil {
		f.drop(conn, nil)
	}
}
