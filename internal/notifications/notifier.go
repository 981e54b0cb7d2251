// Package notifications carries row change events from writers to websocket
// subscribers through Redis pub/sub.
package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"workplace/internal/cache"
	"workplace/internal/middleware"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ChangeEvent describes one committed row change.
type ChangeEvent struct {
	Type            string              `json:"type"`
	Table           string              `json:"table"`
	Record          jsoniter.RawMessage `json:"record"`
	CommitTimestamp time.Time           `json:"commit_timestamp"`
}

func newChangeEvent(table, eventType string, record interface{}, at time.Time) (ChangeEvent, error) {
	raw, err := json.Marshal(record)
	if err != nil {
		return ChangeEvent{}, fmt.Errorf("marshal record: %w", err)
	}
	return ChangeEvent{
		Type:            eventType,
		Table:           table,
		Record:          raw,
		CommitTimestamp: at.UTC(),
	}, nil
}

// Notifier publishes change events into Redis channels.
type Notifier struct {
	rdb *redis.Client
	now func() time.Time
}

// NewNotifier creates a new Notifier instance using the provided Redis client.
func NewNotifier(rdb *redis.Client) *Notifier {
	return &Notifier{rdb: rdb, now: time.Now}
}

// PublishChange announces that record in table changed. A nil Redis client
// makes this a no-op.
func (n *Notifier) PublishChange(ctx context.Context, table, eventType string, record interface{}) error {
	if n.rdb == nil {
		return nil
	}
	event, err := newChangeEvent(table, eventType, record, n.now())
	if err != nil {
		return err
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return n.rdb.Publish(ctx, cache.ChangeChannel(table), payload).Err()
}

// StartChangeSubscriber subscribes to every change channel and calls onEvent
// for each decoded event until ctx is cancelled.
func (n *Notifier) StartChangeSubscriber(ctx context.Context, onEvent func(ChangeEvent)) error {
	if n.rdb == nil {
		return nil
	}
	sub := n.rdb.PSubscribe(ctx, cache.ChangeFeedPrefix+"*")
	// Wait for the subscription to be confirmed so publishes right after
	// startup are not lost.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe change feed: %w", err)
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
							middleware.Logger.Error("panic in change subscriber",
								slog.Any("panic", r),
								slog.String("stack", string(debug.Stack())),
							)
						}
					}()
					var event ChangeEvent
					if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
						middleware.Logger.Warn("invalid change event",
							slog.String("channel", msg.Channel),
							slog.String("error", err.Error()),
						)
						return
					}
					if event.Table == "" {
						event.Table = strings.TrimPrefix(msg.Channel, cache.ChangeFeedPrefix)
					}
					onEvent(event)
				}()
			}
		}
	}()

	return nil
}
