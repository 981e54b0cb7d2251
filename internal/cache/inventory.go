package cache

import (
	"context"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"
)

const (
	ProfileTTL       = 5 * time.Minute
	WSTicketTTL      = 60 * time.Second
	ConfirmationTTL  = 24 * time.Hour
	ChangeFeedPrefix = "changes:"
)

func ProfileKey(id uuid.UUID) string {
	return "profile:" + id.String()
}

func RefreshTokenKey(token string) string {
	return "refresh:" + token
}

func BlacklistKey(jti string) string {
	return "blacklist:" + jti
}

func WSTicketKey(ticket string) string {
	return "ws_ticket:" + ticket
}

func ConfirmationKey(token string) string {
	return "confirm:" + token
}

// ChangeChannel is the pub/sub channel carrying change events for table.
func ChangeChannel(table string) string {
	return ChangeFeedPrefix + table
}

// Invalidate deletes key, ignoring a missing client.
func Invalidate(ctx context.Context, key string) {
	if client != nil {
		client.Del(ctx, key)
	}
}

// Aside reads key into dest, or calls fetch to fill dest and stores it for ttl.
// Cache errors never fail the read.
func Aside(ctx context.Context, key string, dest any, ttl time.Duration, fetch func() error) error {
	if client != nil {
		raw, err := client.Get(ctx, key).Bytes()
		if err == nil && jsoniter.Unmarshal(raw, dest) == nil {
			return nil
		}
		if err != nil && err != redis.Nil {
			client.Del(ctx, key)
		}
	}

	if err := fetch(); err != nil {
		return err
	}

	if client != nil {
		if raw, err := jsoniter.Marshal(dest); err == nil {
			client.Set(ctx, key, raw, ttl)
		}
	}
	return nil
}
