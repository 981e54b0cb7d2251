package gif

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/eko/gocache/lib/v4/cache"
	"github.com/eko/gocache/lib/v4/marshaler"
	"github.com/eko/gocache/lib/v4/store"
	ristretto_store "github.com/eko/gocache/store/ristretto/v4"
)

// Cache stores result lists by key.
type Cache interface {
	Get(ctx context.Context, key string) ([]GIF, bool)
	Set(ctx context.Context, key string, gifs []GIF, ttl time.Duration)
}

// LocalCache is an in-process Cache backed by ristretto.
type LocalCache struct {
	client  *ristretto.Cache
	marshal *marshaler.Marshaler
}

func NewLocalCache() (*LocalCache, error) {
	client, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     1_000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	manager := cache.New[any](ristretto_store.NewRistretto(client))
	return &LocalCache{client: client, marshal: marshaler.New(manager)}, nil
}

type cachedResults struct {
	GIFs []GIF `msgpack:"gifs"`
}

func (c *LocalCache) Get(ctx context.Context, key string) ([]GIF, bool) {
	value, err := c.marshal.Get(ctx, key, new(cachedResults))
	if err != nil {
		return nil, false
	}
	results, ok := value.(*cachedResults)
	if !ok {
		return nil, false
	}
	return results.GIFs, true
}

// Set stores gifs and waits for ristretto to apply the write, so a Get right
// after Set observes it.
func (c *LocalCache) Set(ctx context.Context, key string, gifs []GIF, ttl time.Duration) {
	err := c.marshal.Set(ctx, key, cachedResults{GIFs: gifs},
		store.WithExpiration(ttl),
		store.WithCost(1),
	)
	if err == nil {
		c.client.Wait()
	}
}

func (c *LocalCache) Close() {
	c.client.Close()
}
