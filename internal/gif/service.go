package gif

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"workplace/internal/middleware"
	"workplace/internal/observability"

	"github.com/robfig/cron/v3"
)

const (
	TrendingTTL = 5 * time.Minute
	SearchTTL   = 10 * time.Minute

	trendingKey = "gifs:trending"
	// WarmSchedule refreshes trending results before their TTL lapses.
	WarmSchedule = "@every 5m"
)

// Service serves GIF results from cache, falling back to the provider.
type Service struct {
	provider Provider
	cache    Cache
}

func NewService(provider Provider, cache Cache) *Service {
	return &Service{provider: provider, cache: cache}
}

func searchKey(query string) string {
	return "gifs:search:" + strings.ToLower(query)
}

func (s *Service) Trending(ctx context.Context) ([]GIF, error) {
	return s.cached(ctx, "trending", trendingKey, TrendingTTL, s.provider.Trending)
}

// Search returns matches for query. A blank query returns trending results.
func (s *Service) Search(ctx context.Context, query string) ([]GIF, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return s.Trending(ctx)
	}
	return s.cached(ctx, "search", searchKey(query), SearchTTL, func(ctx context.Context) ([]GIF, error) {
		return s.provider.Search(ctx, query)
	})
}

func (s *Service) cached(ctx context.Context, endpoint, key string, ttl time.Duration, fetch func(context.Context) ([]GIF, error)) ([]GIF, error) {
	if s.cache != nil {
		if gifs, ok := s.cache.Get(ctx, key); ok {
			observability.GIFCacheLookups.WithLabelValues(endpoint, "hit").Inc()
			return gifs, nil
		}
		observability.GIFCacheLookups.WithLabelValues(endpoint, "miss").Inc()
	}

	gifs, err := fetch(ctx)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Set(ctx, key, gifs, ttl)
	}
	return gifs, nil
}

// WarmTrending refetches trending results into the cache.
func (s *Service) WarmTrending(ctx context.Context) error {
	gifs, err := s.provider.Trending(ctx)
	if err != nil {
		return err
	}
	if s.cache != nil {
		s.cache.Set(ctx, trendingKey, gifs, TrendingTTL)
	}
	return nil
}

// StartWarmer schedules WarmTrending. Stop the returned cron on shutdown.
func (s *Service) StartWarmer(schedule string) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.WarmTrending(ctx); err != nil && err != ErrNotConfigured {
			middleware.Logger.Warn("gif trending warm failed", slog.String("error", err.Error()))
		}
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	return c, nil
}
