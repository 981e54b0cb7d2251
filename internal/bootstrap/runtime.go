// Package bootstrap wires the process-wide dependencies shared by the
// command-line entry points.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"workplace/internal/cache"
	"workplace/internal/config"
	"workplace/internal/database"
	"workplace/internal/middleware"
	"workplace/internal/observability"
	"workplace/internal/seed"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Options control runtime initialization behavior.
type Options struct {
	// SeedDemoData applies the bundled demo fixture after connecting.
	// Ignored in production.
	SeedDemoData bool
	// Tracing installs the OpenTelemetry provider.
	Tracing bool
}

// Runtime holds the connections a command needs.
type Runtime struct {
	DB    *gorm.DB
	Redis *redis.Client

	shutdownTracing func(context.Context) error
}

// InitRuntime connects to the database and Redis and optionally seeds demo data.
// Redis may be nil when unreachable.
func InitRuntime(ctx context.Context, cfg *config.Config, opts Options) (*Runtime, error) {
	rt := &Runtime{shutdownTracing: func(context.Context) error { return nil }}

	if opts.Tracing {
		shutdown, err := observability.InitTracing(TracingConfig(cfg))
		if err != nil {
			return nil, fmt.Errorf("tracing init failed: %w", err)
		}
		rt.shutdownTracing = shutdown
	}

	db, err := database.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	rt.DB = db
	rt.Redis = cache.InitRedis(cfg.RedisURL)

	if opts.SeedDemoData && !cfg.IsProduction() {
		if err := seedDemo(ctx, db); err != nil {
			return nil, fmt.Errorf("failed to seed demo data: %w", err)
		}
	}
	return rt, nil
}

// Close flushes traces. Database and Redis are owned by whoever consumes them.
func (rt *Runtime) Close(ctx context.Context) error {
	return rt.shutdownTracing(ctx)
}

// TracingConfig derives tracer settings from the app config: OTLP when an
// endpoint is configured, stdout in development, disabled otherwise.
func TracingConfig(cfg *config.Config) observability.TracingConfig {
	tc := observability.TracingConfig{
		ServiceName:    "workplace-api",
		ServiceVersion: "1.0.0",
		Environment:    cfg.Env,
		SamplerRatio:   1.0,
	}
	switch {
	case cfg.OTLPEndpoint != "":
		tc.Enabled = true
		tc.Exporter = "otlp"
		tc.OTLPEndpoint = cfg.OTLPEndpoint
		if cfg.IsProduction() {
			tc.SamplerRatio = 0.1
		}
	case cfg.Env == "development":
		tc.Enabled = true
		tc.Exporter = "stdout"
	}
	return tc
}

func seedDemo(ctx context.Context, db *gorm.DB) error {
	fx, err := seed.DefaultFixture()
	if err != nil {
		return err
	}

	var existing int64
	if err := db.WithContext(ctx).Table("accounts").Where("email = ?", fx.Email(fx.Accounts[0].Handle)).Count(&existing).Error; err != nil {
		return err
	}
	if existing > 0 {
		return nil
	}

	res, err := seed.NewSeeder(db, fx.Domain).ApplyFixture(ctx, fx)
	if err != nil {
		return err
	}
	middleware.Logger.InfoContext(ctx, "demo organisation provisioned",
		slog.Int("accounts", res.Accounts),
		slog.String("password", seed.DemoPassword),
	)
	return nil
}
