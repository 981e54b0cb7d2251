// Package server contains HTTP and WebSocket handlers for the application's API endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"workplace/internal/config"
	"workplace/internal/database"
	"workplace/internal/featureflags"
	"workplace/internal/gif"
	"workplace/internal/middleware"
	"workplace/internal/models"
	"workplace/internal/notifications"
	"workplace/internal/repository"
	"workplace/internal/service"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
)

var (
	promOnce     sync.Once
	promInstance *fiberprometheus.FiberPrometheus
)

// prometheusMiddleware returns the process-wide fiberprometheus instance;
// its collectors can only be registered once.
func prometheusMiddleware() *fiberprometheus.FiberPrometheus {
	promOnce.Do(func() {
		promInstance = fiberprometheus.New("workplace-api")
	})
	return promInstance
}

// Server holds all dependencies and provides handlers
type Server struct {
	config         *config.Config
	db             *gorm.DB
	redis          *redis.Client
	app            *fiber.App
	promMiddleware *fiberprometheus.FiberPrometheus
	shutdownCtx    context.Context
	shutdownFn     context.CancelFunc

	notifier     *notifications.Notifier
	hub          *notifications.Hub
	featureFlags *featureflags.Manager
	gifCache     *gif.LocalCache
	gifWarmer    *cron.Cron

	authService     *service.AuthService
	profileService  *service.ProfileService
	postService     *service.PostService
	commentService  *service.CommentService
	reactionService *service.ReactionService
	gifService      *gif.Service
}

// Option customizes collaborators that tests replace.
type Option func(*deps)

type deps struct {
	mailer      service.Mailer
	gifProvider gif.Provider
	gifCache    gif.Cache
}

// WithMailer replaces the log mailer used for confirmation emails.
func WithMailer(m service.Mailer) Option {
	return func(d *deps) { d.mailer = m }
}

// WithGIFProvider replaces the Giphy client.
func WithGIFProvider(p gif.Provider) Option {
	return func(d *deps) { d.gifProvider = p }
}

// WithGIFCache replaces the in-process GIF cache.
func WithGIFCache(c gif.Cache) Option {
	return func(d *deps) { d.gifCache = c }
}

// NewServerWithDeps creates a Server from already-initialized connections.
// redisClient may be nil; Redis-backed features then degrade or answer 503.
func NewServerWithDeps(cfg *config.Config, db *gorm.DB, redisClient *redis.Client, opts ...Option) (*Server, error) {
	d := deps{}
	for _, opt := range opts {
		opt(&d)
	}

	accountRepo := repository.NewAccountRepository(db)
	profileRepo := repository.NewProfileRepository(db)
	postRepo := repository.NewPostRepository(db)
	commentRepo := repository.NewCommentRepository(db)
	reactionRepo := repository.NewReactionRepository(db)

	s := &Server{
		config:         cfg,
		db:             db,
		redis:          redisClient,
		promMiddleware: prometheusMiddleware(),
		notifier:       notifications.NewNotifier(redisClient),
		hub:            notifications.NewHub(),
		featureFlags:   featureflags.NewManager(cfg.FeatureFlags),
	}

	if d.gifProvider == nil {
		d.gifProvider = gif.NewGiphyClient(cfg.GiphyBaseURL, cfg.GiphyAPIKey)
	}
	if d.gifCache == nil {
		localCache, err := gif.NewLocalCache()
		if err != nil {
			return nil, fmt.Errorf("gif cache: %w", err)
		}
		s.gifCache = localCache
		d.gifCache = localCache
	}

	s.authService = service.NewAuthService(accountRepo, profileRepo, redisClient, cfg, d.mailer)
	s.profileService = service.NewProfileService(profileRepo)
	s.postService = service.NewPostService(postRepo, s.changePublisher())
	s.commentService = service.NewCommentService(commentRepo, postRepo, s.changePublisher())
	s.reactionService = service.NewReactionService(reactionRepo, postRepo)
	s.gifService = gif.NewService(d.gifProvider, d.gifCache)

	return s, nil
}

// App builds a fiber app with middleware and routes installed.
func (s *Server) App() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:     "Workplace API",
		BodyLimit:   2 * 1024 * 1024,
		JSONEncoder: jsoniter.Marshal,
		JSONDecoder: jsoniter.Unmarshal,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			var fe *fiber.Error
			if errors.As(err, &fe) {
				return c.Status(fe.Code).JSON(models.ErrorResponse{Error: fe.Message})
			}
			middleware.Logger.ErrorContext(c.UserContext(), "unhandled error", slog.String("error", err.Error()))
			return models.RespondWithError(c, fiber.StatusInternalServerError, models.NewInternalError(err))
		},
	})
	s.SetupMiddleware(app)
	s.SetupRoutes(app)
	return app
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(middleware.TracingMiddleware())
	app.Use(middleware.ContextMiddleware())

	if s.promMiddleware != nil {
		app.Use(s.promMiddleware.Middleware)
	}

	app.Use(helmet.New())
	app.Use(middleware.StructuredLogger())

	// CORS runs before the limiter so rejected requests still carry CORS headers.
	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:5173,http://localhost:3000"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version",
		AllowMethods:     "GET,POST,PUT,PATCH,DELETE,OPTIONS",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	app.Use(limiter.New(limiter.Config{
		Max:        300,
		Expiration: time.Minute,
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests, please try again later.",
			})
		},
	}))
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)

	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}
	if !s.config.IsProduction() {
		app.Get("/monitor", monitor.New(monitor.Config{Title: "Workplace API"}))
	}

	api := app.Group("/api")
	authRequired := middleware.AuthRequired(s.authService)

	auth := api.Group("/auth")
	auth.Post("/signup", middleware.RateLimit(s.redis, 5, 10*time.Minute, "signup", middleware.FailOpen), s.SignUp)
	auth.Get("/confirm", s.ConfirmEmail)
	auth.Post("/login", middleware.RateLimit(s.redis, 10, 5*time.Minute, "login", middleware.FailOpen), s.Login)
	auth.Post("/refresh", s.Refresh)
	auth.Post("/logout", authRequired, s.Logout)
	auth.Get("/session", authRequired, s.GetSession)

	protected := api.Group("", authRequired)

	protected.Get("/feature-flags", s.GetFeatureFlags)

	profiles := protected.Group("/profiles")
	profiles.Get("/", s.ListProfiles)
	profiles.Get("/me", s.GetMyProfile)
	profiles.Patch("/me", s.UpdateMyProfile)
	profiles.Get("/:id", s.GetProfile)

	posts := protected.Group("/posts")
	posts.Get("/", s.ListPosts)
	posts.Post("/", middleware.RateLimit(s.redis, 10, time.Minute, "create_post", middleware.FailOpen), s.CreatePost)
	// Specific /:id/<resource> routes before the generic /:id routes.
	posts.Get("/:id/comments", s.ListComments)
	posts.Post("/:id/comments", middleware.RateLimit(s.redis, 20, time.Minute, "create_comment", middleware.FailOpen), s.CreateComment)
	posts.Get("/:id/reactions", s.ListReactions)
	posts.Put("/:id/reactions", s.SetReaction)
	posts.Delete("/:id/reactions", s.RemoveReaction)
	posts.Post("/:id/reactions/toggle", s.ToggleReaction)
	posts.Get("/:id", s.GetPost)
	posts.Patch("/:id", s.UpdatePost)
	posts.Delete("/:id", s.DeletePost)

	comments := protected.Group("/comments")
	comments.Patch("/:id", s.UpdateComment)
	comments.Delete("/:id", s.DeleteComment)

	gifs := protected.Group("/gifs", s.featureGate(featureflags.GIFs))
	gifs.Get("/trending", s.TrendingGIFs)
	gifs.Get("/search", middleware.RateLimit(s.redis, 30, time.Minute, "gif_search", middleware.FailOpen), s.SearchGIFs)

	api.Post("/ws/ticket", authRequired, s.featureGate(featureflags.Realtime), s.IssueWSTicket)
	api.Get("/realtime", s.RealtimeTicketRequired(), s.RealtimeHandler())
}

// LivenessCheck handles liveness probe requests
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now(),
	})
}

// ReadinessCheck reports database and Redis health.
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	dbStatus := "healthy"
	if err := database.Ping(ctx, s.db); err != nil {
		dbStatus = "unhealthy"
	}

	redisStatus := "healthy"
	if s.redis == nil {
		redisStatus = "unavailable"
	} else if err := s.redis.Ping(ctx).Err(); err != nil {
		redisStatus = "unhealthy"
	}

	status := fiber.StatusOK
	overall := "healthy"
	if dbStatus != "healthy" || redisStatus == "unhealthy" {
		status = fiber.StatusServiceUnavailable
		overall = "unhealthy"
	}

	return c.Status(status).JSON(fiber.Map{
		"status": overall,
		"checks": fiber.Map{
			"database": dbStatus,
			"redis":    redisStatus,
		},
		"realtime_connections": s.hub.Count(),
		"time":                 time.Now(),
	})
}

// Start listens on the configured port and serves until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", ":"+s.config.Port)
	if err != nil {
		return fmt.Errorf("listen on port %s: %w", s.config.Port, err)
	}
	return s.Serve(ln)
}

// Serve wires background workers and serves HTTP on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	ctx, cancel := context.WithCancel(context.Background())
	s.shutdownCtx = ctx
	s.shutdownFn = cancel

	s.app = s.App()

	if s.redis != nil {
		if err := s.hub.StartWiring(s.shutdownCtx, s.notifier); err != nil {
			middleware.Logger.Error("failed to start change feed wiring", slog.String("error", err.Error()))
		}
	}

	if s.config.GiphyAPIKey != "" {
		warmer, err := s.gifService.StartWarmer(gif.WarmSchedule)
		if err != nil {
			middleware.Logger.Error("failed to schedule gif warmer", slog.String("error", err.Error()))
		}
		s.gifWarmer = warmer
	}

	middleware.Logger.Info("Server starting", slog.String("addr", ln.Addr().String()))
	return s.app.Listener(ln)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.shutdownFn != nil {
		s.shutdownFn()
	}
	if s.gifWarmer != nil {
		<-s.gifWarmer.Stop().Done()
	}

	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			middleware.Logger.Error("error shutting down HTTP server", slog.String("error", err.Error()))
		}
	}

	if err := s.hub.Shutdown(ctx); err != nil {
		middleware.Logger.Error("error shutting down realtime hub", slog.String("error", err.Error()))
	}
	if s.gifCache != nil {
		s.gifCache.Close()
	}

	if sqlDB, err := s.db.DB(); err == nil {
		if cerr := sqlDB.Close(); cerr != nil {
			middleware.Logger.Error("error closing sql DB", slog.String("error", cerr.Error()))
		}
	}
	if s.redis != nil {
		if rerr := s.redis.Close(); rerr != nil {
			middleware.Logger.Error("error closing redis", slog.String("error", rerr.Error()))
		}
	}

	middleware.Logger.Info("Server shutdown complete")
	return nil
}
