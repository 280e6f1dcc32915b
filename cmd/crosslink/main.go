package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/limiter"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/crosslink-chat/crosslink-server/internal/analytics"
	"github.com/crosslink-chat/crosslink-server/internal/api"
	"github.com/crosslink-chat/crosslink-server/internal/auth"
	"github.com/crosslink-chat/crosslink-server/internal/ban"
	"github.com/crosslink-chat/crosslink-server/internal/cache"
	"github.com/crosslink-chat/crosslink-server/internal/config"
	"github.com/crosslink-chat/crosslink-server/internal/httputil"
	"github.com/crosslink-chat/crosslink-server/internal/livepush"
	"github.com/crosslink-chat/crosslink-server/internal/messagelog"
	"github.com/crosslink-chat/crosslink-server/internal/platform"
	"github.com/crosslink-chat/crosslink-server/internal/postgres"
	"github.com/crosslink-chat/crosslink-server/internal/relay"
	"github.com/crosslink-chat/crosslink-server/internal/resolver"
	"github.com/crosslink-chat/crosslink-server/internal/room"
	"github.com/crosslink-chat/crosslink-server/internal/subscription"
	"github.com/crosslink-chat/crosslink-server/internal/valkey"
)

func main() {
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if level, lErr := zerolog.ParseLevel(cfg.LogLevel); lErr == nil {
		zerolog.SetGlobalLevel(level)
	}
	if cfg.Debug {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
			With().Timestamp().Logger()
	}

	log.Info().Msg("Starting Crosslink Server")

	if cfg.AllowedOrigins == "*" {
		log.Warn().Msg("ALLOWED_ORIGINS is set to a wildcard \"*\". Set an explicit origin for production deployments.")
	}

	ctx := context.Background()

	// Connect PostgreSQL
	db, err := postgres.Connect(ctx, cfg.StoreURL, cfg.MaxStoreConns(), cfg.StorePoolSize)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()
	log.Info().Msg("PostgreSQL connected")

	// Run migrations
	if err := postgres.Migrate(cfg.StoreURL); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	log.Info().Msg("Database migrations complete")

	// Connect Valkey
	rdb, err := valkey.Connect(ctx, cfg.CacheURL, cfg.CachePoolMax)
	if err != nil {
		return fmt.Errorf("connect valkey: %w", err)
	}
	defer rdb.Close()
	log.Info().Msg("Valkey connected")

	cacheStore := cache.New(rdb)

	// Repositories
	roomRepo := room.NewPGRepository(db, log.Logger)
	subRepo := subscription.NewPGRepository(db, log.Logger)
	banRepo := ban.NewPGRepository(db, log.Logger)
	logRepo := messagelog.NewPGRepository(db, log.Logger)
	userRepo := auth.NewPGRepository(db, log.Logger)

	// Seed the root admin account on first boot.
	if err := auth.Bootstrap(ctx, userRepo, cfg.AdminUsername, cfg.AdminPassword, log.Logger); err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}

	// Start the cache invalidation subscriber with reconnection.
	subCtx, subCancel := context.WithCancel(ctx)
	defer subCancel()
	invalidateSub := cache.NewSubscriber(cacheStore, rdb)
	go runWithReconnect(subCtx, "Cache invalidation subscriber", invalidateSub.Run)

	// Relay pipeline
	client := platform.NewRESTClient(cfg.PlatformAPIURL, cfg.PlatformToken, cfg.PlatformTimeout, log.Logger)
	writer := messagelog.NewWriter(logRepo, log.Logger, cfg.IngestQueueSize, cfg.LogWriterBatch, cfg.LogWriterFlush)
	go writer.Run()

	pushPub := livepush.NewPublisher(rdb, log.Logger)
	snapshots := resolver.New(cacheStore, roomRepo, subRepo, banRepo, log.Logger)
	engine := relay.NewEngine(client, subRepo, pushPub, cache.NewPublisher(rdb), log.Logger, cfg.FanoutPerRoomConcurrency, cfg.FanoutRetryMax)

	coordinator := relay.NewCoordinator(relay.CoordinatorParams{
		Resolver: snapshots,
		Limiter:  relay.NewRateLimiter(cacheStore),
		Filter:   relay.NewFilter(),
		Replies:  relay.NewReplyResolver(logRepo, client, log.Logger),
		Engine:   engine,
		Cache:    cacheStore,
		Writer:   writer,
		Subs:     subRepo,
		Client:   client,
		Events:   pushPub,
		Logger:   log.Logger,
	}, cfg.IngestQueueSize)
	coordinator.Start(cfg.IngestWorkers)

	// Admin plane
	authService := auth.NewService(userRepo, cacheStore, cfg, log.Logger)
	analyticsService := analytics.NewService(roomRepo, subRepo, logRepo, cacheStore, coordinator, db, rdb, log.Logger)
	hub := livepush.NewHub(rdb, authService, analyticsService, cfg.LiveStatsInterval, log.Logger)
	go runWithReconnect(subCtx, "Live push hub", hub.Run)

	// Create Fiber app
	app := fiber.New(fiber.Config{
		AppName: "Crosslink",
		// ErrorHandler catches errors returned by handlers that are not already mapped to structured API responses
		// (e.g. Fiber's built-in 404/405). errors.AsType is a generic helper added in Go 1.26.
		ErrorHandler: func(c fiber.Ctx, err error) error {
			status := fiber.StatusInternalServerError
			message := "An internal error occurred"
			code := httputil.CodeInternal
			if e, ok := errors.AsType[*fiber.Error](err); ok {
				status = e.Code
				message = e.Message
				code = fiberStatusToCode(e.Code)
			} else {
				log.Error().Err(err).
					Str("method", c.Method()).
					Str("path", c.Path()).
					Msg("Unhandled error")
			}
			return httputil.Fail(c, status, code, message)
		},
	})

	// Global middleware
	app.Use(requestid.New())
	app.Use(httputil.RequestLogger(log.Logger))
	app.Use(cors.New(cors.Config{
		AllowOrigins:  cfg.CORSOrigins(),
		AllowMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"X-Request-ID"},
	}))

	// Per-caller API rate limiter: authenticated callers are keyed by token, anonymous ones by IP.
	app.Use(limiter.New(limiter.Config{
		Max:        cfg.RateLimitRequests,
		Expiration: time.Duration(cfg.RateLimitWindowSec) * time.Second,
		KeyGenerator: func(c fiber.Ctx) string {
			if token, ok := auth.BearerToken(c); ok {
				return token
			}
			return c.IP()
		},
	}))

	registerRoutes(app, cfg, handlers{
		auth:      api.NewAuthHandler(authService, log.Logger),
		rooms:     api.NewRoomHandler(roomRepo, subRepo, logRepo, cache.NewPublisher(rdb), pushPub, log.Logger),
		servers:   api.NewServerHandler(subRepo, logRepo, cache.NewPublisher(rdb), log.Logger),
		bans:      api.NewBanHandler(banRepo, cache.NewPublisher(rdb), pushPub, log.Logger),
		analytics: api.NewAnalyticsHandler(analyticsService, log.Logger),
		status:    api.NewStatusHandler(cfg, coordinator, hub),
		ingest:    api.NewIngestHandler(coordinator, cfg.PlatformToken, log.Logger),
		livepush:  api.NewLivePushHandler(hub),
	}, authService)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info().Msg("Shutting down server")
		_ = app.ShutdownWithTimeout(10 * time.Second)
	}()

	addr := fmt.Sprintf(":%d", cfg.ServerPort)
	log.Info().Str("addr", addr).Msg("Server listening")
	if err := app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	// HTTP intake is closed; drain the relay pipeline, then drop the push and invalidation subscriptions.
	coordinator.Shutdown(cfg.ShutdownDrain)
	hub.Shutdown()
	subCancel()
	log.Info().Msg("Shutdown complete")

	return nil
}

type handlers struct {
	auth      *api.AuthHandler
	rooms     *api.RoomHandler
	servers   *api.ServerHandler
	bans      *api.BanHandler
	analytics *api.AnalyticsHandler
	status    *api.StatusHandler
	ingest    *api.IngestHandler
	livepush  *api.LivePushHandler
}

func registerRoutes(app *fiber.App, cfg *config.Config, h handlers, authService *auth.Service) {
	// Public surface
	app.Get("/api/status", h.status.Status)
	app.Post("/api/ingest", h.ingest.Ingest)
	app.Get("/ws", h.livepush.Upgrade)

	// Auth routes; logout and refresh validate the presented token themselves.
	authGroup := app.Group("/api/auth")
	authGroup.Post("/login", h.auth.Login)
	authGroup.Post("/logout", h.auth.Logout)
	authGroup.Post("/refresh", h.auth.Refresh)
	authGroup.Get("/me", h.auth.Me, auth.RequireAuth(authService))

	protected := app.Group("/api", auth.RequireAuth(authService))

	protected.Get("/info", h.status.Info)

	rooms := protected.Group("/rooms")
	rooms.Get("/", h.rooms.List)
	rooms.Post("/", h.rooms.Create)
	rooms.Get("/:roomID", h.rooms.Get)
	rooms.Put("/:roomID", h.rooms.Update)
	rooms.Delete("/:roomID", h.rooms.Delete)
	rooms.Get("/:roomID/permissions", h.rooms.GetPermissions)
	rooms.Put("/:roomID/permissions", h.rooms.UpdatePermissions)
	rooms.Get("/:roomID/channels", h.rooms.ListChannels)
	rooms.Post("/:roomID/channels", h.rooms.RegisterChannel)
	rooms.Delete("/:roomID/channels/:guildID/:channelID", h.rooms.UnregisterChannel)
	rooms.Get("/:roomID/messages", h.rooms.Messages)

	servers := protected.Group("/servers")
	servers.Post("/bulk/refresh-cache", h.servers.RefreshCache)
	servers.Get("/bans", h.bans.List)
	servers.Post("/bans", h.bans.Create)
	servers.Delete("/bans/:guildID", h.bans.Delete)
	servers.Get("/", h.servers.List)
	servers.Get("/:guildID", h.servers.Get)
	servers.Get("/:guildID/channels", h.servers.Channels)
	servers.Get("/:guildID/stats", h.servers.Stats)
	servers.Get("/:guildID/activity", h.servers.Activity)

	analyticsGroup := protected.Group("/analytics")
	analyticsGroup.Get("/live", h.analytics.Live)
	analyticsGroup.Get("/messages", h.analytics.Messages)
	analyticsGroup.Get("/rooms/:roomID/stats", h.analytics.RoomStats)
	analyticsGroup.Get("/health", h.analytics.Health)
	analyticsGroup.Get("/trends", h.analytics.Trends)
	analyticsGroup.Get("/export/messages", h.analytics.ExportMessages)
}

// runWithReconnect keeps a pub/sub consumer alive, restarting it after transient failures until the context is
// cancelled.
func runWithReconnect(ctx context.Context, name string, run func(context.Context) error) {
	for {
		err := run(ctx)
		if err == nil || errors.Is(err, context.Canceled) {
			return
		}
		log.Error().Err(err).Msgf("%s stopped, restarting in 5s", name)
		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}
}

// fiberStatusToCode maps an HTTP status code from Fiber's built-in errors (404, 405, etc.) to the closest API error
// code.
func fiberStatusToCode(status int) httputil.Code {
	switch {
	case status == fiber.StatusNotFound:
		return httputil.CodeNotFound
	case status == fiber.StatusTooManyRequests:
		return httputil.CodeRateLimited
	case status == fiber.StatusServiceUnavailable:
		return httputil.CodeUnavailable
	case status >= 400 && status < 500:
		return httputil.CodeBadRequest
	default:
		return httputil.CodeInternal
	}
}
