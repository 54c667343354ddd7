package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"

	httpAdapter "github.com/lorrc/carenet-sync/internal/adapters/primary/http"
	mw "github.com/lorrc/carenet-sync/internal/adapters/primary/http/middleware"
	"github.com/lorrc/carenet-sync/internal/adapters/primary/websocket"
	"github.com/lorrc/carenet-sync/internal/adapters/secondary/notifier"
	"github.com/lorrc/carenet-sync/internal/adapters/secondary/postgres"
	"github.com/lorrc/carenet-sync/internal/auth"
	"github.com/lorrc/carenet-sync/internal/config"
	"github.com/lorrc/carenet-sync/internal/core/bus"
	"github.com/lorrc/carenet-sync/internal/core/connection"
	"github.com/lorrc/carenet-sync/internal/core/services"
	"github.com/lorrc/carenet-sync/internal/infrastructure/logging"
	"github.com/lorrc/carenet-sync/internal/infrastructure/metrics"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// 2. Initialize Structured Logger
	logger := logging.NewLogger(logging.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      os.Stdout,
		ServiceName: cfg.App.Name,
		Environment: cfg.App.Environment,
	})
	slog.SetDefault(logger)

	logger.Info("starting service",
		"version", cfg.App.Version,
		"environment", cfg.App.Environment,
		"config", cfg.String(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. Migrate and connect the content database
	if cfg.Database.AutoMigrate {
		if err := postgres.Migrate(cfg.Database.MigrationsPath, cfg.Database.URL, logger); err != nil {
			logger.Error("failed to migrate database", "error", err)
			os.Exit(1)
		}
	}

	pool, err := newPool(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connection established")

	// 4. Core infrastructure: change bus and presenter hub. They outlive the
	// signal context so screens can drain during shutdown.
	runtimeCtx, stopRuntime := context.WithCancel(context.Background())
	defer stopRuntime()

	changeBus := bus.New(cfg.Engine.BusBufferSize, logger)
	go changeBus.Run(runtimeCtx)

	hub := websocket.NewHub(websocket.Config{
		UpdateBuffer: cfg.Engine.BusBufferSize,
		SendBuffer:   256,
		PingInterval: cfg.WebSocket.PingInterval,
		PongWait:     cfg.WebSocket.PongWait,
	}, logger)
	go hub.Run(runtimeCtx)

	// 5. Dependency Injection (Wiring the Hexagon)
	contentRepo := postgres.NewContentRepository(pool, cfg.Database.MaxRetries, logger)
	screenManager := services.NewScreenManager(services.ScreenDeps{
		Source:    contentRepo,
		Bus:       changeBus,
		Presenter: hub,
		Notifier:  notifier.NewLogNotifier(contentRepo, logger),
		Machine: connection.NewMachine(connection.Cooldowns{
			Rejected:  cfg.Engine.RejectedCooldown,
			Withdraw:  cfg.Engine.WithdrawCooldown,
			Unconnect: cfg.Engine.UnconnectCooldown,
		}),
		Aggregator: services.AggregatorConfig{
			OwnerBatchSize:       cfg.Engine.OwnerBatchSize,
			MaxConcurrentFetches: cfg.Engine.MaxConcurrentFetches,
		},
		Logger: logger,
	}, services.ManagerConfig{
		PageSize:            cfg.Engine.DefaultPageSize,
		MaxScreensPerViewer: cfg.Engine.MaxScreensPerViewer,
	})
	hub.UseScreens(screenManager)

	tokenManager := auth.NewTokenManager(cfg.JWT.Secret, cfg.JWT.AccessTokenTTL)
	errorHandler := httpAdapter.NewErrorHandler(logger)
	screenHandler := httpAdapter.NewScreenHandler(screenManager, errorHandler, logger, cfg.Server.WriteTimeout/2)
	meHandler := httpAdapter.NewMeHandler(screenManager, errorHandler, logger)
	wsHandler := httpAdapter.NewWebSocketHandler(hub, tokenManager, cfg, errorHandler, logger)
	healthHandler := httpAdapter.NewHealthHandler(cfg.App.Version, map[string]httpAdapter.HealthChecker{
		"database": contentRepo,
		"bus":      changeBus,
	})

	// 6. Rate Limiters
	var generalLimiter *mw.RateLimiter
	var actionLimiter *mw.RateLimitByKey
	if cfg.RateLimit.Enabled {
		generalLimiter = mw.NewRateLimiter(mw.DefaultRateLimiterConfig().
			WithRate(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.BurstSize))
		defer generalLimiter.Stop()

		actionLimiter = mw.NewRateLimitByKey(cfg.RateLimit.ActionRPS, cfg.RateLimit.ActionBurst)
		defer actionLimiter.Stop()
	}

	// 7. Setup Router
	r := chi.NewRouter()

	r.Use(mw.RequestID)
	r.Use(mw.RequestLogger(logger))
	r.Use(mw.RecoveryLogger(logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins(cfg),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", mw.RequestIDHeader},
		ExposedHeaders:   []string{mw.RequestIDHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	if generalLimiter != nil {
		r.Use(generalLimiter.Middleware)
	}

	// Probe and scrape endpoints stay outside /api/v1
	healthHandler.RegisterRoutes(r)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket route (Authentication is handled inside the handler)
		r.Get("/ws", wsHandler.ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(mw.JWTMiddleware(tokenManager))

			var actions func(http.Handler) http.Handler
			if actionLimiter != nil {
				actions = actionLimiter.ByViewer
			}
			r.Route("/screens", func(r chi.Router) {
				screenHandler.RegisterRoutes(r, actions)
			})
			r.Route("/me", meHandler.RegisterRoutes)
		})
	})

	// 8. Start Server with Graceful Shutdown
	srv := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	// Screens close after the server stops taking requests so in-flight
	// mutations finish; pending notifications are awaited.
	screenManager.Shutdown()
	stopRuntime()
	<-changeBus.Done()

	logger.Info("server shutdown complete")
}

func newPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, err
	}

	poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	poolConfig.MinConns = int32(cfg.MaxIdleConns)
	poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	poolConfig.MaxConnIdleTime = cfg.ConnMaxIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func corsOrigins(cfg *config.Config) []string {
	if len(cfg.WebSocket.AllowedOrigins) > 0 {
		return cfg.WebSocket.AllowedOrigins
	}
	if cfg.IsDevelopment() {
		return []string{"*"}
	}
	return nil
}
