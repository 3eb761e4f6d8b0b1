package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/velto/linkpage/internal/config"
	"github.com/velto/linkpage/internal/database"
	"github.com/velto/linkpage/internal/httpserver"
	"github.com/velto/linkpage/internal/metrics"
	"github.com/velto/linkpage/internal/middleware"
	"github.com/velto/linkpage/internal/storage"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Can't use logger yet, fall back to panic
		panic("failed to load config: " + err.Error())
	}

	// Initialize logger
	logger, err := middleware.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer logger.Sync()

	logger.Info("starting linkpage",
		zap.String("env", cfg.Server.Env),
		zap.String("addr", cfg.Server.Addr),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize PostgreSQL. A missing database is survivable in
	// development; the server degrades to the in-memory store.
	db, err := database.NewPostgresDB(cfg.Database.DSN(), cfg.Database.MaxConns, cfg.Database.MinConns)
	if err != nil {
		if cfg.IsProduction() {
			logger.Fatal("failed to connect to PostgreSQL", zap.Error(err))
		}
		logger.Warn("PostgreSQL unavailable, using in-memory store", zap.Error(err))
		db = nil
	}
	if db != nil {
		defer db.Close()
		if err := storage.NewPostgresStore(db.Pool).Migrate(ctx); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	// Initialize Redis for the link-resolution cache.
	redis, err := database.NewRedisDB(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Warn("Redis unavailable, link cache disabled", zap.Error(err))
		redis = nil
	}
	if redis != nil {
		defer redis.Close()
	}

	// Initialize ClickHouse for raw click events when enabled.
	var clickhouse *database.ClickHouseDB
	if cfg.ClickHouse.Enabled {
		clickhouse, err = database.NewClickHouseDB(
			cfg.ClickHouse.Addr, cfg.ClickHouse.Database,
			cfg.ClickHouse.User, cfg.ClickHouse.Password)
		if err != nil {
			logger.Warn("ClickHouse unavailable, raw events fall back to primary store", zap.Error(err))
			clickhouse = nil
		}
	}
	if clickhouse != nil {
		defer clickhouse.Close()
		if err := storage.NewClickHouseEventStore(clickhouse.Conn).Migrate(ctx); err != nil {
			logger.Fatal("failed to migrate ClickHouse schema", zap.Error(err))
		}
	}

	m := metrics.NewMetrics("linkpage")

	deps := &httpserver.Dependencies{
		DB:         db,
		Redis:      redis,
		ClickHouse: clickhouse,
		Config:     cfg,
		Logger:     logger,
		Metrics:    m,
	}

	handler := httpserver.NewServer(deps)

	// Apply middleware chain (order matters: outermost first)
	// Recovery -> Logging -> RateLimit -> Handler
	recoveryMW := middleware.NewRecoveryMiddleware(logger)
	loggingMW := middleware.NewLoggingMiddleware(logger)
	rateLimitMW := middleware.NewRateLimitMiddleware(cfg.RateLimit, logger)
	rateLimitMW.SetMetrics(m)

	finalHandler := recoveryMW.Handler(
		loggingMW.Handler(
			rateLimitMW.Handler(handler),
		),
	)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           finalHandler,
		ReadHeaderTimeout: 2 * time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		logger.Info("HTTP server starting", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	cancel()

	logger.Info("server stopped")
}
