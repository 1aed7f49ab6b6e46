// Command api is the Attendly notification service.
//
// Usage:
//
//	notifyd-api
//	API_PORT=8080 notifyd-api

// @title Attendly Notification API
// @version 1.0.0
// @description Notification dispatch engine: entity change ingestion, per-user notification settings, pending job inspection, and the delivery ledger.
// @host localhost:8000
// @BasePath /api/v1
// @schemes http https
// @contact.name Attendly
// @license.name MIT
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"

	"github.com/attendly/notifyd/internal/api"
	"github.com/attendly/notifyd/internal/cache"
	"github.com/attendly/notifyd/internal/channel"
	"github.com/attendly/notifyd/internal/config"
	"github.com/attendly/notifyd/internal/db"
	"github.com/attendly/notifyd/internal/entity"
	"github.com/attendly/notifyd/internal/listener"
	"github.com/attendly/notifyd/internal/maintenance"
	"github.com/attendly/notifyd/internal/notify"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	// Load .env if present
	_ = godotenv.Load(".env")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Context with signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	// Apply pending migrations before the pool prepares statements
	// against the schema.
	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		logger.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	// Connect to database
	logger.Info("Connecting to database...")
	pool, err := db.New(ctx, cfg)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("Database connected",
		"min_conns", cfg.DBPoolMinConns,
		"max_conns", cfg.DBPoolMaxConns)

	// Initialize cache
	appCache := cache.New(cfg.CacheEnabled)
	logger.Info("Cache initialized", "enabled", cfg.CacheEnabled)

	// Stores and scheduler
	settings := notify.NewSettingStore(pool.Pool)
	sched := notify.NewScheduler(pool.Pool, cfg.MaxAttempts, logger)

	// Channel senders. An unconfigured channel is simply absent from the
	// map; jobs resolved to it fail permanently with a clear reason.
	senders := make(map[notify.Channel]notify.Sender)
	if es := channel.NewEmailSender(cfg.PostmarkServerToken, cfg.EmailFrom); es != nil {
		senders[notify.ChannelEmail] = es
		logger.Info("Email channel enabled", "from", cfg.EmailFrom)
	} else {
		logger.Info("Email channel disabled (no POSTMARK_SERVER_TOKEN)")
	}
	if ss := channel.NewSMSSender(cfg.SMSAPIKey, cfg.SMSFromNumber, cfg.SMSAPIURL); ss != nil {
		senders[notify.ChannelSMS] = ss
		logger.Info("SMS channel enabled", "from", cfg.SMSFromNumber)
	} else {
		logger.Info("SMS channel disabled (no SMS_API_KEY / SMS_API_URL)")
	}
	if ps := channel.NewPushSender(cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey, cfg.VAPIDSubscriber, settings); ps != nil {
		senders[notify.ChannelPush] = ps
		logger.Info("Push channel enabled")
	} else {
		logger.Info("Push channel disabled (no VAPID keys)")
	}

	// Start dispatch worker
	dispatcher := notify.NewDispatcher(
		notify.NewStore(pool.Pool),
		entity.NewStore(pool.Pool),
		notify.NewResolver(settings),
		senders,
		notify.RetryPolicy{
			MaxAttempts: cfg.MaxAttempts,
			BaseDelay:   cfg.RetryBaseDelay,
			MaxDelay:    cfg.RetryMaxDelay,
		},
		notify.DispatcherConfig{
			Interval:    cfg.DispatchInterval,
			BatchSize:   cfg.DispatchBatchSize,
			SendTimeout: cfg.SendTimeout,
		},
		logger,
	)
	go dispatcher.StartWorker(ctx)

	// Start LISTEN/NOTIFY consumer for entity and setting changes
	go listener.Start(ctx, cfg.DatabaseURL, sched, logger)

	// Start maintenance tickers (reap, cleanup, catch-up sweep)
	go maintenance.Start(ctx, pool.Pool, maintenance.Config{
		ReapInterval:    cfg.ReapInterval,
		ClaimExpiry:     cfg.ClaimExpiry,
		CleanupInterval: cfg.CleanupInterval,
		RetentionDays:   cfg.RetentionDays,
		CatchUpInterval: 15 * time.Minute,
		AlertInterval:   5 * time.Minute,
	}, logger)

	// Create router
	router := api.NewRouter(pool.Pool, appCache, cfg, sched)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	go func() {
		logger.Info("Starting Attendly Notification API",
			"addr", addr,
			"environment", cfg.Environment,
			"docs", fmt.Sprintf("http://localhost:%d/docs/", cfg.APIPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt
	<-ctx.Done()
	logger.Info("Shutting down...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error", "error", err)
	}
	logger.Info("Server stopped")
}
