// Command notifyctl is the notification service operations CLI.
//
// Usage:
//
//	notifyctl migrate up
//	notifyctl migrate status
//	notifyctl tick
//	notifyctl jobs pending --user u-123
//	notifyctl vapid
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/attendly/notifyd/internal/channel"
	"github.com/attendly/notifyd/internal/config"
	"github.com/attendly/notifyd/internal/db"
	"github.com/attendly/notifyd/internal/entity"
	"github.com/attendly/notifyd/internal/notify"
)

var logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

func main() {
	// Load .env if present
	_ = godotenv.Load(".env")

	root := &cobra.Command{
		Use:   "notifyctl",
		Short: "Notification service operations CLI",
	}

	root.AddCommand(migrateCmd())
	root.AddCommand(tickCmd())
	root.AddCommand(jobsCmd())
	root.AddCommand(vapidCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// --------------------------------------------------------------------------
// migrate command
// --------------------------------------------------------------------------

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database schema migrations",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := db.Migrate(cfg.DatabaseURL); err != nil {
				return err
			}
			logger.Info("Migrations applied")
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return db.MigrationStatus(cfg.DatabaseURL)
		},
	})
	return cmd
}

// --------------------------------------------------------------------------
// tick command
// --------------------------------------------------------------------------

func tickCmd() *cobra.Command {
	var batchSize int
	cmd := &cobra.Command{
		Use:   "tick",
		Short: "Run a single dispatch tick (claim and deliver due jobs)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(func(ctx context.Context, cfg *config.Config, pool *db.Pool) error {
				settings := notify.NewSettingStore(pool.Pool)

				senders := make(map[notify.Channel]notify.Sender)
				if es := channel.NewEmailSender(cfg.PostmarkServerToken, cfg.EmailFrom); es != nil {
					senders[notify.ChannelEmail] = es
				}
				if ss := channel.NewSMSSender(cfg.SMSAPIKey, cfg.SMSFromNumber, cfg.SMSAPIURL); ss != nil {
					senders[notify.ChannelSMS] = ss
				}
				if ps := channel.NewPushSender(cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey, cfg.VAPIDSubscriber, settings); ps != nil {
					senders[notify.ChannelPush] = ps
				}

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
						BatchSize:   batchSize,
						SendTimeout: cfg.SendTimeout,
					},
					logger,
				)

				start := time.Now()
				sent, failed, err := dispatcher.Tick(ctx, time.Now())
				if err != nil {
					return err
				}
				logger.Info("Tick finished",
					"sent", sent, "failed", failed,
					"duration", time.Since(start).Round(time.Millisecond))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&batchSize, "batch", 100, "Maximum jobs to claim")
	return cmd
}

// --------------------------------------------------------------------------
// jobs command
// --------------------------------------------------------------------------

func jobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect the job queue",
	}
	cmd.AddCommand(jobsPendingCmd())
	return cmd
}

func jobsPendingCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List a user's pending jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return fmt.Errorf("--user is required")
			}
			return run(func(ctx context.Context, cfg *config.Config, pool *db.Pool) error {
				jobs, err := notify.NewStore(pool.Pool).PendingForUser(ctx, userID)
				if err != nil {
					return err
				}
				if len(jobs) == 0 {
					fmt.Println("no pending jobs")
					return nil
				}
				for _, j := range jobs {
					fmt.Printf("%s  %s  %s  fire_at=%s  attempt=%d/%d\n",
						j.PublicID, j.Ref, j.Type,
						j.FireAt.Format(time.RFC3339), j.Attempt, j.MaxAttempts)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User ID")
	return cmd
}

// --------------------------------------------------------------------------
// vapid command
// --------------------------------------------------------------------------

func vapidCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "vapid",
		Short: "Generate a VAPID key pair for web push",
		RunE: func(cmd *cobra.Command, args []string) error {
			private, public, err := channel.GenerateVAPIDKeys()
			if err != nil {
				return fmt.Errorf("generate VAPID keys: %w", err)
			}
			fmt.Printf("VAPID_PUBLIC_KEY=%s\n", public)
			fmt.Printf("VAPID_PRIVATE_KEY=%s\n", private)
			return nil
		},
	}
}

// --------------------------------------------------------------------------
// Shared setup
// --------------------------------------------------------------------------

// run handles config loading, DB connection, and context cancellation.
func run(fn func(ctx context.Context, cfg *config.Config, pool *db.Pool) error) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	pool, err := db.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	return fn(ctx, cfg, pool)
}
