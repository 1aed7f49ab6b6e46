// Package db provides a pgxpool-based connection pool with prepared statement
// registration, migrations, and health checking.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sethvargo/go-retry"

	"github.com/attendly/notifyd/internal/config"
)

// Querier is the subset of pgx operations shared by *pgxpool.Pool and
// pgx.Tx. Stores accept it so the same code runs inside and outside a
// transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Pool wraps pgxpool.Pool with application-specific helpers.
type Pool struct {
	*pgxpool.Pool
}

// New creates and validates a new connection pool. The initial ping is
// retried with exponential backoff so the service survives a database
// that is still starting up.
func New(ctx context.Context, cfg *config.Config) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolCfg.MinConns = int32(cfg.DBPoolMinConns)
	poolCfg.MaxConns = int32(cfg.DBPoolMaxConns)
	poolCfg.MaxConnLifetime = cfg.DBPoolMaxLife
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	// Register prepared statements on every new connection.
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return registerPreparedStatements(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	backoff := retry.WithMaxRetries(5, retry.NewExponential(time.Second))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if pingErr := pool.Ping(ctx); pingErr != nil {
			return retry.RetryableError(pingErr)
		}
		return nil
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// HealthCheck runs a trivial query to verify the database is reachable.
func (p *Pool) HealthCheck(ctx context.Context) error {
	var n int
	return p.QueryRow(ctx, "health_check").Scan(&n)
}

// registerPreparedStatements registers the hot read paths used by the
// resolver, dispatcher, and query API. Writes use inline SQL.
func registerPreparedStatements(ctx context.Context, conn *pgx.Conn) error {
	stmts := map[string]string{
		// Health
		"health_check": "SELECT 1",

		// Entities
		"entity_snapshot": `
			SELECT kind, id, parent_event_id, title, location,
			       start_time, end_time, status, updated_at
			FROM entities WHERE kind = $1 AND id = $2`,

		// Contact data
		"user_contact": `
			SELECT COALESCE(email, ''), COALESCE(phone, ''), phone_verified
			FROM users WHERE id = $1`,
		"user_push_subscriptions": `
			SELECT id, endpoint, p256dh_key, auth_key
			FROM push_subscriptions
			WHERE user_id = $1 AND active`,

		// Settings: all candidates for (user, type) against an entity:
		// the entity itself, its parent event, and the global default.
		"settings_candidates": `
			SELECT s.id, s.user_id, s.entity_kind, s.entity_id, s.notif_type,
			       s.channels, s.lead_minutes, s.enabled
			FROM notification_settings s
			WHERE s.user_id = $1 AND s.notif_type = $2
			  AND ((s.entity_kind = $3 AND s.entity_id = $4)
			    OR (s.entity_kind = 'event' AND s.entity_id = (
			          SELECT parent_event_id FROM entities
			          WHERE kind = $3 AND id = $4))
			    OR (s.entity_kind IS NULL AND s.entity_id IS NULL))`,

		// Settings scoped to an entity (scheduler fan-out on entity change).
		"settings_for_entity": `
			SELECT s.id, s.user_id, s.entity_kind, s.entity_id, s.notif_type,
			       s.channels, s.lead_minutes, s.enabled
			FROM notification_settings s
			WHERE s.entity_kind = $1 AND s.entity_id = $2`,

		// Query API
		"pending_jobs_for_user": `
			SELECT id, public_id, user_id, entity_kind, entity_id, notif_type,
			       fire_at, status, attempt, max_attempts
			FROM jobs
			WHERE user_id = $1 AND status = 'pending'
			ORDER BY fire_at`,
		"delivery_history_for_entity": `
			SELECT j.public_id, d.channel, d.outcome, COALESCE(d.detail, ''), d.created_at
			FROM delivery_records d
			JOIN jobs j ON j.id = d.job_id
			WHERE j.entity_kind = $1 AND j.entity_id = $2
			ORDER BY d.created_at DESC`,
	}

	for name, sql := range stmts {
		if _, err := conn.Prepare(ctx, name, sql); err != nil {
			return fmt.Errorf("prepare %q: %w", name, err)
		}
	}
	return nil
}
