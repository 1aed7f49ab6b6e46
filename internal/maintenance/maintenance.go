// Package maintenance runs periodic background tasks as Go tickers:
// claim reaping, terminal-row retention, and the catch-up sweep that
// re-plans jobs for entities whose change notifications were missed.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Config controls maintenance task intervals. Zero duration disables a
// task.
type Config struct {
	ReapInterval    time.Duration // In-flight claims older than ClaimExpiry back to pending
	ClaimExpiry     time.Duration
	CleanupInterval time.Duration // Purge old terminal jobs and their ledger rows
	RetentionDays   int
	CatchUpInterval time.Duration // Sweep for settings whose job is missing
	AlertInterval   time.Duration // Ops log for jobs that exhausted retries
}

// DefaultConfig returns sensible production defaults.
func DefaultConfig() Config {
	return Config{
		ReapInterval:    time.Minute,
		ClaimExpiry:     5 * time.Minute,
		CleanupInterval: 30 * time.Minute,
		RetentionDays:   30,
		CatchUpInterval: 15 * time.Minute,
		AlertInterval:   5 * time.Minute,
	}
}

// Start launches all configured maintenance tickers. Blocks until ctx
// is cancelled. Intended to be called with `go`.
func Start(ctx context.Context, pool *pgxpool.Pool, cfg Config, logger *slog.Logger) {
	logger.Info("maintenance tickers started",
		"reap", cfg.ReapInterval,
		"cleanup", cfg.CleanupInterval,
		"catchup", cfg.CatchUpInterval)

	tickers := make([]*time.Ticker, 0, 4)
	defer func() {
		for _, t := range tickers {
			t.Stop()
		}
	}()

	if cfg.ReapInterval > 0 {
		t := time.NewTicker(cfg.ReapInterval)
		tickers = append(tickers, t)
		go runLoop(ctx, t.C, func() { reapStuckClaims(ctx, pool, cfg.ClaimExpiry, logger) })
	}

	if cfg.CleanupInterval > 0 {
		t := time.NewTicker(cfg.CleanupInterval)
		tickers = append(tickers, t)
		go runLoop(ctx, t.C, func() { cleanup(ctx, pool, cfg.RetentionDays, logger) })
	}

	if cfg.CatchUpInterval > 0 {
		t := time.NewTicker(cfg.CatchUpInterval)
		tickers = append(tickers, t)
		go runLoop(ctx, t.C, func() { catchUpSweep(ctx, pool, logger) })
	}

	if cfg.AlertInterval > 0 {
		t := time.NewTicker(cfg.AlertInterval)
		tickers = append(tickers, t)
		lastSweep := time.Now()
		go runLoop(ctx, t.C, func() {
			alertExhausted(ctx, pool, lastSweep, logger)
			lastSweep = time.Now()
		})
	}

	<-ctx.Done()
	logger.Info("maintenance tickers stopped")
}

func runLoop(ctx context.Context, ch <-chan time.Time, fn func()) {
	for {
		select {
		case <-ch:
			fn()
		case <-ctx.Done():
			return
		}
	}
}

// --------------------------------------------------------------------------
// Task implementations
// --------------------------------------------------------------------------

// reapStuckClaims returns in-flight jobs whose worker died mid-dispatch
// to the pending queue. The attempt counter is left as claimed; the
// delivery ledger's unique success index keeps a half-delivered job from
// double-recording.
func reapStuckClaims(ctx context.Context, pool *pgxpool.Pool, expiry time.Duration, logger *slog.Logger) {
	tag, err := pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'pending', claimed_at = NULL, updated_at = NOW()
		WHERE status = 'inflight' AND claimed_at < NOW() - $1::interval`,
		expiry.String())
	if err != nil {
		logger.Warn("reap: failed to release stuck claims", "error", err)
	} else if tag.RowsAffected() > 0 {
		logger.Warn("reap: released stuck claims", "count", tag.RowsAffected())
	}
}

// cleanup removes terminal jobs (and, via cascade, their delivery
// records) past the retention window.
func cleanup(ctx context.Context, pool *pgxpool.Pool, retentionDays int, logger *slog.Logger) {
	tag, err := pool.Exec(ctx, `
		DELETE FROM jobs
		WHERE status IN ('sent', 'failed', 'cancelled')
		  AND updated_at < NOW() - make_interval(days => $1)`,
		retentionDays)
	if err != nil {
		logger.Warn("cleanup: failed to purge old jobs", "error", err)
	} else if tag.RowsAffected() > 0 {
		logger.Info("cleanup: purged old jobs", "count", tag.RowsAffected())
	}
}

// alertExhausted logs one ops-level error per job that ran out of
// delivery attempts since the last sweep. Operators watch this log line;
// end users never see delivery failures.
func alertExhausted(ctx context.Context, pool *pgxpool.Pool, since time.Time, logger *slog.Logger) {
	rows, err := pool.Query(ctx, `
		SELECT public_id, user_id, entity_kind, entity_id, notif_type,
		       attempt, COALESCE(last_error, '')
		FROM jobs
		WHERE status = 'failed' AND updated_at >= $1`, since)
	if err != nil {
		logger.Warn("alert sweep: query failed", "error", err)
		return
	}
	defer rows.Close()

	for rows.Next() {
		var publicID, userID, kind, notifType, lastError string
		var entityID int64
		var attempt int
		if err := rows.Scan(&publicID, &userID, &kind, &entityID, &notifType, &attempt, &lastError); err != nil {
			logger.Warn("alert sweep: scan failed", "error", err)
			return
		}
		logger.Error("job exhausted delivery attempts",
			"job", publicID, "user", userID,
			"entity", fmt.Sprintf("%s/%d", kind, entityID),
			"type", notifType, "attempts", attempt, "reason", lastError)
	}
	if err := rows.Err(); err != nil {
		logger.Warn("alert sweep: rows error", "error", err)
	}
}

// catchUpSweep re-creates pending jobs for enabled entity-scoped
// settings on live future entities that have no live job, the safety
// net for change notifications lost while no listener was connected.
func catchUpSweep(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) {
	tag, err := pool.Exec(ctx, `
		INSERT INTO jobs (public_id, user_id, entity_kind, entity_id, notif_type, fire_at, status)
		SELECT gen_random_uuid(), s.user_id, s.entity_kind, s.entity_id, s.notif_type,
		       CASE WHEN s.notif_type = 'entity_end' THEN e.end_time ELSE e.start_time END
		           - make_interval(mins => s.lead_minutes),
		       'pending'
		FROM notification_settings s
		JOIN entities e ON e.kind = s.entity_kind AND e.id = s.entity_id
		WHERE s.enabled
		  AND s.entity_kind IS NOT NULL
		  AND e.status = 'scheduled'
		  AND (CASE WHEN s.notif_type = 'entity_end' THEN e.end_time ELSE e.start_time END) > NOW()
		  AND NOT EXISTS (
			SELECT 1 FROM jobs j
			WHERE j.user_id = s.user_id
			  AND j.entity_kind = s.entity_kind
			  AND j.entity_id = s.entity_id
			  AND j.notif_type = s.notif_type
			  AND j.status IN ('pending', 'inflight', 'sent', 'failed')
		  )
		ON CONFLICT DO NOTHING`)
	if err != nil {
		logger.Warn("catch-up sweep: failed", "error", err)
	} else if tag.RowsAffected() > 0 {
		logger.Info("catch-up sweep: recreated missing jobs", "count", tag.RowsAffected())
	}
}
