package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/attendly/notifyd/internal/db"
)

// Store is the Postgres job queue and delivery ledger. Every state
// transition is a conditional update; the WHERE clause on status is the
// concurrency gate.
type Store struct {
	q db.Querier
}

// NewStore creates a Store over a pool or transaction.
func NewStore(q db.Querier) *Store {
	return &Store{q: q}
}

// --------------------------------------------------------------------------
// Scheduling writes
// --------------------------------------------------------------------------

// Upsert creates the job for its (user, entity, type) identity or, if a
// pending one exists, moves its fire time. An inflight job is left
// alone. Recomputation resets the attempt counter.
func (s *Store) Upsert(ctx context.Context, j *Job) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO jobs (public_id, user_id, entity_kind, entity_id,
		                  notif_type, fire_at, status, max_attempts)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending', $7)
		ON CONFLICT (user_id, entity_kind, entity_id, notif_type)
		WHERE status IN ('pending', 'inflight')
		DO UPDATE SET
			fire_at = EXCLUDED.fire_at,
			attempt = 0,
			last_error = NULL,
			updated_at = NOW()
		WHERE jobs.status = 'pending'`,
		uuid.NewString(), j.UserID, j.Ref.Kind, j.Ref.ID,
		j.Type, j.FireAt, j.MaxAttempts,
	)
	if err != nil {
		return fmt.Errorf("upsert job %s/%s/%s: %w", j.UserID, j.Ref, j.Type, err)
	}
	return nil
}

// CancelForEntity cancels all pending jobs targeting an entity. Called
// inside the same transaction as the entity mutation.
func (s *Store) CancelForEntity(ctx context.Context, ref EntityRef, reason string) (int64, error) {
	tag, err := s.q.Exec(ctx, `
		UPDATE jobs
		SET status = 'cancelled', last_error = $3, updated_at = NOW()
		WHERE entity_kind = $1 AND entity_id = $2 AND status = 'pending'`,
		ref.Kind, ref.ID, reason,
	)
	if err != nil {
		return 0, fmt.Errorf("cancel jobs for %s: %w", ref, err)
	}
	return tag.RowsAffected(), nil
}

// CancelKey cancels the pending job for one (user, entity, type) key.
func (s *Store) CancelKey(ctx context.Context, userID string, ref EntityRef, t Type, reason string) error {
	_, err := s.q.Exec(ctx, `
		UPDATE jobs
		SET status = 'cancelled', last_error = $5, updated_at = NOW()
		WHERE user_id = $1 AND entity_kind = $2 AND entity_id = $3
		  AND notif_type = $4 AND status = 'pending'`,
		userID, ref.Kind, ref.ID, t, reason,
	)
	if err != nil {
		return fmt.Errorf("cancel job %s/%s/%s: %w", userID, ref, t, err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Dispatch transitions
// --------------------------------------------------------------------------

// ClaimDue atomically claims a batch of due jobs, moving them
// pending → inflight and incrementing the attempt counter. Concurrent
// workers never claim the same row.
func (s *Store) ClaimDue(ctx context.Context, now time.Time, limit int) ([]Job, error) {
	rows, err := s.q.Query(ctx, `
		UPDATE jobs
		SET status = 'inflight', claimed_at = NOW(),
		    attempt = attempt + 1, updated_at = NOW()
		WHERE id IN (
			SELECT id FROM jobs
			WHERE status = 'pending' AND fire_at <= $1
			ORDER BY fire_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, public_id, user_id, entity_kind, entity_id, notif_type,
		          fire_at, status, attempt, max_attempts, COALESCE(last_error, '')`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim due jobs: %w", err)
	}
	defer rows.Close()

	var claimed []Job
	for rows.Next() {
		var j Job
		if err := rows.Scan(&j.ID, &j.PublicID, &j.UserID, &j.Ref.Kind, &j.Ref.ID,
			&j.Type, &j.FireAt, &j.Status, &j.Attempt, &j.MaxAttempts, &j.LastError); err != nil {
			return nil, fmt.Errorf("scan claimed job: %w", err)
		}
		claimed = append(claimed, j)
	}
	return claimed, rows.Err()
}

// MarkSent finalizes an inflight job as delivered.
func (s *Store) MarkSent(ctx context.Context, jobID int64) error {
	return s.transition(ctx, jobID, StatusSent, "")
}

// MarkFailed finalizes an inflight job as terminally failed.
func (s *Store) MarkFailed(ctx context.Context, jobID int64, reason string) error {
	return s.transition(ctx, jobID, StatusFailed, reason)
}

// MarkCancelled finalizes an inflight job whose dispatch re-validation
// found it no longer relevant.
func (s *Store) MarkCancelled(ctx context.Context, jobID int64, reason string) error {
	return s.transition(ctx, jobID, StatusCancelled, reason)
}

// Reschedule moves an inflight job back to pending with a backoff-
// delayed fire time, preserving the attempt counter.
func (s *Store) Reschedule(ctx context.Context, jobID int64, fireAt time.Time, reason string) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE jobs
		SET status = 'pending', fire_at = $2, claimed_at = NULL,
		    last_error = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'inflight'`,
		jobID, fireAt, reason,
	)
	if err != nil {
		return fmt.Errorf("reschedule job %d: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyClaimed
	}
	return nil
}

func (s *Store) transition(ctx context.Context, jobID int64, to JobStatus, reason string) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE jobs
		SET status = $2, last_error = NULLIF($3, ''), claimed_at = NULL,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'inflight'`,
		jobID, to, reason,
	)
	if err != nil {
		return fmt.Errorf("mark job %d %s: %w", jobID, to, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyClaimed
	}
	return nil
}

// --------------------------------------------------------------------------
// Delivery ledger
// --------------------------------------------------------------------------

// RecordDelivery writes one ledger row. Success rows are gated by the
// partial unique index: a duplicate success insert is a no-op and
// returns false.
func (s *Store) RecordDelivery(ctx context.Context, jobID int64, ch Channel, outcome Outcome, detail string) (bool, error) {
	tag, err := s.q.Exec(ctx, `
		INSERT INTO delivery_records (job_id, channel, outcome, detail)
		VALUES ($1, $2, $3, NULLIF($4, ''))
		ON CONFLICT DO NOTHING`,
		jobID, ch, outcome, detail,
	)
	if err != nil {
		return false, fmt.Errorf("record delivery job=%d channel=%s: %w", jobID, ch, err)
	}
	return tag.RowsAffected() > 0, nil
}

// --------------------------------------------------------------------------
// Query interface
// --------------------------------------------------------------------------

// PendingForUser returns the user's pending jobs ordered by fire time.
func (s *Store) PendingForUser(ctx context.Context, userID string) ([]Job, error) {
	rows, err := s.q.Query(ctx, "pending_jobs_for_user", userID)
	if err != nil {
		return nil, fmt.Errorf("pending jobs for %s: %w", userID, err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var j Job
		if err := rows.Scan(&j.ID, &j.PublicID, &j.UserID, &j.Ref.Kind, &j.Ref.ID,
			&j.Type, &j.FireAt, &j.Status, &j.Attempt, &j.MaxAttempts); err != nil {
			return nil, fmt.Errorf("scan pending job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// HistoryForEntity returns the delivery ledger for an entity, newest
// first.
func (s *Store) HistoryForEntity(ctx context.Context, ref EntityRef) ([]DeliveryRecord, error) {
	rows, err := s.q.Query(ctx, "delivery_history_for_entity", ref.Kind, ref.ID)
	if err != nil {
		return nil, fmt.Errorf("delivery history for %s: %w", ref, err)
	}
	defer rows.Close()

	var records []DeliveryRecord
	for rows.Next() {
		var r DeliveryRecord
		if err := rows.Scan(&r.JobPublicID, &r.Channel, &r.Outcome, &r.Detail, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan delivery record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
