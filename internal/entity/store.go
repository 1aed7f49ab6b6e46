package entity

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/attendly/notifyd/internal/db"
)

// ErrNotFound is returned when no snapshot exists for a reference.
var ErrNotFound = errors.New("entity not found")

// Store reads and writes entity snapshots.
type Store struct {
	q db.Querier
}

// NewStore creates a Store over a pool or transaction.
func NewStore(q db.Querier) *Store {
	return &Store{q: q}
}

// Get returns the snapshot for (kind, id).
func (s *Store) Get(ctx context.Context, kind Kind, id int64) (*Entity, error) {
	var e Entity
	err := s.q.QueryRow(ctx, "entity_snapshot", kind, id).Scan(
		&e.Kind, &e.ID, &e.ParentEventID, &e.Title, &e.Location,
		&e.StartTime, &e.EndTime, &e.Status, &e.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get entity %s/%d: %w", kind, id, err)
	}
	return &e, nil
}

// UpsertTx writes a change event into the snapshot table inside the
// caller's transaction. A deleted entity keeps its row with status
// 'deleted' so late dispatch re-validation can observe it.
func UpsertTx(ctx context.Context, tx pgx.Tx, ev ChangeEvent) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO entities (kind, id, parent_event_id, title, location,
		                      start_time, end_time, status, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (kind, id) DO UPDATE SET
			parent_event_id = EXCLUDED.parent_event_id,
			title = EXCLUDED.title,
			location = EXCLUDED.location,
			start_time = EXCLUDED.start_time,
			end_time = EXCLUDED.end_time,
			status = EXCLUDED.status,
			updated_at = NOW()`,
		ev.Kind, ev.ID, ev.ParentEventID, ev.Title, ev.Location,
		ev.StartTime, ev.EndTime, ev.Status,
	)
	if err != nil {
		return fmt.Errorf("upsert entity %s/%d: %w", ev.Kind, ev.ID, err)
	}
	return nil
}
