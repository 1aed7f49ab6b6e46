package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/attendly/notifyd/internal/db"
	"github.com/attendly/notifyd/internal/entity"
)

// PlanFire computes the fire time for an anchor (entity start or end)
// and lead time. ok is false when the anchor has already passed: a
// reminder for something that already happened has no value and the job
// is cancelled. A fire time merely in the past while the anchor is still
// ahead stays schedulable: it becomes due on the next tick ("late but
// still useful").
func PlanFire(now, anchor time.Time, lead time.Duration) (fireAt time.Time, ok bool) {
	if !anchor.After(now) {
		return time.Time{}, false
	}
	return anchor.Add(-lead), true
}

// anchorFor picks the entity timestamp a notification type fires
// relative to. Returns nil when the entity cannot anchor that type
// (entity_end on an entity without an end time).
func anchorFor(t Type, start time.Time, end *time.Time) *time.Time {
	if t == TypeEntityEnd {
		return end
	}
	return &start
}

// Scheduler keeps the job queue consistent with entity and setting
// state. All recomputation is an upsert on the job identity key
// (user, entity, type), so repeated change events reschedule instead of
// duplicating.
type Scheduler struct {
	pool        *pgxpool.Pool
	logger      *slog.Logger
	maxAttempts int
	now         func() time.Time
}

// NewScheduler creates a Scheduler.
func NewScheduler(pool *pgxpool.Pool, maxAttempts int, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		pool:        pool,
		logger:      logger,
		maxAttempts: maxAttempts,
		now:         time.Now,
	}
}

// ApplyEntityChange persists an entity change event and recomputes its
// jobs in one transaction. Cancellation cascades here, not on the next
// tick: a cancelled entity has zero pending jobs the moment the commit
// lands.
func (s *Scheduler) ApplyEntityChange(ctx context.Context, ev entity.ChangeEvent) error {
	if !ev.Kind.Valid() {
		return fmt.Errorf("unknown entity kind %q", ev.Kind)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := entity.UpsertTx(ctx, tx, ev); err != nil {
		return err
	}
	if err := s.recomputeEntity(ctx, NewStore(tx), NewSettingStore(tx), ev); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// RecomputeEntity recomputes jobs for an already-persisted entity
// change (the LISTEN/NOTIFY path, where the row is committed before the
// notification arrives).
func (s *Scheduler) RecomputeEntity(ctx context.Context, ev entity.ChangeEvent) error {
	return s.recomputeEntity(ctx, NewStore(s.pool), NewSettingStore(s.pool), ev)
}

func (s *Scheduler) recomputeEntity(ctx context.Context, jobs *Store, settings *SettingStore, ev entity.ChangeEvent) error {
	ref := EntityRef{Kind: ev.Kind, ID: ev.ID}

	if ev.Status != entity.StatusScheduled {
		n, err := jobs.CancelForEntity(ctx, ref, "entity "+string(ev.Status))
		if err != nil {
			return err
		}
		if n > 0 {
			s.logger.Info("cancelled jobs for entity", "entity", ref.String(), "status", ev.Status, "count", n)
		}
		return nil
	}

	scoped, err := settings.ForEntity(ctx, ref)
	if err != nil {
		return err
	}
	for i := range scoped {
		if err := s.planSetting(ctx, jobs, &scoped[i], ev.StartTime, ev.EndTime); err != nil {
			return err
		}
	}
	return nil
}

// ApplySettingChange persists a setting change and recomputes the jobs
// it governs in one transaction. A nil Channels slice with Enabled false
// is still a valid disable.
func (s *Scheduler) ApplySettingChange(ctx context.Context, set *Setting) (*Setting, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	settings := NewSettingStore(tx)
	stored, err := settings.Upsert(ctx, set)
	if err != nil {
		return nil, err
	}
	if err := s.recomputeSetting(ctx, NewStore(tx), tx, stored); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return stored, nil
}

// RemoveSetting deletes a setting and cancels the job it scheduled.
func (s *Scheduler) RemoveSetting(ctx context.Context, userID string, id int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	removed, err := NewSettingStore(tx).Delete(ctx, userID, id)
	if err != nil {
		return err
	}
	if !removed.Global() {
		ref := EntityRef{Kind: *removed.EntityKind, ID: *removed.EntityID}
		if err := NewStore(tx).CancelKey(ctx, removed.UserID, ref, removed.Type, "setting deleted"); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// RecomputeSetting recomputes jobs for an already-persisted setting
// change (the LISTEN/NOTIFY path).
func (s *Scheduler) RecomputeSetting(ctx context.Context, set *Setting) error {
	return s.recomputeSetting(ctx, NewStore(s.pool), s.pool, set)
}

// recomputeSetting schedules or cancels the single job a setting
// governs. Global defaults never create jobs on their own (they have no
// entity to anchor to); they participate at dispatch-time resolution.
func (s *Scheduler) recomputeSetting(ctx context.Context, jobs *Store, q db.Querier, set *Setting) error {
	if set.Global() {
		return nil
	}
	ref := EntityRef{Kind: *set.EntityKind, ID: *set.EntityID}

	if !set.Enabled {
		return jobs.CancelKey(ctx, set.UserID, ref, set.Type, "setting disabled")
	}

	ent, err := entity.NewStore(q).Get(ctx, ref.Kind, ref.ID)
	if errors.Is(err, entity.ErrNotFound) {
		// No snapshot yet; the entity change event will schedule it.
		return nil
	}
	if err != nil {
		return err
	}
	if !ent.Live() {
		return jobs.CancelKey(ctx, set.UserID, ref, set.Type, "entity "+string(ent.Status))
	}
	return s.planSetting(ctx, jobs, set, ent.StartTime, ent.EndTime)
}

// planSetting upserts or cancels the job for one setting against known
// entity times.
func (s *Scheduler) planSetting(ctx context.Context, jobs *Store, set *Setting, start time.Time, end *time.Time) error {
	if set.Global() {
		return nil
	}
	ref := EntityRef{Kind: *set.EntityKind, ID: *set.EntityID}

	if !set.Enabled {
		return jobs.CancelKey(ctx, set.UserID, ref, set.Type, "setting disabled")
	}

	anchor := anchorFor(set.Type, start, end)
	if anchor == nil {
		return jobs.CancelKey(ctx, set.UserID, ref, set.Type, "entity has no end time")
	}

	fireAt, ok := PlanFire(s.now(), *anchor, time.Duration(set.LeadMinutes)*time.Minute)
	if !ok {
		return jobs.CancelKey(ctx, set.UserID, ref, set.Type, "entity already started")
	}

	return jobs.Upsert(ctx, &Job{
		UserID:      set.UserID,
		Ref:         ref,
		Type:        set.Type,
		FireAt:      fireAt,
		MaxAttempts: s.maxAttempts,
	})
}
