package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/attendly/notifyd/internal/entity"
)

// JobStore is the queue surface the dispatcher drives. *Store implements
// it against Postgres; tests use an in-memory fake.
type JobStore interface {
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]Job, error)
	MarkSent(ctx context.Context, jobID int64) error
	MarkFailed(ctx context.Context, jobID int64, reason string) error
	MarkCancelled(ctx context.Context, jobID int64, reason string) error
	Reschedule(ctx context.Context, jobID int64, fireAt time.Time, reason string) error
	RecordDelivery(ctx context.Context, jobID int64, ch Channel, outcome Outcome, detail string) (bool, error)
}

// EntitySource provides live entity snapshots for render-time data.
type EntitySource interface {
	Get(ctx context.Context, kind entity.Kind, id int64) (*entity.Entity, error)
}

// PreferenceSource re-resolves eligibility at dispatch time.
type PreferenceSource interface {
	Resolve(ctx context.Context, userID string, ref EntityRef, t Type) (*Resolution, error)
}

// DispatcherConfig tunes the worker loop.
type DispatcherConfig struct {
	Interval    time.Duration
	BatchSize   int
	SendTimeout time.Duration
}

// DefaultDispatcherConfig returns production defaults.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Interval:    30 * time.Second,
		BatchSize:   100,
		SendTimeout: 10 * time.Second,
	}
}

// Dispatcher claims due jobs and delivers them. Safe to run from
// multiple workers concurrently: the claim update is the only gate, and
// a worker that loses the race simply claims nothing.
type Dispatcher struct {
	jobs     JobStore
	entities EntitySource
	resolver PreferenceSource
	senders  map[Channel]Sender
	policy   RetryPolicy
	cfg      DispatcherConfig
	logger   *slog.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(jobs JobStore, entities EntitySource, resolver PreferenceSource,
	senders map[Channel]Sender, policy RetryPolicy, cfg DispatcherConfig, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		jobs:     jobs,
		entities: entities,
		resolver: resolver,
		senders:  senders,
		policy:   policy,
		cfg:      cfg,
		logger:   logger,
	}
}

// StartWorker runs the dispatch loop until ctx is cancelled. Intended to
// be called with `go`.
func (d *Dispatcher) StartWorker(ctx context.Context) {
	d.logger.Info("dispatch worker started", "interval", d.cfg.Interval)
	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sent, failed, err := d.Tick(ctx, time.Now())
			if err != nil {
				d.logger.Error("dispatch tick error", "error", err)
			} else if sent+failed > 0 {
				d.logger.Info("dispatch batch", "sent", sent, "failed", failed)
			}
		case <-ctx.Done():
			d.logger.Info("dispatch worker stopped")
			return
		}
	}
}

// Tick claims and processes every job due at now. One job's failure
// never aborts the batch.
func (d *Dispatcher) Tick(ctx context.Context, now time.Time) (sent, failed int, err error) {
	claimed, err := d.jobs.ClaimDue(ctx, now, d.cfg.BatchSize)
	if err != nil {
		return 0, 0, err
	}

	for _, job := range claimed {
		switch d.process(ctx, now, job) {
		case StatusSent:
			sent++
		case StatusFailed, StatusPending: // pending = rescheduled for retry
			failed++
		}
	}
	return sent, failed, nil
}

// process drives one claimed job to its next state and returns it.
func (d *Dispatcher) process(ctx context.Context, now time.Time, job Job) JobStatus {
	// Re-validate: entity or setting may have changed since scheduling.
	res, err := d.resolver.Resolve(ctx, job.UserID, job.Ref, job.Type)
	if errors.Is(err, ErrNotEligible) {
		d.cancel(ctx, job, "no longer eligible")
		return StatusCancelled
	}
	if err != nil {
		return d.finishFailed(ctx, now, job, true, fmt.Sprintf("resolve: %v", err))
	}

	ent, err := d.entities.Get(ctx, job.Ref.Kind, job.Ref.ID)
	if errors.Is(err, entity.ErrNotFound) {
		d.cancel(ctx, job, "entity gone")
		return StatusCancelled
	}
	if err != nil {
		return d.finishFailed(ctx, now, job, true, fmt.Sprintf("snapshot: %v", err))
	}
	if !ent.Live() {
		d.cancel(ctx, job, "entity "+string(ent.Status))
		return StatusCancelled
	}

	msg := Render(ent, job.Type)

	succeeded := 0
	transientSeen := false
	var lastErr error
	for _, ch := range res.Channels {
		sendErr := d.sendOne(ctx, ch, res.Contact, msg)
		if sendErr == nil {
			recorded, recErr := d.jobs.RecordDelivery(ctx, job.ID, ch, OutcomeSuccess, "")
			if recErr != nil {
				d.logger.Error("record delivery", "job", job.PublicID, "channel", ch, "error", recErr)
			} else if !recorded {
				d.logger.Warn("duplicate delivery suppressed", "job", job.PublicID, "channel", ch)
			}
			succeeded++
			continue
		}

		if _, recErr := d.jobs.RecordDelivery(ctx, job.ID, ch, OutcomeFailure, sendErr.Error()); recErr != nil {
			d.logger.Error("record delivery", "job", job.PublicID, "channel", ch, "error", recErr)
		}
		d.logger.Warn("channel send failed",
			"job", job.PublicID, "channel", ch, "transient", IsTransient(sendErr), "error", sendErr)
		if IsTransient(sendErr) {
			transientSeen = true
		}
		lastErr = sendErr
	}

	if succeeded > 0 {
		if err := d.jobs.MarkSent(ctx, job.ID); err != nil && !errors.Is(err, ErrAlreadyClaimed) {
			d.logger.Error("mark sent", "job", job.PublicID, "error", err)
		}
		return StatusSent
	}

	reason := "all channels failed"
	if lastErr != nil {
		reason = lastErr.Error()
	}
	return d.finishFailed(ctx, now, job, transientSeen, reason)
}

// sendOne invokes a single channel sender with a bounded timeout so one
// slow provider cannot stall the whole tick.
func (d *Dispatcher) sendOne(ctx context.Context, ch Channel, contact Contact, msg Message) error {
	sender, ok := d.senders[ch]
	if !ok || sender == nil {
		return Permanent(fmt.Errorf("no sender configured for channel %s", ch))
	}
	sctx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	defer cancel()
	return sender.Send(sctx, contact, msg)
}

// finishFailed either reschedules the job with backoff or finalizes it
// as failed when retries are exhausted or the failure is permanent.
// Terminal failure is an operator concern, never surfaced to the user.
func (d *Dispatcher) finishFailed(ctx context.Context, now time.Time, job Job, retryable bool, reason string) JobStatus {
	if retryable && !d.policy.Exhausted(job.Attempt) {
		fireAt := now.Add(d.policy.Delay(job.Attempt))
		if err := d.jobs.Reschedule(ctx, job.ID, fireAt, reason); err != nil && !errors.Is(err, ErrAlreadyClaimed) {
			d.logger.Error("reschedule", "job", job.PublicID, "error", err)
		}
		return StatusPending
	}

	if err := d.jobs.MarkFailed(ctx, job.ID, reason); err != nil && !errors.Is(err, ErrAlreadyClaimed) {
		d.logger.Error("mark failed", "job", job.PublicID, "error", err)
	}
	d.logger.Error("job exhausted delivery attempts",
		"job", job.PublicID, "user", job.UserID, "entity", job.Ref.String(),
		"type", job.Type, "attempts", job.Attempt, "reason", reason)
	return StatusFailed
}

func (d *Dispatcher) cancel(ctx context.Context, job Job, reason string) {
	if err := d.jobs.MarkCancelled(ctx, job.ID, reason); err != nil && !errors.Is(err, ErrAlreadyClaimed) {
		d.logger.Error("mark cancelled", "job", job.PublicID, "error", err)
	}
}
