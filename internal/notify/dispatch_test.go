package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/attendly/notifyd/internal/entity"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --------------------------------------------------------------------------
// In-memory fakes
// --------------------------------------------------------------------------

type memJobStore struct {
	mu      sync.Mutex
	jobs    map[int64]*Job
	records []DeliveryRecord
}

func newMemJobStore(jobs ...Job) *memJobStore {
	m := &memJobStore{jobs: make(map[int64]*Job)}
	for i := range jobs {
		j := jobs[i]
		m.jobs[j.ID] = &j
	}
	return m
}

func (m *memJobStore) ClaimDue(_ context.Context, now time.Time, limit int) ([]Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []*Job
	for _, j := range m.jobs {
		if j.Status == StatusPending && !j.FireAt.After(now) {
			due = append(due, j)
		}
	}
	sort.Slice(due, func(i, k int) bool { return due[i].FireAt.Before(due[k].FireAt) })
	if len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]Job, 0, len(due))
	for _, j := range due {
		j.Status = StatusInflight
		j.Attempt++
		claimed = append(claimed, *j)
	}
	return claimed, nil
}

func (m *memJobStore) transition(jobID int64, to JobStatus, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok || j.Status != StatusInflight {
		return ErrAlreadyClaimed
	}
	j.Status = to
	j.LastError = reason
	return nil
}

func (m *memJobStore) MarkSent(_ context.Context, jobID int64) error {
	return m.transition(jobID, StatusSent, "")
}

func (m *memJobStore) MarkFailed(_ context.Context, jobID int64, reason string) error {
	return m.transition(jobID, StatusFailed, reason)
}

func (m *memJobStore) MarkCancelled(_ context.Context, jobID int64, reason string) error {
	return m.transition(jobID, StatusCancelled, reason)
}

func (m *memJobStore) Reschedule(_ context.Context, jobID int64, fireAt time.Time, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok || j.Status != StatusInflight {
		return ErrAlreadyClaimed
	}
	j.Status = StatusPending
	j.FireAt = fireAt
	j.LastError = reason
	return nil
}

func (m *memJobStore) RecordDelivery(_ context.Context, jobID int64, ch Channel, outcome Outcome, detail string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if outcome == OutcomeSuccess {
		for _, r := range m.records {
			if r.JobPublicID == m.jobs[jobID].PublicID && r.Channel == ch && r.Outcome == OutcomeSuccess {
				return false, nil
			}
		}
	}
	m.records = append(m.records, DeliveryRecord{
		JobPublicID: m.jobs[jobID].PublicID,
		Channel:     ch,
		Outcome:     outcome,
		Detail:      detail,
		CreatedAt:   time.Now(),
	})
	return true, nil
}

func (m *memJobStore) job(id int64) Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.jobs[id]
}

func (m *memJobStore) recordCount(outcome Outcome) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.records {
		if r.Outcome == outcome {
			n++
		}
	}
	return n
}

type memEntitySource struct {
	mu       sync.Mutex
	entities map[string]*entity.Entity
}

func newMemEntitySource(ents ...entity.Entity) *memEntitySource {
	m := &memEntitySource{entities: make(map[string]*entity.Entity)}
	for i := range ents {
		e := ents[i]
		m.entities[EntityRef{Kind: e.Kind, ID: e.ID}.String()] = &e
	}
	return m
}

func (m *memEntitySource) Get(_ context.Context, kind entity.Kind, id int64) (*entity.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entities[EntityRef{Kind: kind, ID: id}.String()]
	if !ok {
		return nil, entity.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

type staticResolver struct {
	res *Resolution
	err error
}

func (s *staticResolver) Resolve(_ context.Context, _ string, _ EntityRef, _ Type) (*Resolution, error) {
	return s.res, s.err
}

type fakeSender struct {
	mu    sync.Mutex
	calls int
	errs  []error // consumed in order; nil past the end
}

func (f *fakeSender) Send(_ context.Context, _ Contact, _ Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= len(f.errs) {
		return f.errs[f.calls-1]
	}
	return nil
}

func (f *fakeSender) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// --------------------------------------------------------------------------
// Fixtures
// --------------------------------------------------------------------------

var testNow = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func testEntity() entity.Entity {
	return entity.Entity{
		Kind:      entity.KindEvent,
		ID:        10,
		Title:     "Launch Party",
		StartTime: testNow.Add(time.Hour),
		Status:    entity.StatusScheduled,
	}
}

func testJob() Job {
	return Job{
		ID:          1,
		PublicID:    "j-1",
		UserID:      "u1",
		Ref:         EntityRef{Kind: entity.KindEvent, ID: 10},
		Type:        TypeEntityStart,
		FireAt:      testNow.Add(-time.Minute),
		Status:      StatusPending,
		MaxAttempts: 3,
	}
}

func newTestDispatcher(jobs JobStore, ents EntitySource, resolver PreferenceSource,
	senders map[Channel]Sender) *Dispatcher {
	return NewDispatcher(jobs, ents, resolver, senders,
		RetryPolicy{MaxAttempts: 3, BaseDelay: time.Minute, MaxDelay: 15 * time.Minute},
		DispatcherConfig{Interval: time.Second, BatchSize: 100, SendTimeout: time.Second},
		discardLogger())
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

func TestTickDeliversDueJob(t *testing.T) {
	store := newMemJobStore(testJob())
	email := &fakeSender{}
	d := newTestDispatcher(store, newMemEntitySource(testEntity()),
		&staticResolver{res: &Resolution{Channels: []Channel{ChannelEmail}, Contact: fullContact()}},
		map[Channel]Sender{ChannelEmail: email})

	sent, failed, err := d.Tick(context.Background(), testNow)
	if err != nil {
		t.Fatalf("Tick error: %v", err)
	}
	if sent != 1 || failed != 0 {
		t.Fatalf("sent=%d failed=%d, want 1/0", sent, failed)
	}
	if got := store.job(1).Status; got != StatusSent {
		t.Errorf("job status = %s, want sent", got)
	}
	if email.callCount() != 1 {
		t.Errorf("email sends = %d, want 1", email.callCount())
	}
	if store.recordCount(OutcomeSuccess) != 1 {
		t.Errorf("success records = %d, want 1", store.recordCount(OutcomeSuccess))
	}
}

func TestTickIgnoresFutureJob(t *testing.T) {
	j := testJob()
	j.FireAt = testNow.Add(time.Minute)
	store := newMemJobStore(j)
	email := &fakeSender{}
	d := newTestDispatcher(store, newMemEntitySource(testEntity()),
		&staticResolver{res: &Resolution{Channels: []Channel{ChannelEmail}, Contact: fullContact()}},
		map[Channel]Sender{ChannelEmail: email})

	sent, failed, err := d.Tick(context.Background(), testNow)
	if err != nil || sent != 0 || failed != 0 {
		t.Fatalf("sent=%d failed=%d err=%v, want 0/0/nil", sent, failed, err)
	}
	if email.callCount() != 0 {
		t.Error("future job should not be delivered")
	}
}

func TestSecondTickIsNoOp(t *testing.T) {
	store := newMemJobStore(testJob())
	email := &fakeSender{}
	d := newTestDispatcher(store, newMemEntitySource(testEntity()),
		&staticResolver{res: &Resolution{Channels: []Channel{ChannelEmail}, Contact: fullContact()}},
		map[Channel]Sender{ChannelEmail: email})

	d.Tick(context.Background(), testNow)
	sent, failed, _ := d.Tick(context.Background(), testNow)
	if sent != 0 || failed != 0 {
		t.Fatalf("second tick sent=%d failed=%d, want 0/0", sent, failed)
	}
	if email.callCount() != 1 {
		t.Errorf("email sends = %d after two ticks, want 1", email.callCount())
	}
}

func TestConcurrentTicksDeliverExactlyOnce(t *testing.T) {
	store := newMemJobStore(testJob())
	email := &fakeSender{}
	d := newTestDispatcher(store, newMemEntitySource(testEntity()),
		&staticResolver{res: &Resolution{Channels: []Channel{ChannelEmail}, Contact: fullContact()}},
		map[Channel]Sender{ChannelEmail: email})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Tick(context.Background(), testNow)
		}()
	}
	wg.Wait()

	if email.callCount() != 1 {
		t.Errorf("email sends = %d across concurrent ticks, want 1", email.callCount())
	}
	if got := store.job(1).Status; got != StatusSent {
		t.Errorf("job status = %s, want sent", got)
	}
}

func TestPartialChannelSuccessIsSent(t *testing.T) {
	store := newMemJobStore(testJob())
	email := &fakeSender{}
	sms := &fakeSender{errs: []error{Permanent(errors.New("number disconnected"))}}
	d := newTestDispatcher(store, newMemEntitySource(testEntity()),
		&staticResolver{res: &Resolution{Channels: []Channel{ChannelSMS, ChannelEmail}, Contact: fullContact()}},
		map[Channel]Sender{ChannelEmail: email, ChannelSMS: sms})

	sent, failed, _ := d.Tick(context.Background(), testNow)
	if sent != 1 || failed != 0 {
		t.Fatalf("sent=%d failed=%d, want 1/0", sent, failed)
	}
	if store.recordCount(OutcomeSuccess) != 1 || store.recordCount(OutcomeFailure) != 1 {
		t.Errorf("records success=%d failure=%d, want 1/1",
			store.recordCount(OutcomeSuccess), store.recordCount(OutcomeFailure))
	}
	if got := store.job(1).Status; got != StatusSent {
		t.Errorf("job status = %s, want sent", got)
	}
}

func TestTransientFailureRetriesThenFails(t *testing.T) {
	store := newMemJobStore(testJob())
	email := &fakeSender{errs: []error{
		Transient(errors.New("timeout")),
		Transient(errors.New("timeout")),
		Transient(errors.New("timeout")),
		Transient(errors.New("timeout")), // would be a 4th attempt; must never be reached
	}}
	d := newTestDispatcher(store, newMemEntitySource(testEntity()),
		&staticResolver{res: &Resolution{Channels: []Channel{ChannelEmail}, Contact: fullContact()}},
		map[Channel]Sender{ChannelEmail: email})

	// Drive ticks far enough apart that every backoff has elapsed.
	now := testNow
	for i := 0; i < 6; i++ {
		d.Tick(context.Background(), now)
		now = now.Add(time.Hour)
	}

	j := store.job(1)
	if j.Status != StatusFailed {
		t.Fatalf("job status = %s, want failed", j.Status)
	}
	if j.Attempt != 3 {
		t.Errorf("attempts = %d, want exactly 3", j.Attempt)
	}
	if email.callCount() != 3 {
		t.Errorf("email sends = %d, want 3", email.callCount())
	}
	if store.recordCount(OutcomeFailure) != 3 {
		t.Errorf("failure records = %d, want 3", store.recordCount(OutcomeFailure))
	}
}

func TestPermanentFailureDoesNotRetry(t *testing.T) {
	store := newMemJobStore(testJob())
	email := &fakeSender{errs: []error{Permanent(errors.New("invalid address"))}}
	d := newTestDispatcher(store, newMemEntitySource(testEntity()),
		&staticResolver{res: &Resolution{Channels: []Channel{ChannelEmail}, Contact: fullContact()}},
		map[Channel]Sender{ChannelEmail: email})

	d.Tick(context.Background(), testNow)
	d.Tick(context.Background(), testNow.Add(time.Hour))

	j := store.job(1)
	if j.Status != StatusFailed {
		t.Fatalf("job status = %s, want failed", j.Status)
	}
	if email.callCount() != 1 {
		t.Errorf("email sends = %d, want 1 (no retry on permanent failure)", email.callCount())
	}
}

func TestCancelledEntitySkipsDelivery(t *testing.T) {
	e := testEntity()
	e.Status = entity.StatusCancelled
	store := newMemJobStore(testJob())
	email := &fakeSender{}
	d := newTestDispatcher(store, newMemEntitySource(e),
		&staticResolver{res: &Resolution{Channels: []Channel{ChannelEmail}, Contact: fullContact()}},
		map[Channel]Sender{ChannelEmail: email})

	sent, failed, _ := d.Tick(context.Background(), testNow)
	if sent != 0 || failed != 0 {
		t.Fatalf("sent=%d failed=%d, want 0/0", sent, failed)
	}
	if got := store.job(1).Status; got != StatusCancelled {
		t.Errorf("job status = %s, want cancelled", got)
	}
	if email.callCount() != 0 || len(store.records) != 0 {
		t.Error("cancelled entity must produce no deliveries or records")
	}
}

func TestNotEligibleCancelsJob(t *testing.T) {
	store := newMemJobStore(testJob())
	d := newTestDispatcher(store, newMemEntitySource(testEntity()),
		&staticResolver{err: ErrNotEligible},
		map[Channel]Sender{})

	d.Tick(context.Background(), testNow)
	if got := store.job(1).Status; got != StatusCancelled {
		t.Errorf("job status = %s, want cancelled", got)
	}
}

func TestMissingSenderFailsPermanently(t *testing.T) {
	store := newMemJobStore(testJob())
	d := newTestDispatcher(store, newMemEntitySource(testEntity()),
		&staticResolver{res: &Resolution{Channels: []Channel{ChannelSMS}, Contact: fullContact()}},
		map[Channel]Sender{}) // no SMS sender configured

	d.Tick(context.Background(), testNow)
	j := store.job(1)
	if j.Status != StatusFailed {
		t.Fatalf("job status = %s, want failed", j.Status)
	}
	if j.Attempt != 1 {
		t.Errorf("attempts = %d, want 1 (missing sender is permanent)", j.Attempt)
	}
}
