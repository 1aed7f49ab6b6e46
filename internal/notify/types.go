// Package notify is the notification dispatch engine: preference
// resolution, durable job scheduling, claim-based dispatch, and the
// delivery ledger.
//
// Flow: entity/setting change → Scheduler recomputes jobs → Dispatcher
// claims due jobs → Resolver confirms eligibility → channel senders
// deliver → delivery records written per channel.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/attendly/notifyd/internal/entity"
)

// --------------------------------------------------------------------------
// Enums
// --------------------------------------------------------------------------

// Channel is a delivery medium.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelPush  Channel = "push"
)

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	return c == ChannelEmail || c == ChannelSMS || c == ChannelPush
}

// Type is a notification trigger type.
type Type string

const (
	TypeEntityStart Type = "entity_start"
	TypeEntityEnd   Type = "entity_end"
	TypeReminder    Type = "reminder"
)

// Valid reports whether t is a known type.
func (t Type) Valid() bool {
	return t == TypeEntityStart || t == TypeEntityEnd || t == TypeReminder
}

// JobStatus is the dispatch state machine. pending → inflight →
// {sent | failed | cancelled}; inflight may return to pending on retry.
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusInflight  JobStatus = "inflight"
	StatusSent      JobStatus = "sent"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
)

// Outcome is a delivery record outcome.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// --------------------------------------------------------------------------
// Core types
// --------------------------------------------------------------------------

// EntityRef identifies the entity a job targets.
type EntityRef struct {
	Kind entity.Kind `json:"kind"`
	ID   int64       `json:"id"`
}

func (r EntityRef) String() string {
	return fmt.Sprintf("%s/%d", r.Kind, r.ID)
}

// Job is a pending unit of notification work: notify user U about
// entity E at time T. Identity is (UserID, Ref, Type), not fire time.
type Job struct {
	ID          int64
	PublicID    string
	UserID      string
	Ref         EntityRef
	Type        Type
	FireAt      time.Time
	Status      JobStatus
	Attempt     int
	MaxAttempts int
	LastError   string
}

// DeliveryRecord is one ledger row: what was attempted on one channel.
type DeliveryRecord struct {
	JobPublicID string    `json:"job_id"`
	Channel     Channel   `json:"channel"`
	Outcome     Outcome   `json:"outcome"`
	Detail      string    `json:"detail,omitempty"`
	CreatedAt   time.Time `json:"timestamp"`
}

// PushSubscription is one active web-push endpoint for a user.
type PushSubscription struct {
	ID       int64
	Endpoint string
	P256dh   string
	Auth     string
}

// Contact is the destination data a user has on file.
type Contact struct {
	Email             string
	Phone             string
	PhoneVerified     bool
	PushSubscriptions []PushSubscription
}

// Has reports whether the contact can receive on the given channel.
func (c Contact) Has(ch Channel) bool {
	switch ch {
	case ChannelEmail:
		return c.Email != ""
	case ChannelSMS:
		return c.Phone != "" && c.PhoneVerified
	case ChannelPush:
		return len(c.PushSubscriptions) > 0
	}
	return false
}

// Message is a rendered notification ready for a sender.
type Message struct {
	Title string
	Body  string
}

// Sender delivers a rendered message on one channel. Implementations
// wrap failures in TransientError or PermanentError.
type Sender interface {
	Send(ctx context.Context, contact Contact, msg Message) error
}

// --------------------------------------------------------------------------
// Error taxonomy
// --------------------------------------------------------------------------

// ErrNotEligible means no enabled setting (or no usable channel) exists.
// A legitimate "do nothing" outcome, not a failure.
var ErrNotEligible = errors.New("not eligible for notification")

// ErrAlreadyClaimed means another worker won the claim race. The loser
// skips the job without error.
var ErrAlreadyClaimed = errors.New("job already claimed")

// TransientError marks a retryable delivery failure (network, timeout,
// provider 5xx).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as retryable.
func Transient(err error) error { return &TransientError{Err: err} }

// PermanentError marks a non-retryable delivery failure (invalid
// destination, unsubscribed, provider 4xx).
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err as non-retryable.
func Permanent(err error) error { return &PermanentError{Err: err} }

// IsTransient reports whether err is a retryable delivery failure.
// Unclassified errors are treated as transient.
func IsTransient(err error) bool {
	var p *PermanentError
	return !errors.As(err, &p)
}
