// Package entity maintains the local snapshot of time-bound entities
// (events and activities) that reminders are scheduled against. Snapshots
// are fed by change events from the owning application; the dispatcher
// reads them again at send time so edits made after scheduling are
// reflected in the rendered message.
package entity

import "time"

// Kind discriminates the two entity flavors.
type Kind string

const (
	KindEvent    Kind = "event"
	KindActivity Kind = "activity"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindEvent || k == KindActivity
}

// Status is the lifecycle state of an entity.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusCancelled Status = "cancelled"
	StatusDeleted   Status = "deleted"
)

// Entity is a snapshot row.
type Entity struct {
	Kind          Kind
	ID            int64
	ParentEventID *int64 // set for activities belonging to an event
	Title         string
	Location      string
	StartTime     time.Time
	EndTime       *time.Time
	Status        Status
	UpdatedAt     time.Time
}

// Live reports whether the entity can still receive deliveries.
func (e *Entity) Live() bool {
	return e.Status == StatusScheduled
}

// ChangeEvent is the inbound shape for entity create/update/delete,
// consumed from the HTTP ingestion endpoint and the Postgres
// entity_changed channel.
type ChangeEvent struct {
	Kind          Kind       `json:"kind"`
	ID            int64      `json:"id"`
	ParentEventID *int64     `json:"parent_event_id,omitempty"`
	Title         string     `json:"title"`
	Location      string     `json:"location"`
	StartTime     time.Time  `json:"start_time"`
	EndTime       *time.Time `json:"end_time,omitempty"`
	Status        Status     `json:"status"`
}
