package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/attendly/notifyd/internal/db"
	"github.com/attendly/notifyd/internal/entity"
)

// Setting is a user's standing preference for a notification type.
// Scope is either one entity (EntityKind+EntityID set) or global
// (both nil).
type Setting struct {
	ID          int64        `json:"id"`
	UserID      string       `json:"user_id"`
	EntityKind  *entity.Kind `json:"entity_kind,omitempty"`
	EntityID    *int64       `json:"entity_id,omitempty"`
	Type        Type         `json:"notif_type"`
	Channels    []Channel    `json:"channels"`
	LeadMinutes int          `json:"lead_minutes"`
	Enabled     bool         `json:"enabled"`
}

// Global reports whether the setting is a global default.
func (s *Setting) Global() bool {
	return s.EntityKind == nil
}

// Scope ranks specificity: activity > event > global.
func (s *Setting) Scope() int {
	switch {
	case s.EntityKind != nil && *s.EntityKind == entity.KindActivity:
		return 3
	case s.EntityKind != nil:
		return 2
	default:
		return 1
	}
}

// Validate checks structural invariants before persistence.
func (s *Setting) Validate() error {
	if s.UserID == "" {
		return errors.New("user_id is required")
	}
	if !s.Type.Valid() {
		return fmt.Errorf("unknown notification type %q", s.Type)
	}
	if (s.EntityKind == nil) != (s.EntityID == nil) {
		return errors.New("entity_kind and entity_id must be set together")
	}
	if s.EntityKind != nil && !s.EntityKind.Valid() {
		return fmt.Errorf("unknown entity kind %q", *s.EntityKind)
	}
	if len(s.Channels) == 0 {
		return errors.New("at least one channel is required")
	}
	for _, ch := range s.Channels {
		if !ch.Valid() {
			return fmt.Errorf("unknown channel %q", ch)
		}
	}
	if s.LeadMinutes < 0 {
		return errors.New("lead_minutes must not be negative")
	}
	return nil
}

// SettingStore persists notification settings and user contact data.
type SettingStore struct {
	q db.Querier
}

// NewSettingStore creates a SettingStore.
func NewSettingStore(q db.Querier) *SettingStore {
	return &SettingStore{q: q}
}

// Upsert creates or replaces the rule for the setting's (user, scope,
// type) slot and returns the stored row.
func (s *SettingStore) Upsert(ctx context.Context, set *Setting) (*Setting, error) {
	if err := set.Validate(); err != nil {
		return nil, err
	}
	chans := channelStrings(set.Channels)
	err := s.q.QueryRow(ctx, `
		INSERT INTO notification_settings
			(user_id, entity_kind, entity_id, notif_type, channels, lead_minutes, enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, COALESCE(entity_kind, ''), COALESCE(entity_id, 0), notif_type)
		DO UPDATE SET
			channels = EXCLUDED.channels,
			lead_minutes = EXCLUDED.lead_minutes,
			enabled = EXCLUDED.enabled,
			updated_at = NOW()
		RETURNING id`,
		set.UserID, set.EntityKind, set.EntityID, set.Type,
		chans, set.LeadMinutes, set.Enabled,
	).Scan(&set.ID)
	if err != nil {
		return nil, fmt.Errorf("upsert setting: %w", err)
	}
	return set, nil
}

// Delete removes a setting by id, scoped to its owner.
func (s *SettingStore) Delete(ctx context.Context, userID string, id int64) (*Setting, error) {
	row := s.q.QueryRow(ctx, `
		DELETE FROM notification_settings
		WHERE id = $1 AND user_id = $2
		RETURNING id, user_id, entity_kind, entity_id, notif_type,
		          channels, lead_minutes, enabled`,
		id, userID)
	set, err := scanSetting(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, pgx.ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("delete setting %d: %w", id, err)
	}
	return set, nil
}

// ListForUser returns all settings owned by a user.
func (s *SettingStore) ListForUser(ctx context.Context, userID string) ([]Setting, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, user_id, entity_kind, entity_id, notif_type,
		       channels, lead_minutes, enabled
		FROM notification_settings
		WHERE user_id = $1
		ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	defer rows.Close()
	return scanSettings(rows)
}

// Candidates returns every setting of the user that could govern the
// given entity and type: exact scope, the activity's parent event scope,
// and the global default.
func (s *SettingStore) Candidates(ctx context.Context, userID string, ref EntityRef, t Type) ([]Setting, error) {
	rows, err := s.q.Query(ctx, "settings_candidates", userID, t, ref.Kind, ref.ID)
	if err != nil {
		return nil, fmt.Errorf("settings candidates: %w", err)
	}
	defer rows.Close()
	return scanSettings(rows)
}

// ForEntity returns all settings scoped directly to an entity.
func (s *SettingStore) ForEntity(ctx context.Context, ref EntityRef) ([]Setting, error) {
	rows, err := s.q.Query(ctx, "settings_for_entity", ref.Kind, ref.ID)
	if err != nil {
		return nil, fmt.Errorf("settings for entity: %w", err)
	}
	defer rows.Close()
	return scanSettings(rows)
}

// ContactFor returns the user's contact data, including active push
// subscriptions.
func (s *SettingStore) ContactFor(ctx context.Context, userID string) (Contact, error) {
	var c Contact
	err := s.q.QueryRow(ctx, "user_contact", userID).Scan(&c.Email, &c.Phone, &c.PhoneVerified)
	if errors.Is(err, pgx.ErrNoRows) {
		return Contact{}, nil
	}
	if err != nil {
		return Contact{}, fmt.Errorf("user contact: %w", err)
	}

	rows, err := s.q.Query(ctx, "user_push_subscriptions", userID)
	if err != nil {
		return Contact{}, fmt.Errorf("push subscriptions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var sub PushSubscription
		if err := rows.Scan(&sub.ID, &sub.Endpoint, &sub.P256dh, &sub.Auth); err != nil {
			return Contact{}, fmt.Errorf("scan subscription: %w", err)
		}
		c.PushSubscriptions = append(c.PushSubscriptions, sub)
	}
	return c, rows.Err()
}

// DeactivateSubscription marks a push endpoint inactive (410 Gone).
func (s *SettingStore) DeactivateSubscription(ctx context.Context, endpoint string) error {
	_, err := s.q.Exec(ctx,
		`UPDATE push_subscriptions SET active = false WHERE endpoint = $1`, endpoint)
	return err
}

// --------------------------------------------------------------------------
// Scan helpers
// --------------------------------------------------------------------------

func scanSetting(row pgx.Row) (*Setting, error) {
	var set Setting
	var chans []string
	err := row.Scan(&set.ID, &set.UserID, &set.EntityKind, &set.EntityID,
		&set.Type, &chans, &set.LeadMinutes, &set.Enabled)
	if err != nil {
		return nil, err
	}
	for _, ch := range chans {
		set.Channels = append(set.Channels, Channel(ch))
	}
	return &set, nil
}

func scanSettings(rows pgx.Rows) ([]Setting, error) {
	var out []Setting
	for rows.Next() {
		set, err := scanSetting(rows)
		if err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		out = append(out, *set)
	}
	return out, rows.Err()
}

func channelStrings(chans []Channel) []string {
	out := make([]string, len(chans))
	for i, ch := range chans {
		out[i] = string(ch)
	}
	return out
}
