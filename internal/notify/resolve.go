package notify

import (
	"context"
	"fmt"
)

// SettingSource is what the resolver needs to read. *SettingStore
// implements it against Postgres; tests supply a fake.
type SettingSource interface {
	Candidates(ctx context.Context, userID string, ref EntityRef, t Type) ([]Setting, error)
	ContactFor(ctx context.Context, userID string) (Contact, error)
}

// Resolution is the answer to "how should this user be notified".
type Resolution struct {
	Channels    []Channel
	LeadMinutes int
	Contact     Contact
}

// Resolver determines enabled channels and lead time for a
// (user, entity, type) triple. Pure reads, no side effects.
type Resolver struct {
	source SettingSource
}

// NewResolver creates a Resolver.
func NewResolver(source SettingSource) *Resolver {
	return &Resolver{source: source}
}

// Resolve picks the most specific matching setting (activity over event
// over global default). A disabled setting at the winning scope disables
// notification outright. Channels the user lacks contact data for are
// dropped; if none remain, ErrNotEligible is returned.
func (r *Resolver) Resolve(ctx context.Context, userID string, ref EntityRef, t Type) (*Resolution, error) {
	candidates, err := r.source.Candidates(ctx, userID, ref, t)
	if err != nil {
		return nil, fmt.Errorf("resolve %s for %s: %w", t, ref, err)
	}

	var winner *Setting
	for i := range candidates {
		s := &candidates[i]
		if winner == nil || s.Scope() > winner.Scope() {
			winner = s
		}
	}
	if winner == nil || !winner.Enabled {
		return nil, ErrNotEligible
	}

	contact, err := r.source.ContactFor(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("contact for %s: %w", userID, err)
	}

	var channels []Channel
	for _, ch := range winner.Channels {
		if contact.Has(ch) {
			channels = append(channels, ch)
		}
	}
	if len(channels) == 0 {
		return nil, ErrNotEligible
	}

	return &Resolution{
		Channels:    channels,
		LeadMinutes: winner.LeadMinutes,
		Contact:     contact,
	}, nil
}
