package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/attendly/notifyd/internal/entity"
)

type fakeSettingSource struct {
	candidates []Setting
	contact    Contact
}

func (f *fakeSettingSource) Candidates(_ context.Context, _ string, _ EntityRef, _ Type) ([]Setting, error) {
	return f.candidates, nil
}

func (f *fakeSettingSource) ContactFor(_ context.Context, _ string) (Contact, error) {
	return f.contact, nil
}

func kindPtr(k entity.Kind) *entity.Kind { return &k }
func idPtr(id int64) *int64              { return &id }

func fullContact() Contact {
	return Contact{
		Email:         "u@example.com",
		Phone:         "+15550100",
		PhoneVerified: true,
		PushSubscriptions: []PushSubscription{
			{ID: 1, Endpoint: "https://push.example/abc", P256dh: "k", Auth: "a"},
		},
	}
}

func TestResolveMostSpecificWins(t *testing.T) {
	ref := EntityRef{Kind: entity.KindActivity, ID: 7}
	src := &fakeSettingSource{
		contact: fullContact(),
		candidates: []Setting{
			{UserID: "u1", Type: TypeEntityStart, Channels: []Channel{ChannelEmail}, LeadMinutes: 120, Enabled: true}, // global
			{UserID: "u1", EntityKind: kindPtr(entity.KindEvent), EntityID: idPtr(3), Type: TypeEntityStart,
				Channels: []Channel{ChannelSMS}, LeadMinutes: 60, Enabled: true}, // parent event
			{UserID: "u1", EntityKind: kindPtr(entity.KindActivity), EntityID: idPtr(7), Type: TypeEntityStart,
				Channels: []Channel{ChannelPush}, LeadMinutes: 15, Enabled: true}, // exact
		},
	}

	res, err := NewResolver(src).Resolve(context.Background(), "u1", ref, TypeEntityStart)
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if res.LeadMinutes != 15 {
		t.Errorf("LeadMinutes = %d, want 15 (activity-scoped setting)", res.LeadMinutes)
	}
	if len(res.Channels) != 1 || res.Channels[0] != ChannelPush {
		t.Errorf("Channels = %v, want [push]", res.Channels)
	}
}

func TestResolveDisabledWinnerBlocksFallback(t *testing.T) {
	ref := EntityRef{Kind: entity.KindEvent, ID: 3}
	src := &fakeSettingSource{
		contact: fullContact(),
		candidates: []Setting{
			{UserID: "u1", Type: TypeEntityStart, Channels: []Channel{ChannelEmail}, Enabled: true}, // global, enabled
			{UserID: "u1", EntityKind: kindPtr(entity.KindEvent), EntityID: idPtr(3), Type: TypeEntityStart,
				Channels: []Channel{ChannelEmail}, Enabled: false}, // specific, disabled
		},
	}

	_, err := NewResolver(src).Resolve(context.Background(), "u1", ref, TypeEntityStart)
	if !errors.Is(err, ErrNotEligible) {
		t.Fatalf("err = %v, want ErrNotEligible (disabled specific setting wins)", err)
	}
}

func TestResolveNoCandidates(t *testing.T) {
	src := &fakeSettingSource{contact: fullContact()}
	_, err := NewResolver(src).Resolve(context.Background(), "u1",
		EntityRef{Kind: entity.KindEvent, ID: 1}, TypeEntityStart)
	if !errors.Is(err, ErrNotEligible) {
		t.Fatalf("err = %v, want ErrNotEligible", err)
	}
}

func TestResolveDropsChannelsWithoutContactData(t *testing.T) {
	ref := EntityRef{Kind: entity.KindEvent, ID: 3}
	src := &fakeSettingSource{
		contact: Contact{Email: "u@example.com"}, // no phone, no subscriptions
		candidates: []Setting{
			{UserID: "u1", EntityKind: kindPtr(entity.KindEvent), EntityID: idPtr(3), Type: TypeReminder,
				Channels: []Channel{ChannelEmail, ChannelSMS, ChannelPush}, Enabled: true},
		},
	}

	res, err := NewResolver(src).Resolve(context.Background(), "u1", ref, TypeReminder)
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if len(res.Channels) != 1 || res.Channels[0] != ChannelEmail {
		t.Errorf("Channels = %v, want [email]", res.Channels)
	}
}

func TestResolveUnverifiedPhoneDropsSMS(t *testing.T) {
	ref := EntityRef{Kind: entity.KindEvent, ID: 3}
	src := &fakeSettingSource{
		contact: Contact{Phone: "+15550100", PhoneVerified: false},
		candidates: []Setting{
			{UserID: "u1", EntityKind: kindPtr(entity.KindEvent), EntityID: idPtr(3), Type: TypeReminder,
				Channels: []Channel{ChannelSMS}, Enabled: true},
		},
	}

	_, err := NewResolver(src).Resolve(context.Background(), "u1", ref, TypeReminder)
	if !errors.Is(err, ErrNotEligible) {
		t.Fatalf("err = %v, want ErrNotEligible (unverified phone leaves no channel)", err)
	}
}

func TestSettingScopeRanking(t *testing.T) {
	global := Setting{UserID: "u1", Type: TypeReminder, Channels: []Channel{ChannelEmail}}
	event := Setting{UserID: "u1", EntityKind: kindPtr(entity.KindEvent), EntityID: idPtr(1),
		Type: TypeReminder, Channels: []Channel{ChannelEmail}}
	activity := Setting{UserID: "u1", EntityKind: kindPtr(entity.KindActivity), EntityID: idPtr(1),
		Type: TypeReminder, Channels: []Channel{ChannelEmail}}

	if !(activity.Scope() > event.Scope() && event.Scope() > global.Scope()) {
		t.Errorf("scope order wrong: activity=%d event=%d global=%d",
			activity.Scope(), event.Scope(), global.Scope())
	}
	if !global.Global() || event.Global() {
		t.Error("Global() misclassifies settings")
	}
}

func TestSettingValidate(t *testing.T) {
	valid := Setting{UserID: "u1", Type: TypeReminder, Channels: []Channel{ChannelEmail}}
	if err := valid.Validate(); err != nil {
		t.Errorf("valid setting rejected: %v", err)
	}

	tests := []struct {
		name string
		set  Setting
	}{
		{"missing user", Setting{Type: TypeReminder, Channels: []Channel{ChannelEmail}}},
		{"unknown type", Setting{UserID: "u1", Type: "weekly_digest", Channels: []Channel{ChannelEmail}}},
		{"no channels", Setting{UserID: "u1", Type: TypeReminder}},
		{"unknown channel", Setting{UserID: "u1", Type: TypeReminder, Channels: []Channel{"fax"}}},
		{"kind without id", Setting{UserID: "u1", EntityKind: kindPtr(entity.KindEvent),
			Type: TypeReminder, Channels: []Channel{ChannelEmail}}},
		{"negative lead", Setting{UserID: "u1", Type: TypeReminder,
			Channels: []Channel{ChannelEmail}, LeadMinutes: -5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.set.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
