package notify

import (
	"testing"
	"time"
)

func TestPlanFire(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		anchor time.Time
		lead   time.Duration
		want   time.Time
		wantOK bool
	}{
		{
			name:   "future anchor with lead",
			anchor: now.Add(2 * time.Hour),
			lead:   time.Hour,
			want:   now.Add(time.Hour),
			wantOK: true,
		},
		{
			name:   "zero lead fires at anchor",
			anchor: now.Add(30 * time.Minute),
			lead:   0,
			want:   now.Add(30 * time.Minute),
			wantOK: true,
		},
		{
			name:   "fire time already past but anchor ahead stays schedulable",
			anchor: now.Add(10 * time.Minute),
			lead:   time.Hour,
			want:   now.Add(10*time.Minute - time.Hour),
			wantOK: true,
		},
		{
			name:   "anchor already passed",
			anchor: now.Add(-time.Minute),
			lead:   time.Hour,
			wantOK: false,
		},
		{
			name:   "anchor exactly now",
			anchor: now,
			lead:   time.Hour,
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := PlanFire(now, tt.anchor, tt.lead)
			if ok != tt.wantOK {
				t.Fatalf("PlanFire ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && !got.Equal(tt.want) {
				t.Errorf("PlanFire = %v, want %v", got, tt.want)
			}
		})
	}
}

// A job with fire time 940 is not due at 939 and due at 940.
func TestPlanFireDueBoundary(t *testing.T) {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	start := base.Add(1000 * time.Minute)
	lead := 60 * time.Minute

	fireAt, ok := PlanFire(base, start, lead)
	if !ok {
		t.Fatal("job should be schedulable")
	}
	if want := base.Add(940 * time.Minute); !fireAt.Equal(want) {
		t.Fatalf("fireAt = %v, want %v", fireAt, want)
	}

	at939 := base.Add(939 * time.Minute)
	at940 := base.Add(940 * time.Minute)
	if !fireAt.After(at939) {
		t.Error("job should not be due at tick 939")
	}
	if fireAt.After(at940) {
		t.Error("job should be due at tick 940")
	}
}

func TestAnchorFor(t *testing.T) {
	start := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	end := start.Add(3 * time.Hour)

	if got := anchorFor(TypeEntityStart, start, &end); got == nil || !got.Equal(start) {
		t.Errorf("entity_start anchor = %v, want start", got)
	}
	if got := anchorFor(TypeReminder, start, &end); got == nil || !got.Equal(start) {
		t.Errorf("reminder anchor = %v, want start", got)
	}
	if got := anchorFor(TypeEntityEnd, start, &end); got == nil || !got.Equal(end) {
		t.Errorf("entity_end anchor = %v, want end", got)
	}
	if got := anchorFor(TypeEntityEnd, start, nil); got != nil {
		t.Errorf("entity_end anchor without end time = %v, want nil", got)
	}
}
