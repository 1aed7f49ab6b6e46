package notify

import (
	"strings"
	"testing"
	"time"

	"github.com/attendly/notifyd/internal/entity"
)

func TestRenderStart(t *testing.T) {
	e := &entity.Entity{
		Kind:      entity.KindEvent,
		ID:        1,
		Title:     "Team Offsite",
		Location:  "Pier 39",
		StartTime: time.Date(2026, 9, 4, 18, 30, 0, 0, time.UTC),
		Status:    entity.StatusScheduled,
	}

	msg := Render(e, TypeEntityStart)
	if msg.Title != "Team Offsite" {
		t.Errorf("Title = %q", msg.Title)
	}
	if !strings.Contains(msg.Body, "starts") {
		t.Errorf("Body = %q, want start phrasing", msg.Body)
	}
	if !strings.Contains(msg.Body, "Pier 39") {
		t.Errorf("Body = %q, want location", msg.Body)
	}
	if !strings.Contains(msg.Body, "Fri Sep 4 18:30") {
		t.Errorf("Body = %q, want formatted start time", msg.Body)
	}
}

func TestRenderEndUsesEndTime(t *testing.T) {
	end := time.Date(2026, 9, 4, 21, 0, 0, 0, time.UTC)
	e := &entity.Entity{
		Kind:      entity.KindActivity,
		ID:        2,
		Title:     "Wine Tasting",
		StartTime: time.Date(2026, 9, 4, 18, 30, 0, 0, time.UTC),
		EndTime:   &end,
		Status:    entity.StatusScheduled,
	}

	msg := Render(e, TypeEntityEnd)
	if !strings.Contains(msg.Body, "ends") || !strings.Contains(msg.Body, "21:00") {
		t.Errorf("Body = %q, want end phrasing with end time", msg.Body)
	}
}

func TestRenderReminderOmitsEmptyLocation(t *testing.T) {
	e := &entity.Entity{
		Kind:      entity.KindEvent,
		ID:        3,
		Title:     "Standup",
		StartTime: time.Date(2026, 9, 7, 9, 0, 0, 0, time.UTC),
		Status:    entity.StatusScheduled,
	}

	msg := Render(e, TypeReminder)
	if !strings.HasPrefix(msg.Body, "Reminder:") {
		t.Errorf("Body = %q, want reminder phrasing", msg.Body)
	}
	if strings.Contains(msg.Body, " at ") {
		t.Errorf("Body = %q, should omit location clause", msg.Body)
	}
}
