package notify

import (
	"fmt"

	"github.com/attendly/notifyd/internal/entity"
)

const renderTimeLayout = "Mon Jan 2 15:04"

// Render builds the outgoing message from the live entity snapshot.
// Called at dispatch time, not schedule time, so title/time/location
// edits made after scheduling are reflected.
func Render(e *entity.Entity, t Type) Message {
	when := e.StartTime.UTC().Format(renderTimeLayout)
	at := ""
	if e.Location != "" {
		at = " at " + e.Location
	}

	var body string
	switch t {
	case TypeEntityStart:
		body = fmt.Sprintf("%s starts %s%s", e.Title, when, at)
	case TypeEntityEnd:
		end := e.StartTime
		if e.EndTime != nil {
			end = *e.EndTime
		}
		body = fmt.Sprintf("%s ends %s", e.Title, end.UTC().Format(renderTimeLayout))
	default:
		body = fmt.Sprintf("Reminder: %s on %s%s", e.Title, when, at)
	}

	return Message{Title: e.Title, Body: body}
}
