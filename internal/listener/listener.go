// Package listener provides a Postgres LISTEN/NOTIFY consumer for
// entity and setting changes. It holds a dedicated pgx connection (not
// from the pool) listening on the `entity_changed` and `setting_changed`
// channels fired by the triggers in the schema, so any writer sharing
// the database wakes the scheduler without polling.
//
// Durable correctness does not depend on this path: recomputation is a
// keyed upsert, and the maintenance sweeps cover events missed while no
// listener was connected.
package listener

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/attendly/notifyd/internal/entity"
	"github.com/attendly/notifyd/internal/notify"
)

const (
	entityChannel  = "entity_changed"
	settingChannel = "setting_changed"

	reconnectBackoff = 5 * time.Second
	maxReconnect     = 30 * time.Second
)

// Start opens a dedicated connection and listens for change events. It
// reconnects automatically on connection loss. Blocks until ctx is
// cancelled. Intended to be called with `go`.
func Start(ctx context.Context, dbURL string, sched *notify.Scheduler, logger *slog.Logger) {
	backoff := reconnectBackoff

	for {
		err := listenLoop(ctx, dbURL, sched, logger)
		if ctx.Err() != nil {
			logger.Info("change listener stopped")
			return
		}

		logger.Error("change listener disconnected, reconnecting...",
			"error", err, "backoff", backoff)

		select {
		case <-time.After(backoff):
			backoff = min(backoff*2, maxReconnect)
		case <-ctx.Done():
			return
		}
	}
}

// listenLoop runs a single listen session. Returns when the connection
// drops or the context is cancelled.
func listenLoop(ctx context.Context, dbURL string, sched *notify.Scheduler, logger *slog.Logger) error {
	conn, err := pgx.Connect(ctx, dbURL)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(context.Background())

	for _, ch := range []string{entityChannel, settingChannel} {
		if _, err := conn.Exec(ctx, "LISTEN "+ch); err != nil {
			return fmt.Errorf("LISTEN %s: %w", ch, err)
		}
	}
	logger.Info("change listener connected", "channels", []string{entityChannel, settingChannel})

	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}

		switch notification.Channel {
		case entityChannel:
			handleEntityChange(ctx, sched, notification.Payload, logger)
		case settingChannel:
			handleSettingChange(ctx, sched, notification.Payload, logger)
		}
	}
}

func handleEntityChange(ctx context.Context, sched *notify.Scheduler, payload string, logger *slog.Logger) {
	var ev entity.ChangeEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		logger.Warn("bad entity change payload", "payload", payload, "error", err)
		return
	}

	logger.Info("entity change received",
		"kind", ev.Kind, "id", ev.ID, "status", ev.Status, "start", ev.StartTime)

	if err := sched.RecomputeEntity(ctx, ev); err != nil {
		logger.Error("recompute entity jobs", "kind", ev.Kind, "id", ev.ID, "error", err)
	}
}

func handleSettingChange(ctx context.Context, sched *notify.Scheduler, payload string, logger *slog.Logger) {
	var set notify.Setting
	if err := json.Unmarshal([]byte(payload), &set); err != nil {
		logger.Warn("bad setting change payload", "payload", payload, "error", err)
		return
	}

	logger.Info("setting change received",
		"user", set.UserID, "type", set.Type, "enabled", set.Enabled)

	if err := sched.RecomputeSetting(ctx, &set); err != nil {
		logger.Error("recompute setting jobs", "setting", set.ID, "error", err)
	}
}
