package handler

import (
	"encoding/json"
	"net/http"

	"github.com/attendly/notifyd/internal/api/respond"
	"github.com/attendly/notifyd/internal/entity"
	"github.com/attendly/notifyd/internal/notify"
)

// PostEntityChange ingests an entity create/update/cancel/delete event.
// The snapshot upsert and job recomputation commit atomically, so a
// cancellation leaves zero pending jobs the moment this returns.
// @Summary Ingest entity change
// @Description Applies an entity change event: upserts the snapshot and reschedules or cancels the affected jobs in one transaction.
// @Tags changes
// @Accept json
// @Produce json
// @Param event body entity.ChangeEvent true "Entity change event"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} respond.ErrorResponse
// @Failure 500 {object} respond.ErrorResponse
// @Router /api/v1/changes/entity [post]
func (h *Handler) PostEntityChange(w http.ResponseWriter, r *http.Request) {
	var ev entity.ChangeEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_BODY", "Malformed JSON body")
		return
	}
	if !ev.Kind.Valid() {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_KIND", "entity kind must be 'event' or 'activity'")
		return
	}
	if ev.Status == "" {
		ev.Status = entity.StatusScheduled
	}
	if ev.StartTime.IsZero() && ev.Status == entity.StatusScheduled {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_START", "start_time is required for scheduled entities")
		return
	}

	if err := h.sched.ApplyEntityChange(r.Context(), ev); err != nil {
		respond.WriteErrorDetail(w, http.StatusInternalServerError, "APPLY_FAILED",
			"Failed to apply entity change", err.Error())
		return
	}

	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"applied": true,
		"kind":    ev.Kind,
		"id":      ev.ID,
		"status":  ev.Status,
	})
}

// PostSettingChange ingests a setting change event from an upstream
// system. Same transactional semantics as the settings CRUD path.
// @Summary Ingest setting change
// @Description Applies a notification setting change: upserts the rule and reschedules or cancels its job in one transaction.
// @Tags changes
// @Accept json
// @Produce json
// @Param setting body notify.Setting true "Setting change event"
// @Success 200 {object} notify.Setting
// @Failure 400 {object} respond.ErrorResponse
// @Failure 500 {object} respond.ErrorResponse
// @Router /api/v1/changes/setting [post]
func (h *Handler) PostSettingChange(w http.ResponseWriter, r *http.Request) {
	var set notify.Setting
	if err := json.NewDecoder(r.Body).Decode(&set); err != nil {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_BODY", "Malformed JSON body")
		return
	}
	if err := set.Validate(); err != nil {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_SETTING", err.Error())
		return
	}

	stored, err := h.sched.ApplySettingChange(r.Context(), &set)
	if err != nil {
		respond.WriteErrorDetail(w, http.StatusInternalServerError, "APPLY_FAILED",
			"Failed to apply setting change", err.Error())
		return
	}

	respond.WriteJSONObject(w, http.StatusOK, stored)
}
