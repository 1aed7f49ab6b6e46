package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"

	"github.com/attendly/notifyd/internal/api/respond"
	"github.com/attendly/notifyd/internal/notify"
)

// ListSettings returns all notification settings owned by a user.
// @Summary List settings
// @Description Returns every notification setting for the given user, entity-scoped and global.
// @Tags settings
// @Produce json
// @Param user_id query string true "User ID"
// @Success 200 {array} notify.Setting
// @Failure 400 {object} respond.ErrorResponse
// @Failure 500 {object} respond.ErrorResponse
// @Router /api/v1/settings [get]
func (h *Handler) ListSettings(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		respond.WriteError(w, http.StatusBadRequest, "MISSING_USER", "user_id query parameter is required")
		return
	}

	settings, err := h.settings.ListForUser(r.Context(), userID)
	if err != nil {
		respond.WriteErrorDetail(w, http.StatusInternalServerError, "QUERY_FAILED",
			"Failed to list settings", err.Error())
		return
	}
	if settings == nil {
		settings = []notify.Setting{}
	}
	respond.WriteJSONObject(w, http.StatusOK, settings)
}

// PutSetting creates or replaces the setting for a (user, scope, type)
// slot and recomputes the job it governs.
// @Summary Upsert setting
// @Description Creates or replaces a notification setting and reschedules or cancels its job in one transaction.
// @Tags settings
// @Accept json
// @Produce json
// @Param setting body notify.Setting true "Setting"
// @Success 200 {object} notify.Setting
// @Failure 400 {object} respond.ErrorResponse
// @Failure 500 {object} respond.ErrorResponse
// @Router /api/v1/settings [put]
func (h *Handler) PutSetting(w http.ResponseWriter, r *http.Request) {
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
			"Failed to store setting", err.Error())
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, stored)
}

// DeleteSetting removes a setting and cancels the job it scheduled.
// @Summary Delete setting
// @Description Deletes a notification setting by id and cancels its pending job in one transaction.
// @Tags settings
// @Produce json
// @Param settingID path int true "Setting ID"
// @Param user_id query string true "User ID"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} respond.ErrorResponse
// @Failure 404 {object} respond.ErrorResponse
// @Failure 500 {object} respond.ErrorResponse
// @Router /api/v1/settings/{settingID} [delete]
func (h *Handler) DeleteSetting(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		respond.WriteError(w, http.StatusBadRequest, "MISSING_USER", "user_id query parameter is required")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "settingID"), 10, 64)
	if err != nil {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_ID", "settingID must be an integer")
		return
	}

	if err := h.sched.RemoveSetting(r.Context(), userID, id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			respond.WriteError(w, http.StatusNotFound, "NOT_FOUND", "No such setting for this user")
			return
		}
		respond.WriteErrorDetail(w, http.StatusInternalServerError, "DELETE_FAILED",
			"Failed to delete setting", err.Error())
		return
	}

	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"deleted": true,
		"id":      id,
	})
}
