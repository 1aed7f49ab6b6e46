package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/attendly/notifyd/internal/api/respond"
	"github.com/attendly/notifyd/internal/cache"
	"github.com/attendly/notifyd/internal/entity"
	"github.com/attendly/notifyd/internal/notify"
)

// jobResponse is the external job shape. Internal row ids stay internal;
// callers see the public UUID.
type jobResponse struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	EntityKind string    `json:"entity_kind"`
	EntityID   int64     `json:"entity_id"`
	Type       string    `json:"notif_type"`
	FireAt     time.Time `json:"fire_at"`
	Status     string    `json:"status"`
	Attempt    int       `json:"attempt"`
}

func toJobResponse(j notify.Job) jobResponse {
	return jobResponse{
		ID:         j.PublicID,
		UserID:     j.UserID,
		EntityKind: string(j.Ref.Kind),
		EntityID:   j.Ref.ID,
		Type:       string(j.Type),
		FireAt:     j.FireAt,
		Status:     string(j.Status),
		Attempt:    j.Attempt,
	}
}

// ListPendingJobs returns a user's pending jobs ordered by fire time.
// @Summary List pending jobs
// @Description Returns the user's pending notification jobs, soonest first.
// @Tags jobs
// @Produce json
// @Param user_id query string true "User ID"
// @Success 200 {array} jobResponse
// @Failure 400 {object} respond.ErrorResponse
// @Failure 500 {object} respond.ErrorResponse
// @Router /api/v1/jobs/pending [get]
func (h *Handler) ListPendingJobs(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		respond.WriteError(w, http.StatusBadRequest, "MISSING_USER", "user_id query parameter is required")
		return
	}

	jobs, err := h.jobs.PendingForUser(r.Context(), userID)
	if err != nil {
		respond.WriteErrorDetail(w, http.StatusInternalServerError, "QUERY_FAILED",
			"Failed to list pending jobs", err.Error())
		return
	}

	out := make([]jobResponse, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, toJobResponse(j))
	}
	respond.WriteJSONObject(w, http.StatusOK, out)
}

// GetDeliveryHistory returns the delivery ledger for an entity, newest
// first. Cached with a short TTL and served conditionally via ETag.
// @Summary Delivery history
// @Description Returns every delivery attempt recorded against an entity, newest first.
// @Tags history
// @Produce json
// @Param entityKind path string true "Entity kind" Enums(event, activity)
// @Param entityID path int true "Entity ID"
// @Success 200 {array} notify.DeliveryRecord
// @Success 304 "Not Modified"
// @Failure 400 {object} respond.ErrorResponse
// @Failure 500 {object} respond.ErrorResponse
// @Router /api/v1/history/{entityKind}/{entityID} [get]
func (h *Handler) GetDeliveryHistory(w http.ResponseWriter, r *http.Request) {
	kind := entity.Kind(chi.URLParam(r, "entityKind"))
	if !kind.Valid() {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_KIND", "entity kind must be 'event' or 'activity'")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "entityID"), 10, 64)
	if err != nil {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_ID", "entityID must be an integer")
		return
	}
	ref := notify.EntityRef{Kind: kind, ID: id}

	cacheKey := fmt.Sprintf("history:%s", ref)
	if data, etag, ok := h.cache.Get(cacheKey); ok {
		if cache.CheckETagMatch(r.Header.Get("If-None-Match"), etag) {
			respond.WriteNotModified(w, etag)
			return
		}
		respond.WriteJSON(w, data, etag, cache.TTLHistory, true)
		return
	}

	records, err := h.jobs.HistoryForEntity(r.Context(), ref)
	if err != nil {
		respond.WriteErrorDetail(w, http.StatusInternalServerError, "QUERY_FAILED",
			"Failed to load delivery history", err.Error())
		return
	}
	if records == nil {
		records = []notify.DeliveryRecord{}
	}

	data, err := json.Marshal(records)
	if err != nil {
		respond.WriteErrorDetail(w, http.StatusInternalServerError, "ENCODE_FAILED",
			"Failed to encode delivery history", err.Error())
		return
	}

	etag := h.cache.Set(cacheKey, data, cache.TTLHistory)
	if cache.CheckETagMatch(r.Header.Get("If-None-Match"), etag) {
		respond.WriteNotModified(w, etag)
		return
	}
	respond.WriteJSON(w, data, etag, cache.TTLHistory, false)
}
