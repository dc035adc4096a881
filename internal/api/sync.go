package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/bridgecore/eventrelay/internal/models"
	"github.com/bridgecore/eventrelay/internal/repositories"
	"github.com/bridgecore/eventrelay/internal/services"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type syncStateRequest struct {
	UserID     uuid.UUID `json:"user_id"`
	DeviceID   string    `json:"device_id"`
	AppType    string    `json:"app_type"`
	DeviceInfo string    `json:"device_info"`
	AppVersion string    `json:"app_version"`
}

// SyncState returns the cursor for a consumer, creating it at watermark
// zero on first contact. Accepts GET with query parameters or POST with a
// JSON body.
func (h *Handler) SyncState(w http.ResponseWriter, r *http.Request) {
	var req syncStateRequest
	if r.Method == http.MethodGet {
		q := r.URL.Query()
		if q.Get("user_id") != "" {
			id, err := uuid.Parse(q.Get("user_id"))
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid user_id")
				return
			}
			req.UserID = id
		}
		req.DeviceID = q.Get("device_id")
		req.AppType = q.Get("app_type")
		req.DeviceInfo = q.Get("device_info")
		req.AppVersion = q.Get("app_version")
	} else if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	key := models.ConsumerKey{UserID: req.UserID, DeviceID: req.DeviceID, AppType: req.AppType}
	meta := models.CursorMeta{DeviceInfo: req.DeviceInfo, AppVersion: req.AppVersion}

	cursor, err := h.sync.GetOrCreate(r.Context(), key, meta)
	if errors.Is(err, services.ErrInvalidDeviceID) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("failed to get sync state", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to get sync state")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "cursor": cursor})
}

type syncAdvanceRequest struct {
	UserID       uuid.UUID `json:"user_id"`
	DeviceID     string    `json:"device_id"`
	AppType      string    `json:"app_type"`
	LastEventID  int64     `json:"last_event_id"`
	EventsSynced int       `json:"events_synced"`
	Reset        bool      `json:"reset"`
}

// SyncAdvance moves a consumer's watermark forward. A regression without
// the reset flag is rejected with 409.
func (h *Handler) SyncAdvance(w http.ResponseWriter, r *http.Request) {
	var req syncAdvanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	key := models.ConsumerKey{UserID: req.UserID, DeviceID: req.DeviceID, AppType: req.AppType}

	cursor, err := h.sync.Advance(r.Context(), key, req.LastEventID, req.EventsSynced, req.Reset)
	switch {
	case errors.Is(err, services.ErrInvalidDeviceID), errors.Is(err, services.ErrInvalidWatermark):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, repositories.ErrNotFound):
		writeError(w, http.StatusNotFound, "sync cursor not found")
		return
	case errors.Is(err, repositories.ErrCursorRegression):
		writeError(w, http.StatusConflict, "last_event_id is behind the current cursor")
		return
	case err != nil:
		h.logger.Error("failed to advance cursor", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to advance cursor")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "cursor": cursor})
}

// SyncStats aggregates cursors for a user, optionally narrowed to one
// device or app type.
func (h *Handler) SyncStats(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.URL.Query().Get("user_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user_id")
		return
	}

	stats, err := h.sync.StatsFor(r.Context(), userID,
		r.URL.Query().Get("device_id"), r.URL.Query().Get("app_type"))
	if err != nil {
		h.logger.Error("failed to get sync stats", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to get sync stats")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "stats": stats})
}

// SyncDevices lists every cursor registered for a user.
func (h *Handler) SyncDevices(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.URL.Query().Get("user_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user_id")
		return
	}

	cursors, err := h.sync.ListForUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to list cursors", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list devices")
		return
	}
	if cursors == nil {
		cursors = []*models.ConsumerCursor{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"devices": cursors,
		"count":   len(cursors),
	})
}
