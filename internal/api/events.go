package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bridgecore/eventrelay/internal/models"
	"github.com/bridgecore/eventrelay/internal/services"
	"go.uber.org/zap"
)

const (
	defaultPullLimit = 100
	maxPullLimit     = 1000
)

type pullRequest struct {
	LastEventID int64    `json:"last_event_id"`
	Limit       int      `json:"limit"`
	EntityKinds []string `json:"entity_kinds"`
	Priority    string   `json:"priority"`
}

// Pull returns unprocessed events after the consumer's watermark in id
// order. Accepts GET with query parameters or POST with a JSON body.
func (h *Handler) Pull(w http.ResponseWriter, r *http.Request) {
	req, err := parsePullRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	filters := models.PullFilters{EntityKinds: req.EntityKinds}
	if req.Priority != "" {
		p := models.Priority(req.Priority)
		if !p.Valid() {
			writeError(w, http.StatusBadRequest, "invalid priority filter")
			return
		}
		filters.Priority = p
	}

	events, hasMore, err := h.events.Pull(r.Context(), req.LastEventID, req.Limit, filters)
	if err != nil {
		h.logger.Error("failed to pull events", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to fetch events")
		return
	}

	lastID := req.LastEventID
	if len(events) > 0 {
		lastID = events[len(events)-1].ID
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"events":    eventsOrEmpty(events),
		"last_id":   lastID,
		"has_more":  hasMore,
		"count":     len(events),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func parsePullRequest(r *http.Request) (pullRequest, error) {
	req := pullRequest{Limit: defaultPullLimit}

	if r.Method == http.MethodPost {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return req, errors.New("invalid request body")
		}
		if req.Limit == 0 {
			req.Limit = defaultPullLimit
		}
	} else {
		q := r.URL.Query()
		if v := q.Get("last_event_id"); v != "" {
			id, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return req, errors.New("invalid last_event_id")
			}
			req.LastEventID = id
		}
		if v := q.Get("limit"); v != "" {
			limit, err := strconv.Atoi(v)
			if err != nil {
				return req, errors.New("invalid limit")
			}
			req.Limit = limit
		}
		if v := q.Get("entity_kinds"); v != "" {
			req.EntityKinds = strings.Split(v, ",")
		}
		req.Priority = q.Get("priority")
	}

	if req.LastEventID < 0 {
		return req, errors.New("last_event_id must be non-negative")
	}
	if req.Limit < 1 {
		return req, errors.New("limit must be positive")
	}
	if req.Limit > maxPullLimit {
		req.Limit = maxPullLimit
	}
	return req, nil
}

func eventsOrEmpty(events []*models.Event) []*models.Event {
	if events == nil {
		return []*models.Event{}
	}
	return events
}

type markProcessedRequest struct {
	EventIDs []int64 `json:"event_ids"`
}

// MarkProcessed acknowledges delivered events. Already-processed ids are
// skipped, so consumer retries are harmless.
func (h *Handler) MarkProcessed(w http.ResponseWriter, r *http.Request) {
	var req markProcessedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.EventIDs) == 0 {
		writeError(w, http.StatusBadRequest, "event_ids is required")
		return
	}

	count, err := h.events.MarkProcessed(r.Context(), req.EventIDs)
	if err != nil {
		h.logger.Error("failed to mark events processed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to mark events processed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"processed_count": count,
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
	})
}

// Stats reports log counts over a bounded window (default 7 days).
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	days := 0
	if v := r.URL.Query().Get("days"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "invalid days")
			return
		}
		days = parsed
	}

	stats, err := h.events.Stats(r.Context(), days)
	if err != nil {
		h.logger.Error("failed to get event stats", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"stats":   stats,
	})
}

// Health is the only unauthenticated endpoint.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	pending, err := h.events.CountPending(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":    "unhealthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "healthy",
		"pending_events": pending,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	})
}

// Notify is the mutation ingress for host applications that report changes
// over HTTP instead of in-process. Classification never fails the caller;
// accepted means queued for evaluation, not captured.
func (h *Handler) Notify(w http.ResponseWriter, r *http.Request) {
	var m models.Mutation
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if m.EntityKind == "" {
		writeError(w, http.StatusBadRequest, "entity_kind is required")
		return
	}
	if !m.Operation.Valid() {
		writeError(w, http.StatusBadRequest, "operation must be create, update or delete")
		return
	}
	if m.EntityID == 0 {
		writeError(w, http.StatusBadRequest, "entity_id is required")
		return
	}

	h.classifier.OnMutation(r.Context(), m)

	writeJSON(w, http.StatusAccepted, map[string]any{
		"success":   true,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// RunMaintenance triggers one sweep on demand.
func (h *Handler) RunMaintenance(w http.ResponseWriter, r *http.Request) {
	result, err := h.sweeper.Run(r.Context())
	if errors.Is(err, services.ErrSweepInProgress) {
		writeError(w, http.StatusConflict, "maintenance sweep already running")
		return
	}
	if err != nil {
		h.logger.Error("maintenance sweep failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "maintenance sweep failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"result":  result,
	})
}

// DeadLetters lists recent terminal delivery failures, newest first.
func (h *Handler) DeadLetters(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}
	if limit > maxPullLimit {
		limit = maxPullLimit
	}

	entries, err := h.deadLetters.List(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list dead letters", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list dead letters")
		return
	}
	if entries == nil {
		entries = []*models.DeadLetterEntry{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"dead_letters": entries,
		"count":        len(entries),
	})
}
