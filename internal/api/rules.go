package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/bridgecore/eventrelay/internal/models"
	"github.com/bridgecore/eventrelay/internal/repositories"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type ruleRequest struct {
	Name            string           `json:"name"`
	EntityKind      string           `json:"entity_kind"`
	Operation       models.Operation `json:"operation"`
	Predicate       models.Predicate `json:"predicate"`
	TrackedFields   []string         `json:"tracked_fields"`
	Priority        models.Priority  `json:"priority"`
	Category        models.Category  `json:"category"`
	InstantDelivery bool             `json:"instant_delivery"`
	RateLimit       int              `json:"rate_limit"`
	DebounceSeconds int              `json:"debounce_seconds"`
	Active          *bool            `json:"active"`
}

func (req *ruleRequest) validate() error {
	if req.Name == "" {
		return errors.New("name is required")
	}
	if req.EntityKind == "" {
		return errors.New("entity_kind is required")
	}
	if !req.Operation.Valid() {
		return errors.New("operation must be create, update or delete")
	}
	if req.Priority == "" {
		req.Priority = models.PriorityMedium
	}
	if !req.Priority.Valid() {
		return errors.New("priority must be high, medium or low")
	}
	if req.Category == "" {
		req.Category = models.CategoryCustom
	}
	if !req.Category.Valid() {
		return errors.New("category must be business, system, notification or custom")
	}
	if err := req.Predicate.Validate(); err != nil {
		return err
	}
	if req.RateLimit < 0 {
		return errors.New("rate_limit must be non-negative")
	}
	if req.DebounceSeconds < 0 {
		return errors.New("debounce_seconds must be non-negative")
	}
	return nil
}

func (req *ruleRequest) toRule() *models.Rule {
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	return &models.Rule{
		Name:            req.Name,
		EntityKind:      req.EntityKind,
		Operation:       req.Operation,
		Predicate:       req.Predicate,
		TrackedFields:   req.TrackedFields,
		Priority:        req.Priority,
		Category:        req.Category,
		InstantDelivery: req.InstantDelivery,
		RateLimit:       req.RateLimit,
		DebounceSeconds: req.DebounceSeconds,
		Active:          active,
	}
}

func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.rules.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list rules", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list rules")
		return
	}
	if rules == nil {
		rules = []*models.Rule{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"rules":   rules,
		"count":   len(rules),
	})
}

func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	id, err := ruleID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid rule id")
		return
	}

	rule, err := h.rules.GetByID(r.Context(), id)
	if errors.Is(err, repositories.ErrNotFound) {
		writeError(w, http.StatusNotFound, "rule not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to get rule", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to get rule")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "rule": rule})
}

func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rule := req.toRule()
	err := h.rules.Create(r.Context(), rule)
	if errors.Is(err, repositories.ErrDuplicateRule) {
		writeError(w, http.StatusConflict, "an active rule already exists for this entity kind and operation")
		return
	}
	if err != nil {
		h.logger.Error("failed to create rule", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create rule")
		return
	}

	h.invalidateRules(r)
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "rule": rule})
}

func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	id, err := ruleID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid rule id")
		return
	}

	var req ruleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rule := req.toRule()
	rule.ID = id
	err = h.rules.Update(r.Context(), rule)
	if errors.Is(err, repositories.ErrNotFound) {
		writeError(w, http.StatusNotFound, "rule not found")
		return
	}
	if errors.Is(err, repositories.ErrDuplicateRule) {
		writeError(w, http.StatusConflict, "an active rule already exists for this entity kind and operation")
		return
	}
	if err != nil {
		h.logger.Error("failed to update rule", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to update rule")
		return
	}

	h.invalidateRules(r)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "rule": rule})
}

func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	id, err := ruleID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid rule id")
		return
	}

	err = h.rules.Delete(r.Context(), id)
	if errors.Is(err, repositories.ErrNotFound) {
		writeError(w, http.StatusNotFound, "rule not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to delete rule", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to delete rule")
		return
	}

	h.invalidateRules(r)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *Handler) invalidateRules(r *http.Request) {
	if err := h.cache.Invalidate(r.Context()); err != nil {
		h.logger.Error("failed to invalidate rule cache", zap.Error(err))
	}
}

func ruleID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}
