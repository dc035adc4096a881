package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bridgecore/eventrelay/internal/models"
	"github.com/bridgecore/eventrelay/internal/repositories"
	"github.com/bridgecore/eventrelay/internal/services"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testAPIKey = "test-key"

type testServer struct {
	server *httptest.Server
	events *repositories.MemoryEventRepository
	rules  *repositories.MemoryRuleRepository
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	events := repositories.NewMemoryEventRepository()
	rules := repositories.NewMemoryRuleRepository()
	cursors := repositories.NewMemoryCursorRepository()
	deadLetters := repositories.NewMemoryDeadLetterRepository()
	logger := zap.NewNop()

	cache := services.NewRuleCache(rules, logger)
	require.NoError(t, cache.Invalidate(t.Context()))

	debouncer := services.NewDebouncer()
	t.Cleanup(debouncer.Stop)
	classifier := services.NewClassifier(cache, events, nil, nil, debouncer, logger)
	syncService := services.NewSyncService(cursors, logger)
	sweeper := services.NewSweeper(events, cursors, deadLetters,
		7*24*time.Hour, 30*24*time.Hour, 0, 0, logger)

	handler := NewHandler(events, rules, deadLetters, cache, classifier, syncService, sweeper, logger)
	server := httptest.NewServer(NewRouter(handler, testAPIKey))
	t.Cleanup(server.Close)

	return &testServer{server: server, events: events, rules: rules}
}

func (ts *testServer) request(t *testing.T, method, path string, body any, apiKey string) (*http.Response, map[string]any) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, ts.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	resp, err := ts.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func (ts *testServer) seedEvents(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		event := &models.Event{
			EntityKind: "account.move",
			EntityID:   int64(i + 1),
			Operation:  models.OpCreate,
			Payload:    map[string]any{"seq": i},
			Priority:   models.PriorityMedium,
			Category:   models.CategoryBusiness,
		}
		require.NoError(t, ts.events.Append(t.Context(), event))
	}
}

func TestAPI_AuthRequired(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.request(t, http.MethodGet, "/api/webhooks/pull", nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, true, body["error"])

	resp, _ = ts.request(t, http.MethodGet, "/api/webhooks/pull", nil, "wrong-key")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Health stays open for probes.
	resp, body = ts.request(t, http.MethodGet, "/api/webhooks/health", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])
}

func TestAPI_PullPagination(t *testing.T) {
	ts := newTestServer(t)
	ts.seedEvents(t, 7)

	resp, body := ts.request(t, http.MethodGet, "/api/webhooks/pull?limit=3", nil, testAPIKey)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["has_more"])
	assert.Equal(t, float64(3), body["count"])
	assert.Equal(t, float64(3), body["last_id"])

	resp, body = ts.request(t, http.MethodGet, "/api/webhooks/pull?last_event_id=3&limit=100", nil, testAPIKey)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["has_more"])
	assert.Equal(t, float64(4), body["count"])
	assert.Equal(t, float64(7), body["last_id"])
}

func TestAPI_PullValidation(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := ts.request(t, http.MethodGet, "/api/webhooks/pull?last_event_id=-1", nil, testAPIKey)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = ts.request(t, http.MethodGet, "/api/webhooks/pull?limit=0", nil, testAPIKey)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Oversized limits are capped, not rejected.
	resp, _ = ts.request(t, http.MethodGet, "/api/webhooks/pull?limit=99999", nil, testAPIKey)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = ts.request(t, http.MethodGet, "/api/webhooks/pull?priority=urgent", nil, testAPIKey)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_MarkProcessedIdempotent(t *testing.T) {
	ts := newTestServer(t)
	ts.seedEvents(t, 3)

	payload := map[string]any{"event_ids": []int64{1, 2}}
	resp, body := ts.request(t, http.MethodPost, "/api/webhooks/mark-processed", payload, testAPIKey)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), body["processed_count"])

	// Re-acknowledging is harmless.
	resp, body = ts.request(t, http.MethodPost, "/api/webhooks/mark-processed", payload, testAPIKey)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(0), body["processed_count"])

	resp, _ = ts.request(t, http.MethodPost, "/api/webhooks/mark-processed", map[string]any{"event_ids": []int64{}}, testAPIKey)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_NotifyCapturesEvent(t *testing.T) {
	ts := newTestServer(t)

	// Install a rule, then report a matching mutation.
	rule := map[string]any{
		"name":        "move updates",
		"entity_kind": "account.move",
		"operation":   "update",
		"priority":    "high",
		"category":    "business",
	}
	resp, _ := ts.request(t, http.MethodPost, "/api/rules/", rule, testAPIKey)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	mutation := map[string]any{
		"entity_kind": "account.move",
		"entity_id":   7,
		"operation":   "update",
		"before":      map[string]any{"state": "draft"},
		"after":       map[string]any{"state": "posted"},
		"actor":       "admin",
	}
	resp, _ = ts.request(t, http.MethodPost, "/api/webhooks/notify", mutation, testAPIKey)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, body := ts.request(t, http.MethodGet, "/api/webhooks/pull", nil, testAPIKey)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["count"])

	// Mutations for untracked kinds are accepted but produce nothing.
	mutation["entity_kind"] = "res.partner"
	resp, _ = ts.request(t, http.MethodPost, "/api/webhooks/notify", mutation, testAPIKey)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	_, body = ts.request(t, http.MethodGet, "/api/webhooks/pull", nil, testAPIKey)
	assert.Equal(t, float64(1), body["count"])
}

func TestAPI_NotifyValidation(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := ts.request(t, http.MethodPost, "/api/webhooks/notify", map[string]any{
		"entity_kind": "account.move", "entity_id": 1, "operation": "upsert",
	}, testAPIKey)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = ts.request(t, http.MethodPost, "/api/webhooks/notify", map[string]any{
		"entity_id": 1, "operation": "create",
	}, testAPIKey)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_RuleLifecycle(t *testing.T) {
	ts := newTestServer(t)

	rule := map[string]any{
		"name":        "orders",
		"entity_kind": "sale.order",
		"operation":   "create",
	}
	resp, body := ts.request(t, http.MethodPost, "/api/rules/", rule, testAPIKey)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := body["rule"].(map[string]any)
	assert.Equal(t, "medium", created["priority"], "priority defaults when omitted")
	assert.Equal(t, "custom", created["category"])
	assert.Equal(t, true, created["active"])
	id := int64(created["id"].(float64))

	// A second catch-all for the same kind+op conflicts.
	resp, _ = ts.request(t, http.MethodPost, "/api/rules/", rule, testAPIKey)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	update := map[string]any{
		"name":        "orders",
		"entity_kind": "sale.order",
		"operation":   "create",
		"priority":    "high",
	}
	resp, _ = ts.request(t, http.MethodPut, fmt.Sprintf("/api/rules/%d", id), update, testAPIKey)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = ts.request(t, http.MethodGet, fmt.Sprintf("/api/rules/%d", id), nil, testAPIKey)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "high", body["rule"].(map[string]any)["priority"])

	resp, _ = ts.request(t, http.MethodDelete, fmt.Sprintf("/api/rules/%d", id), nil, testAPIKey)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = ts.request(t, http.MethodGet, fmt.Sprintf("/api/rules/%d", id), nil, testAPIKey)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_RuleValidation(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := ts.request(t, http.MethodPost, "/api/rules/", map[string]any{
		"entity_kind": "sale.order", "operation": "create",
	}, testAPIKey)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "name required")

	resp, _ = ts.request(t, http.MethodPost, "/api/rules/", map[string]any{
		"name": "bad", "entity_kind": "sale.order", "operation": "merge",
	}, testAPIKey)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "unknown operation")

	resp, _ = ts.request(t, http.MethodPost, "/api/rules/", map[string]any{
		"name": "bad", "entity_kind": "sale.order", "operation": "create",
		"predicate": []map[string]any{{"field": "state", "op": "matches", "value": 1}},
	}, testAPIKey)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "unknown predicate operator")
}

func TestAPI_SyncFlow(t *testing.T) {
	ts := newTestServer(t)
	userID := uuid.New().String()

	state := map[string]any{
		"user_id":   userID,
		"device_id": "device-01",
		"app_type":  "mobile_app",
	}
	resp, body := ts.request(t, http.MethodPost, "/api/sync/state", state, testAPIKey)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(0), body["cursor"].(map[string]any)["last_event_id"])

	advance := map[string]any{
		"user_id":       userID,
		"device_id":     "device-01",
		"app_type":      "mobile_app",
		"last_event_id": 42,
		"events_synced": 10,
	}
	resp, body = ts.request(t, http.MethodPost, "/api/sync/advance", advance, testAPIKey)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(42), body["cursor"].(map[string]any)["last_event_id"])

	// Regression without reset conflicts.
	advance["last_event_id"] = 10
	resp, _ = ts.request(t, http.MethodPost, "/api/sync/advance", advance, testAPIKey)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Reset rewinds deliberately.
	advance["reset"] = true
	resp, body = ts.request(t, http.MethodPost, "/api/sync/advance", advance, testAPIKey)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(10), body["cursor"].(map[string]any)["last_event_id"])

	resp, body = ts.request(t, http.MethodGet, "/api/sync/stats?user_id="+userID, nil, testAPIKey)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["stats"].(map[string]any)["total_cursors"])

	resp, body = ts.request(t, http.MethodGet, "/api/sync/devices?user_id="+userID, nil, testAPIKey)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["count"])
}

// Consumers may fetch their cursor with plain query parameters; the first
// GET lazily creates it.
func TestAPI_SyncStateViaGet(t *testing.T) {
	ts := newTestServer(t)
	userID := uuid.New().String()

	resp, body := ts.request(t, http.MethodGet,
		"/api/sync/state?user_id="+userID+"&device_id=device-01&app_type=mobile_app", nil, testAPIKey)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cursor := body["cursor"].(map[string]any)
	assert.Equal(t, float64(0), cursor["last_event_id"])
	assert.Equal(t, "device-01", cursor["device_id"])

	resp, _ = ts.request(t, http.MethodGet, "/api/sync/state?user_id=not-a-uuid&device_id=device-01", nil, testAPIKey)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = ts.request(t, http.MethodGet, "/api/sync/state?device_id=device-01", nil, testAPIKey)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "user_id required")
}

func TestAPI_SyncAdvanceUnknownCursor(t *testing.T) {
	ts := newTestServer(t)

	advance := map[string]any{
		"user_id":       uuid.New().String(),
		"device_id":     "device-99",
		"last_event_id": 5,
	}
	resp, _ := ts.request(t, http.MethodPost, "/api/sync/advance", advance, testAPIKey)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_StatsAndMaintenance(t *testing.T) {
	ts := newTestServer(t)
	ts.seedEvents(t, 5)

	resp, body := ts.request(t, http.MethodGet, "/api/webhooks/stats?days=30", nil, testAPIKey)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stats := body["stats"].(map[string]any)
	assert.Equal(t, float64(5), stats["total"])
	assert.Equal(t, float64(30), stats["period_days"])

	resp, body = ts.request(t, http.MethodPost, "/api/webhooks/maintenance/run", nil, testAPIKey)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	result := body["result"].(map[string]any)
	assert.Equal(t, float64(0), result["archived"], "fresh events stay put")

	resp, body = ts.request(t, http.MethodGet, "/api/webhooks/dead-letters", nil, testAPIKey)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(0), body["count"])
}
