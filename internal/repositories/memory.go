package repositories

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/bridgecore/eventrelay/internal/models"
	"github.com/google/uuid"
)

// In-memory implementations of the repository interfaces. They back the
// engine and handler tests and allow running the service without external
// infrastructure; semantics mirror the postgres implementations, including
// id assignment that never reuses ids after a purge.

type MemoryEventRepository struct {
	mu     sync.Mutex
	nextID int64
	events map[int64]*models.Event
}

func NewMemoryEventRepository() *MemoryEventRepository {
	return &MemoryEventRepository{events: make(map[int64]*models.Event)}
}

func (r *MemoryEventRepository) Append(_ context.Context, event *models.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	event.ID = r.nextID
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	stored := *event
	r.events[event.ID] = &stored
	return nil
}

func (r *MemoryEventRepository) GetByID(_ context.Context, id int64) (*models.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	event, ok := r.events[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *event
	return &copied, nil
}

func (r *MemoryEventRepository) Pull(_ context.Context, afterID int64, limit int, filters models.PullFilters) ([]*models.Event, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []*models.Event
	for _, event := range r.events {
		if event.ID <= afterID || event.Processed || event.Archived {
			continue
		}
		if len(filters.EntityKinds) > 0 && !slices.Contains(filters.EntityKinds, event.EntityKind) {
			continue
		}
		if filters.Priority != "" && event.Priority != filters.Priority {
			continue
		}
		matched = append(matched, event)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	hasMore := len(matched) > limit
	if hasMore {
		matched = matched[:limit]
	}

	out := make([]*models.Event, len(matched))
	for i, event := range matched {
		copied := *event
		out[i] = &copied
	}
	return out, hasMore, nil
}

func (r *MemoryEventRepository) MarkProcessed(_ context.Context, ids []int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	var count int64
	for _, id := range ids {
		event, ok := r.events[id]
		if !ok || event.Processed {
			continue
		}
		event.Processed = true
		event.ProcessedAt = &now
		count++
	}
	return count, nil
}

func (r *MemoryEventRepository) CountPending(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var count int64
	for _, event := range r.events {
		if !event.Processed && !event.Archived {
			count++
		}
	}
	return count, nil
}

func (r *MemoryEventRepository) Archive(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	var count int64
	for _, event := range r.events {
		if event.Processed && !event.Archived && event.OccurredAt.Before(cutoff) {
			event.Archived = true
			event.ArchivedAt = &now
			count++
		}
	}
	return count, nil
}

func (r *MemoryEventRepository) Purge(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var count int64
	for id, event := range r.events {
		if event.Archived && event.OccurredAt.Before(cutoff) {
			delete(r.events, id)
			count++
		}
	}
	return count, nil
}

func (r *MemoryEventRepository) Stats(_ context.Context, windowDays int) (*models.EventStats, error) {
	if windowDays <= 0 {
		windowDays = 7
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -windowDays)

	r.mu.Lock()
	defer r.mu.Unlock()

	stats := &models.EventStats{
		PeriodDays: windowDays,
		ByPriority: make(map[string]int64),
	}
	byModel := make(map[string]int64)
	for _, event := range r.events {
		if event.OccurredAt.Before(cutoff) {
			continue
		}
		stats.Total++
		if event.Processed {
			stats.Processed++
		}
		if event.Archived {
			stats.Archived++
		}
		if !event.Processed && !event.Archived {
			stats.Pending++
		}
		byModel[event.EntityKind]++
		stats.ByPriority[string(event.Priority)]++
	}
	for model, count := range byModel {
		stats.ByModel = append(stats.ByModel, models.ModelCount{Model: model, Count: count})
	}
	sort.Slice(stats.ByModel, func(i, j int) bool { return stats.ByModel[i].Count > stats.ByModel[j].Count })
	return stats, nil
}

type MemoryRuleRepository struct {
	mu     sync.Mutex
	nextID int64
	rules  map[int64]*models.Rule
}

func NewMemoryRuleRepository() *MemoryRuleRepository {
	return &MemoryRuleRepository{rules: make(map[int64]*models.Rule)}
}

func (r *MemoryRuleRepository) Create(_ context.Context, rule *models.Rule) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if isCatchAllConflict(rule, r.rules, 0) {
		return ErrDuplicateRule
	}
	r.nextID++
	rule.ID = r.nextID
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now().UTC()
	}
	stored := *rule
	r.rules[rule.ID] = &stored
	return nil
}

func (r *MemoryRuleRepository) GetByID(_ context.Context, id int64) (*models.Rule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rule, ok := r.rules[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *rule
	return &copied, nil
}

func (r *MemoryRuleRepository) Update(_ context.Context, rule *models.Rule) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.rules[rule.ID]
	if !ok {
		return ErrNotFound
	}
	if isCatchAllConflict(rule, r.rules, rule.ID) {
		return ErrDuplicateRule
	}
	stored := *rule
	stored.CreatedAt = existing.CreatedAt
	r.rules[rule.ID] = &stored
	return nil
}

func (r *MemoryRuleRepository) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rules[id]; !ok {
		return ErrNotFound
	}
	delete(r.rules, id)
	return nil
}

func (r *MemoryRuleRepository) ListActive(ctx context.Context) ([]*models.Rule, error) {
	return r.listWhere(func(rule *models.Rule) bool { return rule.Active })
}

func (r *MemoryRuleRepository) List(ctx context.Context) ([]*models.Rule, error) {
	return r.listWhere(func(*models.Rule) bool { return true })
}

func (r *MemoryRuleRepository) listWhere(keep func(*models.Rule) bool) ([]*models.Rule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var rules []*models.Rule
	for _, rule := range r.rules {
		if keep(rule) {
			copied := *rule
			rules = append(rules, &copied)
		}
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
	return rules, nil
}

// isCatchAllConflict mirrors the partial unique index: only one active rule
// without a predicate may exist per (entity kind, operation). Rules scoped
// by a predicate may coexist; disjointness is not verified.
func isCatchAllConflict(rule *models.Rule, existing map[int64]*models.Rule, selfID int64) bool {
	if !rule.Active || len(rule.Predicate) > 0 {
		return false
	}
	for id, other := range existing {
		if id == selfID {
			continue
		}
		if other.Active && len(other.Predicate) == 0 &&
			other.EntityKind == rule.EntityKind && other.Operation == rule.Operation {
			return true
		}
	}
	return false
}

type MemoryCursorRepository struct {
	mu      sync.Mutex
	nextID  int64
	cursors map[models.ConsumerKey]*models.ConsumerCursor
}

func NewMemoryCursorRepository() *MemoryCursorRepository {
	return &MemoryCursorRepository{cursors: make(map[models.ConsumerKey]*models.ConsumerCursor)}
}

func (r *MemoryCursorRepository) GetOrCreate(_ context.Context, key models.ConsumerKey, meta models.CursorMeta) (*models.ConsumerCursor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cursor, ok := r.cursors[key]; ok {
		if meta.DeviceInfo != "" {
			cursor.DeviceInfo = meta.DeviceInfo
		}
		if meta.AppVersion != "" {
			cursor.AppVersion = meta.AppVersion
		}
		copied := *cursor
		return &copied, nil
	}

	r.nextID++
	cursor := &models.ConsumerCursor{
		ID:         r.nextID,
		UserID:     key.UserID,
		DeviceID:   key.DeviceID,
		AppType:    key.AppType,
		DeviceInfo: meta.DeviceInfo,
		AppVersion: meta.AppVersion,
		CreatedAt:  time.Now().UTC(),
	}
	r.cursors[key] = cursor
	copied := *cursor
	return &copied, nil
}

func (r *MemoryCursorRepository) Advance(_ context.Context, key models.ConsumerKey, lastEventID int64, eventsSynced int, reset bool) (*models.ConsumerCursor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cursor, ok := r.cursors[key]
	if !ok {
		return nil, ErrNotFound
	}
	if lastEventID < cursor.LastEventID && !reset {
		return nil, ErrCursorRegression
	}

	now := time.Now().UTC()
	cursor.LastEventID = lastEventID
	cursor.LastSyncAt = &now
	cursor.SyncCount++
	cursor.LastEventCount = eventsSynced
	cursor.TotalSynced += int64(eventsSynced)
	copied := *cursor
	return &copied, nil
}

func (r *MemoryCursorRepository) ListForUser(_ context.Context, userID uuid.UUID) ([]*models.ConsumerCursor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var cursors []*models.ConsumerCursor
	for _, cursor := range r.cursors {
		if cursor.UserID == userID {
			copied := *cursor
			cursors = append(cursors, &copied)
		}
	}
	sort.Slice(cursors, func(i, j int) bool {
		if cursors[i].DeviceID != cursors[j].DeviceID {
			return cursors[i].DeviceID < cursors[j].DeviceID
		}
		return cursors[i].AppType < cursors[j].AppType
	})
	return cursors, nil
}

func (r *MemoryCursorRepository) StatsFor(_ context.Context, userID uuid.UUID, deviceID, appType string) (*models.CursorStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := &models.CursorStats{ByAppType: make(map[string]int64)}
	first := true
	for _, cursor := range r.cursors {
		if cursor.UserID != userID {
			continue
		}
		if deviceID != "" && cursor.DeviceID != deviceID {
			continue
		}
		if appType != "" && cursor.AppType != appType {
			continue
		}
		stats.TotalCursors++
		stats.TotalSyncs += cursor.SyncCount
		stats.TotalSynced += cursor.TotalSynced
		stats.ByAppType[cursor.AppType]++
		if first || cursor.LastEventID < stats.MinEventID {
			stats.MinEventID = cursor.LastEventID
		}
		if cursor.LastEventID > stats.MaxEventID {
			stats.MaxEventID = cursor.LastEventID
		}
		first = false
	}
	return stats, nil
}

func (r *MemoryCursorRepository) DeleteStale(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var count int64
	for key, cursor := range r.cursors {
		if cursor.LastSyncAt != nil && cursor.LastSyncAt.Before(cutoff) {
			delete(r.cursors, key)
			count++
		}
	}
	return count, nil
}

type MemoryDeadLetterRepository struct {
	mu      sync.Mutex
	nextID  int64
	entries map[int64]*models.DeadLetterEntry // keyed by event id
}

func NewMemoryDeadLetterRepository() *MemoryDeadLetterRepository {
	return &MemoryDeadLetterRepository{entries: make(map[int64]*models.DeadLetterEntry)}
}

func (r *MemoryDeadLetterRepository) Create(_ context.Context, entry *models.DeadLetterEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry.FailedAt.IsZero() {
		entry.FailedAt = time.Now().UTC()
	}
	if existing, ok := r.entries[entry.EventID]; ok {
		entry.ID = existing.ID
	} else {
		r.nextID++
		entry.ID = r.nextID
	}
	stored := *entry
	r.entries[entry.EventID] = &stored
	return nil
}

func (r *MemoryDeadLetterRepository) List(_ context.Context, limit int) ([]*models.DeadLetterEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var entries []*models.DeadLetterEntry
	for _, entry := range r.entries {
		copied := *entry
		entries = append(entries, &copied)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].FailedAt.After(entries[j].FailedAt) })
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (r *MemoryDeadLetterRepository) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var count int64
	for eventID, entry := range r.entries {
		if entry.FailedAt.Before(cutoff) {
			delete(r.entries, eventID)
			count++
		}
	}
	return count, nil
}
