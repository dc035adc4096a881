package repositories

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bridgecore/eventrelay/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func appendEvents(t *testing.T, repo EventRepository, n int, kind string) []*models.Event {
	t.Helper()
	ctx := context.Background()
	events := make([]*models.Event, 0, n)
	for i := 0; i < n; i++ {
		event := &models.Event{
			EntityKind: kind,
			EntityID:   int64(i + 1),
			Operation:  models.OpCreate,
			Payload:    map[string]any{"seq": i},
			Priority:   models.PriorityMedium,
			Category:   models.CategoryBusiness,
		}
		require.NoError(t, repo.Append(ctx, event))
		events = append(events, event)
	}
	return events
}

// Concurrent appends must produce unique, strictly increasing ids.
func TestMemoryEventRepository_Append_ConcurrentIDs(t *testing.T) {
	repo := NewMemoryEventRepository()
	ctx := context.Background()

	const goroutines = 8
	const perGoroutine = 50

	var wg sync.WaitGroup
	ids := make(chan int64, goroutines*perGoroutine)
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				event := &models.Event{
					EntityKind: "res.partner",
					EntityID:   1,
					Operation:  models.OpUpdate,
					Priority:   models.PriorityLow,
					Category:   models.CategorySystem,
				}
				assert.NoError(t, repo.Append(ctx, event))
				ids <- event.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[int64]bool)
	for id := range ids {
		assert.False(t, seen[id], "id %d assigned twice", id)
		seen[id] = true
	}
	assert.Len(t, seen, goroutines*perGoroutine)
}

func TestMemoryEventRepository_Pull_OrderAndHasMore(t *testing.T) {
	repo := NewMemoryEventRepository()
	ctx := context.Background()
	appendEvents(t, repo, 10, "account.move")

	events, hasMore, err := repo.Pull(ctx, 0, 4, models.PullFilters{})
	require.NoError(t, err)
	assert.True(t, hasMore)
	require.Len(t, events, 4)
	for i := 1; i < len(events); i++ {
		assert.Greater(t, events[i].ID, events[i-1].ID)
	}

	// Resume from the returned watermark; the remainder fits.
	events, hasMore, err = repo.Pull(ctx, events[3].ID, 100, models.PullFilters{})
	require.NoError(t, err)
	assert.False(t, hasMore)
	assert.Len(t, events, 6)
}

func TestMemoryEventRepository_Pull_Filters(t *testing.T) {
	repo := NewMemoryEventRepository()
	ctx := context.Background()
	appendEvents(t, repo, 3, "account.move")
	appendEvents(t, repo, 2, "res.partner")

	events, _, err := repo.Pull(ctx, 0, 100, models.PullFilters{EntityKinds: []string{"res.partner"}})
	require.NoError(t, err)
	assert.Len(t, events, 2)

	events, _, err = repo.Pull(ctx, 0, 100, models.PullFilters{Priority: models.PriorityHigh})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestMemoryEventRepository_MarkProcessed_Idempotent(t *testing.T) {
	repo := NewMemoryEventRepository()
	ctx := context.Background()
	events := appendEvents(t, repo, 3, "account.move")

	ids := []int64{events[0].ID, events[1].ID}
	count, err := repo.MarkProcessed(ctx, ids)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	// Second acknowledgement of the same ids is a no-op.
	count, err = repo.MarkProcessed(ctx, ids)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	// Processed events no longer appear in pulls.
	pulled, _, err := repo.Pull(ctx, 0, 100, models.PullFilters{})
	require.NoError(t, err)
	assert.Len(t, pulled, 1)
}

// Purge only removes events that went through the archived stage first.
func TestMemoryEventRepository_ArchiveBeforePurge(t *testing.T) {
	repo := NewMemoryEventRepository()
	ctx := context.Background()
	events := appendEvents(t, repo, 2, "account.move")

	_, err := repo.MarkProcessed(ctx, []int64{events[0].ID})
	require.NoError(t, err)

	future := time.Now().UTC().Add(time.Hour)

	// Nothing is archived yet, so purge removes nothing.
	purged, err := repo.Purge(ctx, future)
	require.NoError(t, err)
	assert.Equal(t, int64(0), purged)

	// Only the processed event archives.
	archived, err := repo.Archive(ctx, future)
	require.NoError(t, err)
	assert.Equal(t, int64(1), archived)

	purged, err = repo.Purge(ctx, future)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	// The unprocessed event survives both passes.
	_, err = repo.GetByID(ctx, events[1].ID)
	require.NoError(t, err)
}

// Ids are never reused, even after a purge empties the log.
func TestMemoryEventRepository_IDsNeverReused(t *testing.T) {
	repo := NewMemoryEventRepository()
	ctx := context.Background()
	events := appendEvents(t, repo, 3, "account.move")

	_, err := repo.MarkProcessed(ctx, []int64{events[0].ID, events[1].ID, events[2].ID})
	require.NoError(t, err)
	future := time.Now().UTC().Add(time.Hour)
	_, err = repo.Archive(ctx, future)
	require.NoError(t, err)
	_, err = repo.Purge(ctx, future)
	require.NoError(t, err)

	next := appendEvents(t, repo, 1, "account.move")
	assert.Greater(t, next[0].ID, events[2].ID)
}

func TestMemoryEventRepository_Stats(t *testing.T) {
	repo := NewMemoryEventRepository()
	ctx := context.Background()
	events := appendEvents(t, repo, 4, "account.move")

	_, err := repo.MarkProcessed(ctx, []int64{events[0].ID})
	require.NoError(t, err)

	stats, err := repo.Stats(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 7, stats.PeriodDays, "zero window falls back to a week")
	assert.Equal(t, int64(4), stats.Total)
	assert.Equal(t, int64(1), stats.Processed)
	assert.Equal(t, int64(3), stats.Pending)
	assert.Equal(t, int64(4), stats.ByPriority["medium"])
}

func TestMemoryCursorRepository_Advance(t *testing.T) {
	repo := NewMemoryCursorRepository()
	ctx := context.Background()
	key := models.ConsumerKey{UserID: uuid.New(), DeviceID: "device-01", AppType: "mobile_app"}

	cursor, err := repo.GetOrCreate(ctx, key, models.CursorMeta{DeviceInfo: "pixel"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), cursor.LastEventID)

	cursor, err = repo.Advance(ctx, key, 42, 10, false)
	require.NoError(t, err)
	assert.Equal(t, int64(42), cursor.LastEventID)
	assert.Equal(t, int64(1), cursor.SyncCount)
	assert.Equal(t, int64(10), cursor.TotalSynced)

	// Regression without reset is rejected and leaves the cursor alone.
	_, err = repo.Advance(ctx, key, 30, 5, false)
	assert.ErrorIs(t, err, ErrCursorRegression)

	cursor, err = repo.GetOrCreate(ctx, key, models.CursorMeta{})
	require.NoError(t, err)
	assert.Equal(t, int64(42), cursor.LastEventID)

	// Reset deliberately rewinds.
	cursor, err = repo.Advance(ctx, key, 0, 0, true)
	require.NoError(t, err)
	assert.Equal(t, int64(0), cursor.LastEventID)
}

func TestMemoryCursorRepository_AdvanceUnknown(t *testing.T) {
	repo := NewMemoryCursorRepository()
	key := models.ConsumerKey{UserID: uuid.New(), DeviceID: "device-01", AppType: "mobile_app"}

	_, err := repo.Advance(context.Background(), key, 1, 1, false)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryRuleRepository_DuplicateActive(t *testing.T) {
	repo := NewMemoryRuleRepository()
	ctx := context.Background()

	first := &models.Rule{Name: "moves", EntityKind: "account.move", Operation: models.OpCreate, Priority: models.PriorityHigh, Category: models.CategoryBusiness, Active: true}
	require.NoError(t, repo.Create(ctx, first))

	dup := &models.Rule{Name: "moves again", EntityKind: "account.move", Operation: models.OpCreate, Priority: models.PriorityLow, Category: models.CategoryBusiness, Active: true}
	assert.ErrorIs(t, repo.Create(ctx, dup), ErrDuplicateRule)

	// An inactive copy is allowed.
	dup.Active = false
	require.NoError(t, repo.Create(ctx, dup))

	// A predicate-scoped rule may coexist with the catch-all.
	scoped := &models.Rule{
		Name:       "large moves",
		EntityKind: "account.move",
		Operation:  models.OpCreate,
		Predicate:  models.Predicate{{Field: "amount", Op: models.OpGt, Value: 1000}},
		Priority:   models.PriorityHigh,
		Category:   models.CategoryBusiness,
		Active:     true,
	}
	require.NoError(t, repo.Create(ctx, scoped))
}

func TestMemoryDeadLetterRepository_UpsertPerEvent(t *testing.T) {
	repo := NewMemoryDeadLetterRepository()
	ctx := context.Background()

	first := &models.DeadLetterEntry{EventID: 7, FinalError: "timeout", Attempts: 5}
	require.NoError(t, repo.Create(ctx, first))

	again := &models.DeadLetterEntry{EventID: 7, FinalError: "refused", Attempts: 5}
	require.NoError(t, repo.Create(ctx, again))
	assert.Equal(t, first.ID, again.ID)

	entries, err := repo.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "refused", entries[0].FinalError)
}
