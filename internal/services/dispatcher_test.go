package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bridgecore/eventrelay/internal/models"
	"github.com/bridgecore/eventrelay/internal/repositories"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// scriptedSender fails the first failures sends, then succeeds.
type scriptedSender struct {
	failures int32
	calls    atomic.Int32
}

func (s *scriptedSender) Send(_ context.Context, _ *models.Event) error {
	n := s.calls.Add(1)
	if n <= s.failures {
		return errors.New("connection refused")
	}
	return nil
}

func startDispatcher(t *testing.T, sender DeliverySender, maxAttempts int) (*Dispatcher, *repositories.MemoryEventRepository, *repositories.MemoryDeadLetterRepository) {
	t.Helper()

	events := repositories.NewMemoryEventRepository()
	deadLetters := repositories.NewMemoryDeadLetterRepository()
	d := NewDispatcher(events, deadLetters, sender, DispatcherConfig{
		Workers:     2,
		QueueSize:   16,
		MaxAttempts: maxAttempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    50 * time.Millisecond,
		Timeout:     time.Second,
		RetryTick:   5 * time.Millisecond,
	}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return d, events, deadLetters
}

func appendOne(t *testing.T, events repositories.EventRepository) *models.Event {
	t.Helper()
	event := &models.Event{
		EntityKind: "sale.order",
		EntityID:   1,
		Operation:  models.OpCreate,
		Payload:    map[string]any{"name": "SO001"},
		Priority:   models.PriorityHigh,
		Category:   models.CategoryBusiness,
	}
	require.NoError(t, events.Append(context.Background(), event))
	return event
}

func TestDispatcher_SuccessMarksProcessed(t *testing.T) {
	sender := &scriptedSender{}
	d, events, _ := startDispatcher(t, sender, 5)
	event := appendOne(t, events)

	require.True(t, d.Enqueue(event))

	require.Eventually(t, func() bool {
		stored, err := events.GetByID(context.Background(), event.ID)
		return err == nil && stored.Processed
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), sender.calls.Load())
}

func TestDispatcher_RetriesUntilSuccess(t *testing.T) {
	sender := &scriptedSender{failures: 2}
	d, events, deadLetters := startDispatcher(t, sender, 5)
	event := appendOne(t, events)

	require.True(t, d.Enqueue(event))

	require.Eventually(t, func() bool {
		stored, err := events.GetByID(context.Background(), event.ID)
		return err == nil && stored.Processed
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(3), sender.calls.Load())

	entries, err := deadLetters.List(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// After the final attempt fails, the event is dead-lettered but stays
// unprocessed so pull consumers can still fetch it.
func TestDispatcher_ExhaustedAttemptsDeadLetter(t *testing.T) {
	sender := &scriptedSender{failures: 1 << 30}
	d, events, deadLetters := startDispatcher(t, sender, 3)
	event := appendOne(t, events)

	require.True(t, d.Enqueue(event))

	require.Eventually(t, func() bool {
		entries, err := deadLetters.List(context.Background(), 10)
		return err == nil && len(entries) == 1
	}, 2*time.Second, 10*time.Millisecond)

	entries, err := deadLetters.List(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, event.ID, entries[0].EventID)
	assert.Equal(t, 3, entries[0].Attempts)
	assert.Contains(t, entries[0].FinalError, "connection refused")
	assert.Equal(t, int32(3), sender.calls.Load())

	stored, err := events.GetByID(context.Background(), event.ID)
	require.NoError(t, err)
	assert.False(t, stored.Processed, "dead-lettered events remain pullable")
}

func TestDispatcher_EnqueueFullQueue(t *testing.T) {
	events := repositories.NewMemoryEventRepository()
	deadLetters := repositories.NewMemoryDeadLetterRepository()
	// Never started, so nothing drains the queue.
	d := NewDispatcher(events, deadLetters, &scriptedSender{}, DispatcherConfig{
		Workers:   1,
		QueueSize: 1,
	}, zap.NewNop())

	assert.True(t, d.Enqueue(&models.Event{ID: 1}))
	assert.False(t, d.Enqueue(&models.Event{ID: 2}), "full queue refuses without blocking")
}

func TestBackoffDelay_DoublesAndCaps(t *testing.T) {
	base := 60 * time.Second
	max := time.Hour

	assert.Equal(t, 2*time.Minute, backoffDelay(base, max, 1))
	assert.Equal(t, 4*time.Minute, backoffDelay(base, max, 2))
	assert.Equal(t, 8*time.Minute, backoffDelay(base, max, 3))
	assert.Equal(t, time.Hour, backoffDelay(base, max, 10), "capped at max delay")
	assert.Equal(t, time.Hour, backoffDelay(base, max, 63), "large attempt counts do not overflow")
}
