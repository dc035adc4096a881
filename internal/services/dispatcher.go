package services

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/bridgecore/eventrelay/internal/models"
	"github.com/bridgecore/eventrelay/internal/repositories"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// delivery tracks one event moving through the push pipeline. It lives
// only in memory; a restart drops in-flight attempts and the events remain
// unprocessed in the log for pull consumers.
type delivery struct {
	event       *models.Event
	attempts    int
	nextRetryAt time.Time
	lastErr     string
}

// DispatcherConfig tunes the delivery worker pool and retry schedule.
type DispatcherConfig struct {
	Workers     int
	QueueSize   int
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Timeout     time.Duration
	RetryTick   time.Duration
}

// Dispatcher drives push delivery: a bounded queue feeds a fixed worker
// pool, failures go onto a retry schedule with exponential backoff, and
// events that exhaust their attempts are recorded as dead letters while
// staying unprocessed in the log.
type Dispatcher struct {
	events      repositories.EventRepository
	deadLetters repositories.DeadLetterRepository
	sender      DeliverySender
	logger      *zap.Logger
	cfg         DispatcherConfig

	queue chan *delivery

	mu      sync.Mutex
	retries retryQueue
}

func NewDispatcher(
	events repositories.EventRepository,
	deadLetters repositories.DeadLetterRepository,
	sender DeliverySender,
	cfg DispatcherConfig,
	logger *zap.Logger,
) *Dispatcher {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.RetryTick <= 0 {
		cfg.RetryTick = time.Second
	}
	return &Dispatcher{
		events:      events,
		deadLetters: deadLetters,
		sender:      sender,
		logger:      logger,
		cfg:         cfg,
		queue:       make(chan *delivery, cfg.QueueSize),
	}
}

// Enqueue offers an event to the push pipeline without blocking. False
// means the queue is full; the caller leaves the event to pull consumers.
func (d *Dispatcher) Enqueue(event *models.Event) bool {
	select {
	case d.queue <- &delivery{event: event}:
		return true
	default:
		return false
	}
}

// PendingRetries reports how many deliveries are waiting on backoff.
func (d *Dispatcher) PendingRetries() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.retries.Len()
}

// Run blocks until ctx is cancelled, operating the worker pool and the
// retry scheduler.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for i := 0; i < d.cfg.Workers; i++ {
		g.Go(func() error {
			return d.worker(ctx)
		})
	}
	g.Go(func() error {
		return d.retryLoop(ctx)
	})
	return g.Wait()
}

func (d *Dispatcher) worker(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case del := <-d.queue:
			d.deliver(ctx, del)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, del *delivery) {
	attemptCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	err := d.sender.Send(attemptCtx, del.event)
	cancel()

	if err == nil {
		if _, mpErr := d.events.MarkProcessed(ctx, []int64{del.event.ID}); mpErr != nil {
			d.logger.Error("delivered event could not be marked processed",
				zap.Int64("event_id", del.event.ID), zap.Error(mpErr))
		}
		d.logger.Info("event delivered",
			zap.Int64("event_id", del.event.ID),
			zap.Int("attempts", del.attempts+1))
		return
	}

	del.attempts++
	del.lastErr = err.Error()

	if del.attempts >= d.cfg.MaxAttempts {
		d.deadLetter(ctx, del)
		return
	}

	delay := backoffDelay(d.cfg.BaseDelay, d.cfg.MaxDelay, del.attempts)
	del.nextRetryAt = time.Now().Add(delay)
	d.mu.Lock()
	heap.Push(&d.retries, del)
	d.mu.Unlock()

	d.logger.Warn("delivery failed, retry scheduled",
		zap.Int64("event_id", del.event.ID),
		zap.Int("attempt", del.attempts),
		zap.Duration("retry_in", delay),
		zap.Error(err))
}

// deadLetter records terminal failure. The event is left unprocessed so
// pull consumers can still fetch it.
func (d *Dispatcher) deadLetter(ctx context.Context, del *delivery) {
	entry := &models.DeadLetterEntry{
		EventID:    del.event.ID,
		FinalError: del.lastErr,
		Attempts:   del.attempts,
		FailedAt:   time.Now().UTC(),
	}
	if err := d.deadLetters.Create(ctx, entry); err != nil {
		d.logger.Error("failed to record dead letter",
			zap.Int64("event_id", del.event.ID), zap.Error(err))
	}
	d.logger.Error("delivery abandoned after max attempts",
		zap.Int64("event_id", del.event.ID),
		zap.Int("attempts", del.attempts),
		zap.String("last_error", del.lastErr))
}

func (d *Dispatcher) retryLoop(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.RetryTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for _, del := range d.dueRetries(time.Now()) {
				select {
				case d.queue <- del:
				default:
					// Queue saturated; push back and let the next tick
					// try again.
					del.nextRetryAt = time.Now().Add(d.cfg.RetryTick)
					d.mu.Lock()
					heap.Push(&d.retries, del)
					d.mu.Unlock()
				}
			}
		}
	}
}

func (d *Dispatcher) dueRetries(now time.Time) []*delivery {
	d.mu.Lock()
	defer d.mu.Unlock()

	var due []*delivery
	for d.retries.Len() > 0 && !d.retries[0].nextRetryAt.After(now) {
		due = append(due, heap.Pop(&d.retries).(*delivery))
	}
	return due
}

// backoffDelay doubles per attempt from the base delay and caps at max.
func backoffDelay(base, max time.Duration, attempts int) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := base
	for i := 0; i < attempts; i++ {
		delay *= 2
		if max > 0 && delay >= max {
			return max
		}
	}
	if max > 0 && delay > max {
		return max
	}
	return delay
}

// retryQueue is a min-heap ordered by next retry time.
type retryQueue []*delivery

func (q retryQueue) Len() int           { return len(q) }
func (q retryQueue) Less(i, j int) bool { return q[i].nextRetryAt.Before(q[j].nextRetryAt) }
func (q retryQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *retryQueue) Push(x any)        { *q = append(*q, x.(*delivery)) }
func (q *retryQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}
