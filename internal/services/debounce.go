package services

import (
	"sync"
	"time"
)

type debounceKey struct {
	entityKind string
	entityID   int64
}

// Debouncer coalesces rapid successive mutations of the same entity into a
// single pending emission. Each trigger replaces the pending callback, so
// the one that eventually fires carries the latest observed state.
type Debouncer struct {
	mu     sync.Mutex
	timers map[debounceKey]*time.Timer
}

func NewDebouncer() *Debouncer {
	return &Debouncer{timers: make(map[debounceKey]*time.Timer)}
}

func (d *Debouncer) Trigger(entityKind string, entityID int64, delay time.Duration, fn func()) {
	key := debounceKey{entityKind: entityKind, entityID: entityID}

	d.mu.Lock()
	defer d.mu.Unlock()

	if timer, ok := d.timers[key]; ok {
		timer.Stop()
	}
	d.timers[key] = time.AfterFunc(delay, func() {
		d.mu.Lock()
		delete(d.timers, key)
		d.mu.Unlock()
		fn()
	})
}

// Pending reports how many coalesced emissions are waiting on their timer.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.timers)
}

// Stop cancels all pending timers without firing them. Used on shutdown;
// unemitted coalesced mutations are dropped.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for key, timer := range d.timers {
		timer.Stop()
		delete(d.timers, key)
	}
}
