package watcher

import (
	"sort"
	"sync"
	"time"
)

// Debouncer collects changed paths and flushes them once no new change has
// arrived for the window, or immediately when maxBatch distinct paths are
// pending.
type Debouncer struct {
	window   time.Duration
	maxBatch int
	pending  map[string]FileEvent
	mu       sync.Mutex
	timer    *time.Timer
	onFlush  func([]FileEvent)
	stopped  bool
}

func NewDebouncer(window time.Duration, maxBatch int, onFlush func([]FileEvent)) *Debouncer {
	if maxBatch <= 0 {
		maxBatch = 1
	}
	return &Debouncer{
		window:   window,
		maxBatch: maxBatch,
		pending:  make(map[string]FileEvent),
		onFlush:  onFlush,
	}
}

// Add records an event. A later event for the same path replaces the
// earlier one.
func (d *Debouncer) Add(event FileEvent) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}

	d.pending[event.Path] = event
	if len(d.pending) >= d.maxBatch {
		d.flushLocked()
		return
	}

	d.timer = time.AfterFunc(d.window, func() {
		d.mu.Lock()
		if d.stopped {
			d.mu.Unlock()
			return
		}
		d.flushLocked()
	})
	d.mu.Unlock()
}

// flushLocked releases mu before calling onFlush.
func (d *Debouncer) flushLocked() {
	events := make([]FileEvent, 0, len(d.pending))
	for _, e := range d.pending {
		events = append(events, e)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Path < events[j].Path })
	d.pending = make(map[string]FileEvent)
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.mu.Unlock()

	if len(events) > 0 && d.onFlush != nil {
		d.onFlush(events)
	}
}

// Stop flushes anything pending and ignores later events.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	if len(d.pending) > 0 {
		d.flushLocked()
		return
	}
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.mu.Unlock()
}
