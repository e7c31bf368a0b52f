package watcher

import "time"

// pending holds the newest event for one registration until its quiet
// period ends.
type pending struct {
	timer *time.Timer
	event Event
}

// debouncer is guarded by the owning Watcher's mutex.
type debouncer struct {
	window  time.Duration
	pending map[uint64]*pending
}

func newDebouncer(window time.Duration) *debouncer {
	return &debouncer{window: window, pending: make(map[uint64]*pending)}
}

// push records event for id and re-arms its timer. It reports whether an
// earlier event for id was replaced.
func (d *debouncer) push(id uint64, event Event, fire func(uint64)) bool {
	if d == nil || d.pending == nil {
		return false
	}
	if entry, ok := d.pending[id]; ok {
		entry.event = event
		entry.timer.Reset(d.window)
		return true
	}
	d.pending[id] = &pending{
		event: event,
		timer: time.AfterFunc(d.window, func() { fire(id) }),
	}
	return false
}

// take removes and returns the event waiting for id.
func (d *debouncer) take(id uint64) (Event, bool) {
	if d == nil {
		return Event{}, false
	}
	entry, ok := d.pending[id]
	if !ok {
		return Event{}, false
	}
	delete(d.pending, id)
	return entry.event, true
}

func (d *debouncer) drop(id uint64) {
	if d == nil {
		return
	}
	if entry, ok := d.pending[id]; ok {
		entry.timer.Stop()
		delete(d.pending, id)
	}
}

func (d *debouncer) stopAll() {
	if d == nil {
		return
	}
	for _, entry := range d.pending {
		entry.timer.Stop()
	}
	d.pending = nil
}
