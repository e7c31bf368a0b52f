package watcher

import (
	"testing"
	"time"
)

func TestDebouncerDeliversNewestEventOnce(t *testing.T) {
	d := newDebouncer(25 * time.Millisecond)
	fired := make(chan uint64, 4)
	fire := func(id uint64) { fired <- id }

	if d.push(7, Event{Path: "first"}, fire) {
		t.Fatalf("first push must not report a replacement")
	}
	if !d.push(7, Event{Path: "second"}, fire) {
		t.Fatalf("second push must replace the pending event")
	}

	select {
	case id := <-fired:
		event, ok := d.take(id)
		if !ok || event.Path != "second" {
			t.Fatalf("expected newest event, got %+v ok=%v", event, ok)
		}
	case <-time.After(time.Second):
		t.Fatalf("debounced event never fired")
	}
	select {
	case id := <-fired:
		if _, ok := d.take(id); ok {
			t.Fatalf("event delivered twice")
		}
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDebouncerDrop(t *testing.T) {
	d := newDebouncer(20 * time.Millisecond)
	defer d.stopAll()

	fired := make(chan uint64, 1)
	d.push(1, Event{}, func(id uint64) { fired <- id })
	d.drop(1)

	select {
	case <-fired:
		t.Fatalf("dropped entry fired")
	case <-time.After(100 * time.Millisecond):
	}
}
