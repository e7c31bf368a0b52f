package watcher

import (
	"errors"
	"testing"
	"time"
)

func TestRestartDelayDoubles(t *testing.T) {
	want := []time.Duration{restartBaseDelay, 2 * restartBaseDelay, 4 * restartBaseDelay}
	for attempt, expected := range want {
		if got := restartDelay(attempt); got != expected {
			t.Fatalf("attempt %d: expected %s, got %s", attempt, expected, got)
		}
	}
}

func TestBackoffArmsOnceUntilSettled(t *testing.T) {
	var b backoff
	defer b.stop()

	armed, exhausted := b.arm(func() {})
	if !armed || exhausted {
		t.Fatalf("expected first arm to schedule, got armed=%v exhausted=%v", armed, exhausted)
	}
	if armed, _ := b.arm(func() {}); armed {
		t.Fatalf("expected pending restart to block a second one")
	}
	if b.count() != 1 {
		t.Fatalf("expected 1 attempt, got %d", b.count())
	}
	b.settle(true)
	if b.count() != 0 {
		t.Fatalf("expected success to reset attempts, got %d", b.count())
	}
}

func TestScheduleRestartReportsExhaustion(t *testing.T) {
	reported := make(chan error, 1)
	watcher, err := NewWithOptions(Options{ErrorHandler: func(err error) { reported <- err }})
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	defer watcher.Close()

	watcher.restarts.mu.Lock()
	watcher.restarts.attempts = maxRestartAttempts
	watcher.restarts.mu.Unlock()

	watcher.scheduleRestart(errors.New("boom"))
	select {
	case err := <-reported:
		if err == nil || err.Error() != "boom" {
			t.Fatalf("unexpected error %v", err)
		}
	default:
		t.Fatalf("expected error handler to be called")
	}
}

func TestPerformRestartKeepsWatches(t *testing.T) {
	watcher, err := New()
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	defer watcher.Close()

	if _, err := watcher.Watch(t.TempDir(), func(Event) {}); err != nil {
		t.Fatalf("watch: %v", err)
	}
	watcher.restarts.mu.Lock()
	watcher.restarts.attempts = 2
	watcher.restarts.mu.Unlock()

	watcher.performRestart()

	metrics := watcher.Metrics()
	if metrics.RestartAttempts != 0 {
		t.Fatalf("expected restart attempts to reset, got %d", metrics.RestartAttempts)
	}
	if metrics.ActiveWatches != 1 {
		t.Fatalf("expected watch to survive restart, got %d", metrics.ActiveWatches)
	}
}
