package event

import (
	"context"
	"testing"
	"time"

	"awdesk/internal/metrics"
)

type testEvent struct {
	kind string
	at   time.Time
}

func (e testEvent) Type() string         { return e.kind }
func (e testEvent) Timestamp() time.Time { return e.at }

func newTestBus(t *testing.T, opts BusOptions) *Bus[testEvent] {
	t.Helper()
	if opts.Registry == nil {
		opts.Registry = metrics.NewRegistry()
	}
	bus := NewBus[testEvent](context.Background(), opts)
	t.Cleanup(bus.Close)
	return bus
}

func receive(t *testing.T, ch <-chan testEvent) testEvent {
	t.Helper()
	select {
	case event := <-ch:
		return event
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return testEvent{}
}

func TestBusDeliversToSubscribers(t *testing.T) {
	bus := newTestBus(t, BusOptions{Name: "test"})
	first, cancelFirst := bus.Subscribe()
	defer cancelFirst()
	second, cancelSecond := bus.Subscribe()
	defer cancelSecond()

	bus.Publish(testEvent{kind: "module_started"})

	if got := receive(t, first); got.kind != "module_started" {
		t.Fatalf("unexpected event %+v", got)
	}
	if got := receive(t, second); got.kind != "module_started" {
		t.Fatalf("unexpected event %+v", got)
	}
}

func TestBusFilter(t *testing.T) {
	bus := newTestBus(t, BusOptions{Name: "test"})
	ch, cancel := bus.SubscribeFiltered(func(event testEvent) bool {
		return event.kind == "module_crashed"
	})
	defer cancel()

	bus.Publish(testEvent{kind: "module_started"})
	bus.Publish(testEvent{kind: "module_crashed"})

	if got := receive(t, ch); got.kind != "module_crashed" {
		t.Fatalf("expected crashed event, got %+v", got)
	}
}

func TestBusDropsWhenSubscriberFull(t *testing.T) {
	bus := newTestBus(t, BusOptions{Name: "test", SubscriberBufferSize: 1})
	_, cancel := bus.Subscribe()
	defer cancel()

	bus.Publish(testEvent{kind: "a"})
	bus.Publish(testEvent{kind: "b"})

	published, dropped := bus.Stats()
	if published != 2 || dropped != 1 {
		t.Fatalf("expected 2 published/1 dropped, got %d/%d", published, dropped)
	}
}

func TestBusHistory(t *testing.T) {
	bus := newTestBus(t, BusOptions{Name: "test", HistorySize: 2})
	bus.Publish(testEvent{kind: "a"})
	bus.Publish(testEvent{kind: "b"})
	bus.Publish(testEvent{kind: "c"})

	history := bus.History()
	if len(history) != 2 || history[0].kind != "b" || history[1].kind != "c" {
		t.Fatalf("unexpected history %+v", history)
	}
}

func TestBusCloseClosesSubscribers(t *testing.T) {
	bus := newTestBus(t, BusOptions{Name: "test"})
	ch, cancel := bus.Subscribe()
	bus.Close()
	cancel()

	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel")
	}
	late, _ := bus.Subscribe()
	if _, ok := <-late; ok {
		t.Fatalf("expected subscription after close to be closed")
	}
	bus.Publish(testEvent{kind: "ignored"})
}

func TestBusClosesWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	bus := NewBus[testEvent](ctx, BusOptions{Name: "ctx", Registry: metrics.NewRegistry()})
	ch, unsubscribe := bus.Subscribe()
	defer unsubscribe()
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatalf("expected channel closed")
		}
	case <-time.After(time.Second):
		t.Fatal("bus did not close after context cancel")
	}
}
