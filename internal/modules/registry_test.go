package modules

import (
	"context"
	"errors"
	"testing"
	"time"

	"awdesk/internal/watcher"
)

func TestDiscoveryWatcherReportsNewModules(t *testing.T) {
	dir := t.TempDir()
	registry := NewRegistry([]string{dir, dir + "/missing"}, ScanOptions{GOOS: "linux"})
	fsWatcher, err := watcher.NewWithOptions(watcher.Options{Debounce: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	defer fsWatcher.Close()

	changes := make(chan []string, 4)
	discovery := &DiscoveryWatcher{
		Registry: registry,
		Watcher:  fsWatcher,
		OnChange: func(names []string) { changes <- names },
	}

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() {
		served <- discovery.Serve(ctx)
	}()

	deadline := time.After(5 * time.Second)
	for fsWatcher.Metrics().ActiveWatches == 0 {
		select {
		case <-deadline:
			t.Fatal("discovery directory was never watched")
		case <-time.After(10 * time.Millisecond):
		}
	}

	writeFile(t, dir, "aw-watcher-input", 0o755)
	select {
	case names := <-changes:
		if len(names) != 1 || names[0] != "aw-watcher-input" {
			t.Fatalf("unexpected names %v", names)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for discovery change")
	}

	cancel()
	if err := <-served; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestDiscoveryWatcherRequiresConfiguration(t *testing.T) {
	var discovery DiscoveryWatcher
	if err := discovery.Serve(context.Background()); err == nil {
		t.Fatalf("expected configuration error")
	}
}
