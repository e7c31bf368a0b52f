package supervisor

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"awdesk/internal/logging"
)

func TestNewTreeAppliesDefaults(t *testing.T) {
	tree := NewTree(nil, TreeConfig{})
	if tree.config.FailureThreshold != 5 || tree.config.FailureDecay != 30 {
		t.Fatalf("unexpected failure defaults %+v", tree.config)
	}
	if tree.config.FailureBackoff != 15*time.Second || tree.config.ShutdownTimeout != 10*time.Second {
		t.Fatalf("unexpected timing defaults %+v", tree.config)
	}
}

func TestTreeRunsAndStopsServices(t *testing.T) {
	logger := logging.NewLoggerWithOutput(logging.NewLogBuffer(50), logging.LevelDebug, io.Discard)
	tree := NewTree(logger.Slog(), TreeConfig{FailureBackoff: 10 * time.Millisecond, ShutdownTimeout: time.Second})

	var coreRuns, surfaceRuns atomic.Int32
	stopped := make(chan struct{})
	tree.AddCore(&Func{Name: "core", Run: func(ctx context.Context) error {
		coreRuns.Add(1)
		<-ctx.Done()
		close(stopped)
		return ctx.Err()
	}})
	tree.AddSurface(&Func{Name: "once", Once: true, Run: func(ctx context.Context) error {
		surfaceRuns.Add(1)
		return nil
	}})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for coreRuns.Load() == 0 || surfaceRuns.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("services did not start")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()

	select {
	case <-errCh:
	case <-time.After(2 * time.Second):
		t.Fatalf("tree did not stop")
	}
	select {
	case <-stopped:
	default:
		t.Fatalf("core service was not cancelled")
	}
	if got := surfaceRuns.Load(); got != 1 {
		t.Fatalf("expected one-shot service to run once, ran %d times", got)
	}
}

func TestFuncOnceWrapsError(t *testing.T) {
	service := &Func{Name: "fail", Once: true, Run: func(context.Context) error {
		return errors.New("boom")
	}}
	err := service.Serve(context.Background())
	if err == nil || err.Error() == "boom" {
		t.Fatalf("expected wrapped error, got %v", err)
	}
	if service.String() != "fail" {
		t.Fatalf("unexpected name %q", service.String())
	}
}

func TestHTTPServiceServesAndShutsDown(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	server := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})}
	service := &HTTPService{Name: "control-api", Server: server, Listener: listener, ShutdownTimeout: time.Second}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- service.Serve(ctx) }()

	resp, err := http.Get("http://" + listener.Addr().String() + "/")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("http service did not stop")
	}
}
