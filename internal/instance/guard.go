// Package instance keeps a single copy of the application running. The first
// instance owns the control port; later launches leave a lock file behind
// for it to notice and exit.
package instance

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"awdesk/internal/client"
	"awdesk/internal/desktop"
)

var ErrAnotherInstance = errors.New("another instance is running")

type GuardOptions struct {
	ControlPort int
	LockPath    string
	HTTPClient  *http.Client
	// Identify reports whether the process holding the port is one of ours.
	Identify    func(ctx context.Context, baseURL string) bool
}

// Acquire binds the control port for the first instance. When the port is
// held by a running instance, the lock file is written to wake it and
// ErrAnotherInstance is returned.
func Acquire(ctx context.Context, options GuardOptions) (net.Listener, error) {
	address := net.JoinHostPort("127.0.0.1", strconv.Itoa(options.ControlPort))
	listener, err := net.Listen("tcp", address)
	if err == nil {
		return listener, nil
	}
	if !desktop.IsAddrInUse(err) {
		return nil, fmt.Errorf("listen on control port %d: %w", options.ControlPort, err)
	}

	identify := options.Identify
	if identify == nil {
		httpClient := options.HTTPClient
		if httpClient == nil {
			httpClient = &http.Client{Timeout: 2 * time.Second}
		}
		identify = func(ctx context.Context, baseURL string) bool {
			return client.IsInstance(ctx, httpClient, baseURL)
		}
	}
	if !identify(ctx, client.BaseURL(options.ControlPort)) {
		return nil, fmt.Errorf("control port %d is used by another program", options.ControlPort)
	}
	if err := Signal(options.LockPath); err != nil {
		return nil, errors.Join(ErrAnotherInstance, err)
	}
	return nil, ErrAnotherInstance
}

// Signal writes the lock file watched by the running instance.
func Signal(lockPath string) error {
	if lockPath == "" {
		return errors.New("lock path is required")
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return fmt.Errorf("create lock dir: %w", err)
	}
	stamp := strconv.Itoa(os.Getpid()) + "\n"
	if err := os.WriteFile(lockPath, []byte(stamp), 0o644); err != nil {
		return fmt.Errorf("write lock file: %w", err)
	}
	return nil
}
