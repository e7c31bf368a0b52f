package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/thejerf/suture/v4"
)

// Func adapts a blocking function to suture.Service.
type Func struct {
	Name string
	Run  func(ctx context.Context) error
	// Once stops suture from restarting the function after it returns.
	Once bool
}

func (f *Func) Serve(ctx context.Context) error {
	if f.Run == nil {
		return suture.ErrDoNotRestart
	}
	err := f.Run(ctx)
	if f.Once && ctx.Err() == nil {
		if err == nil {
			return suture.ErrDoNotRestart
		}
		return fmt.Errorf("%w: %w", suture.ErrDoNotRestart, err)
	}
	return err
}

func (f *Func) String() string {
	return f.Name
}

// HTTPService serves an http.Server on a listener that was bound earlier.
// The listener cannot be reused once Serve fails, so the service is never
// restarted.
type HTTPService struct {
	Name            string
	Server          *http.Server
	Listener        net.Listener
	ShutdownTimeout time.Duration
}

func (h *HTTPService) Serve(ctx context.Context) error {
	if h.Server == nil || h.Listener == nil {
		return fmt.Errorf("%w: http service is not configured", suture.ErrDoNotRestart)
	}
	errCh := make(chan error, 1)
	go func() {
		err := h.Server.Serve(h.Listener)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("%w: %s failed: %w", suture.ErrDoNotRestart, h.String(), err)
		}
		return suture.ErrDoNotRestart
	case <-ctx.Done():
		timeout := h.ShutdownTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := h.Server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("%s shutdown failed: %w", h.String(), err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (h *HTTPService) String() string {
	if h.Name == "" {
		return "http-server"
	}
	return h.Name
}
