package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"awdesk/internal/logging"
)

// watchShutdownSignals cancels the application on the first signal. Later
// signals are logged once and otherwise ignored so module shutdown can finish.
func watchShutdownSignals(logger *logging.Logger, cancel context.CancelFunc, signals <-chan os.Signal) func() {
	if signals == nil {
		return func() {}
	}
	if logger == nil {
		logger = logging.Discard()
	}

	done := make(chan struct{})
	var received atomic.Int32
	go func() {
		for {
			select {
			case <-done:
				return
			case sig, ok := <-signals:
				if !ok {
					return
				}
				fields := map[string]string{}
				if sig != nil {
					fields["signal"] = sig.String()
				}
				switch received.Add(1) {
				case 1:
					logger.Info("shutting down", fields)
					if cancel != nil {
						cancel()
					}
				case 2:
					logger.Warn("shutdown in progress, waiting for modules to stop", fields)
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(done) })
	}
}

type shutdownStep struct {
	name string
	run  func(context.Context) error
}

// shutdownCoordinator runs named steps in order, once, collecting every error.
type shutdownCoordinator struct {
	logger *logging.Logger
	once   sync.Once
	steps  []shutdownStep
}

func newShutdownCoordinator(logger *logging.Logger) *shutdownCoordinator {
	if logger == nil {
		logger = logging.Discard()
	}
	return &shutdownCoordinator{logger: logger}
}

func (s *shutdownCoordinator) Add(name string, run func(context.Context) error) {
	if s == nil || run == nil {
		return
	}
	s.steps = append(s.steps, shutdownStep{name: name, run: run})
}

func (s *shutdownCoordinator) Run(ctx context.Context) error {
	if s == nil {
		return nil
	}
	var joined error
	s.once.Do(func() {
		for _, step := range s.steps {
			started := time.Now()
			err := step.run(ctx)
			fields := map[string]string{
				"step":     step.name,
				"duration": time.Since(started).Round(time.Millisecond).String(),
			}
			if err != nil {
				fields[logging.FieldError] = err.Error()
				s.logger.Warn("shutdown step failed", fields)
				joined = errors.Join(joined, fmt.Errorf("%s: %w", step.name, err))
				continue
			}
			s.logger.Debug("shutdown step done", fields)
		}
	})
	return joined
}
