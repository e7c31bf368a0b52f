package modules

import (
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"
)

const defaultBreakerTimeout = time.Minute

var errModuleCrashed = errors.New("module crashed")

// crashBreaker wraps a two-step breaker: every spawn takes a permit and the
// exit settles it. Consecutive crashes inside the interval trip it.
type crashBreaker struct {
	breaker *gobreaker.TwoStepCircuitBreaker[struct{}]
	done    func(error)
}

func newCrashBreaker(name string, maxCrashes int, timeout time.Duration) *crashBreaker {
	if maxCrashes <= 0 {
		maxCrashes = 1
	}
	if timeout <= 0 {
		timeout = defaultBreakerTimeout
	}
	threshold := uint32(maxCrashes)
	return &crashBreaker{
		breaker: gobreaker.NewTwoStepCircuitBreaker[struct{}](gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Interval:    timeout,
			Timeout:     timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
		}),
	}
}

// acquire reports whether a spawn may proceed.
func (b *crashBreaker) acquire() error {
	b.settle(true)
	done, err := b.breaker.Allow()
	if err != nil {
		return err
	}
	b.done = done
	return nil
}

func (b *crashBreaker) settle(success bool) {
	if b.done == nil {
		return
	}
	done := b.done
	b.done = nil
	if success {
		done(nil)
		return
	}
	done(errModuleCrashed)
}

func (b *crashBreaker) open() bool {
	return b.breaker.State() == gobreaker.StateOpen
}
