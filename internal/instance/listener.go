package instance

import (
	"context"
	"errors"
	"os"

	"awdesk/internal/logging"
	"awdesk/internal/watcher"

	"github.com/fsnotify/fsnotify"
)

// LockListener waits for later instances to write the lock file and calls
// OnSignal each time, removing the file afterwards.
type LockListener struct {
	Path     string
	Watcher  *watcher.Watcher
	Logger   *logging.Logger
	OnSignal func()
}

func (l *LockListener) Serve(ctx context.Context) error {
	if l == nil || l.Watcher == nil || l.Path == "" {
		return errors.New("lock listener is not configured")
	}
	logger := l.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	// A stale lock from a crashed launch must not trigger on startup.
	_ = os.Remove(l.Path)

	signals := make(chan struct{}, 1)
	handle, err := l.Watcher.Watch(l.Path, func(event watcher.Event) {
		if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Write) {
			return
		}
		select {
		case signals <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return err
	}
	defer handle.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-signals:
			if _, err := os.Stat(l.Path); err != nil {
				continue
			}
			if err := os.Remove(l.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
				logger.Warn("remove lock file failed", map[string]string{
					logging.FieldPath:  l.Path,
					logging.FieldError: err.Error(),
				})
			}
			logger.Info("another instance was launched", nil)
			if l.OnSignal != nil {
				l.OnSignal()
			}
		}
	}
}

func (l *LockListener) String() string {
	return "lock-listener"
}
