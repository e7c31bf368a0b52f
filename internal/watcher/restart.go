package watcher

import (
	"sync"
	"time"

	"awdesk/internal/logging"

	"github.com/fsnotify/fsnotify"
)

// backoff tracks fsnotify recreation attempts after a backend error.
type backoff struct {
	mu       sync.Mutex
	timer    *time.Timer
	attempts int
	stopped  bool
}

func restartDelay(attempt int) time.Duration {
	return restartBaseDelay << attempt
}

// arm schedules run after the next delay. It returns false once the attempt
// budget is spent or while a restart is already pending.
func (b *backoff) arm(run func()) (armed, exhausted bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped || b.timer != nil {
		return false, false
	}
	if b.attempts >= maxRestartAttempts {
		return false, true
	}
	b.timer = time.AfterFunc(restartDelay(b.attempts), run)
	b.attempts++
	return true, false
}

// settle clears the pending timer; a success resets the attempt count.
func (b *backoff) settle(success bool) {
	b.mu.Lock()
	b.timer = nil
	if success {
		b.attempts = 0
	}
	b.mu.Unlock()
}

func (b *backoff) stop() {
	b.mu.Lock()
	b.stopped = true
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.mu.Unlock()
}

func (b *backoff) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

func (watcher *Watcher) handleError(err error) {
	if err == nil {
		return
	}
	watcher.failures.Add(1)
	watcher.logger.Warn("watcher error", map[string]string{logging.FieldError: err.Error()})
	watcher.scheduleRestart(err)
}

func (watcher *Watcher) scheduleRestart(cause error) {
	_, exhausted := watcher.restarts.arm(watcher.performRestart)
	if exhausted && watcher.errorHandler != nil {
		watcher.errorHandler(cause)
	}
}

func (watcher *Watcher) performRestart() {
	err := watcher.restart()
	watcher.restarts.settle(err == nil)
	if err == nil {
		return
	}
	watcher.logger.Warn("watcher restart failed", map[string]string{logging.FieldError: err.Error()})
	watcher.scheduleRestart(err)
}

// restart swaps in a fresh fsnotify watcher and re-adds every watched
// directory.
func (watcher *Watcher) restart() error {
	watcher.mutex.Lock()
	if watcher.closed {
		watcher.mutex.Unlock()
		return nil
	}
	dirs := make([]string, 0, len(watcher.dirRefs))
	for dir := range watcher.dirRefs {
		dirs = append(dirs, dir)
	}
	watcher.mutex.Unlock()

	replacement, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	for _, dir := range dirs {
		if err := replacement.Add(dir); err != nil {
			watcher.logger.Warn("watcher re-add failed", map[string]string{
				logging.FieldPath:  dir,
				logging.FieldError: err.Error(),
			})
		}
	}

	watcher.mutex.Lock()
	if watcher.closed {
		watcher.mutex.Unlock()
		return replacement.Close()
	}
	previous := watcher.source
	watcher.source = replacement
	watcher.mutex.Unlock()

	watcher.forward(replacement)
	if previous != nil {
		_ = previous.Close()
	}
	return nil
}
