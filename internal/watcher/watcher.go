package watcher

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"awdesk/internal/logging"

	"github.com/fsnotify/fsnotify"
)

const (
	defaultDebounce    = 100 * time.Millisecond
	defaultMaxWatches  = 64
	maxRestartAttempts = 3
	restartBaseDelay   = 200 * time.Millisecond
)

var (
	ErrMaxWatchesExceeded = errors.New("max watches exceeded")
	ErrClosed             = errors.New("watcher is closed")
)

// New creates a Watcher with default options.
func New() (*Watcher, error) {
	return NewWithOptions(Options{})
}

func NewWithOptions(options Options) (*Watcher, error) {
	source, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	logger := options.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	window := options.Debounce
	if window <= 0 {
		window = defaultDebounce
	}
	maxWatches := options.MaxWatches
	if maxWatches <= 0 {
		maxWatches = defaultMaxWatches
	}

	watcher := &Watcher{
		source:        source,
		registrations: make(map[uint64]registration),
		dirRefs:       make(map[string]int),
		debouncer:     newDebouncer(window),
		events:        make(chan fsnotify.Event, 16),
		errors:        make(chan error, 4),
		done:          make(chan struct{}),
		logger:        logger.With(map[string]string{"component": "watcher"}),
		maxWatches:    maxWatches,
		errorHandler:  options.ErrorHandler,
	}
	watcher.forward(source)
	go watcher.loop()
	return watcher, nil
}

type watchHandle struct {
	watcher *Watcher
	id      uint64
	once    sync.Once
}

func (handle *watchHandle) Close() error {
	var err error
	handle.once.Do(func() {
		err = handle.watcher.remove(handle.id)
	})
	return err
}

// Watch registers callback for path. A directory receives events for its
// direct children. Any other path, including one that does not exist yet, is
// matched by name inside its parent directory, which must exist.
func (watcher *Watcher) Watch(path string, callback func(Event)) (Handle, error) {
	if watcher == nil {
		return nil, errors.New("watcher is nil")
	}
	if path == "" {
		return nil, errors.New("path is required")
	}
	if callback == nil {
		return nil, errors.New("callback is required")
	}

	path = filepath.Clean(path)
	reg := registration{dir: path, callback: callback}
	if info, err := os.Stat(path); err != nil || !info.IsDir() {
		reg.dir, reg.target = filepath.Dir(path), path
		if _, err := os.Stat(reg.dir); err != nil {
			return nil, fmt.Errorf("watch %s: %w", path, err)
		}
	}

	watcher.mutex.Lock()
	if watcher.closed {
		watcher.mutex.Unlock()
		return nil, ErrClosed
	}
	first := watcher.dirRefs[reg.dir] == 0
	if first && len(watcher.dirRefs) >= watcher.maxWatches {
		watcher.mutex.Unlock()
		return nil, ErrMaxWatchesExceeded
	}
	watcher.nextID++
	reg.id = watcher.nextID
	watcher.registrations[reg.id] = reg
	watcher.dirRefs[reg.dir]++
	source := watcher.source
	active := len(watcher.dirRefs)
	watcher.mutex.Unlock()

	if first {
		if err := source.Add(reg.dir); err != nil {
			_ = watcher.remove(reg.id)
			watcher.logger.Warn("watch add failed", map[string]string{
				logging.FieldPath:  reg.dir,
				logging.FieldError: err.Error(),
			})
			return nil, err
		}
		watcher.logger.Debug("watch added", map[string]string{
			logging.FieldPath: reg.dir,
			"active_watches":  strconv.Itoa(active),
		})
	}
	return &watchHandle{watcher: watcher, id: reg.id}, nil
}

func (watcher *Watcher) remove(id uint64) error {
	watcher.mutex.Lock()
	reg, ok := watcher.registrations[id]
	if !ok {
		watcher.mutex.Unlock()
		return nil
	}
	delete(watcher.registrations, id)
	watcher.debouncer.drop(id)
	watcher.dirRefs[reg.dir]--
	last := watcher.dirRefs[reg.dir] <= 0
	if last {
		delete(watcher.dirRefs, reg.dir)
	}
	source, closed := watcher.source, watcher.closed
	watcher.mutex.Unlock()

	if !last || closed || source == nil {
		return nil
	}
	if err := source.Remove(reg.dir); err != nil && !errors.Is(err, fsnotify.ErrNonExistentWatch) {
		return err
	}
	return nil
}

// Close stops event delivery and releases the fsnotify watcher.
func (watcher *Watcher) Close() error {
	if watcher == nil {
		return nil
	}
	watcher.mutex.Lock()
	if watcher.closed {
		watcher.mutex.Unlock()
		return nil
	}
	watcher.closed = true
	watcher.debouncer.stopAll()
	source := watcher.source
	watcher.mutex.Unlock()

	watcher.restarts.stop()
	close(watcher.done)
	if source == nil {
		return nil
	}
	return source.Close()
}

func (watcher *Watcher) loop() {
	for {
		select {
		case event := <-watcher.events:
			watcher.dispatch(event)
		case err := <-watcher.errors:
			watcher.handleError(err)
		case <-watcher.done:
			return
		}
	}
}

// forward copies events and errors from source until source or the watcher
// is closed. A restart starts a new forwarder for the replacement.
func (watcher *Watcher) forward(source *fsnotify.Watcher) {
	go func() {
		for {
			select {
			case event, ok := <-source.Events:
				if !ok {
					return
				}
				select {
				case watcher.events <- event:
				case <-watcher.done:
					return
				}
			case err, ok := <-source.Errors:
				if !ok {
					return
				}
				select {
				case watcher.errors <- err:
				case <-watcher.done:
					return
				}
			case <-watcher.done:
				return
			}
		}
	}()
}

func (watcher *Watcher) dispatch(raw fsnotify.Event) {
	event := Event{Path: raw.Name, Op: raw.Op, Timestamp: time.Now().UTC()}
	watcher.mutex.Lock()
	defer watcher.mutex.Unlock()
	if watcher.closed {
		return
	}
	for _, id := range watcher.matchesLocked(raw.Name) {
		if watcher.debouncer.push(id, event, watcher.fire) {
			watcher.dropped.Add(1)
		}
	}
}

// fire delivers the debounced event for registration id.
func (watcher *Watcher) fire(id uint64) {
	watcher.mutex.Lock()
	if watcher.closed {
		watcher.mutex.Unlock()
		return
	}
	event, ok := watcher.debouncer.take(id)
	reg, found := watcher.registrations[id]
	watcher.mutex.Unlock()
	if !ok || !found {
		return
	}
	reg.callback(event)
	watcher.delivered.Add(1)
}

// matchesLocked returns registrations interested in name.
func (watcher *Watcher) matchesLocked(name string) []uint64 {
	name = filepath.Clean(name)
	parent := filepath.Dir(name)
	var ids []uint64
	for id, reg := range watcher.registrations {
		switch {
		case reg.target != "":
			if reg.target == name {
				ids = append(ids, id)
			}
		case reg.dir == parent || reg.dir == name:
			ids = append(ids, id)
		}
	}
	return ids
}

func (watcher *Watcher) Metrics() Metrics {
	if watcher == nil {
		return Metrics{}
	}
	watcher.mutex.Lock()
	active := len(watcher.dirRefs)
	watcher.mutex.Unlock()
	return Metrics{
		ActiveWatches:   active,
		EventsDelivered: watcher.delivered.Load(),
		EventsDropped:   watcher.dropped.Load(),
		Errors:          watcher.failures.Load(),
		RestartAttempts: watcher.restarts.count(),
	}
}
