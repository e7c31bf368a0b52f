package watcher

import (
	"sync"
	"sync/atomic"
	"time"

	"awdesk/internal/logging"

	"github.com/fsnotify/fsnotify"
)

// Event represents a single filesystem change.
type Event struct {
	Path      string
	Op        fsnotify.Op
	Timestamp time.Time
}

// Handle releases watcher resources for a registration.
type Handle interface {
	Close() error
}

// Watch registers a callback for filesystem events on a path.
type Watch interface {
	Watch(path string, callback func(Event)) (Handle, error)
}

// Options controls watcher behavior.
type Options struct {
	Logger       *logging.Logger
	Debounce     time.Duration
	MaxWatches   int
	ErrorHandler func(error)
}

// Metrics reports watcher counters.
type Metrics struct {
	ActiveWatches   int
	EventsDelivered uint64
	EventsDropped   uint64
	Errors          uint64
	RestartAttempts int
}

type registration struct {
	id       uint64
	dir      string
	target   string
	callback func(Event)
}

// Watcher multiplexes path registrations onto one fsnotify watcher.
type Watcher struct {
	mutex         sync.Mutex
	source        *fsnotify.Watcher
	registrations map[uint64]registration
	dirRefs       map[string]int
	debouncer     *debouncer
	closed        bool
	nextID        uint64

	events chan fsnotify.Event
	errors chan error
	done   chan struct{}

	logger       *logging.Logger
	maxWatches   int
	errorHandler func(error)
	restarts     backoff

	delivered atomic.Uint64
	dropped   atomic.Uint64
	failures  atomic.Uint64
}
