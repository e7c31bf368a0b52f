package modules

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"sync"

	"awdesk/internal/logging"
	"awdesk/internal/watcher"
)

// Registry caches the result of the last discovery scan.
type Registry struct {
	mu      sync.RWMutex
	dirs    []string
	options ScanOptions
	paths   map[string]string
	names   []string
}

func NewRegistry(dirs []string, options ScanOptions) *Registry {
	registry := &Registry{
		dirs:    slices.Clone(dirs),
		options: options,
	}
	registry.Refresh()
	return registry
}

// Refresh rescans the directories and returns the discovered names.
func (r *Registry) Refresh() []string {
	if r == nil {
		return nil
	}
	paths := discover(r.dirs, r.options)
	names := make([]string, 0, len(paths))
	for name := range paths {
		names = append(names, name)
	}
	slices.Sort(names)

	r.mu.Lock()
	r.paths = paths
	r.names = names
	r.mu.Unlock()
	return slices.Clone(names)
}

func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.names)
}

func (r *Registry) Has(name string) bool {
	_, ok := r.Resolve(name)
	return ok
}

// Resolve returns the executable path for a discovered watcher.
func (r *Registry) Resolve(name string) (string, bool) {
	if r == nil {
		return "", false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	path, ok := r.paths[name]
	return path, ok
}

func (r *Registry) Dirs() []string {
	if r == nil {
		return nil
	}
	return slices.Clone(r.dirs)
}

// DiscoveryWatcher refreshes a Registry when its directories change. It runs
// until the context is cancelled.
type DiscoveryWatcher struct {
	Registry *Registry
	Watcher  *watcher.Watcher
	Logger   *logging.Logger
	// OnChange receives the new name list when it differs from the previous one.
	OnChange func([]string)
}

func (d *DiscoveryWatcher) Serve(ctx context.Context) error {
	if d == nil || d.Registry == nil || d.Watcher == nil {
		return errors.New("discovery watcher is not configured")
	}
	logger := d.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	changed := make(chan struct{}, 1)
	var handles []watcher.Handle
	for _, dir := range d.Registry.Dirs() {
		handle, err := d.Watcher.Watch(dir, func(watcher.Event) {
			select {
			case changed <- struct{}{}:
			default:
			}
		})
		if err != nil {
			logger.Debug("discovery dir not watched", map[string]string{
				logging.FieldPath:  dir,
				logging.FieldError: err.Error(),
			})
			continue
		}
		handles = append(handles, handle)
	}
	defer func() {
		for _, handle := range handles {
			_ = handle.Close()
		}
	}()

	previous := d.Registry.Names()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
			names := d.Registry.Refresh()
			if slices.Equal(names, previous) {
				continue
			}
			previous = names
			logger.Info("modules discovered", map[string]string{
				"count": strconv.Itoa(len(names)),
			})
			if d.OnChange != nil {
				d.OnChange(names)
			}
		}
	}
}
