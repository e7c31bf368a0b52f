// Package process tracks child processes spawned for modules and stops them
// the way each platform expects: SIGTERM to the process group on Unix and a
// console CTRL_BREAK on Windows, escalating to a kill when the grace period
// runs out.
package process

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

const defaultStopTimeout = 5 * time.Second

var ErrProcessNotFound = errors.New("process not running")

type Entry struct {
	PID       int
	PGID      int
	Name      string
	StartedAt time.Time
	Wait      func(context.Context) error
}

// Registry maps module names to the live process that serves them. A name has
// at most one entry.
type Registry struct {
	mu      sync.Mutex
	entries map[string]Entry
}

func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]Entry),
	}
}

func (r *Registry) Register(name string, pid, pgid int) {
	r.RegisterWithWait(name, pid, pgid, nil)
}

func (r *Registry) RegisterWithWait(name string, pid, pgid int, wait func(context.Context) error) {
	if r == nil || pid <= 0 || name == "" {
		return
	}
	r.mu.Lock()
	r.entries[name] = Entry{
		PID:       pid,
		PGID:      pgid,
		Name:      name,
		StartedAt: time.Now(),
		Wait:      wait,
	}
	r.mu.Unlock()
}

// Unregister drops name only while it still refers to pid, so a late exit
// notification cannot remove a newer process.
func (r *Registry) Unregister(name string, pid int) {
	if r == nil {
		return
	}
	r.mu.Lock()
	if entry, ok := r.entries[name]; ok && (pid <= 0 || entry.PID == pid) {
		delete(r.entries, name)
	}
	r.mu.Unlock()
}

func (r *Registry) Lookup(name string) (Entry, bool) {
	if r == nil {
		return Entry{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[name]
	return entry, ok
}

// Entries returns a copy of the registry sorted by name.
func (r *Registry) Entries() []Entry {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	entries := make([]Entry, 0, len(r.entries))
	for _, entry := range r.entries {
		entries = append(entries, entry)
	}
	r.mu.Unlock()
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries
}

func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Stop terminates the process registered under name. The entry is kept until
// the owner calls Unregister from its exit path.
func (r *Registry) Stop(ctx context.Context, name string) error {
	entry, ok := r.Lookup(name)
	if !ok {
		return ErrProcessNotFound
	}
	return Stop(ctx, entry.PID, entry.PGID, entry.Wait)
}

func (r *Registry) StopAll(ctx context.Context) error {
	if r == nil {
		return nil
	}
	entries := r.Entries()

	var stopErr error
	for _, entry := range entries {
		if err := Stop(ctx, entry.PID, entry.PGID, entry.Wait); err != nil && !errors.Is(err, ErrProcessNotFound) {
			stopErr = errors.Join(stopErr, err)
		}
	}
	if len(entries) > 0 {
		r.mu.Lock()
		for _, entry := range entries {
			if current, ok := r.entries[entry.Name]; ok && current.PID == entry.PID {
				delete(r.entries, entry.Name)
			}
		}
		r.mu.Unlock()
	}
	return stopErr
}

// Stop asks pid to exit and waits up to the context deadline (or five
// seconds) before killing it.
func Stop(ctx context.Context, pid, pgid int, wait func(context.Context) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return stopProcess(ctx, pid, pgid, wait)
}

func waitForExit(ctx context.Context, pid int, wait func(context.Context) error) error {
	if wait != nil {
		return wait(ctx)
	}
	if pid <= 0 {
		return nil
	}
	timeout := defaultStopTimeout
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ctx.Err()
		}
		if remaining < timeout {
			timeout = remaining
		}
	}
	deadline := time.Now().Add(timeout)
	for {
		if !Alive(pid) {
			return nil
		}
		if time.Now().After(deadline) {
			return context.DeadlineExceeded
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}
