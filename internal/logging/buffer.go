package logging

import (
	"sync"

	"awdesk/internal/buffer"
)

// DefaultBufferSize is how many recent entries the control API can serve.
const DefaultBufferSize = 1000

// LogBuffer keeps the newest entries in memory.
type LogBuffer struct {
	mu   sync.Mutex
	ring *buffer.Ring[LogEntry]
}

func NewLogBuffer(size int) *LogBuffer {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &LogBuffer{ring: buffer.NewRing[LogEntry](size)}
}

func (b *LogBuffer) Add(entry LogEntry) {
	if b == nil {
		return
	}
	b.mu.Lock()
	b.ring.Add(entry)
	b.mu.Unlock()
}

// List returns the buffered entries, oldest first.
func (b *LogBuffer) List() []LogEntry {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ring.List()
}

// Tail returns up to limit of the newest entries at or above minLevel.
// A limit of zero or less returns every matching entry.
func (b *LogBuffer) Tail(limit int, minLevel Level) []LogEntry {
	entries := b.List()
	kept := entries[:0]
	for _, entry := range entries {
		if LevelAtLeast(entry.Level, minLevel) {
			kept = append(kept, entry)
		}
	}
	if limit > 0 && len(kept) > limit {
		kept = kept[len(kept)-limit:]
	}
	return kept
}
