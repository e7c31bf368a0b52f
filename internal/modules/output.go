package modules

import (
	"bytes"
	"sync"

	"awdesk/internal/buffer"
)

const maxPartialLine = 4096

// tailWriter keeps the last lines written by a child's stdout and stderr.
type tailWriter struct {
	mu      sync.Mutex
	lines   *buffer.Ring[string]
	partial []byte
}

func newTailWriter(size int) *tailWriter {
	return &tailWriter{lines: buffer.NewRing[string](size)}
}

func (w *tailWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	data := p
	for len(data) > 0 {
		index := bytes.IndexByte(data, '\n')
		if index < 0 {
			w.partial = append(w.partial, data...)
			if len(w.partial) > maxPartialLine {
				w.lines.Add(string(w.partial))
				w.partial = w.partial[:0]
			}
			break
		}
		w.partial = append(w.partial, data[:index]...)
		w.lines.Add(string(bytes.TrimRight(w.partial, "\r")))
		w.partial = w.partial[:0]
		data = data[index+1:]
	}
	return len(p), nil
}

// Lines returns the retained output, including an unterminated last line.
func (w *tailWriter) Lines() []string {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	lines := w.lines.List()
	if len(w.partial) > 0 {
		lines = append(lines, string(w.partial))
	}
	return lines
}
