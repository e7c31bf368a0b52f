package logging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// sink is shared by a Logger and every child created with With.
type sink struct {
	mu  sync.Mutex
	out io.Writer
	buf *LogBuffer
}

func (s *sink) write(entry LogEntry) {
	s.buf.Add(entry)
	if s.out == nil {
		return
	}
	line := formatEntry(entry)
	s.mu.Lock()
	_, _ = io.WriteString(s.out, line)
	s.mu.Unlock()
}

// Logger writes leveled records with string fields to an output and a LogBuffer.
type Logger struct {
	sink   *sink
	min    Level
	fields map[string]string
}

// NewLoggerWithOutput returns a logger writing to output. A nil buffer gets a
// fresh one of DefaultBufferSize; a nil output only fills the buffer.
func NewLoggerWithOutput(buffer *LogBuffer, minLevel Level, output io.Writer) *Logger {
	if buffer == nil {
		buffer = NewLogBuffer(DefaultBufferSize)
	}
	if !minLevel.valid() {
		minLevel = LevelInfo
	}
	return &Logger{
		sink: &sink{out: output, buf: buffer},
		min:  minLevel,
	}
}

// Discard returns a logger that only records into a private buffer.
func Discard() *Logger {
	return NewLoggerWithOutput(nil, LevelInfo, nil)
}

type FileOptions struct {
	Path     string
	Level    Level
	Console  io.Writer
	Buffer   *LogBuffer
	FileMode os.FileMode
}

// OpenFile builds a logger that appends to the file at Path and mirrors to
// Console when set. The returned closer releases the file.
func OpenFile(options FileOptions) (*Logger, io.Closer, error) {
	if strings.TrimSpace(options.Path) == "" {
		return nil, nil, errors.New("log path is required")
	}
	if err := os.MkdirAll(filepath.Dir(options.Path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log dir: %w", err)
	}
	mode := options.FileMode
	if mode == 0 {
		mode = 0o644
	}
	file, err := os.OpenFile(options.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, mode)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	var output io.Writer = file
	if options.Console != nil {
		output = io.MultiWriter(options.Console, file)
	}
	return NewLoggerWithOutput(options.Buffer, options.Level, output), file, nil
}

func (l *Logger) Buffer() *LogBuffer {
	if l == nil {
		return nil
	}
	return l.sink.buf
}

func (l *Logger) Level() Level {
	if l == nil {
		return LevelInfo
	}
	return l.min
}

// With returns a child logger that adds fields to every record.
func (l *Logger) With(fields map[string]string) *Logger {
	if l == nil {
		return nil
	}
	child := *l
	child.fields = mergeFields(l.fields, fields)
	return &child
}

func (l *Logger) Enabled(level Level) bool {
	return l != nil && level.rank() >= l.min.rank()
}

func (l *Logger) Debug(message string, fields map[string]string) {
	l.log(LevelDebug, message, fields)
}

func (l *Logger) Info(message string, fields map[string]string) {
	l.log(LevelInfo, message, fields)
}

func (l *Logger) Warn(message string, fields map[string]string) {
	l.log(LevelWarning, message, fields)
}

func (l *Logger) Error(message string, fields map[string]string) {
	l.log(LevelError, message, fields)
}

func (l *Logger) log(level Level, message string, fields map[string]string) {
	if !l.Enabled(level) {
		return
	}
	l.sink.write(LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   message,
		Context:   mergeFields(l.fields, fields),
	})
}

func mergeFields(base, extra map[string]string) map[string]string {
	if len(base)+len(extra) == 0 {
		return nil
	}
	merged := make(map[string]string, len(base)+len(extra))
	for key, value := range base {
		merged[key] = value
	}
	for key, value := range extra {
		merged[key] = value
	}
	return merged
}

// formatEntry renders `<rfc3339> <LEVEL> [module] message key="value"...`.
func formatEntry(entry LogEntry) string {
	var line strings.Builder
	line.WriteString(entry.Timestamp.Format("2006-01-02T15:04:05.000Z07:00"))
	line.WriteByte(' ')
	line.WriteString(entry.Level.tag())
	if module := entry.Context[FieldModule]; module != "" {
		line.WriteString(" [")
		line.WriteString(module)
		line.WriteByte(']')
	}
	line.WriteByte(' ')
	line.WriteString(entry.Message)

	keys := make([]string, 0, len(entry.Context))
	for key := range entry.Context {
		if key != FieldModule {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	for _, key := range keys {
		line.WriteByte(' ')
		line.WriteString(key)
		line.WriteByte('=')
		line.WriteString(strconv.Quote(entry.Context[key]))
	}
	line.WriteByte('\n')
	return line.String()
}
