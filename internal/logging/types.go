package logging

import (
	"strings"
	"time"
)

// Level is a log severity. The zero value is treated as info.
type Level string

const (
	LevelDebug   Level = "debug"
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Field keys shared across packages.
const (
	FieldModule = "module"
	FieldPID    = "pid"
	FieldError  = "error"
	FieldPath   = "path"
)

var levelOrder = map[Level]int{
	LevelDebug:   0,
	LevelInfo:    1,
	LevelWarning: 2,
	LevelError:   3,
}

func (l Level) rank() int {
	if rank, ok := levelOrder[l]; ok {
		return rank
	}
	return levelOrder[LevelInfo]
}

func (l Level) valid() bool {
	_, ok := levelOrder[l]
	return ok
}

// tag is the fixed-width label written in front of each line.
func (l Level) tag() string {
	if !l.valid() {
		l = LevelInfo
	}
	if l == LevelWarning {
		return "WARN "
	}
	label := strings.ToUpper(string(l))
	return label + strings.Repeat(" ", 5-len(label))
}

// ParseLevel accepts the level names plus the "trace" and "warn" aliases.
func ParseLevel(value string) (Level, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "trace", "debug":
		return LevelDebug, true
	case "info":
		return LevelInfo, true
	case "warn", "warning":
		return LevelWarning, true
	case "error":
		return LevelError, true
	}
	return "", false
}

// LevelAtLeast reports whether level passes a minLevel filter. An empty
// filter passes everything.
func LevelAtLeast(level, minLevel Level) bool {
	return minLevel == "" || level.rank() >= minLevel.rank()
}

// LogEntry is one record kept in the in-memory buffer and served by /api/logs.
type LogEntry struct {
	Timestamp time.Time         `json:"timestamp"`
	Level     Level             `json:"level"`
	Message   string            `json:"message"`
	Context   map[string]string `json:"context,omitempty"`
}
