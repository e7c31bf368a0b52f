package modules

import "time"

type State string

const (
	StateRunning State = "running"
	StateStopped State = "stopped"
	StateCrashed State = "crashed"
	// StateExternal marks a watcher that was already running when we started.
	StateExternal State = "external"
)

// Status is the externally visible state of one module.
type Status struct {
	Name       string    `json:"name" yaml:"name"`
	State      State     `json:"state" yaml:"state"`
	PID        int       `json:"pid,omitempty" yaml:"pid,omitempty"`
	StartedAt  time.Time `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	ExitCode   int       `json:"exit_code" yaml:"exit_code"`
	Restarts   int       `json:"restarts" yaml:"restarts"`
	LastError  string    `json:"last_error,omitempty" yaml:"last_error,omitempty"`
	Managed    bool      `json:"managed" yaml:"managed"`
	Discovered bool      `json:"discovered" yaml:"discovered"`
	Autostart  bool      `json:"autostart" yaml:"autostart"`
	Output     []string  `json:"output,omitempty" yaml:"output,omitempty"`
}

// Running reports whether a process is attached to the module.
func (s Status) Running() bool {
	return s.State == StateRunning || s.State == StateExternal
}
