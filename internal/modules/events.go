package modules

import "time"

const (
	EventModuleStarted     = "module_started"
	EventModuleStopped     = "module_stopped"
	EventModuleCrashed     = "module_crashed"
	EventModuleExternal    = "module_external"
	EventModulesDiscovered = "modules_discovered"
	EventManagerReady      = "manager_ready"
)

// ModuleEvent is published on every module state change.
type ModuleEvent struct {
	EventType  string    `json:"type"`
	Module     string    `json:"module,omitempty"`
	PID        int       `json:"pid,omitempty"`
	ExitCode   int       `json:"exit_code,omitempty"`
	Message    string    `json:"message,omitempty"`
	Modules    []string  `json:"modules,omitempty"`
	OccurredAt time.Time `json:"timestamp"`
}

func (e ModuleEvent) Type() string {
	return e.EventType
}

func (e ModuleEvent) Timestamp() time.Time {
	return e.OccurredAt
}
