package api

import (
	"context"
	"net/http"
	"time"

	"awdesk/internal/client"
	"awdesk/internal/event"
	"awdesk/internal/logging"
	"awdesk/internal/modules"
	"awdesk/internal/tray"
)

// ModuleController is the module manager surface the API drives.
type ModuleController interface {
	Snapshot() []modules.Status
	Status(name string) (modules.Status, bool)
	Start(ctx context.Context, name string) (modules.Status, error)
	Stop(ctx context.Context, name string) (modules.Status, error)
	Toggle(ctx context.Context, name string) (modules.Status, error)
	Bus() *event.Bus[modules.ModuleEvent]
}

// MenuSource returns the last rendered tray menu.
type MenuSource interface {
	Current() tray.Menu
}

// Info is the static part of the /api/status response.
type Info struct {
	Version      string
	InstanceID   string
	Port         int
	ControlPort  int
	DashboardURL string
	FirstRun     bool
	StartedAt    time.Time
}

type RestHandler struct {
	Modules ModuleController
	// Refresh rescans discovery directories and returns the names found.
	Refresh        func() []string
	Menu           MenuSource
	Click          func(ctx context.Context, id string) error
	Logger         *logging.Logger
	Metrics        http.Handler
	Info           Info
	AllowedOrigins []string
}

func (h *RestHandler) handleStatus(w http.ResponseWriter, r *http.Request) *apiError {
	uptime := 0.0
	if !h.Info.StartedAt.IsZero() {
		uptime = time.Since(h.Info.StartedAt).Seconds()
	}
	writeJSON(w, http.StatusOK, client.Status{
		App:          client.AppName,
		Version:      h.Info.Version,
		InstanceID:   h.Info.InstanceID,
		Port:         h.Info.Port,
		ControlPort:  h.Info.ControlPort,
		DashboardURL: h.Info.DashboardURL,
		FirstRun:     h.Info.FirstRun,
		Uptime:       uptime,
	})
	return nil
}

func (h *RestHandler) requireModules() *apiError {
	if h.Modules == nil {
		return &apiError{Status: http.StatusServiceUnavailable, Message: "module manager unavailable"}
	}
	return nil
}
