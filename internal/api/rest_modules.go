package api

import (
	"errors"
	"net/http"

	"awdesk/internal/event"
	"awdesk/internal/modules"

	"github.com/go-chi/chi/v5"
)

func (h *RestHandler) handleModules(w http.ResponseWriter, r *http.Request) *apiError {
	if err := h.requireModules(); err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, h.Modules.Snapshot())
	return nil
}

func (h *RestHandler) handleModule(w http.ResponseWriter, r *http.Request) *apiError {
	if err := h.requireModules(); err != nil {
		return err
	}
	name := chi.URLParam(r, "name")
	status, ok := h.Modules.Status(name)
	if !ok {
		return &apiError{Status: http.StatusNotFound, Message: "unknown module " + name}
	}
	writeJSON(w, http.StatusOK, status)
	return nil
}

func (h *RestHandler) handleModuleAction(w http.ResponseWriter, r *http.Request) *apiError {
	if err := h.requireModules(); err != nil {
		return err
	}
	name := chi.URLParam(r, "name")
	action := chi.URLParam(r, "action")

	var (
		status modules.Status
		err    error
	)
	switch action {
	case "start":
		status, err = h.Modules.Start(r.Context(), name)
	case "stop":
		status, err = h.Modules.Stop(r.Context(), name)
	case "toggle":
		status, err = h.Modules.Toggle(r.Context(), name)
	default:
		return &apiError{Status: http.StatusNotFound, Message: "unknown action " + action}
	}
	if err != nil && !errors.Is(err, modules.ErrAlreadyRunning) {
		return moduleError(err)
	}
	writeJSON(w, http.StatusAccepted, status)
	return nil
}

func (h *RestHandler) handleRefresh(w http.ResponseWriter, r *http.Request) *apiError {
	if h.Refresh == nil {
		return &apiError{Status: http.StatusServiceUnavailable, Message: "module discovery unavailable"}
	}
	names := h.Refresh()
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"modules": names})
	return nil
}

func (h *RestHandler) handleModuleEvents(w http.ResponseWriter, r *http.Request) {
	bus := h.busOrNil()
	streamBus(w, r, streamOptions[modules.ModuleEvent]{
		Bus:            bus,
		Logger:         h.Logger,
		AllowedOrigins: h.AllowedOrigins,
		Replay:         r.URL.Query().Get("history") == "1",
	})
}

func (h *RestHandler) busOrNil() *event.Bus[modules.ModuleEvent] {
	if h.Modules == nil {
		return nil
	}
	return h.Modules.Bus()
}

func moduleError(err error) *apiError {
	switch {
	case errors.Is(err, modules.ErrUnknownModule):
		return &apiError{Status: http.StatusNotFound, Message: err.Error()}
	case errors.Is(err, modules.ErrManagerStopped):
		return &apiError{Status: http.StatusServiceUnavailable, Message: err.Error()}
	default:
		return &apiError{Status: http.StatusInternalServerError, Message: err.Error()}
	}
}
