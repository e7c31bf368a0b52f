package api

import (
	"errors"
	"net/http"

	"awdesk/internal/tray"

	"github.com/go-chi/chi/v5"
)

func (h *RestHandler) handleMenu(w http.ResponseWriter, r *http.Request) *apiError {
	if h.Menu == nil {
		return &apiError{Status: http.StatusServiceUnavailable, Message: "menu unavailable"}
	}
	writeJSON(w, http.StatusOK, h.Menu.Current())
	return nil
}

func (h *RestHandler) handleMenuClick(w http.ResponseWriter, r *http.Request) *apiError {
	if h.Click == nil {
		return &apiError{Status: http.StatusServiceUnavailable, Message: "menu unavailable"}
	}
	id := chi.URLParam(r, "id")
	if err := h.Click(r.Context(), id); err != nil {
		if errors.Is(err, tray.ErrUnknownItem) {
			return &apiError{Status: http.StatusNotFound, Message: err.Error()}
		}
		return &apiError{Status: http.StatusInternalServerError, Message: err.Error()}
	}
	w.WriteHeader(http.StatusAccepted)
	return nil
}
