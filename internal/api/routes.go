// Package api serves the localhost control API used by the CLI and the web
// dashboard to read and drive module state.
package api

import (
	"net/http"

	"awdesk/internal/logging"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// NewRouter wires every control API route onto a chi router.
func NewRouter(handler *RestHandler, logger *logging.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(loggingMiddleware(logger))
	r.Use(originGuard(handler.AllowedOrigins))

	r.NotFound(restHandler(func(w http.ResponseWriter, r *http.Request) *apiError {
		return &apiError{Status: http.StatusNotFound, Message: "not found"}
	}))
	r.MethodNotAllowed(restHandler(func(w http.ResponseWriter, r *http.Request) *apiError {
		return &apiError{Status: http.StatusMethodNotAllowed, Message: "method not allowed"}
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", restHandler(handler.handleStatus))
		r.Get("/logs", restHandler(handler.handleLogs))

		r.Route("/modules", func(r chi.Router) {
			r.Get("/", restHandler(handler.handleModules))
			r.Post("/refresh", restHandler(handler.handleRefresh))
			r.Get("/events", handler.handleModuleEvents)
			r.Get("/{name}", restHandler(handler.handleModule))
			r.Post("/{name}/{action}", restHandler(handler.handleModuleAction))
		})

		r.Get("/menu", restHandler(handler.handleMenu))
		r.Post("/menu/{id}", restHandler(handler.handleMenuClick))
	})

	if handler.Metrics != nil {
		r.Handle("/metrics", handler.Metrics)
	}
	return r
}
