package api

import (
	"net/http"
	"strconv"
	"time"

	"awdesk/internal/logging"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

type apiError struct {
	Status  int
	Message string
	Code    string
}

type apiHandler func(http.ResponseWriter, *http.Request) *apiError

const cacheControlNoStore = "no-store, must-revalidate"

func setSecurityHeaders(w http.ResponseWriter, cacheControl string) {
	headers := w.Header()
	headers.Set("X-Content-Type-Options", "nosniff")
	if cacheControl != "" {
		headers.Set("Cache-Control", cacheControl)
	}
}

func jsonErrorMiddleware(next apiHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := next(w, r); err != nil {
			writeJSONError(w, err)
		}
	}
}

func restHandler(handler apiHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		setSecurityHeaders(w, cacheControlNoStore)
		jsonErrorMiddleware(handler)(w, r)
	}
}

// loggingMiddleware logs each request once it has been served.
func loggingMiddleware(logger *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if logger == nil {
				next.ServeHTTP(w, r)
				return
			}
			wrapped := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			started := time.Now()
			next.ServeHTTP(wrapped, r)
			logger.Debug("api request", map[string]string{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      strconv.Itoa(wrapped.Status()),
				"duration_ms": strconv.FormatInt(time.Since(started).Milliseconds(), 10),
				"request_id":  chimiddleware.GetReqID(r.Context()),
			})
		})
	}
}

// originGuard refuses state-changing requests sent by pages from another
// origin. Reads stay open; the websocket stream checks origin on upgrade.
func originGuard(allowed []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}
			if r.Header.Get("Sec-Fetch-Site") == "cross-site" || !originAllowed(r, allowed) {
				setSecurityHeaders(w, cacheControlNoStore)
				writeJSONError(w, &apiError{Status: http.StatusForbidden, Message: "origin not allowed"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
