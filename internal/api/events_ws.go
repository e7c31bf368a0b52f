package api

import (
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"awdesk/internal/event"
	"awdesk/internal/logging"

	"github.com/gorilla/websocket"
)

const (
	wsBufferSize   = 1024
	wsWriteTimeout = 10 * time.Second
)

type streamOptions[T any] struct {
	Bus            *event.Bus[T]
	Logger         *logging.Logger
	AllowedOrigins []string
	// Replay sends the retained bus history before live events.
	Replay bool
}

// streamBus pushes every event published on the bus to a websocket client as
// JSON until the client goes away or the bus closes.
func streamBus[T any](w http.ResponseWriter, r *http.Request, options streamOptions[T]) {
	if options.Bus == nil {
		writeJSONError(w, &apiError{Status: http.StatusServiceUnavailable, Message: "event stream unavailable"})
		return
	}

	// Subscribing first means events published during the handshake are kept.
	events, unsubscribe := options.Bus.Subscribe()
	defer unsubscribe()

	upgrader := websocket.Upgrader{
		ReadBufferSize:  wsBufferSize,
		WriteBufferSize: wsBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			return originAllowed(r, options.AllowedOrigins)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logStreamFailure(options.Logger, r, err)
		return
	}
	defer conn.Close()

	send := func(item T) bool {
		if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
			return false
		}
		return conn.WriteJSON(item) == nil
	}
	if options.Replay {
		for _, item := range options.Bus.History() {
			if !send(item) {
				return
			}
		}
	}

	// The client never sends data; reading only detects the close.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case item, ok := <-events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(time.Second))
				return
			}
			if !send(item) {
				return
			}
		case <-gone:
			return
		}
	}
}

// originAllowed accepts requests without an Origin header. With an allow
// list the origin or its host must be on it; otherwise the origin host must
// match the request host.
func originAllowed(r *http.Request, allowed []string) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Hostname() == "" {
		return false
	}
	if len(allowed) == 0 {
		return strings.EqualFold(parsed.Hostname(), requestHost(r.Host))
	}
	for _, candidate := range allowed {
		if strings.EqualFold(candidate, origin) || strings.EqualFold(candidate, parsed.Hostname()) {
			return true
		}
	}
	return false
}

func requestHost(hostport string) string {
	if host, _, err := net.SplitHostPort(hostport); err == nil {
		return strings.Trim(host, "[]")
	}
	return strings.Trim(hostport, "[]")
}

func logStreamFailure(logger *logging.Logger, r *http.Request, err error) {
	if logger == nil {
		return
	}
	fields := map[string]string{
		"path":             r.URL.Path,
		"status":           strconv.Itoa(http.StatusBadRequest),
		"remote_addr":      r.RemoteAddr,
		logging.FieldError: err.Error(),
	}
	logger.Warn("websocket upgrade failed", fields)
}
