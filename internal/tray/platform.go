//go:build !systray

package tray

import (
	"context"

	"awdesk/internal/logging"
)

// NewPlatformRenderer returns the headless renderer; build with the systray
// tag for a real tray icon.
func NewPlatformRenderer(logger *logging.Logger, title string, icon []byte, click func(context.Context, string) error) Renderer {
	return &LogRenderer{Logger: logger}
}
