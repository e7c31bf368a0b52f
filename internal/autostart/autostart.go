// Package autostart registers the application as a login item.
package autostart

import (
	"errors"
	"fmt"
	"runtime"
	"strings"

	"awdesk/internal/dirs"
)

const (
	// EntryName names the desktop file and registry value.
	EntryName = "awdesk"
	// Label is the launchd label on macOS.
	Label = "net.activitywatch.awdesk"
)

var ErrUnsupported = errors.New("autostart is not supported on this platform")

// Manager installs and removes the login item for one executable.
type Manager interface {
	IsEnabled() (bool, error)
	Enable(execPath string, args []string) error
	Disable() error
	Name() string
}

// Sync makes the registration match enabled. Enabling an entry that already
// exists rewrites it so a moved executable is picked up.
func Sync(manager Manager, enabled bool, execPath string, args []string) (changed bool, err error) {
	if manager == nil {
		return false, ErrUnsupported
	}
	current, err := manager.IsEnabled()
	if err != nil {
		return false, fmt.Errorf("check autostart: %w", err)
	}
	if enabled {
		if strings.TrimSpace(execPath) == "" {
			return false, fmt.Errorf("autostart executable path is empty")
		}
		if err := manager.Enable(execPath, args); err != nil {
			return false, fmt.Errorf("enable autostart: %w", err)
		}
		return !current, nil
	}
	if !current {
		return false, nil
	}
	if err := manager.Disable(); err != nil {
		return false, fmt.Errorf("disable autostart: %w", err)
	}
	return true, nil
}

// New returns the Manager for env's platform.
func New(env dirs.Env) (Manager, error) {
	goos := env.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}
	switch goos {
	case "linux", "freebsd", "openbsd", "netbsd":
		dir, err := env.AutostartDir()
		if err != nil {
			return nil, err
		}
		return &DesktopEntry{Dir: dir}, nil
	case "darwin":
		dir, err := env.AutostartDir()
		if err != nil {
			return nil, err
		}
		return &LaunchAgent{Dir: dir}, nil
	case "windows":
		return newRunKey()
	}
	return nil, ErrUnsupported
}
