// Package dirs resolves the per-platform config, data, log and runtime
// directories, and the extra directories scanned for watcher executables.
package dirs

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

const (
	vendorDir = "activitywatch"
	appDir    = "aw-tauri"

	ConfigFileName = "config.toml"
	LogFileName    = "aw-tauri.log"
	LockFileName   = "single_instance.lock"
)

// Env is the slice of the process environment the resolvers read.
type Env struct {
	GOOS   string
	Home   string
	Getenv func(string) string
	Mkdir  bool
}

// System returns the Env of the running process. Directories are created on demand.
func System() Env {
	home, _ := os.UserHomeDir()
	return Env{
		GOOS:   runtime.GOOS,
		Home:   home,
		Getenv: os.Getenv,
		Mkdir:  true,
	}
}

func (e Env) getenv(key string) string {
	if e.Getenv == nil {
		return ""
	}
	return strings.TrimSpace(e.Getenv(key))
}

func (e Env) goos() string {
	if e.GOOS == "" {
		return runtime.GOOS
	}
	return e.GOOS
}

func (e Env) ensure(dir string) (string, error) {
	if !e.Mkdir {
		return dir, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	return dir, nil
}

func (e Env) requireHome() (string, error) {
	if e.Home == "" {
		return "", fmt.Errorf("home directory unknown")
	}
	return e.Home, nil
}

// ConfigDir is where config.toml and the single-instance lock live.
func (e Env) ConfigDir() (string, error) {
	home, err := e.requireHome()
	if err != nil {
		return "", err
	}
	var base string
	switch e.goos() {
	case "linux":
		base = e.getenv("XDG_CONFIG_HOME")
		if base == "" {
			base = filepath.Join(home, ".config")
		}
	case "darwin":
		base = filepath.Join(home, "Library", "Application Support")
	case "windows":
		base = e.getenv("APPDATA")
		if base == "" {
			base = filepath.Join(home, "AppData", "Roaming")
		}
	default:
		base = filepath.Join(home, ".config")
	}
	return e.ensure(filepath.Join(base, vendorDir, appDir))
}

// AutostartDir is where login items are registered: the XDG autostart
// directory on Linux and the user LaunchAgents directory on macOS. Windows
// uses the registry and has no directory.
func (e Env) AutostartDir() (string, error) {
	home, err := e.requireHome()
	if err != nil {
		return "", err
	}
	switch e.goos() {
	case "darwin":
		return filepath.Join(home, "Library", "LaunchAgents"), nil
	case "windows":
		return "", fmt.Errorf("autostart directory not used on windows")
	default:
		base := e.getenv("XDG_CONFIG_HOME")
		if base == "" {
			base = filepath.Join(home, ".config")
		}
		return filepath.Join(base, "autostart"), nil
	}
}

func (e Env) DataDir() (string, error) {
	home, err := e.requireHome()
	if err != nil {
		return "", err
	}
	var base string
	switch e.goos() {
	case "linux":
		base = e.dataHome(home)
	case "darwin":
		base = filepath.Join(home, "Library", "Application Support")
	case "windows":
		base = e.getenv("LOCALAPPDATA")
		if base == "" {
			base = filepath.Join(home, "AppData", "Local")
		}
	default:
		base = filepath.Join(home, ".local", "share")
	}
	return e.ensure(filepath.Join(base, vendorDir, appDir))
}

func (e Env) LogDir() (string, error) {
	home, err := e.requireHome()
	if err != nil {
		return "", err
	}
	var dir string
	switch e.goos() {
	case "linux":
		dir = filepath.Join(e.cacheHome(home), vendorDir, appDir, "log")
	case "darwin":
		dir = filepath.Join(home, "Library", "Logs", vendorDir, appDir)
	case "windows":
		base := e.getenv("LOCALAPPDATA")
		if base == "" {
			base = filepath.Join(home, "AppData", "Local")
		}
		dir = filepath.Join(base, vendorDir, "Logs", appDir)
	default:
		dir = filepath.Join(home, ".cache", vendorDir, appDir, "log")
	}
	return e.ensure(dir)
}

// RuntimeDir prefers XDG_RUNTIME_DIR on Linux and falls back to the cache dir.
func (e Env) RuntimeDir() string {
	if e.goos() == "linux" {
		if runtimeDir := e.getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
			if dir, err := e.ensure(filepath.Join(runtimeDir, vendorDir, appDir)); err == nil {
				return dir
			}
		}
		base := os.TempDir()
		if e.Home != "" {
			base = e.cacheHome(e.Home)
		}
		dir := filepath.Join(base, appDir)
		_, _ = e.ensure(dir)
		return dir
	}
	dir, err := e.DataDir()
	if err != nil {
		return "."
	}
	return dir
}

func (e Env) ConfigPath() (string, error) {
	dir, err := e.ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ConfigFileName), nil
}

func (e Env) LogPath() (string, error) {
	dir, err := e.LogDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, LogFileName), nil
}

func (e Env) LockPath() (string, error) {
	dir, err := e.ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, LockFileName), nil
}

// DefaultDiscoveryPath is the directory downloaded watchers are unpacked into.
func (e Env) DefaultDiscoveryPath() string {
	switch e.goos() {
	case "windows":
		return filepath.Join("C:\\Users", e.getenv("USERNAME"), "aw-modules")
	case "darwin":
		return "/Applications/ActivityWatch.app/Contents/MacOS"
	default:
		if e.Home == "" {
			return ""
		}
		return filepath.Join(e.Home, "aw-modules")
	}
}

// DiscoveryPaths lists the well-known directories that may hold watchers,
// in priority order.
func (e Env) DiscoveryPaths() []string {
	paths := make([]string, 0, 4)
	switch e.goos() {
	case "linux":
		if e.Home == "" {
			return nil
		}
		paths = append(paths,
			filepath.Join(e.Home, "bin"),
			filepath.Join(e.Home, ".local", "bin"),
			filepath.Join(e.dataHome(e.Home), vendorDir, appDir, "modules"),
			filepath.Join(e.Home, "aw-modules"),
		)
	case "windows":
		if username := e.getenv("USERNAME"); username != "" {
			paths = append(paths,
				fmt.Sprintf("C:/Users/%s/aw-modules", username),
				fmt.Sprintf("C:/Users/%s/AppData/Local/Programs/ActivityWatch", username),
			)
		}
	case "darwin":
		if e.Home != "" {
			paths = append(paths, filepath.Join(e.Home, "aw-modules"))
		}
		paths = append(paths,
			"/Applications/ActivityWatch.app/Contents/MacOS",
			"/Applications/ActivityWatch.app/Contents/Resources",
		)
	}
	return paths
}

func (e Env) dataHome(home string) string {
	if dataHome := e.getenv("XDG_DATA_HOME"); dataHome != "" {
		return dataHome
	}
	return filepath.Join(home, ".local", "share")
}

func (e Env) cacheHome(home string) string {
	if cacheHome := e.getenv("XDG_CACHE_HOME"); cacheHome != "" {
		return cacheHome
	}
	return filepath.Join(home, ".cache")
}
