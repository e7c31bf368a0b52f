package modules

import "strings"

const (
	ModuleAFK      = "aw-watcher-afk"
	ModuleWindow   = "aw-watcher-window"
	ModuleAwatcher = "aw-awatcher"
)

// IsWayland reports whether the session runs under Wayland.
func IsWayland(getenv func(string) string) bool {
	if getenv == nil {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(getenv("XDG_SESSION_TYPE")), "wayland")
}

// EssentialModules lists the watchers a usable install needs.
func EssentialModules(wayland bool) []string {
	if wayland {
		return []string{ModuleAwatcher}
	}
	return []string{ModuleAFK, ModuleWindow}
}

func HasEssentialModules(names []string, wayland bool) bool {
	have := make(map[string]bool, len(names))
	for _, name := range names {
		have[name] = true
	}
	for _, required := range EssentialModules(wayland) {
		if !have[required] {
			return false
		}
	}
	return true
}
