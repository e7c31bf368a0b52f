// Package modules discovers watcher executables and runs them as supervised
// child processes.
package modules

import (
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
)

// ExcludedNames are aw-prefixed executables that are not watchers.
var ExcludedNames = []string{"awk", "aw-tauri", "aw-client", "aw-cli", "awdesk"}

type ScanOptions struct {
	// GOOS selects the executable rules; empty means runtime.GOOS.
	GOOS    string
	Exclude []string
}

func (o ScanOptions) goos() string {
	if o.GOOS == "" {
		return runtime.GOOS
	}
	return o.GOOS
}

func (o ScanOptions) excluded(name string) bool {
	for _, candidate := range ExcludedNames {
		if name == candidate {
			return true
		}
	}
	for _, candidate := range o.Exclude {
		if name == candidate {
			return true
		}
	}
	return false
}

// Scan returns the sorted, de-duplicated watcher names found in dirs.
func Scan(dirs []string, opts ScanOptions) []string {
	found := discover(dirs, opts)
	names := make([]string, 0, len(found))
	for name := range found {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// discover maps each watcher name to the path in the first directory that
// provides it. Unreadable directories are skipped.
func discover(dirs []string, opts ScanOptions) map[string]string {
	found := make(map[string]string)
	windows := opts.goos() == "windows"
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			name, ok := watcherName(dir, entry, windows)
			if !ok || opts.excluded(name) {
				continue
			}
			if _, exists := found[name]; !exists {
				found[name] = filepath.Join(dir, entry.Name())
			}
		}
	}
	return found
}

func watcherName(dir string, entry os.DirEntry, windows bool) (string, bool) {
	fileName := entry.Name()
	if windows {
		if !entry.Type().IsRegular() || !strings.EqualFold(filepath.Ext(fileName), ".exe") {
			return "", false
		}
		stem := fileName[:len(fileName)-len(".exe")]
		// Same name rule as unix; PATH on windows holds every system tool.
		if !strings.HasPrefix(stem, "aw") || strings.Contains(stem, ".") {
			return "", false
		}
		return stem, true
	}

	if !strings.HasPrefix(fileName, "aw") || strings.Contains(fileName, ".") {
		return "", false
	}
	if !entry.Type().IsRegular() && entry.Type()&os.ModeSymlink == 0 {
		return "", false
	}
	info, err := os.Stat(filepath.Join(dir, fileName))
	if err != nil || info.IsDir() || info.Mode().Perm()&0o111 == 0 {
		return "", false
	}
	return fileName, true
}

// SearchDirs builds the discovery order: PATH entries, then the configured
// discovery path, then the platform directories. Duplicates are dropped.
func SearchDirs(pathEnv, discoveryPath string, extra []string) []string {
	seen := make(map[string]bool)
	var dirs []string
	add := func(dir string) {
		dir = strings.TrimSpace(dir)
		if dir == "" {
			return
		}
		dir = filepath.Clean(dir)
		if seen[dir] {
			return
		}
		seen[dir] = true
		dirs = append(dirs, dir)
	}
	for _, dir := range filepath.SplitList(pathEnv) {
		add(dir)
	}
	add(discoveryPath)
	for _, dir := range extra {
		add(dir)
	}
	return dirs
}
