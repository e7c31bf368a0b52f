package modules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func writeFile(t *testing.T, dir, name string, mode os.FileMode) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), mode); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	if err := os.Chmod(path, mode); err != nil {
		t.Fatalf("chmod %s: %v", name, err)
	}
	return path
}

func TestScanUnixRules(t *testing.T) {
	first := t.TempDir()
	second := t.TempDir()

	writeFile(t, first, "aw-watcher-afk", 0o755)
	writeFile(t, first, "aw-notes.sh", 0o755)
	writeFile(t, first, "awk", 0o755)
	writeFile(t, first, "aw-client", 0o755)
	writeFile(t, first, "aw-plain", 0o644)
	writeFile(t, first, "watcher", 0o755)
	if err := os.Mkdir(filepath.Join(first, "aw-dir"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	target := writeFile(t, second, "real-window", 0o755)
	if err := os.Symlink(target, filepath.Join(second, "aw-watcher-window")); err != nil {
		t.Fatalf("symlink: %v", err)
	}
	writeFile(t, second, "aw-watcher-afk", 0o755)

	dirs := []string{first, filepath.Join(first, "missing"), second}
	got := Scan(dirs, ScanOptions{GOOS: "linux"})
	want := []string{"aw-watcher-afk", "aw-watcher-window"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("scan mismatch (-want +got):\n%s", diff)
	}

	registry := NewRegistry(dirs, ScanOptions{GOOS: "linux"})
	path, ok := registry.Resolve("aw-watcher-afk")
	if !ok || path != filepath.Join(first, "aw-watcher-afk") {
		t.Fatalf("expected first directory to win, got %q", path)
	}
}

func TestScanWindowsRules(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "aw-watcher-afk.exe", 0o644)
	writeFile(t, dir, "aw-server.EXE", 0o644)
	writeFile(t, dir, "aw-tauri.exe", 0o644)
	writeFile(t, dir, "aw-notes.txt", 0o644)
	writeFile(t, dir, "aw-config.d.exe", 0o644)
	writeFile(t, dir, "other.exe", 0o644)
	writeFile(t, dir, "notepad.exe", 0o644)
	writeFile(t, dir, "python3.12.exe", 0o644)

	got := Scan([]string{dir}, ScanOptions{GOOS: "windows"})
	want := []string{"aw-server", "aw-watcher-afk"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("scan mismatch (-want +got):\n%s", diff)
	}
}

func TestScanCustomExclude(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "aw-watcher-afk", 0o755)
	writeFile(t, dir, "aw-server-rust", 0o755)

	got := Scan([]string{dir}, ScanOptions{GOOS: "linux", Exclude: []string{"aw-server-rust"}})
	if diff := cmp.Diff([]string{"aw-watcher-afk"}, got); diff != "" {
		t.Fatalf("scan mismatch (-want +got):\n%s", diff)
	}
}

func TestSearchDirsOrderAndDedup(t *testing.T) {
	pathEnv := "/usr/bin" + string(os.PathListSeparator) + "/opt/aw/" + string(os.PathListSeparator) + " "
	got := SearchDirs(pathEnv, "/home/user/aw-modules", []string{"/usr/bin", "/home/user/bin", ""})
	want := []string{"/usr/bin", "/opt/aw", "/home/user/aw-modules", "/home/user/bin"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("dirs mismatch (-want +got):\n%s", diff)
	}
}

func TestRegistryRefresh(t *testing.T) {
	dir := t.TempDir()
	registry := NewRegistry([]string{dir}, ScanOptions{GOOS: "linux"})
	if names := registry.Names(); len(names) != 0 {
		t.Fatalf("expected no modules, got %v", names)
	}

	writeFile(t, dir, "aw-watcher-input", 0o755)
	if registry.Has("aw-watcher-input") {
		t.Fatalf("registry should not see new files before refresh")
	}
	names := registry.Refresh()
	if diff := cmp.Diff([]string{"aw-watcher-input"}, names); diff != "" {
		t.Fatalf("refresh mismatch (-want +got):\n%s", diff)
	}
	if !registry.Has("aw-watcher-input") {
		t.Fatalf("expected module after refresh")
	}
}

func TestHasEssentialModules(t *testing.T) {
	cases := []struct {
		name    string
		modules []string
		wayland bool
		want    bool
	}{
		{name: "x11 complete", modules: []string{"aw-watcher-afk", "aw-watcher-window"}, want: true},
		{name: "x11 missing window", modules: []string{"aw-watcher-afk"}, want: false},
		{name: "wayland awatcher", modules: []string{"aw-awatcher"}, wayland: true, want: true},
		{name: "wayland without awatcher", modules: []string{"aw-watcher-afk", "aw-watcher-window"}, wayland: true, want: false},
		{name: "empty", want: false},
	}
	for _, tc := range cases {
		if got := HasEssentialModules(tc.modules, tc.wayland); got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestIsWayland(t *testing.T) {
	env := map[string]string{"XDG_SESSION_TYPE": "Wayland"}
	if !IsWayland(func(key string) string { return env[key] }) {
		t.Fatalf("expected wayland session")
	}
	env["XDG_SESSION_TYPE"] = "x11"
	if IsWayland(func(key string) string { return env[key] }) {
		t.Fatalf("expected x11 session")
	}
	if IsWayland(nil) {
		t.Fatalf("nil getenv should not report wayland")
	}
}
