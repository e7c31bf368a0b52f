package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestLoadWritesDefaultOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aw-tauri", "config.toml")
	defaults := Default("/home/user/aw-modules")

	result, err := Load(path, defaults)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !result.FirstRun {
		t.Fatalf("expected first run")
	}
	if diff := cmp.Diff(defaults, result.Config); diff != "" {
		t.Fatalf("unexpected config (-want +got):\n%s", diff)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected config file written: %v", err)
	}

	again, err := Load(path, defaults)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.FirstRun {
		t.Fatalf("expected second load not to be a first run")
	}
	if diff := cmp.Diff(defaults, again.Config); diff != "" {
		t.Fatalf("round trip changed config (-want +got):\n%s", diff)
	}
}

func TestLoadKeepsDefaultsForMissingKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	payload := `
[defaults]
port = 5600
restart_delay = "250ms"
surprise = true

[[autostart_modules]]
name = "aw-watcher-input"
args = "--poll 5"
`
	if err := os.WriteFile(path, []byte(payload), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	result, err := Load(path, Default("/tmp/mods"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cfg := result.Config
	if cfg.Defaults.Port != 5600 {
		t.Fatalf("expected port 5600, got %d", cfg.Defaults.Port)
	}
	if cfg.Defaults.ControlPort != DefaultControlPort {
		t.Fatalf("expected default control port, got %d", cfg.Defaults.ControlPort)
	}
	if cfg.Defaults.RestartDelay.Duration != 250*time.Millisecond {
		t.Fatalf("expected 250ms restart delay, got %s", cfg.Defaults.RestartDelay)
	}
	if diff := cmp.Diff([]string{"aw-watcher-input"}, cfg.ModuleNames()); diff != "" {
		t.Fatalf("unexpected modules (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"defaults.surprise"}, result.UnknownKeys); diff != "" {
		t.Fatalf("unexpected unknown keys (-want +got):\n%s", diff)
	}
}

func TestLoadWithoutModulesSectionUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[defaults]\nautostart = false\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	result, err := Load(path, Default(""))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if result.Config.Defaults.Autostart {
		t.Fatalf("expected autostart disabled")
	}
	if diff := cmp.Diff(DefaultAutostartModules, result.Config.ModuleNames()); diff != "" {
		t.Fatalf("unexpected modules (-want +got):\n%s", diff)
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[defaults\nport = "), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path, Default("")); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default("")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}

	cfg.Defaults.Port = 0
	cfg.Defaults.ControlPort = 70000
	cfg.AutostartModules = append(cfg.AutostartModules,
		ModuleConfig{Name: "aw-watcher-afk"},
		ModuleConfig{Name: "../evil"},
		ModuleConfig{Name: "aw-x", Args: `"open`},
	)
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation errors")
	}
	for _, fragment := range []string{"defaults.port", "defaults.control_port", "duplicate module", "path separators", "unterminated quote"} {
		if !strings.Contains(err.Error(), fragment) {
			t.Fatalf("expected %q in %v", fragment, err)
		}
	}
}

func TestSplitArgs(t *testing.T) {
	cases := []struct {
		raw  string
		want []string
	}{
		{raw: "", want: nil},
		{raw: "  --poll 5 ", want: []string{"--poll", "5"}},
		{raw: `--name "my host" --flag='a b'`, want: []string{"--name", "my host", "--flag=a b"}},
		{raw: `a\ b c`, want: []string{"a b", "c"}},
		{raw: `""`, want: []string{""}},
	}
	for _, tc := range cases {
		got, err := SplitArgs(tc.raw)
		if err != nil {
			t.Fatalf("split %q: %v", tc.raw, err)
		}
		if diff := cmp.Diff(tc.want, got); diff != "" {
			t.Fatalf("split %q (-want +got):\n%s", tc.raw, diff)
		}
	}
	if _, err := SplitArgs(`"unterminated`); !errors.Is(err, ErrUnterminatedQuote) {
		t.Fatalf("expected unterminated quote error, got %v", err)
	}
}

func TestResolveLayersFlagsOverEnv(t *testing.T) {
	env := map[string]string{
		"AW_DESK_PORT":         "5601",
		"AW_DESK_CONTROL_PORT": "5602",
		"AW_DEBUG":             "1",
	}
	opts, err := Resolve(Flags{
		Port: 5700,
		Set:  map[string]bool{"port": true},
	}, func(key string) string { return env[key] })
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if opts.Port != 5700 || opts.Sources["port"] != SourceFlag {
		t.Fatalf("expected flag port, got %d from %s", opts.Port, opts.Sources["port"])
	}
	if opts.ControlPort != 5602 || opts.Sources["control-port"] != SourceEnv {
		t.Fatalf("expected env control port, got %d from %s", opts.ControlPort, opts.Sources["control-port"])
	}
	if !opts.Verbose || opts.Sources["verbose"] != SourceEnv {
		t.Fatalf("expected verbose from env")
	}

	cfg := opts.Apply(Default(""))
	if cfg.Defaults.Port != 5700 || cfg.Defaults.ControlPort != 5602 {
		t.Fatalf("expected overrides applied, got %+v", cfg.Defaults)
	}
}

func TestResolveRejectsInvalidInput(t *testing.T) {
	if _, err := Resolve(Flags{Port: -1, Set: map[string]bool{"port": true}}, func(string) string { return "" }); err == nil {
		t.Fatalf("expected invalid port error")
	}
	if _, err := Resolve(Flags{WebUIDir: filepath.Join(t.TempDir(), "missing"), Set: map[string]bool{"webui-dir": true}}, func(string) string { return "" }); err == nil {
		t.Fatalf("expected missing webui dir error")
	}
	if _, err := Resolve(Flags{Verbose: true, Quiet: true}, func(string) string { return "" }); err == nil {
		t.Fatalf("expected verbose/quiet conflict")
	}
}
