package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultPort        = 5699
	DefaultControlPort = 5698
	DefaultServer      = "aw-server-rust"
	DefaultReleasesURL = "https://gist.githubusercontent.com/0xbrayo/f7b25a2ff9ed24ce21fa8397837265b6/raw/aw-releases.csv"
	DefaultMaxCrashes  = 5
)

var DefaultRestartDelay = Duration{Duration: time.Second}

// DefaultAutostartModules are launched on a fresh install.
var DefaultAutostartModules = []string{"aw-watcher-afk", "aw-watcher-window", "aw-awatcher"}

// UserConfig mirrors config.toml.
type UserConfig struct {
	Defaults         Defaults       `toml:"defaults" json:"defaults" yaml:"defaults"`
	AutostartModules []ModuleConfig `toml:"autostart_modules" json:"autostart_modules" yaml:"autostart_modules"`
}

type Defaults struct {
	Autostart          bool     `toml:"autostart" json:"autostart" yaml:"autostart"`
	AutostartMinimized bool     `toml:"autostart_minimized" json:"autostart_minimized" yaml:"autostart_minimized"`
	Port               int      `toml:"port" json:"port" yaml:"port"`
	ControlPort        int      `toml:"control_port" json:"control_port" yaml:"control_port"`
	DiscoveryPath      string   `toml:"discovery_path" json:"discovery_path" yaml:"discovery_path"`
	ServerModule       string   `toml:"server_module" json:"server_module" yaml:"server_module"`
	ReleasesURL        string   `toml:"releases_url" json:"releases_url" yaml:"releases_url"`
	RestartDelay       Duration `toml:"restart_delay" json:"restart_delay" yaml:"restart_delay"`
	MaxCrashes         int      `toml:"max_crashes" json:"max_crashes" yaml:"max_crashes"`
}

// ModuleConfig is one [[autostart_modules]] entry. Args is split like a shell
// command line and appended after the derived arguments.
type ModuleConfig struct {
	Name string `toml:"name" json:"name" yaml:"name"`
	Args string `toml:"args" json:"args" yaml:"args"`
}

// Duration decodes TOML strings such as "1s" or "250ms".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the config written on first run. discoveryPath is the
// per-platform default from dirs.Env.DefaultDiscoveryPath.
func Default(discoveryPath string) UserConfig {
	modules := make([]ModuleConfig, 0, len(DefaultAutostartModules))
	for _, name := range DefaultAutostartModules {
		modules = append(modules, ModuleConfig{Name: name})
	}
	return UserConfig{
		Defaults: Defaults{
			Autostart:          true,
			AutostartMinimized: true,
			Port:               DefaultPort,
			ControlPort:        DefaultControlPort,
			DiscoveryPath:      discoveryPath,
			ServerModule:       DefaultServer,
			ReleasesURL:        DefaultReleasesURL,
			RestartDelay:       DefaultRestartDelay,
			MaxCrashes:         DefaultMaxCrashes,
		},
		AutostartModules: modules,
	}
}

// LoadResult carries the decoded config and what happened while loading it.
type LoadResult struct {
	Config      UserConfig
	FirstRun    bool
	UnknownKeys []string
}

// Load reads config.toml at path. When the file does not exist the default
// config is written there and FirstRun is set. Sections missing from an
// existing file keep their defaults.
func Load(path string, defaults UserConfig) (LoadResult, error) {
	if strings.TrimSpace(path) == "" {
		return LoadResult{}, errors.New("config path is required")
	}
	payload, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return LoadResult{}, fmt.Errorf("read config: %w", err)
		}
		if err := Save(path, defaults); err != nil {
			return LoadResult{}, err
		}
		return LoadResult{Config: defaults, FirstRun: true}, nil
	}

	cfg := defaults
	cfg.AutostartModules = nil
	meta, err := toml.Decode(string(payload), &cfg)
	if err != nil {
		return LoadResult{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if !meta.IsDefined("autostart_modules") {
		cfg.AutostartModules = append([]ModuleConfig(nil), defaults.AutostartModules...)
	}

	unknown := make([]string, 0)
	for _, key := range meta.Undecoded() {
		unknown = append(unknown, key.String())
	}
	sort.Strings(unknown)
	if len(unknown) == 0 {
		unknown = nil
	}
	return LoadResult{Config: cfg, UnknownKeys: unknown}, nil
}

// Save writes cfg as TOML, creating parent directories.
func Save(path string, cfg UserConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	var payload bytes.Buffer
	if err := Encode(&payload, cfg); err != nil {
		return err
	}
	if err := os.WriteFile(path, payload.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Encode renders cfg as TOML.
func Encode(buffer *bytes.Buffer, cfg UserConfig) error {
	if err := toml.NewEncoder(buffer).Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return nil
}

// ModuleNames lists the autostart module names in config order.
func (c UserConfig) ModuleNames() []string {
	names := make([]string, 0, len(c.AutostartModules))
	for _, module := range c.AutostartModules {
		names = append(names, module.Name)
	}
	return names
}

// Module returns the autostart entry for name.
func (c UserConfig) Module(name string) (ModuleConfig, bool) {
	for _, module := range c.AutostartModules {
		if module.Name == name {
			return module, true
		}
	}
	return ModuleConfig{}, false
}

// DashboardURL is the address the tracking server's web UI is served on.
func (d Defaults) DashboardURL() string {
	return fmt.Sprintf("http://localhost:%d/", d.Port)
}
