// Package app assembles the module manager and its configuration from the
// process options and the user's config file.
package app

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"awdesk/internal/config"
	"awdesk/internal/dirs"
	"awdesk/internal/logging"
	"awdesk/internal/metrics"
	"awdesk/internal/modules"
)

type BuildOptions struct {
	Env     dirs.Env
	Options config.Options
	Logger  *logging.Logger
	Metrics *metrics.Registry
	// PathEnv is the PATH value searched first for watchers.
	PathEnv  string
	LookPath func(string) (string, error)
}

type BuildResult struct {
	Config      config.UserConfig
	ConfigPath  string
	FirstRun    bool
	UnknownKeys []string
	Wayland     bool
	Discovered  []string
	Registry    *modules.Registry
	Manager     *modules.Manager
}

type BuildError struct {
	Stage string
	Err   error
}

func (e BuildError) Error() string {
	if e.Err == nil {
		return e.Stage
	}
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e BuildError) Unwrap() error {
	return e.Err
}

const (
	StageLoadConfig = "load_config"
	StageDiscover   = "discover_modules"
	StageManager    = "module_manager"
)

// LoadConfig resolves the config path and loads it, applying port overrides
// from options and validating the result.
func LoadConfig(env dirs.Env, options config.Options) (config.LoadResult, string, error) {
	path := strings.TrimSpace(options.ConfigPath)
	if path == "" {
		resolved, err := env.ConfigPath()
		if err != nil {
			return config.LoadResult{}, "", err
		}
		path = resolved
	}
	loaded, err := config.Load(path, config.Default(env.DefaultDiscoveryPath()))
	if err != nil {
		return config.LoadResult{}, path, err
	}
	loaded.Config = options.Apply(loaded.Config)
	if err := loaded.Config.Validate(); err != nil {
		return config.LoadResult{}, path, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return loaded, path, nil
}

// NewRegistry builds the watcher registry for cfg: PATH first, then the
// configured discovery path, then the platform directories.
func NewRegistry(env dirs.Env, cfg config.UserConfig, pathEnv string) *modules.Registry {
	searchDirs := modules.SearchDirs(pathEnv, cfg.Defaults.DiscoveryPath, env.DiscoveryPaths())
	return modules.NewRegistry(searchDirs, modules.ScanOptions{GOOS: env.GOOS})
}

func Build(options BuildOptions) (*BuildResult, error) {
	logger := options.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	loaded, configPath, err := LoadConfig(options.Env, options.Options)
	if err != nil {
		return nil, BuildError{Stage: StageLoadConfig, Err: err}
	}
	cfg := loaded.Config
	if len(loaded.UnknownKeys) > 0 {
		logger.Warn("unknown config keys ignored", map[string]string{
			logging.FieldPath: configPath,
			"keys":            strings.Join(loaded.UnknownKeys, ","),
		})
	}

	pathEnv := options.PathEnv
	if pathEnv == "" {
		pathEnv = os.Getenv("PATH")
	}
	registry := NewRegistry(options.Env, cfg, pathEnv)
	if len(registry.Dirs()) == 0 {
		return nil, BuildError{Stage: StageDiscover, Err: errors.New("no discovery directories")}
	}
	discovered := registry.Refresh()
	options.Metrics.SetModulesDiscovered(len(discovered))
	logger.Info("modules discovered", map[string]string{
		"count":   strconv.Itoa(len(discovered)),
		"modules": strings.Join(discovered, ","),
	})

	configured := AutostartModules(cfg)
	managed := configured
	if options.Options.NoModules {
		managed = nil
	}
	launchable := make([]string, 0, len(configured))
	for _, module := range configured {
		launchable = append(launchable, module.Name)
	}
	manager, err := modules.NewManager(modules.ManagerOptions{
		Registry:     registry,
		Port:         cfg.Defaults.Port,
		Modules:      managed,
		Launchable:   launchable,
		RestartDelay: cfg.Defaults.RestartDelay.Duration,
		MaxCrashes:   cfg.Defaults.MaxCrashes,
		Logger:       logger,
		Metrics:      options.Metrics,
		LookPath:     options.LookPath,
	})
	if err != nil {
		return nil, BuildError{Stage: StageManager, Err: err}
	}

	return &BuildResult{
		Config:      cfg,
		ConfigPath:  configPath,
		FirstRun:    loaded.FirstRun,
		UnknownKeys: loaded.UnknownKeys,
		Wayland:     modules.IsWayland(options.Env.Getenv),
		Discovered:  discovered,
		Registry:    registry,
		Manager:     manager,
	}, nil
}

// AutostartModules is the launch order: the server module first, when one is
// configured and not already listed, then the configured watchers.
func AutostartModules(cfg config.UserConfig) []config.ModuleConfig {
	server := strings.TrimSpace(cfg.Defaults.ServerModule)
	out := make([]config.ModuleConfig, 0, len(cfg.AutostartModules)+1)
	if server != "" {
		if _, listed := cfg.Module(server); !listed {
			out = append(out, config.ModuleConfig{Name: server})
		}
	}
	return append(out, cfg.AutostartModules...)
}

// MissingEssentials lists the essential watchers not found by discovery.
func (r *BuildResult) MissingEssentials() []string {
	have := make(map[string]bool, len(r.Discovered))
	for _, name := range r.Discovered {
		have[name] = true
	}
	var missing []string
	for _, name := range modules.EssentialModules(r.Wayland) {
		if !have[name] {
			missing = append(missing, name)
		}
	}
	return missing
}
