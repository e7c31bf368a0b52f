package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"awdesk/internal/api"
	"awdesk/internal/app"
	"awdesk/internal/autostart"
	"awdesk/internal/config"
	"awdesk/internal/desktop"
	"awdesk/internal/instance"
	"awdesk/internal/logging"
	"awdesk/internal/metrics"
	"awdesk/internal/modules"
	"awdesk/internal/supervisor"
	"awdesk/internal/tray"
	"awdesk/internal/version"
	"awdesk/internal/watcher"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

const (
	trayTitle             = "ActivityWatch"
	watcherDebounce       = 200 * time.Millisecond
	shutdownTimeout       = 10 * time.Second
	readHeaderTimeout     = 5 * time.Second
	controlShutdownWindow = 5 * time.Second
)

func (c *cli) runCommand(cmd *cobra.Command) error {
	options, err := c.resolveOptions(cmd)
	if err != nil {
		return err
	}
	return c.run(cmd.Context(), options)
}

func logLevel(options config.Options) logging.Level {
	switch {
	case options.Verbose:
		return logging.LevelDebug
	case options.Quiet:
		return logging.LevelWarning
	default:
		return logging.LevelInfo
	}
}

func (c *cli) openLogger(options config.Options) (*logging.Logger, io.Closer, error) {
	logPath, err := c.env.LogPath()
	if err != nil {
		return nil, nil, err
	}
	return logging.OpenFile(logging.FileOptions{
		Path:    logPath,
		Level:   logLevel(options),
		Console: c.stdout,
	})
}

// run starts the application and blocks until it is asked to quit.
func (c *cli) run(parent context.Context, options config.Options) error {
	if parent == nil {
		parent = context.Background()
	}
	logger, logCloser, err := c.openLogger(options)
	if err != nil {
		return err
	}
	defer logCloser.Close()
	logConfigSources(logger, options)

	registry := metrics.NewRegistry()
	built, err := app.Build(app.BuildOptions{
		Env:     c.env,
		Options: options,
		Logger:  logger,
		Metrics: registry,
		PathEnv: c.getenv("PATH"),
	})
	if err != nil {
		logger.Error("startup failed", map[string]string{logging.FieldError: err.Error()})
		return err
	}
	cfg := built.Config
	manager := built.Manager

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	autostartList := app.AutostartModules(cfg)
	if options.NoModules {
		autostartList = nil
	}
	adopted, err := manager.AdoptRunning(ctx, moduleNames(autostartList), nil)
	if err != nil {
		logger.Warn("process scan failed", map[string]string{logging.FieldError: err.Error()})
	}
	serverModule := strings.TrimSpace(cfg.Defaults.ServerModule)
	if options.NoModules || contains(adopted, serverModule) {
		serverModule = ""
	}
	if err := desktop.CheckServerPort(cfg.Defaults.Port, serverModule); err != nil {
		logger.Error("tracking server port unavailable", map[string]string{logging.FieldError: err.Error()})
		return err
	}

	configDir, err := c.env.ConfigDir()
	if err != nil {
		return err
	}
	logDir, err := c.env.LogDir()
	if err != nil {
		return err
	}

	lockPath, err := c.env.LockPath()
	if err != nil {
		return err
	}
	listener, err := instance.Acquire(ctx, instance.GuardOptions{
		ControlPort: cfg.Defaults.ControlPort,
		LockPath:    lockPath,
		HTTPClient:  c.httpClient,
	})
	if err != nil {
		if errors.Is(err, instance.ErrAnotherInstance) {
			logger.Info("another instance is running", map[string]string{
				"control_port": strconv.Itoa(cfg.Defaults.ControlPort),
			})
		}
		return err
	}

	fsWatcher, err := watcher.NewWithOptions(watcher.Options{Logger: logger, Debounce: watcherDebounce})
	if err != nil {
		_ = listener.Close()
		return fmt.Errorf("start file watcher: %w", err)
	}
	defer fsWatcher.Close()

	server := &http.Server{ReadHeaderTimeout: readHeaderTimeout}
	shell := desktop.NewApp(desktop.Options{
		DashboardURL: cfg.Defaults.DashboardURL(),
		WebUIDir:     options.WebUIDir,
		ConfigDir:    configDir,
		LogDir:       logDir,
		Modules:      manager,
		Server:       server,
		Logger:       logger,
		Cancel:       cancel,
	})
	dispatcher := &tray.Dispatcher{Actions: shell, Modules: manager, Logger: logger}

	var renderer tray.Renderer = &tray.LogRenderer{Logger: logger}
	if !options.Headless {
		renderer = tray.NewPlatformRenderer(logger, trayTitle, tray.Icon, dispatcher.Handle)
	}
	bridge := tray.NewBridge(manager, renderer)

	handler := &api.RestHandler{
		Modules: manager,
		Refresh: func() []string {
			names := built.Registry.Refresh()
			manager.NotifyDiscovered(names)
			return names
		},
		Menu:    bridge,
		Click:   dispatcher.Handle,
		Logger:  logger,
		Metrics: registry.Handler(),
		Info: api.Info{
			Version:      version.Version,
			InstanceID:   uuid.NewString(),
			Port:         cfg.Defaults.Port,
			ControlPort:  cfg.Defaults.ControlPort,
			DashboardURL: cfg.Defaults.DashboardURL(),
			FirstRun:     built.FirstRun,
			StartedAt:    time.Now(),
		},
	}
	server.Handler = api.NewRouter(handler, logger)

	tree := supervisor.NewTree(logger.Slog(), supervisor.TreeConfig{ShutdownTimeout: shutdownTimeout})
	tree.AddCore(manager)
	tree.AddCore(&modules.DiscoveryWatcher{
		Registry: built.Registry,
		Watcher:  fsWatcher,
		Logger:   logger,
		OnChange: manager.NotifyDiscovered,
	})
	tree.AddCore(&instance.LockListener{
		Path:    lockPath,
		Watcher: fsWatcher,
		Logger:  logger,
		OnSignal: func() {
			_ = shell.ShowDashboard()
		},
	})
	tree.AddSurface(bridge)
	tree.AddSurface(&supervisor.HTTPService{
		Name:            "control-api",
		Server:          server,
		Listener:        listener,
		ShutdownTimeout: controlShutdownWindow,
	})
	tree.AddSurface(&supervisor.Func{
		Name: "autostart-modules",
		Once: true,
		Run: func(ctx context.Context) error {
			if err := manager.StartAutostart(ctx, autostartList); err != nil && ctx.Err() == nil {
				logger.Warn("some modules failed to start", map[string]string{logging.FieldError: err.Error()})
			}
			return nil
		},
	})
	tree.AddSurface(&supervisor.Func{
		Name: "login-item",
		Once: true,
		Run: func(context.Context) error {
			c.syncLoginItem(logger, cfg.Defaults.Autostart)
			return nil
		},
	})

	if missing := built.MissingEssentials(); len(missing) > 0 {
		logger.Warn("essential modules missing; run `awdesk modules download`", map[string]string{
			"modules": strings.Join(missing, ","),
		})
	}

	signals := make(chan os.Signal, 2)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)
	stopSignals := watchShutdownSignals(logger, cancel, signals)
	defer stopSignals()

	treeDone := tree.ServeBackground(ctx)
	logger.Info("awdesk started", map[string]string{
		"version":      version.Version,
		"control_port": strconv.Itoa(cfg.Defaults.ControlPort),
		"config":       built.ConfigPath,
	})
	shell.Startup(built.FirstRun)
	if !startMinimized(cfg, built.FirstRun) {
		_ = shell.ShowDashboard()
	}

	if runner, ok := renderer.(tray.Runner); ok {
		if err := runner.Run(ctx); err != nil {
			logger.Warn("tray stopped", map[string]string{logging.FieldError: err.Error()})
		}
		cancel()
	}
	<-ctx.Done()

	coordinator := newShutdownCoordinator(logger)
	coordinator.Add("modules", func(ctx context.Context) error {
		shell.Shutdown(ctx)
		return nil
	})
	coordinator.Add("supervisor", func(ctx context.Context) error {
		select {
		case <-treeDone:
			return nil
		case <-ctx.Done():
			return fmt.Errorf("supervisor did not stop: %w", ctx.Err())
		}
	})
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	err = coordinator.Run(shutdownCtx)
	logger.Info("awdesk stopped", nil)
	return err
}

// startMinimized reports whether the dashboard stays closed on launch.
func startMinimized(cfg config.UserConfig, firstRun bool) bool {
	return cfg.Defaults.Autostart && cfg.Defaults.AutostartMinimized && !firstRun
}

func (c *cli) syncLoginItem(logger *logging.Logger, enabled bool) {
	manager, err := autostart.New(c.env)
	if err != nil {
		logger.Debug("login item unavailable", map[string]string{logging.FieldError: err.Error()})
		return
	}
	execPath, err := os.Executable()
	if err != nil {
		logger.Warn("resolve executable failed", map[string]string{logging.FieldError: err.Error()})
		return
	}
	changed, err := autostart.Sync(manager, enabled, execPath, nil)
	if err != nil {
		logger.Warn("login item update failed", map[string]string{
			"backend":          manager.Name(),
			logging.FieldError: err.Error(),
		})
		return
	}
	if changed {
		logger.Info("login item updated", map[string]string{
			"backend": manager.Name(),
			"enabled": strconv.FormatBool(enabled),
		})
	}
}

func logConfigSources(logger *logging.Logger, options config.Options) {
	var explicit []string
	for key, source := range options.Sources {
		if source == config.SourceFlag || source == config.SourceEnv {
			explicit = append(explicit, key+"="+string(source))
		}
	}
	if len(explicit) == 0 {
		return
	}
	logger.Debug("starting with overrides", map[string]string{"sources": strings.Join(explicit, ",")})
}

func moduleNames(list []config.ModuleConfig) []string {
	names := make([]string, 0, len(list))
	for _, module := range list {
		names = append(names, module.Name)
	}
	return names
}

func contains(values []string, target string) bool {
	if target == "" {
		return false
	}
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}
