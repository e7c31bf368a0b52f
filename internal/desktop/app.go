// Package desktop is the application shell: it opens the dashboard, reveals
// folders and coordinates shutdown of modules and the control server.
package desktop

import (
	"context"
	"errors"
	"net/http"
	"os"
	"sync"
	"time"

	"awdesk/internal/logging"
)

const shutdownTimeout = 5 * time.Second

// ModuleStopper terminates every running module.
type ModuleStopper interface {
	StopAll(ctx context.Context) error
}

type Options struct {
	DashboardURL string
	WebUIDir     string
	ConfigDir    string
	LogDir       string
	Modules      ModuleStopper
	Server       *http.Server
	Logger       *logging.Logger
	Opener       func(target string) error
	// Cancel stops the application's root context when Quit is called.
	Cancel context.CancelFunc
}

type App struct {
	dashboardURL string
	webUIDir     string
	configDir    string
	logDir       string
	modules      ModuleStopper
	server       *http.Server
	opener       func(string) error
	cancel       context.CancelFunc
	shutdown     chan struct{}
	shutdownOnce sync.Once
	quitOnce     sync.Once
	logger       *logging.Logger
}

func NewApp(options Options) *App {
	logger := options.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	opener := options.Opener
	if opener == nil {
		opener = Open
	}
	return &App{
		dashboardURL: options.DashboardURL,
		webUIDir:     options.WebUIDir,
		configDir:    options.ConfigDir,
		logDir:       options.LogDir,
		modules:      options.Modules,
		server:       options.Server,
		opener:       opener,
		cancel:       options.Cancel,
		shutdown:     make(chan struct{}),
		logger:       logger,
	}
}

func (a *App) Startup(firstRun bool) {
	if firstRun {
		a.logger.Info("awdesk is running in the background", map[string]string{
			"dashboard": a.dashboardURL,
		})
	}
}

func (a *App) DashboardURL() string {
	return a.dashboardURL
}

// ShowDashboard opens the dashboard in the user's browser.
func (a *App) ShowDashboard() error {
	if a == nil {
		return errors.New("app is nil")
	}
	fields := map[string]string{"url": a.dashboardURL}
	if a.webUIDir != "" {
		fields["webui_dir"] = a.webUIDir
	}
	a.logger.Info("opening dashboard", fields)
	if err := a.opener(a.dashboardURL); err != nil {
		a.logger.Warn("open dashboard failed", map[string]string{
			logging.FieldError: err.Error(),
		})
		return err
	}
	return nil
}

func (a *App) RevealConfigDir() error {
	return a.RevealDir(a.configDir)
}

func (a *App) RevealLogDir() error {
	return a.RevealDir(a.logDir)
}

// RevealDir opens dir in the platform file manager, creating it first.
func (a *App) RevealDir(dir string) error {
	if dir == "" {
		return errors.New("directory is not configured")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := a.opener(dir); err != nil {
		a.logger.Warn("reveal directory failed", map[string]string{
			logging.FieldPath:  dir,
			logging.FieldError: err.Error(),
		})
		return err
	}
	return nil
}

// Quit asks the application to stop. Shutdown does the actual teardown.
func (a *App) Quit() {
	if a == nil {
		return
	}
	a.quitOnce.Do(func() {
		a.logger.Info("quit requested", nil)
		if a.cancel != nil {
			a.cancel()
		}
	})
}

// Shutdown stops every module, then the control server, and closes the
// channel returned by ShutdownDone. It is safe to call more than once.
func (a *App) Shutdown(ctx context.Context) {
	if a == nil {
		return
	}
	a.shutdownOnce.Do(func() {
		if ctx == nil {
			ctx = context.Background()
		}
		if a.modules != nil {
			stopContext, cancel := context.WithTimeout(ctx, shutdownTimeout)
			if err := a.modules.StopAll(stopContext); err != nil {
				a.logger.Warn("module shutdown failed", map[string]string{
					logging.FieldError: err.Error(),
				})
			}
			cancel()
		}
		if a.server != nil {
			shutdownContext, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			if err := a.server.Shutdown(shutdownContext); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Warn("control server shutdown failed", map[string]string{
					logging.FieldError: err.Error(),
				})
			}
			cancel()
		}
		close(a.shutdown)
	})
}

func (a *App) ShutdownDone() <-chan struct{} {
	if a == nil {
		return nil
	}
	return a.shutdown
}
