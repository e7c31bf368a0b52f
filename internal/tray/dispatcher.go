package tray

import (
	"context"
	"errors"
	"fmt"

	"awdesk/internal/logging"
	"awdesk/internal/modules"
)

var ErrUnknownItem = errors.New("unknown menu item")

// Actions are the application-level effects a menu can trigger.
type Actions interface {
	ShowDashboard() error
	RevealConfigDir() error
	RevealLogDir() error
	Quit()
}

// Toggler flips a module between running and stopped.
type Toggler interface {
	Toggle(ctx context.Context, name string) (modules.Status, error)
}

type Dispatcher struct {
	Actions Actions
	Modules Toggler
	Logger  *logging.Logger
}

// Handle routes a click on id. Fixed ids map to application actions; anything
// else is a module name.
func (d *Dispatcher) Handle(ctx context.Context, id string) error {
	if d == nil || d.Actions == nil {
		return errors.New("dispatcher is not configured")
	}
	logger := d.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	logger.Debug("menu click", map[string]string{"id": id})

	switch id {
	case IDOpen:
		return d.Actions.ShowDashboard()
	case IDConfigFolder:
		return d.Actions.RevealConfigDir()
	case IDLogFolder:
		return d.Actions.RevealLogDir()
	case IDQuit:
		d.Actions.Quit()
		return nil
	case "", IDModules:
		return fmt.Errorf("%w: %q", ErrUnknownItem, id)
	}

	if d.Modules == nil {
		return fmt.Errorf("%w: %q", ErrUnknownItem, id)
	}
	status, err := d.Modules.Toggle(ctx, id)
	if err != nil {
		if errors.Is(err, modules.ErrUnknownModule) {
			return fmt.Errorf("%w: %q", ErrUnknownItem, id)
		}
		logger.Warn("module toggle failed", map[string]string{
			logging.FieldModule: id,
			logging.FieldError:  err.Error(),
		})
		return err
	}
	logger.Info("module toggled", map[string]string{
		logging.FieldModule: id,
		"state":             string(status.State),
	})
	return nil
}
