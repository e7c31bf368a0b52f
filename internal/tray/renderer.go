package tray

import (
	"context"
	"strings"
	"sync"

	"awdesk/internal/logging"
	"awdesk/internal/modules"
)

// Renderer displays a menu.
type Renderer interface {
	SetMenu(Menu)
}

// Runner is implemented by renderers that own an event loop which must run on
// the main goroutine.
type Runner interface {
	Run(ctx context.Context) error
}

// LogRenderer is the headless renderer: it logs every menu it receives.
type LogRenderer struct {
	Logger *logging.Logger
}

func (r *LogRenderer) SetMenu(menu Menu) {
	if r == nil || r.Logger == nil {
		return
	}
	var running, stopped []string
	for _, item := range menu.Items {
		if item.ID != IDModules {
			continue
		}
		for _, child := range item.Children {
			if child.Checked {
				running = append(running, child.ID)
			} else {
				stopped = append(stopped, child.ID)
			}
		}
	}
	r.Logger.Debug("menu updated", map[string]string{
		"running": strings.Join(running, ","),
		"stopped": strings.Join(stopped, ","),
	})
}

// Source is the manager surface the bridge needs.
type Source interface {
	Snapshot() []modules.Status
	Subscribe() (<-chan modules.ModuleEvent, func())
}

// Bridge keeps a renderer in sync with module state.
type Bridge struct {
	source   Source
	renderer Renderer

	mu      sync.RWMutex
	current Menu
}

func NewBridge(source Source, renderer Renderer) *Bridge {
	return &Bridge{source: source, renderer: renderer}
}

// Current returns the last rendered menu.
func (b *Bridge) Current() Menu {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.current
}

// Refresh rebuilds the menu from a fresh snapshot and renders it.
func (b *Bridge) Refresh() Menu {
	menu := BuildMenu(b.source.Snapshot())
	b.mu.Lock()
	b.current = menu
	b.mu.Unlock()
	if b.renderer != nil {
		b.renderer.SetMenu(menu)
	}
	return menu
}

// Serve renders once and then again after every module event until ctx is
// done or the event stream closes.
func (b *Bridge) Serve(ctx context.Context) error {
	events, cancel := b.source.Subscribe()
	defer cancel()
	b.Refresh()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-events:
			if !ok {
				return nil
			}
			b.Refresh()
		}
	}
}

func (b *Bridge) String() string {
	return "tray-bridge"
}
