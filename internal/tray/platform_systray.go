//go:build systray

package tray

import (
	"context"
	"sync"

	"awdesk/internal/logging"

	"github.com/energye/systray"
)

// SystrayRenderer draws the menu with energye/systray. Run must be called on
// the main goroutine.
type SystrayRenderer struct {
	logger *logging.Logger
	title  string
	icon   []byte
	click  func(context.Context, string) error

	mu      sync.Mutex
	ready   bool
	pending *Menu
	ctx     context.Context
}

func NewPlatformRenderer(logger *logging.Logger, title string, icon []byte, click func(context.Context, string) error) Renderer {
	if logger == nil {
		logger = logging.Discard()
	}
	return &SystrayRenderer{logger: logger, title: title, icon: icon, click: click, ctx: context.Background()}
}

func (r *SystrayRenderer) Run(ctx context.Context) error {
	r.mu.Lock()
	r.ctx = ctx
	r.mu.Unlock()
	go func() {
		<-ctx.Done()
		systray.Quit()
	}()
	systray.Run(r.onReady, func() {})
	return nil
}

func (r *SystrayRenderer) onReady() {
	if len(r.icon) > 0 {
		systray.SetIcon(r.icon)
	}
	systray.SetTitle(r.title)
	systray.SetTooltip(r.title)
	systray.SetOnClick(func(menu systray.IMenu) {
		_ = menu.ShowMenu()
	})

	r.mu.Lock()
	r.ready = true
	pending := r.pending
	r.pending = nil
	r.mu.Unlock()
	if pending != nil {
		r.draw(*pending)
	}
}

func (r *SystrayRenderer) SetMenu(menu Menu) {
	r.mu.Lock()
	if !r.ready {
		r.pending = &menu
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()
	r.draw(menu)
}

// systrayNode is one native entry. Submenus nest a single level.
type systrayNode struct {
	id        string
	label     string
	separator bool
	submenu   bool
	checkable bool
	checked   bool
	children  []systrayNode
}

func systrayLayout(menu Menu) []systrayNode {
	nodes := make([]systrayNode, 0, len(menu.Items))
	for _, item := range menu.Items {
		switch item.Kind {
		case KindSeparator:
			nodes = append(nodes, systrayNode{separator: true})
		case KindSubmenu:
			parent := systrayNode{id: item.ID, label: item.Label, submenu: true}
			for _, child := range item.Children {
				if child.Kind == KindSeparator || child.Kind == KindSubmenu {
					continue
				}
				parent.children = append(parent.children, leafNode(child))
			}
			nodes = append(nodes, parent)
		default:
			nodes = append(nodes, leafNode(item))
		}
	}
	return nodes
}

func leafNode(item Item) systrayNode {
	return systrayNode{
		id:        item.ID,
		label:     item.Label,
		checkable: item.Kind == KindCheck,
		checked:   item.Checked,
	}
}

func (r *SystrayRenderer) draw(menu Menu) {
	systray.ResetMenu()
	for _, node := range systrayLayout(menu) {
		switch {
		case node.separator:
			systray.AddSeparator()
		case node.submenu:
			parent := systray.AddMenuItem(node.label, node.label)
			for _, child := range node.children {
				var entry *systray.MenuItem
				if child.checkable {
					entry = parent.AddSubMenuItemCheckbox(child.label, child.label, child.checked)
				} else {
					entry = parent.AddSubMenuItem(child.label, child.label)
				}
				entry.Click(r.onClick(child.id))
			}
		case node.checkable:
			systray.AddMenuItemCheckbox(node.label, node.label, node.checked).Click(r.onClick(node.id))
		default:
			systray.AddMenuItem(node.label, node.label).Click(r.onClick(node.id))
		}
	}
}

func (r *SystrayRenderer) onClick(id string) func() {
	return func() {
		r.mu.Lock()
		ctx := r.ctx
		r.mu.Unlock()
		if err := r.click(ctx, id); err != nil {
			r.logger.Warn("menu action failed", map[string]string{
				"id":               id,
				logging.FieldError: err.Error(),
			})
		}
	}
}
