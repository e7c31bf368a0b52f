// Package tray turns module manager state into a menu model and routes menu
// clicks back to the application.
package tray

import (
	"awdesk/internal/modules"
)

const (
	IDOpen         = "open"
	IDModules      = "modules"
	IDConfigFolder = "config_folder"
	IDLogFolder    = "log_folder"
	IDQuit         = "quit"
)

type ItemKind string

const (
	KindAction    ItemKind = "action"
	KindCheck     ItemKind = "check"
	KindSubmenu   ItemKind = "submenu"
	KindSeparator ItemKind = "separator"
)

type Item struct {
	ID       string   `json:"id,omitempty"`
	Label    string   `json:"label,omitempty"`
	Kind     ItemKind `json:"kind"`
	Checked  bool     `json:"checked,omitempty"`
	Children []Item   `json:"children,omitempty"`
}

type Menu struct {
	Items []Item `json:"items"`
}

// BuildMenu renders a snapshot. Modules the manager has tracked become check
// items, checked while running; modules only seen on disk become plain items
// that start them when clicked.
func BuildMenu(snapshot []modules.Status) Menu {
	children := make([]Item, 0, len(snapshot))
	for _, status := range snapshot {
		if status.Managed {
			children = append(children, Item{
				ID:      status.Name,
				Label:   status.Name,
				Kind:    KindCheck,
				Checked: status.Running(),
			})
			continue
		}
		children = append(children, Item{
			ID:    status.Name,
			Label: status.Name,
			Kind:  KindAction,
		})
	}

	return Menu{Items: []Item{
		{ID: IDOpen, Label: "Open Dashboard", Kind: KindAction},
		{ID: IDModules, Label: "Modules", Kind: KindSubmenu, Children: children},
		{Kind: KindSeparator},
		{ID: IDConfigFolder, Label: "Open config folder", Kind: KindAction},
		{ID: IDLogFolder, Label: "Open log folder", Kind: KindAction},
		{Kind: KindSeparator},
		{ID: IDQuit, Label: "Quit ActivityWatch", Kind: KindAction},
	}}
}

// Find returns the item with id, searching submenus.
func (m Menu) Find(id string) (Item, bool) {
	return findItem(m.Items, id)
}

func findItem(items []Item, id string) (Item, bool) {
	for _, item := range items {
		if item.ID == id && item.Kind != KindSubmenu {
			return item, true
		}
		if found, ok := findItem(item.Children, id); ok {
			return found, true
		}
	}
	return Item{}, false
}
