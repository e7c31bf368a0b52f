package autostart

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DesktopEntry is an XDG autostart .desktop file.
type DesktopEntry struct {
	Dir string
}

func (d *DesktopEntry) Name() string {
	return "xdg-autostart"
}

func (d *DesktopEntry) Path() string {
	return filepath.Join(d.Dir, EntryName+".desktop")
}

func (d *DesktopEntry) IsEnabled() (bool, error) {
	data, err := os.ReadFile(d.Path())
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	// Desktop environments honour Hidden=true as a disabled entry.
	for _, line := range strings.Split(string(data), "\n") {
		if strings.EqualFold(strings.TrimSpace(line), "Hidden=true") {
			return false, nil
		}
	}
	return true, nil
}

func (d *DesktopEntry) Enable(execPath string, args []string) error {
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", d.Dir, err)
	}
	return writeAtomic(d.Path(), []byte(desktopFile(execPath, args)), 0o644)
}

func (d *DesktopEntry) Disable() error {
	if err := os.Remove(d.Path()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func desktopFile(execPath string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, desktopQuote(execPath))
	for _, arg := range args {
		parts = append(parts, desktopQuote(arg))
	}
	var b strings.Builder
	b.WriteString("[Desktop Entry]\n")
	b.WriteString("Type=Application\n")
	b.WriteString("Name=ActivityWatch\n")
	b.WriteString("Comment=Automatically tracks how you spend time on your devices\n")
	b.WriteString("Exec=" + strings.Join(parts, " ") + "\n")
	b.WriteString("Terminal=false\n")
	b.WriteString("X-GNOME-Autostart-enabled=true\n")
	return b.String()
}

// desktopQuote double-quotes an Exec argument that contains characters
// freedesktop launchers treat as reserved.
func desktopQuote(arg string) string {
	if arg != "" && !strings.ContainsAny(arg, " \t\"'\\`$<>|&;*?#()") {
		return arg
	}
	replacer := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "`", "\\`", `$`, `\$`)
	return `"` + replacer.Replace(arg) + `"`
}

func writeAtomic(path string, data []byte, mode os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
