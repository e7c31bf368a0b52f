package process

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	gopsprocess "github.com/shirou/gopsutil/v4/process"
)

// Alive reports whether pid refers to a running, non-zombie process.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := gopsprocess.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	running, err := proc.IsRunning()
	if err != nil || !running {
		return false
	}
	statuses, err := proc.Status()
	if err == nil {
		for _, status := range statuses {
			if status == gopsprocess.Zombie {
				return false
			}
		}
	}
	return true
}

// Kill forcibly terminates pid without a grace period.
func Kill(pid int) error {
	proc, err := gopsprocess.NewProcess(int32(pid))
	if err != nil {
		return ErrProcessNotFound
	}
	if err := proc.Kill(); err != nil {
		return fmt.Errorf("kill %d: %w", pid, err)
	}
	return nil
}

// Running describes a process found by FindByName.
type Running struct {
	PID  int
	Name string
	Exe  string
}

// FindByName lists processes whose executable name matches name. On Windows
// the ".exe" suffix is ignored.
func FindByName(ctx context.Context, name string) ([]Running, error) {
	procs, err := gopsprocess.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}
	want := normalizeName(name)
	var found []Running
	for _, proc := range procs {
		procName, err := proc.NameWithContext(ctx)
		if err != nil {
			continue
		}
		if normalizeName(procName) != want {
			continue
		}
		exe, _ := proc.ExeWithContext(ctx)
		if !Alive(int(proc.Pid)) {
			continue
		}
		found = append(found, Running{PID: int(proc.Pid), Name: procName, Exe: exe})
	}
	return found, nil
}

func normalizeName(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	return strings.TrimSuffix(strings.ToLower(name), ".exe")
}
