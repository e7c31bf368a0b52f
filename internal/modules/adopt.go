package modules

import (
	"context"
	"os"
	"slices"
	"strconv"
	"sync"
	"time"

	"awdesk/internal/logging"
	"awdesk/internal/process"
)

// FindFunc lists running processes by executable name.
type FindFunc func(ctx context.Context, name string) ([]process.Running, error)

// AdoptRunning marks configured modules that are already running outside our
// control as external so they are not launched twice. It returns the adopted
// names.
func (m *Manager) AdoptRunning(ctx context.Context, names []string, find FindFunc) ([]string, error) {
	if find == nil {
		find = process.FindByName
	}
	m.mu.Lock()
	m.find = find
	m.mu.Unlock()
	self := os.Getpid()
	var adopted []string
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return adopted, err
		}
		found, err := find(ctx, name)
		if err != nil {
			return adopted, err
		}
		pid := 0
		for _, candidate := range found {
			if candidate.PID != self {
				pid = candidate.PID
				break
			}
		}
		if pid == 0 || !m.adopt(name, pid) {
			continue
		}
		adopted = append(adopted, name)
	}
	return adopted, nil
}

func (m *Manager) adopt(name string, pid int) bool {
	m.mu.Lock()
	state, ok := m.modules[name]
	if ok && state.status.Running() {
		m.mu.Unlock()
		return false
	}
	if !ok {
		state = &moduleState{status: Status{Name: name}}
		m.modules[name] = state
	}
	state.status.State = StateExternal
	state.status.PID = pid
	state.status.StartedAt = time.Now().UTC()
	state.stopRequested = false
	if state.unwatch != nil {
		state.unwatch()
	}
	stop := make(chan struct{})
	var once sync.Once
	state.unwatch = func() { once.Do(func() { close(stop) }) }
	m.wg.Add(1)
	go m.watchExternal(name, pid, stop)
	m.metrics.SetModulesRunning(m.runningCountLocked())
	m.mu.Unlock()

	m.logger.Info("module already running", map[string]string{
		logging.FieldModule: name,
		logging.FieldPID:    strconv.Itoa(pid),
	})
	m.publish(ModuleEvent{EventType: EventModuleExternal, Module: name, PID: pid})
	return true
}

// watchExternal polls an adopted pid and reports its exit, since nothing
// waits on a process we did not start.
func (m *Manager) watchExternal(name string, pid int, stop <-chan struct{}) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.options.ExternalPoll)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if m.options.Alive(pid) {
				continue
			}
			m.logger.Info("external module exited", map[string]string{
				logging.FieldModule: name,
				logging.FieldPID:    strconv.Itoa(pid),
			})
			msg := message{kind: msgExited, name: name, pid: pid}
			select {
			case m.messages <- msg:
			case <-m.done:
				m.markExited(name, pid, 0, nil)
			case <-stop:
			}
			return
		}
	}
}

// stillExternal reports whether the adopted pid still belongs to the module,
// so shutdown never signals a recycled pid.
func (m *Manager) stillExternal(ctx context.Context, status Status) bool {
	if !m.options.Alive(status.PID) {
		return false
	}
	m.mu.RLock()
	find := m.find
	m.mu.RUnlock()
	if find == nil {
		find = process.FindByName
	}
	found, err := find(ctx, status.Name)
	if err != nil {
		return false
	}
	return slices.ContainsFunc(found, func(running process.Running) bool {
		return running.PID == status.PID
	})
}
