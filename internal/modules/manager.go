package modules

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"slices"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"awdesk/internal/config"
	"awdesk/internal/event"
	"awdesk/internal/logging"
	"awdesk/internal/metrics"
	"awdesk/internal/process"
)

const (
	defaultOutputLines = 50
	defaultStopTimeout = 5 * time.Second
	defaultExternalPoll = 2 * time.Second
	messageBuffer      = 32
)

var (
	ErrUnknownModule  = errors.New("unknown module")
	ErrAlreadyRunning = errors.New("module already running")
	ErrManagerStopped = errors.New("module manager stopped")
)

type ManagerOptions struct {
	Registry       *Registry
	// Port is passed to every module as --port.
	Port           int
	Modules        []config.ModuleConfig
	// Launchable names configured modules that may be started on request
	// even when discovery did not find them. Autostart modules always are.
	Launchable     []string
	RestartDelay   time.Duration
	MaxCrashes     int
	BreakerTimeout time.Duration
	StopTimeout    time.Duration
	OutputLines    int
	Logger         *logging.Logger
	Metrics        *metrics.Registry
	Bus            *event.Bus[ModuleEvent]
	LookPath       func(string) (string, error)
	// ExternalPoll is how often adopted processes are checked for liveness.
	ExternalPoll   time.Duration
	Alive          func(pid int) bool
}

type moduleState struct {
	status        Status
	stopRequested bool
	output        *tailWriter
	breaker       *crashBreaker
	restartTimer  *time.Timer
	unwatch       func()
}

type messageKind int

const (
	msgStart messageKind = iota
	msgStop
	msgToggle
	msgRestart
	msgExited
	msgInit
)

type message struct {
	kind     messageKind
	name     string
	pid      int
	exitCode int
	err      error
	reply    chan result
}

type result struct {
	status Status
	err    error
}

// Manager owns the module child processes. State changes are serialized
// through the loop started by Run; Snapshot reads are lock-protected.
type Manager struct {
	options   ManagerOptions
	registry  *Registry
	processes *process.Registry
	bus       *event.Bus[ModuleEvent]
	ownsBus   bool
	logger    *logging.Logger
	metrics   *metrics.Registry

	messages chan message
	running  chan struct{}
	done     chan struct{}
	serving  atomic.Bool
	runOnce  sync.Once
	doneOnce sync.Once
	find     FindFunc

	mu      sync.RWMutex
	modules map[string]*moduleState
	args    map[string][]string
	closing bool
	wg      sync.WaitGroup
}

func NewManager(options ManagerOptions) (*Manager, error) {
	if options.RestartDelay <= 0 {
		options.RestartDelay = config.DefaultRestartDelay.Duration
	}
	if options.MaxCrashes <= 0 {
		options.MaxCrashes = config.DefaultMaxCrashes
	}
	if options.BreakerTimeout <= 0 {
		options.BreakerTimeout = defaultBreakerTimeout
	}
	if options.StopTimeout <= 0 {
		options.StopTimeout = defaultStopTimeout
	}
	if options.OutputLines <= 0 {
		options.OutputLines = defaultOutputLines
	}
	if options.LookPath == nil {
		options.LookPath = exec.LookPath
	}
	if options.ExternalPoll <= 0 {
		options.ExternalPoll = defaultExternalPoll
	}
	if options.Alive == nil {
		options.Alive = process.Alive
	}
	logger := options.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	args := make(map[string][]string, len(options.Modules))
	for _, module := range options.Modules {
		split, err := config.SplitArgs(module.Args)
		if err != nil {
			return nil, fmt.Errorf("module %s args: %w", module.Name, err)
		}
		args[module.Name] = split
	}

	manager := &Manager{
		options:   options,
		registry:  options.Registry,
		processes: process.NewRegistry(),
		bus:       options.Bus,
		logger:    logger,
		metrics:   options.Metrics,
		messages:  make(chan message, messageBuffer),
		running:   make(chan struct{}),
		done:      make(chan struct{}),
		modules:   make(map[string]*moduleState),
		args:      args,
	}
	if manager.bus == nil {
		manager.bus = event.NewBus[ModuleEvent](context.Background(), event.BusOptions{
			Name:        "modules",
			HistorySize: 100,
			Registry:    options.Metrics,
		})
		manager.ownsBus = true
	}
	return manager, nil
}

// Run processes manager messages until ctx is cancelled. Only cancellation
// stops the manager for good; a supervisor may call Run again after any
// other return.
func (m *Manager) Run(ctx context.Context) error {
	if !m.serving.CompareAndSwap(false, true) {
		return errors.New("module manager already running")
	}
	defer m.serving.Store(false)
	select {
	case <-m.done:
		return ErrManagerStopped
	default:
	}
	m.runOnce.Do(func() { close(m.running) })

	for {
		select {
		case <-ctx.Done():
			m.doneOnce.Do(func() { close(m.done) })
			return ctx.Err()
		case msg := <-m.messages:
			m.handle(msg)
		}
	}
}

// Serve lets the manager run under a supervisor.
func (m *Manager) Serve(ctx context.Context) error {
	return m.Run(ctx)
}

func (m *Manager) String() string {
	return "module-manager"
}

// Done is closed once the event loop has exited.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

func (m *Manager) Subscribe() (<-chan ModuleEvent, func()) {
	return m.bus.Subscribe()
}

func (m *Manager) Bus() *event.Bus[ModuleEvent] {
	return m.bus
}

func (m *Manager) Registry() *Registry {
	return m.registry
}

// Start launches name unless it is already running, in which case the
// current status is returned with ErrAlreadyRunning.
func (m *Manager) Start(ctx context.Context, name string) (Status, error) {
	return m.request(ctx, message{kind: msgStart, name: name})
}

// Stop asks name to terminate. It returns before the process has exited; the
// exit shows up as a module_stopped event.
func (m *Manager) Stop(ctx context.Context, name string) (Status, error) {
	return m.request(ctx, message{kind: msgStop, name: name})
}

func (m *Manager) Toggle(ctx context.Context, name string) (Status, error) {
	return m.request(ctx, message{kind: msgToggle, name: name})
}

// StartAutostart starts each configured module and then announces that the
// manager is ready so the menu renders even when nothing started.
func (m *Manager) StartAutostart(ctx context.Context, modules []config.ModuleConfig) error {
	var startErr error
	for _, module := range modules {
		if _, err := m.Start(ctx, module.Name); err != nil && !errors.Is(err, ErrAlreadyRunning) {
			if errors.Is(err, ErrManagerStopped) || ctx.Err() != nil {
				return errors.Join(startErr, err)
			}
			startErr = errors.Join(startErr, err)
		}
	}
	if _, err := m.request(ctx, message{kind: msgInit}); err != nil {
		startErr = errors.Join(startErr, err)
	}
	return startErr
}

// Status returns a single module's status.
func (m *Manager) Status(name string) (Status, bool) {
	for _, status := range m.Snapshot() {
		if status.Name == name {
			return status, true
		}
	}
	return Status{}, false
}

// Snapshot lists every module the manager has seen plus discovered modules
// that were never started, sorted by name.
func (m *Manager) Snapshot() []Status {
	m.mu.RLock()
	statuses := make([]Status, 0, len(m.modules))
	seen := make(map[string]bool, len(m.modules))
	for name, state := range m.modules {
		statuses = append(statuses, m.statusLocked(state))
		seen[name] = true
	}
	m.mu.RUnlock()

	for _, name := range m.registry.Names() {
		if seen[name] {
			continue
		}
		statuses = append(statuses, Status{
			Name:       name,
			State:      StateStopped,
			Discovered: true,
			Autostart:  m.isAutostart(name),
		})
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Name < statuses[j].Name })
	return statuses
}

// Known reports whether the manager has ever tracked name.
func (m *Manager) Known(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.modules[name]
	return ok
}

// NotifyDiscovered publishes a fresh discovery result.
func (m *Manager) NotifyDiscovered(names []string) {
	m.metrics.SetModulesDiscovered(len(names))
	m.publish(ModuleEvent{EventType: EventModulesDiscovered, Modules: slices.Clone(names)})
}

// StopAll terminates every child and waits for them until ctx expires, then
// kills what is left. Pending restarts are cancelled and later exits are
// never treated as crashes.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	m.closing = true
	for _, state := range m.modules {
		state.stopRequested = true
		if state.restartTimer != nil {
			state.restartTimer.Stop()
			state.restartTimer = nil
		}
	}
	var external []Status
	for _, state := range m.modules {
		if state.unwatch != nil {
			state.unwatch()
			state.unwatch = nil
		}
		if state.status.State == StateExternal {
			external = append(external, state.status)
		}
	}
	m.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	stopErr := m.processes.StopAll(ctx)
	for _, status := range external {
		if m.stillExternal(ctx, status) {
			if err := process.Stop(ctx, status.PID, 0, nil); err != nil && !errors.Is(err, process.ErrProcessNotFound) {
				stopErr = errors.Join(stopErr, fmt.Errorf("stop %s: %w", status.Name, err))
			}
		}
		m.markExited(status.Name, status.PID, 0, nil)
	}

	waitDone := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-ctx.Done():
		stopErr = errors.Join(stopErr, ctx.Err())
	}
	if m.ownsBus {
		m.bus.Close()
	}
	return stopErr
}

func (m *Manager) request(ctx context.Context, msg message) (Status, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	msg.reply = make(chan result, 1)
	select {
	case <-m.running:
	case <-m.done:
		return Status{}, ErrManagerStopped
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
	select {
	case m.messages <- msg:
	case <-m.done:
		return Status{}, ErrManagerStopped
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
	select {
	case res := <-msg.reply:
		return res.status, res.err
	case <-m.done:
		return Status{}, ErrManagerStopped
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
}

// post delivers an internal message, falling back to direct handling once
// the loop is gone.
func (m *Manager) post(msg message) {
	select {
	case m.messages <- msg:
	case <-m.done:
		if msg.kind == msgExited {
			m.markExited(msg.name, msg.pid, msg.exitCode, msg.err)
		}
	}
}

func (m *Manager) handle(msg message) {
	var res result
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("module manager panic", map[string]string{
				logging.FieldModule: msg.name,
				logging.FieldError:  fmt.Sprint(r),
			})
			if msg.reply != nil {
				msg.reply <- result{err: fmt.Errorf("module %s: panic: %v", msg.name, r)}
			}
		}
	}()
	switch msg.kind {
	case msgStart:
		res.status, res.err = m.handleStart(msg.name, true)
	case msgStop:
		res.status, res.err = m.handleStop(msg.name)
	case msgToggle:
		status, _ := m.Status(msg.name)
		if status.Running() {
			res.status, res.err = m.handleStop(msg.name)
		} else {
			res.status, res.err = m.handleStart(msg.name, true)
		}
	case msgRestart:
		m.handleRestart(msg.name)
	case msgExited:
		m.markExited(msg.name, msg.pid, msg.exitCode, msg.err)
	case msgInit:
		m.publish(ModuleEvent{EventType: EventManagerReady, Modules: m.registry.Names()})
	}
	if msg.reply != nil {
		msg.reply <- res
	}
}

func (m *Manager) handleStart(name string, manual bool) (Status, error) {
	if err := config.ValidateModuleName(name); err != nil {
		return Status{}, fmt.Errorf("%w: %s", ErrUnknownModule, name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closing {
		return Status{}, ErrManagerStopped
	}

	state := m.modules[name]
	if state != nil && state.status.Running() {
		return m.statusLocked(state), ErrAlreadyRunning
	}

	path, err := m.resolve(name)
	if err != nil {
		if state == nil {
			return Status{}, err
		}
		state.status.LastError = err.Error()
		return m.statusLocked(state), err
	}

	if state == nil {
		state = &moduleState{
			status: Status{Name: name, State: StateStopped},
		}
		m.modules[name] = state
	}
	if state.restartTimer != nil {
		state.restartTimer.Stop()
		state.restartTimer = nil
	}
	if manual || state.breaker == nil {
		state.breaker = newCrashBreaker(name, m.options.MaxCrashes, m.options.BreakerTimeout)
	}
	if err := state.breaker.acquire(); err != nil {
		return m.statusLocked(state), fmt.Errorf("start %s: %w", name, err)
	}

	if err := m.spawnLocked(name, path, state); err != nil {
		state.breaker.settle(false)
		state.status.LastError = err.Error()
		m.logger.Error("module start failed", map[string]string{
			logging.FieldModule: name,
			logging.FieldError:  err.Error(),
		})
		return m.statusLocked(state), err
	}
	return m.statusLocked(state), nil
}

// resolve finds the executable for name. Names outside discovery and
// configuration are refused so a request can never launch an arbitrary
// program from PATH.
func (m *Manager) resolve(name string) (string, error) {
	if path, ok := m.registry.Resolve(name); ok {
		return path, nil
	}
	if !m.launchable(name) {
		return "", fmt.Errorf("%w: %s", ErrUnknownModule, name)
	}
	path, err := m.options.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrUnknownModule, name)
	}
	return path, nil
}

func (m *Manager) launchable(name string) bool {
	if _, ok := m.args[name]; ok {
		return true
	}
	return slices.Contains(m.options.Launchable, name)
}

func (m *Manager) moduleArgs(name string) []string {
	args := []string{"--port", strconv.Itoa(m.options.Port)}
	return append(args, m.args[name]...)
}

func (m *Manager) spawnLocked(name, path string, state *moduleState) error {
	output := newTailWriter(m.options.OutputLines)
	cmd := exec.Command(path, m.moduleArgs(name)...)
	cmd.Stdout = output
	cmd.Stderr = output
	cmd.WaitDelay = time.Second
	process.Configure(cmd)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", name, err)
	}

	pid := cmd.Process.Pid
	exited := make(chan struct{})
	var waitErr error
	m.processes.RegisterWithWait(name, pid, process.GroupID(pid), func(ctx context.Context) error {
		select {
		case <-exited:
			return waitErr
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		waitErr = cmd.Wait()
		close(exited)
		m.post(message{kind: msgExited, name: name, pid: pid, exitCode: exitCode(waitErr), err: waitErr})
	}()

	state.output = output
	state.stopRequested = false
	state.status.State = StateRunning
	state.status.PID = pid
	state.status.StartedAt = time.Now().UTC()
	state.status.ExitCode = 0
	state.status.LastError = ""

	m.metrics.IncModuleStart(name)
	m.metrics.SetModulesRunning(m.runningCountLocked())
	m.logger.Info("module started", map[string]string{
		logging.FieldModule: name,
		logging.FieldPID:    strconv.Itoa(pid),
		logging.FieldPath:   path,
	})
	m.publish(ModuleEvent{EventType: EventModuleStarted, Module: name, PID: pid})
	return nil
}

func (m *Manager) handleStop(name string) (Status, error) {
	m.mu.Lock()
	state, ok := m.modules[name]
	if !ok {
		m.mu.Unlock()
		if m.registry.Has(name) {
			return Status{Name: name, State: StateStopped, Discovered: true}, nil
		}
		return Status{}, fmt.Errorf("%w: %s", ErrUnknownModule, name)
	}
	if state.restartTimer != nil {
		state.restartTimer.Stop()
		state.restartTimer = nil
		if state.status.State == StateCrashed {
			state.status.State = StateStopped
		}
	}
	if !state.status.Running() {
		status := m.statusLocked(state)
		m.mu.Unlock()
		return status, nil
	}
	state.stopRequested = true
	status := m.statusLocked(state)
	pid := state.status.PID
	external := state.status.State == StateExternal
	m.mu.Unlock()

	m.logger.Info("stopping module", map[string]string{
		logging.FieldModule: name,
		logging.FieldPID:    strconv.Itoa(pid),
	})
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), m.options.StopTimeout)
		defer cancel()
		var err error
		if external {
			err = process.Stop(ctx, pid, 0, nil)
			if err == nil || errors.Is(err, process.ErrProcessNotFound) {
				m.post(message{kind: msgExited, name: name, pid: pid})
			}
		} else {
			err = m.processes.Stop(ctx, name)
		}
		if err != nil && !errors.Is(err, process.ErrProcessNotFound) {
			m.logger.Warn("module stop failed", map[string]string{
				logging.FieldModule: name,
				logging.FieldPID:    strconv.Itoa(pid),
				logging.FieldError:  err.Error(),
			})
		}
	}()
	return status, nil
}

// markExited records a child exit. A non-zero exit that nobody asked for is
// a crash and schedules a restart unless the breaker is open.
func (m *Manager) markExited(name string, pid, code int, waitErr error) {
	m.processes.Unregister(name, pid)

	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.modules[name]
	if !ok || state.status.PID != pid || !state.status.Running() {
		return
	}

	if state.unwatch != nil {
		state.unwatch()
		state.unwatch = nil
	}
	state.status.PID = 0
	state.status.ExitCode = code
	lines := state.output.Lines()
	m.metrics.SetModulesRunning(m.runningCountLocked())

	if state.stopRequested || code == 0 || m.closing {
		state.status.State = StateStopped
		if state.breaker != nil {
			state.breaker.settle(true)
		}
		m.logger.Info("module stopped", map[string]string{
			logging.FieldModule: name,
			"exit_code":         strconv.Itoa(code),
		})
		m.publish(ModuleEvent{EventType: EventModuleStopped, Module: name, PID: pid, ExitCode: code})
		return
	}

	state.status.State = StateCrashed
	if waitErr != nil {
		state.status.LastError = waitErr.Error()
	}
	m.metrics.IncModuleCrash(name)
	fields := map[string]string{
		logging.FieldModule: name,
		"exit_code":         strconv.Itoa(code),
	}
	if len(lines) > 0 {
		fields["output"] = lines[len(lines)-1]
	}

	delay := m.options.RestartDelay
	text := fmt.Sprintf("%s crashed. Restarting...", name)
	if state.breaker != nil {
		state.breaker.settle(false)
		if state.breaker.open() {
			delay = m.options.BreakerTimeout
			text = fmt.Sprintf("%s crashed %d times in a row. Retrying in %s.", name, m.options.MaxCrashes, delay)
		}
	}
	m.logger.Error("module crashed", fields)
	m.publish(ModuleEvent{EventType: EventModuleCrashed, Module: name, PID: pid, ExitCode: code, Message: text})

	state.restartTimer = time.AfterFunc(delay, func() {
		m.post(message{kind: msgRestart, name: name})
	})
}

func (m *Manager) handleRestart(name string) {
	m.mu.Lock()
	state, ok := m.modules[name]
	if !ok || state.status.State != StateCrashed || m.closing {
		m.mu.Unlock()
		return
	}
	state.restartTimer = nil
	state.status.Restarts++
	m.mu.Unlock()

	m.metrics.IncModuleRestart(name)
	if _, err := m.handleStart(name, false); err != nil && !errors.Is(err, ErrAlreadyRunning) {
		m.logger.Warn("module restart failed", map[string]string{
			logging.FieldModule: name,
			logging.FieldError:  err.Error(),
		})
		m.mu.Lock()
		if state.status.State == StateCrashed && state.restartTimer == nil && !m.closing {
			state.restartTimer = time.AfterFunc(m.options.BreakerTimeout, func() {
				m.post(message{kind: msgRestart, name: name})
			})
		}
		m.mu.Unlock()
	}
}

func (m *Manager) statusLocked(state *moduleState) Status {
	status := state.status
	status.Managed = true
	status.Discovered = m.registry.Has(status.Name)
	status.Autostart = m.isAutostart(status.Name)
	status.Output = state.output.Lines()
	return status
}

func (m *Manager) isAutostart(name string) bool {
	_, ok := m.args[name]
	return ok
}

func (m *Manager) runningCountLocked() int {
	count := 0
	for _, state := range m.modules {
		if state.status.Running() {
			count++
		}
	}
	return count
}

func (m *Manager) publish(evt ModuleEvent) {
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}
	m.bus.Publish(evt)
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code >= 0 {
			return code
		}
	}
	return -1
}
