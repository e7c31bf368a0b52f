//go:build !windows

package modules

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"awdesk/internal/config"
	"awdesk/internal/metrics"
	"awdesk/internal/process"

	"go.uber.org/goleak"
)

const (
	sleeperScript = "#!/bin/sh\necho \"args: $*\"\nexec sleep 30\n"
	crasherScript = "#!/bin/sh\necho boom >&2\nexit 3\n"
	quitterScript = "#!/bin/sh\nexit 0\n"
)

type managerFixture struct {
	manager *Manager
	dir     string
	events  <-chan ModuleEvent
	stop    func()
}

func writeScript(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o755); err != nil {
		t.Fatalf("write script %s: %v", name, err)
	}
}

func newManagerFixture(t *testing.T, options ManagerOptions, scripts map[string]string) *managerFixture {
	t.Helper()
	dir := t.TempDir()
	for name, body := range scripts {
		writeScript(t, dir, name, body)
	}
	options.Registry = NewRegistry([]string{dir}, ScanOptions{GOOS: "linux"})
	if options.Port == 0 {
		options.Port = 5600
	}
	if options.Metrics == nil {
		options.Metrics = metrics.NewRegistry()
	}
	if options.LookPath == nil {
		options.LookPath = func(name string) (string, error) {
			return "", errors.New("not found")
		}
	}
	manager, err := NewManager(options)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	events, unsubscribe := manager.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		_ = manager.Run(ctx)
	}()

	stopped := false
	stop := func() {
		if stopped {
			return
		}
		stopped = true
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		cancel()
		<-runDone
		if err := manager.StopAll(stopCtx); err != nil {
			t.Errorf("stop all: %v", err)
		}
		unsubscribe()
	}
	return &managerFixture{manager: manager, dir: dir, events: events, stop: stop}
}

func waitForEventType(t *testing.T, events <-chan ModuleEvent, eventType string) ModuleEvent {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case evt, ok := <-events:
			if !ok {
				t.Fatalf("event stream closed while waiting for %s", eventType)
			}
			if evt.EventType == eventType {
				return evt
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", eventType)
		}
	}
}

func waitForStatus(t *testing.T, manager *Manager, name string, check func(Status) bool) Status {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		status, ok := manager.Status(name)
		if ok && check(status) {
			return status
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s status, last %+v", name, status)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestManagerStartAndStop(t *testing.T) {
	defer goleak.VerifyNone(t)
	fixture := newManagerFixture(t, ManagerOptions{
		Modules: []config.ModuleConfig{{Name: "aw-watcher-test", Args: "--testing --host 'local host'"}},
	}, map[string]string{"aw-watcher-test": sleeperScript})
	defer fixture.stop()
	ctx := context.Background()

	status, err := fixture.manager.Start(ctx, "aw-watcher-test")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if status.State != StateRunning || status.PID <= 0 {
		t.Fatalf("expected running status with pid, got %+v", status)
	}
	if !status.Autostart || !status.Discovered {
		t.Fatalf("expected autostart and discovered flags, got %+v", status)
	}
	started := waitForEventType(t, fixture.events, EventModuleStarted)
	if started.Module != "aw-watcher-test" || started.PID != status.PID {
		t.Fatalf("unexpected started event %+v", started)
	}

	running := waitForStatus(t, fixture.manager, "aw-watcher-test", func(s Status) bool {
		return len(s.Output) > 0
	})
	if want := "args: --port 5600 --testing --host local host"; running.Output[0] != want {
		t.Fatalf("expected output %q, got %q", want, running.Output[0])
	}

	if _, err := fixture.manager.Start(ctx, "aw-watcher-test"); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}

	if _, err := fixture.manager.Stop(ctx, "aw-watcher-test"); err != nil {
		t.Fatalf("stop: %v", err)
	}
	waitForEventType(t, fixture.events, EventModuleStopped)
	stopped := waitForStatus(t, fixture.manager, "aw-watcher-test", func(s Status) bool {
		return s.State == StateStopped
	})
	if stopped.PID != 0 || stopped.Restarts != 0 {
		t.Fatalf("unexpected stopped status %+v", stopped)
	}
	if process.Alive(status.PID) {
		t.Fatalf("expected pid %d to be gone", status.PID)
	}
}

func TestManagerRestartsCrashedModuleUntilBreakerOpens(t *testing.T) {
	defer goleak.VerifyNone(t)
	fixture := newManagerFixture(t, ManagerOptions{
		RestartDelay:   20 * time.Millisecond,
		MaxCrashes:     3,
		BreakerTimeout: time.Hour,
	}, map[string]string{"aw-watcher-crash": crasherScript})
	defer fixture.stop()

	if _, err := fixture.manager.Start(context.Background(), "aw-watcher-crash"); err != nil {
		t.Fatalf("start: %v", err)
	}

	var last ModuleEvent
	for i := 0; i < 3; i++ {
		last = waitForEventType(t, fixture.events, EventModuleCrashed)
		if last.ExitCode != 3 {
			t.Fatalf("expected exit code 3, got %d", last.ExitCode)
		}
	}
	if !strings.Contains(last.Message, "3 times in a row") {
		t.Fatalf("expected breaker message, got %q", last.Message)
	}

	status := waitForStatus(t, fixture.manager, "aw-watcher-crash", func(s Status) bool {
		return s.State == StateCrashed && s.Restarts == 2
	})
	if len(status.Output) == 0 || status.Output[len(status.Output)-1] != "boom" {
		t.Fatalf("expected captured stderr, got %v", status.Output)
	}

	time.Sleep(100 * time.Millisecond)
	if status, _ := fixture.manager.Status("aw-watcher-crash"); status.Restarts != 2 {
		t.Fatalf("expected no restarts while breaker is open, got %d", status.Restarts)
	}
}

func TestManagerFirstCrashMessage(t *testing.T) {
	defer goleak.VerifyNone(t)
	fixture := newManagerFixture(t, ManagerOptions{
		RestartDelay: time.Hour,
	}, map[string]string{"aw-watcher-crash": crasherScript})
	defer fixture.stop()

	if _, err := fixture.manager.Start(context.Background(), "aw-watcher-crash"); err != nil {
		t.Fatalf("start: %v", err)
	}
	crashed := waitForEventType(t, fixture.events, EventModuleCrashed)
	if crashed.Message != "aw-watcher-crash crashed. Restarting..." {
		t.Fatalf("unexpected crash message %q", crashed.Message)
	}

	status, err := fixture.manager.Stop(context.Background(), "aw-watcher-crash")
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if status.State != StateStopped {
		t.Fatalf("expected stop to cancel the pending restart, got %+v", status)
	}
}

func TestManagerCleanExitIsNotACrash(t *testing.T) {
	defer goleak.VerifyNone(t)
	fixture := newManagerFixture(t, ManagerOptions{}, map[string]string{"aw-watcher-once": quitterScript})
	defer fixture.stop()

	if _, err := fixture.manager.Start(context.Background(), "aw-watcher-once"); err != nil {
		t.Fatalf("start: %v", err)
	}
	evt := waitForEventType(t, fixture.events, EventModuleStopped)
	if evt.ExitCode != 0 {
		t.Fatalf("expected exit code 0, got %d", evt.ExitCode)
	}
	status := waitForStatus(t, fixture.manager, "aw-watcher-once", func(s Status) bool {
		return s.State == StateStopped
	})
	if status.Restarts != 0 {
		t.Fatalf("expected no restarts, got %d", status.Restarts)
	}
}

func TestManagerToggle(t *testing.T) {
	defer goleak.VerifyNone(t)
	fixture := newManagerFixture(t, ManagerOptions{}, map[string]string{"aw-watcher-test": sleeperScript})
	defer fixture.stop()
	ctx := context.Background()

	status, err := fixture.manager.Toggle(ctx, "aw-watcher-test")
	if err != nil || status.State != StateRunning {
		t.Fatalf("expected toggle to start, got %+v err=%v", status, err)
	}
	waitForEventType(t, fixture.events, EventModuleStarted)

	if _, err := fixture.manager.Toggle(ctx, "aw-watcher-test"); err != nil {
		t.Fatalf("toggle stop: %v", err)
	}
	waitForEventType(t, fixture.events, EventModuleStopped)
}

func TestManagerUnknownModule(t *testing.T) {
	defer goleak.VerifyNone(t)
	fixture := newManagerFixture(t, ManagerOptions{}, nil)
	defer fixture.stop()
	ctx := context.Background()

	if _, err := fixture.manager.Start(ctx, "aw-watcher-missing"); !errors.Is(err, ErrUnknownModule) {
		t.Fatalf("expected ErrUnknownModule, got %v", err)
	}
	if _, err := fixture.manager.Start(ctx, "../aw-watcher"); !errors.Is(err, ErrUnknownModule) {
		t.Fatalf("expected ErrUnknownModule for path-like name, got %v", err)
	}
	if _, err := fixture.manager.Stop(ctx, "aw-watcher-missing"); !errors.Is(err, ErrUnknownModule) {
		t.Fatalf("expected ErrUnknownModule on stop, got %v", err)
	}
	if fixture.manager.Known("aw-watcher-missing") {
		t.Fatalf("failed lookup must not create state")
	}
}

func TestManagerSnapshotIncludesDiscovered(t *testing.T) {
	defer goleak.VerifyNone(t)
	fixture := newManagerFixture(t, ManagerOptions{}, map[string]string{
		"aw-watcher-test":  sleeperScript,
		"aw-watcher-input": sleeperScript,
	})
	defer fixture.stop()

	if _, err := fixture.manager.Start(context.Background(), "aw-watcher-test"); err != nil {
		t.Fatalf("start: %v", err)
	}
	snapshot := fixture.manager.Snapshot()
	if len(snapshot) != 2 {
		t.Fatalf("expected two modules, got %+v", snapshot)
	}
	if snapshot[0].Name != "aw-watcher-input" || snapshot[0].State != StateStopped || !snapshot[0].Discovered {
		t.Fatalf("unexpected discovered entry %+v", snapshot[0])
	}
	if snapshot[1].Name != "aw-watcher-test" || snapshot[1].State != StateRunning {
		t.Fatalf("unexpected running entry %+v", snapshot[1])
	}
}

func TestManagerStartAutostartPublishesReady(t *testing.T) {
	defer goleak.VerifyNone(t)
	fixture := newManagerFixture(t, ManagerOptions{}, map[string]string{"aw-watcher-test": sleeperScript})
	defer fixture.stop()

	err := fixture.manager.StartAutostart(context.Background(), []config.ModuleConfig{
		{Name: "aw-watcher-test"},
		{Name: "aw-watcher-missing"},
	})
	if !errors.Is(err, ErrUnknownModule) {
		t.Fatalf("expected missing module error, got %v", err)
	}
	ready := waitForEventType(t, fixture.events, EventManagerReady)
	if len(ready.Modules) != 1 || ready.Modules[0] != "aw-watcher-test" {
		t.Fatalf("unexpected ready event %+v", ready)
	}
	if status, _ := fixture.manager.Status("aw-watcher-test"); status.State != StateRunning {
		t.Fatalf("expected autostart module running, got %+v", status)
	}
}

func TestManagerStopAllTerminatesChildren(t *testing.T) {
	defer goleak.VerifyNone(t)
	fixture := newManagerFixture(t, ManagerOptions{RestartDelay: 10 * time.Millisecond}, map[string]string{
		"aw-watcher-one": sleeperScript,
		"aw-watcher-two": sleeperScript,
	})
	ctx := context.Background()

	var pids []int
	for _, name := range []string{"aw-watcher-one", "aw-watcher-two"} {
		status, err := fixture.manager.Start(ctx, name)
		if err != nil {
			t.Fatalf("start %s: %v", name, err)
		}
		pids = append(pids, status.PID)
	}
	fixture.stop()

	for _, pid := range pids {
		if process.Alive(pid) {
			t.Fatalf("expected pid %d to be terminated", pid)
		}
	}
	for _, status := range fixture.manager.Snapshot() {
		if status.State != StateStopped {
			t.Fatalf("expected %s stopped after StopAll, got %s", status.Name, status.State)
		}
	}
	if _, err := fixture.manager.Start(ctx, "aw-watcher-one"); !errors.Is(err, ErrManagerStopped) {
		t.Fatalf("expected ErrManagerStopped after shutdown, got %v", err)
	}
}

func TestManagerAdoptRunning(t *testing.T) {
	defer goleak.VerifyNone(t)
	fixture := newManagerFixture(t, ManagerOptions{ExternalPoll: time.Hour}, map[string]string{"aw-watcher-afk": sleeperScript})
	defer fixture.stop()

	find := func(ctx context.Context, name string) ([]process.Running, error) {
		if name == "aw-watcher-afk" {
			return []process.Running{{PID: os.Getpid(), Name: name}, {PID: 424242, Name: name}}, nil
		}
		return nil, nil
	}
	adopted, err := fixture.manager.AdoptRunning(context.Background(), []string{"aw-watcher-afk", "aw-watcher-window"}, find)
	if err != nil {
		t.Fatalf("adopt: %v", err)
	}
	if len(adopted) != 1 || adopted[0] != "aw-watcher-afk" {
		t.Fatalf("unexpected adopted list %v", adopted)
	}
	evt := waitForEventType(t, fixture.events, EventModuleExternal)
	if evt.PID != 424242 {
		t.Fatalf("expected external pid 424242, got %d", evt.PID)
	}
	if _, err := fixture.manager.Start(context.Background(), "aw-watcher-afk"); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected adopted module to count as running, got %v", err)
	}
}

func TestManagerRetriesAfterBreakerTimeout(t *testing.T) {
	defer goleak.VerifyNone(t)
	fixture := newManagerFixture(t, ManagerOptions{
		RestartDelay:   10 * time.Millisecond,
		MaxCrashes:     2,
		BreakerTimeout: 300 * time.Millisecond,
	}, map[string]string{"aw-watcher-crash": crasherScript})
	defer fixture.stop()

	if _, err := fixture.manager.Start(context.Background(), "aw-watcher-crash"); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitForEventType(t, fixture.events, EventModuleCrashed)
	tripped := waitForEventType(t, fixture.events, EventModuleCrashed)
	if !strings.Contains(tripped.Message, "2 times in a row") {
		t.Fatalf("expected breaker message, got %q", tripped.Message)
	}
	opened := time.Now()

	retried := waitForEventType(t, fixture.events, EventModuleStarted)
	if elapsed := time.Since(opened); elapsed < 200*time.Millisecond {
		t.Fatalf("expected retry to wait for the breaker timeout, got %s", elapsed)
	}
	if retried.Module != "aw-watcher-crash" {
		t.Fatalf("unexpected started event %+v", retried)
	}
	waitForStatus(t, fixture.manager, "aw-watcher-crash", func(s Status) bool {
		return s.Restarts >= 2
	})
}

func TestManagerManualStartWhileBreakerOpen(t *testing.T) {
	defer goleak.VerifyNone(t)
	fixture := newManagerFixture(t, ManagerOptions{
		RestartDelay:   10 * time.Millisecond,
		MaxCrashes:     1,
		BreakerTimeout: time.Hour,
	}, map[string]string{"aw-watcher-crash": crasherScript})
	defer fixture.stop()
	ctx := context.Background()

	if _, err := fixture.manager.Start(ctx, "aw-watcher-crash"); err != nil {
		t.Fatalf("start: %v", err)
	}
	crashed := waitForEventType(t, fixture.events, EventModuleCrashed)
	if !strings.Contains(crashed.Message, "1 times in a row") {
		t.Fatalf("expected breaker to open on first crash, got %q", crashed.Message)
	}

	status, err := fixture.manager.Start(ctx, "aw-watcher-crash")
	if err != nil {
		t.Fatalf("manual start with open breaker: %v", err)
	}
	if status.State != StateRunning || status.PID <= 0 {
		t.Fatalf("expected manual start to spawn, got %+v", status)
	}
	waitForEventType(t, fixture.events, EventModuleCrashed)
}

func TestManagerRefusesUnconfiguredPathBinary(t *testing.T) {
	defer goleak.VerifyNone(t)
	binDir := t.TempDir()
	marker := filepath.Join(binDir, "ran")
	writeScript(t, binDir, "evil", "#!/bin/sh\ntouch "+marker+"\n")
	writeScript(t, binDir, "aw-server", sleeperScript)

	var lookups atomic.Int32
	lookPath := func(name string) (string, error) {
		lookups.Add(1)
		return exec.LookPath(filepath.Join(binDir, name))
	}
	fixture := newManagerFixture(t, ManagerOptions{
		Launchable: []string{"aw-server"},
		LookPath:   lookPath,
	}, nil)
	defer fixture.stop()
	ctx := context.Background()

	if _, err := fixture.manager.Start(ctx, "evil"); !errors.Is(err, ErrUnknownModule) {
		t.Fatalf("expected ErrUnknownModule for unconfigured name, got %v", err)
	}
	if lookups.Load() != 0 {
		t.Fatalf("unconfigured name must not be looked up on PATH")
	}
	time.Sleep(50 * time.Millisecond)
	if _, err := os.Stat(marker); !os.IsNotExist(err) {
		t.Fatalf("unconfigured binary was executed")
	}

	status, err := fixture.manager.Start(ctx, "aw-server")
	if err != nil {
		t.Fatalf("start configured module: %v", err)
	}
	if status.State != StateRunning {
		t.Fatalf("expected configured module running, got %+v", status)
	}
}

func TestManagerRecoversFromHandlerPanic(t *testing.T) {
	defer goleak.VerifyNone(t)
	lookPath := func(name string) (string, error) {
		panic("lookup exploded")
	}
	fixture := newManagerFixture(t, ManagerOptions{
		Launchable: []string{"aw-watcher-gone"},
		LookPath:   lookPath,
	}, map[string]string{"aw-watcher-test": sleeperScript})
	defer fixture.stop()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := fixture.manager.Start(ctx, "aw-watcher-gone"); err == nil || !strings.Contains(err.Error(), "panic") {
		t.Fatalf("expected panic to surface as error, got %v", err)
	}
	select {
	case <-fixture.manager.Done():
		t.Fatalf("manager stopped after a handler panic")
	default:
	}
	if _, err := fixture.manager.Start(ctx, "aw-watcher-test"); err != nil {
		t.Fatalf("start after panic: %v", err)
	}
}

func TestManagerRunAgainAfterReturn(t *testing.T) {
	defer goleak.VerifyNone(t)
	dir := t.TempDir()
	writeScript(t, dir, "aw-watcher-test", sleeperScript)
	manager, err := NewManager(ManagerOptions{
		Registry: NewRegistry([]string{dir}, ScanOptions{GOOS: "linux"}),
		Metrics:  metrics.NewRegistry(),
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		_ = manager.StopAll(stopCtx)
	}()

	first := make(chan error, 1)
	go func() { first <- manager.Run(ctx) }()
	if _, err := manager.Start(ctx, "aw-watcher-test"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := manager.Run(ctx); err == nil || errors.Is(err, ErrManagerStopped) {
		t.Fatalf("expected concurrent Run to be refused, got %v", err)
	}
	select {
	case <-manager.Done():
		t.Fatalf("refused Run must not stop the manager")
	default:
	}
	cancel()
	<-first
	select {
	case <-manager.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("expected cancellation to stop the manager")
	}
	if err := manager.Run(context.Background()); !errors.Is(err, ErrManagerStopped) {
		t.Fatalf("expected Run after shutdown to report ErrManagerStopped, got %v", err)
	}
}

func startExternal(t *testing.T) *exec.Cmd {
	t.Helper()
	cmd := exec.Command("sleep", "30")
	if err := cmd.Start(); err != nil {
		t.Fatalf("start external process: %v", err)
	}
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	})
	return cmd
}

func TestManagerNoticesExternalExit(t *testing.T) {
	defer goleak.VerifyNone(t)
	fixture := newManagerFixture(t, ManagerOptions{ExternalPoll: 20 * time.Millisecond}, map[string]string{"aw-watcher-afk": sleeperScript})
	defer fixture.stop()
	ctx := context.Background()

	external := startExternal(t)
	pid := external.Process.Pid
	find := func(ctx context.Context, name string) ([]process.Running, error) {
		return []process.Running{{PID: pid, Name: name}}, nil
	}
	if _, err := fixture.manager.AdoptRunning(ctx, []string{"aw-watcher-afk"}, find); err != nil {
		t.Fatalf("adopt: %v", err)
	}
	waitForEventType(t, fixture.events, EventModuleExternal)

	_ = external.Process.Kill()
	_ = external.Wait()

	stopped := waitForEventType(t, fixture.events, EventModuleStopped)
	if stopped.Module != "aw-watcher-afk" || stopped.PID != pid {
		t.Fatalf("unexpected stopped event %+v", stopped)
	}
	status := waitForStatus(t, fixture.manager, "aw-watcher-afk", func(s Status) bool {
		return s.State == StateStopped
	})
	if status.PID != 0 {
		t.Fatalf("expected pid cleared, got %+v", status)
	}
	started, err := fixture.manager.Start(ctx, "aw-watcher-afk")
	if err != nil {
		t.Fatalf("start after external exit: %v", err)
	}
	if started.State != StateRunning || started.PID == pid {
		t.Fatalf("expected a fresh managed process, got %+v", started)
	}
}

func TestManagerStopAllSkipsReusedExternalPID(t *testing.T) {
	defer goleak.VerifyNone(t)
	fixture := newManagerFixture(t, ManagerOptions{ExternalPoll: time.Hour}, nil)
	ctx := context.Background()

	external := startExternal(t)
	pid := external.Process.Pid
	var owned atomic.Bool
	owned.Store(true)
	find := func(ctx context.Context, name string) ([]process.Running, error) {
		if !owned.Load() {
			return nil, nil
		}
		return []process.Running{{PID: pid, Name: name}}, nil
	}
	if _, err := fixture.manager.AdoptRunning(ctx, []string{"aw-watcher-afk"}, find); err != nil {
		t.Fatalf("adopt: %v", err)
	}

	owned.Store(false)
	fixture.stop()
	if !process.Alive(pid) {
		t.Fatalf("pid %d no longer belongs to the module and must not be signalled", pid)
	}
	if status, _ := fixture.manager.Status("aw-watcher-afk"); status.State != StateStopped {
		t.Fatalf("expected external module stopped after shutdown, got %+v", status)
	}
}
