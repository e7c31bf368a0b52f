//go:build windows

package process

import (
	"context"
	"errors"
	"os/exec"
	"syscall"

	"golang.org/x/sys/windows"
)

// Configure starts the child in a new process group so it can receive
// CTRL_BREAK_EVENT without affecting us.
func Configure(cmd *exec.Cmd) {
	if cmd == nil {
		return
	}
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.CreationFlags |= windows.CREATE_NEW_PROCESS_GROUP
}

func GroupID(pid int) int {
	return pid
}

func stopProcess(ctx context.Context, pid, pgid int, wait func(context.Context) error) error {
	if pid <= 0 {
		return nil
	}
	if !Alive(pid) {
		return ErrProcessNotFound
	}
	_ = pgid
	breakErr := windows.GenerateConsoleCtrlEvent(windows.CTRL_BREAK_EVENT, uint32(pid))
	waitErr := waitForExit(ctx, pid, wait)
	if waitErr == nil || isExpectedExit(waitErr) {
		return nil
	}
	killErr := Kill(pid)
	if errors.Is(killErr, ErrProcessNotFound) {
		killErr = nil
	}
	_ = waitForExit(context.Background(), pid, wait)
	return errors.Join(breakErr, waitErr, killErr)
}

func isExpectedExit(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr)
}
