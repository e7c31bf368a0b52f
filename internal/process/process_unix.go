//go:build !windows

package process

import (
	"context"
	"errors"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// Configure puts the child in its own process group so a stop reaches any
// helpers it spawns.
func Configure(cmd *exec.Cmd) {
	if cmd == nil {
		return
	}
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

func GroupID(pid int) int {
	if pid <= 0 {
		return 0
	}
	pgid, err := unix.Getpgid(pid)
	if err != nil {
		return 0
	}
	return pgid
}

func stopProcess(ctx context.Context, pid, pgid int, wait func(context.Context) error) error {
	if pid <= 0 {
		return nil
	}
	if !Alive(pid) {
		return ErrProcessNotFound
	}
	termErr := signalProcessGroup(pid, pgid, unix.SIGTERM)
	if errors.Is(termErr, unix.ESRCH) {
		termErr = nil
	}
	waitErr := waitForExit(ctx, pid, wait)
	if isExpectedExit(waitErr) {
		waitErr = nil
	}
	if waitErr == nil {
		return termErr
	}
	killErr := signalProcessGroup(pid, pgid, unix.SIGKILL)
	if errors.Is(killErr, unix.ESRCH) {
		killErr = nil
	}
	_ = waitForExit(context.Background(), pid, wait)
	return errors.Join(termErr, waitErr, killErr)
}

func signalProcessGroup(pid, pgid int, sig unix.Signal) error {
	target := pid
	if pgid > 0 && pgid != unix.Getpgrp() {
		target = -pgid
	}
	return unix.Kill(target, sig)
}

func isExpectedExit(err error) bool {
	if err == nil {
		return false
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return false
	}
	status, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok {
		return false
	}
	return status.Signaled() || status.Exited()
}
