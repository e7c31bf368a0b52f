package desktop

import (
	"os/exec"
	"runtime"
)

// Open hands target (a URL or a directory) to the platform opener.
func Open(target string) error {
	return openerCommand(runtime.GOOS, target).Start()
}

func openerCommand(goos, target string) *exec.Cmd {
	switch goos {
	case "windows":
		return exec.Command("cmd", "/c", "start", "", target)
	case "darwin":
		return exec.Command("open", target)
	default:
		return exec.Command("xdg-open", target)
	}
}
