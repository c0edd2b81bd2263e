//go:build windows

package nvsmi

import (
	"os/exec"
	"syscall"
)

// hideWindow keeps the CLI child from flashing a console window.
func hideWindow(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{HideWindow: true}
}
