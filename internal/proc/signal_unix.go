//go:build unix

package proc

import (
	"errors"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func interrupt(h *Handle) error { return signalHandle(h, unix.SIGINT) }

func forceKill(h *Handle) error { return signalHandle(h, unix.SIGKILL) }

// signalHandle signals the receiver, or its whole process group when it was
// started as a group leader. A target that no longer exists is not an error.
func signalHandle(h *Handle, sig unix.Signal) error {
	target := h.Pid()
	if h.group {
		target = -target
	}
	err := unix.Kill(target, sig)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

func killPid(pid int) error {
	err := unix.Kill(pid, unix.SIGKILL)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}
