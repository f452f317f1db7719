//go:build !unix

package proc

import (
	"errors"
	"os"
	"os/exec"
)

// Process groups are not available; receivers are signalled individually.
func setProcessGroup(*exec.Cmd) {}

func interrupt(h *Handle) error {
	return ignoreDone(h.cmd.Process.Signal(os.Interrupt))
}

func forceKill(h *Handle) error {
	return ignoreDone(h.cmd.Process.Kill())
}

func killPid(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	return ignoreDone(p.Kill())
}

func ignoreDone(err error) error {
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}
