package proc

import (
	"bufio"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// lineBuffer is how many unread stdout lines a Handle holds before the
// receiver blocks on its next write.
const lineBuffer = 256

// drainTimeout bounds how long release waits for trailing stdout after exit.
const drainTimeout = 200 * time.Millisecond

// Handle is a running receiver. Its stdout is delivered line by line on
// Lines; its stderr is captured separately and never mixed into Lines.
type Handle struct {
	// Identity is the process identity parsed from the startup line.
	Identity int

	cmd    *exec.Cmd
	out    *os.File
	stderr *limitWriter
	group  bool

	lines  chan string
	stop   chan struct{}
	pumped chan struct{}
	done   chan struct{}
	// waitErr is written before done is closed.
	waitErr error

	terminate sync.Once
	release   sync.Once
}

func newHandle(cmd *exec.Cmd, out *os.File, stderr *limitWriter, group bool) *Handle {
	h := &Handle{
		cmd:    cmd,
		out:    out,
		stderr: stderr,
		group:  group,
		lines:  make(chan string, lineBuffer),
		stop:   make(chan struct{}),
		pumped: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go h.pump()
	go func() {
		h.waitErr = cmd.Wait()
		close(h.done)
	}()
	return h
}

// Pid returns the operating system process id of the receiver.
func (h *Handle) Pid() int { return h.cmd.Process.Pid }

// Lines returns the receiver's stdout, one line per value, without the
// trailing newline. The channel is closed once stdout reaches EOF or the
// handle is released.
func (h *Handle) Lines() <-chan string { return h.lines }

// Done is closed once the receiver has exited and been reaped.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Alive reports whether the receiver has not yet been reaped.
func (h *Handle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// ExitErr returns the error from waiting on the receiver. It is only
// meaningful after Done is closed.
func (h *Handle) ExitErr() error {
	select {
	case <-h.done:
		return h.waitErr
	default:
		return nil
	}
}

// Stderr returns the receiver's captured stderr so far.
func (h *Handle) Stderr() string { return h.stderr.String() }

// Group reports whether the receiver leads its own process group.
func (h *Handle) Group() bool { return h.group }

func (h *Handle) pump() {
	defer close(h.pumped)
	defer close(h.lines)

	r := bufio.NewReader(h.out)
	for {
		line, err := r.ReadString('\n')
		if line != "" {
			line = strings.TrimSuffix(line, "\n")
			line = strings.TrimSuffix(line, "\r")
			select {
			case h.lines <- line:
			case <-h.stop:
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// close stops the stdout pump once the receiver is gone. Lines already
// buffered stay readable.
func (h *Handle) close() {
	h.release.Do(func() {
		select {
		case <-h.pumped:
		case <-time.After(drainTimeout):
			// A surviving descendant still holds stdout open.
		}
		close(h.stop)
		_ = h.out.Close()
	})
}
