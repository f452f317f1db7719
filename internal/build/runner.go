package build

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Invocation records one execution of a build command.
type Invocation struct {
	ID        string
	Argv      []string
	Dir       string        // absolute directory the command ran in
	ExitCode  int           // -1 when the command was killed
	Output    []byte        // stdout and stderr as interleaved by the command
	Truncated bool          // Output hit the limit
	TimedOut  bool          // killed for exceeding Exec.Timeout
	Duration  time.Duration // wall time until exit
}

// Failed reports whether the command did not exit cleanly.
func (i *Invocation) Failed() bool { return i.ExitCode != 0 || i.TimedOut }

// Exec runs build commands confined to a root directory.
type Exec struct {
	Root        string
	Timeout     time.Duration // zero means no limit
	OutputLimit int           // bytes of Output kept; zero keeps all
}

// Run executes argv from workDir, which is relative to Root and may not
// leave it. An empty workDir means Root itself. A command that starts
// and then fails is reported through the Invocation, not as an error.
func (x *Exec) Run(ctx context.Context, argv []string, workDir string) (*Invocation, error) {
	if len(argv) == 0 {
		return nil, errors.New("no build command")
	}
	dir, err := x.dir(workDir)
	if err != nil {
		return nil, err
	}

	runCtx := ctx
	if x.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, x.Timeout)
		defer cancel()
	}

	out := &boundedBuffer{limit: x.OutputLimit}
	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Stdout = out
	cmd.Stderr = out
	// Children of the build tool may hold the pipes open after it is killed.
	cmd.WaitDelay = time.Second

	inv := &Invocation{ID: uuid.NewString(), Argv: argv, Dir: dir}
	start := time.Now()
	err = cmd.Run()
	inv.Duration = time.Since(start)
	inv.Output = out.b
	inv.Truncated = out.over
	inv.TimedOut = ctx.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded)

	if err != nil {
		if cmd.ProcessState == nil {
			return nil, fmt.Errorf("starting %s: %w", argv[0], err)
		}
		// Exit status, a kill on timeout, or pipes held past WaitDelay.
		inv.ExitCode = cmd.ProcessState.ExitCode()
	}
	return inv, nil
}

func (x *Exec) dir(workDir string) (string, error) {
	root, err := filepath.Abs(x.Root)
	if err != nil {
		return "", fmt.Errorf("build root: %w", err)
	}
	if workDir == "" || workDir == "." {
		return root, nil
	}
	if !filepath.IsLocal(workDir) {
		return "", fmt.Errorf("build directory %q escapes %s", workDir, root)
	}
	return filepath.Join(root, workDir), nil
}

// boundedBuffer keeps the first limit bytes written and swallows the rest.
type boundedBuffer struct {
	b     []byte
	limit int
	over  bool
}

func (w *boundedBuffer) Write(p []byte) (int, error) {
	keep := p
	if w.limit > 0 {
		room := max(w.limit-len(w.b), 0)
		if len(keep) > room {
			keep = keep[:room]
			w.over = true
		}
	}
	w.b = append(w.b, keep...)
	return len(p), nil
}
