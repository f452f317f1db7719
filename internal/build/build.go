// Package build makes sure the receiver and sender binaries exist before
// any case runs, building them when they do not.
package build

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/deixis/talkcheck/internal/config"
)

// BuildError means the binaries are missing and could not be built. It is
// fatal to the whole run.
type BuildError struct {
	Missing []string // binaries still missing
	Command []string // build command that was tried, if any
	Output  string   // build output, when the command ran
	Err     error    // underlying failure, if any
}

func (e *BuildError) Error() string {
	var b strings.Builder
	switch {
	case len(e.Command) == 0:
		fmt.Fprintf(&b, "missing %s and no build command configured", strings.Join(e.Missing, ", "))
	case e.Err != nil:
		fmt.Fprintf(&b, "building with %q: %v", strings.Join(e.Command, " "), e.Err)
	default:
		fmt.Fprintf(&b, "missing %s after %q", strings.Join(e.Missing, ", "), strings.Join(e.Command, " "))
	}
	if out := strings.TrimSpace(e.Output); out != "" {
		fmt.Fprintf(&b, "\n%s", out)
	}
	return b.String()
}

func (e *BuildError) Unwrap() error { return e.Err }

// Executor runs a build command from a directory below its root.
// Implemented by Exec.
type Executor interface {
	Run(ctx context.Context, argv []string, workDir string) (*Invocation, error)
}

// Target names the binaries a run needs and how to produce them.
type Target struct {
	Dir      string   // directory relative binaries are looked up in
	Binaries []string // receiver and sender paths
	Command  []string // build argv; empty means binaries must already exist
	WorkDir  string   // where Command runs, relative to the executor's root
}

// Ensure checks that every binary of t exists. If any is missing it runs
// t.Command once through x and checks again. Anything short of all
// binaries present yields a *BuildError.
func Ensure(ctx context.Context, x Executor, t Target, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}

	missing := Missing(t.Dir, t.Binaries)
	if len(missing) == 0 {
		return nil
	}
	if len(t.Command) == 0 {
		return &BuildError{Missing: missing}
	}

	log.Info("building missing binaries",
		zap.Strings("missing", missing),
		zap.Strings("command", t.Command),
		zap.String("work_dir", t.WorkDir))
	inv, err := x.Run(ctx, t.Command, t.WorkDir)
	if err != nil {
		return &BuildError{Missing: missing, Command: t.Command, Err: err}
	}
	output := string(inv.Output)
	switch {
	case inv.TimedOut:
		return &BuildError{Missing: missing, Command: t.Command, Output: output,
			Err: fmt.Errorf("timed out after %s", inv.Duration.Round(time.Millisecond))}
	case inv.Failed():
		return &BuildError{Missing: missing, Command: t.Command, Output: output,
			Err: fmt.Errorf("exit status %d", inv.ExitCode)}
	}

	if missing := Missing(t.Dir, t.Binaries); len(missing) > 0 {
		return &BuildError{Missing: missing, Command: t.Command, Output: output}
	}
	log.Info("build succeeded", zap.String("id", inv.ID), zap.Duration("took", inv.Duration))
	return nil
}

// Missing returns the binaries that do not exist as regular files.
func Missing(dir string, binaries []string) []string {
	var missing []string
	for _, b := range binaries {
		path := b
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, path)
		}
		fi, err := os.Stat(path)
		if err != nil || !fi.Mode().IsRegular() {
			missing = append(missing, b)
		}
	}
	return missing
}

// FromConfig returns the executor and target a configuration describes,
// with root as the project directory.
func FromConfig(cfg *config.Config, root string) (*Exec, Target) {
	x := &Exec{Root: root, Timeout: cfg.BuildTimeout(), OutputLimit: cfg.MaxOutputBytes()}
	return x, Target{
		Dir:      root,
		Binaries: []string{cfg.ReceiverPath(), cfg.SenderPath()},
		Command:  cfg.BuildCommand(),
		WorkDir:  cfg.BuildWorkDir(),
	}
}
