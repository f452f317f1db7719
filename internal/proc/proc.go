// Package proc spawns, observes and terminates the receiver and sender
// programs under test.
package proc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Default timings, matching what receiver/sender pairs are expected to meet.
const (
	DefaultStartupTimeout = 2 * time.Second
	DefaultAckTimeout     = 3 * time.Second
	DefaultStopTimeout    = 5 * time.Second
	DefaultMaxOutput      = 1 << 20 // 1 MB
)

// waitDelay bounds how long Wait blocks on I/O copying after a child exits.
const waitDelay = time.Second

var digitRun = regexp.MustCompile(`\d+`)

// sendInterrupt asks the receiver to shut down. Tests replace it.
var sendInterrupt = interrupt

// Controller owns the lifecycle of receivers and the one-shot execution
// of senders. The zero value is not usable: Receiver and Sender must be set.
type Controller struct {
	Receiver []string // receiver argv; the receiver takes no required arguments
	Sender   []string // sender argv prefix; identity and payload are appended
	Dir      string   // working directory for both programs
	Env      []string // extra KEY=VALUE pairs appended to the harness environment

	StartupTimeout time.Duration // wait for the identity line
	AckTimeout     time.Duration // wait for a sender asked to acknowledge
	StopTimeout    time.Duration // grace period after SIGINT before SIGKILL
	ProcessGroup   bool          // start the receiver as a process-group leader
	MaxOutput      int           // bytes of stderr/sender output kept
	Ack            AckPolicy

	Logger *zap.Logger
}

// LaunchReceiver starts the receiver and waits for its first non-empty
// stdout line, taking the first run of digits in it as the identity.
//
// If no line arrives within StartupTimeout, or the line holds no digits,
// the receiver is killed and a *SetupError is returned.
func (c *Controller) LaunchReceiver(ctx context.Context) (*Handle, error) {
	if len(c.Receiver) == 0 {
		return nil, fmt.Errorf("no receiver command configured")
	}

	out, in, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("creating receiver stdout pipe: %w", err)
	}

	// The receiver outlives ctx on purpose: only Terminate or Kill ends it.
	cmd := exec.Command(c.Receiver[0], c.Receiver[1:]...)
	cmd.Dir = c.Dir
	cmd.Env = c.environ()
	cmd.Stdout = in
	stderr := &limitWriter{limit: c.maxOutput()}
	cmd.Stderr = stderr
	cmd.WaitDelay = waitDelay
	if c.ProcessGroup {
		setProcessGroup(cmd)
	}

	if err := cmd.Start(); err != nil {
		_ = out.Close()
		_ = in.Close()
		return nil, fmt.Errorf("starting receiver %s: %w", c.Receiver[0], err)
	}
	// The child holds its own copy; ours must go so EOF can be seen.
	_ = in.Close()

	h := newHandle(cmd, out, stderr, c.ProcessGroup)
	log := c.logger().With(zap.Int("pid", h.Pid()))
	log.Debug("receiver started", zap.Strings("argv", c.Receiver), zap.Bool("process_group", c.ProcessGroup))

	id, line, reason := c.awaitIdentity(ctx, h)
	if reason != "" {
		if err := c.Kill(h); err != nil {
			log.Warn("killing receiver after failed startup", zap.Error(err))
		}
		serr := &SetupError{Pid: h.Pid(), Reason: reason, Line: line, Stderr: h.Stderr()}
		log.Info("receiver setup failed", zap.String("reason", reason), zap.String("line", line))
		return nil, serr
	}

	h.Identity = id
	log.Debug("receiver announced identity", zap.Int("identity", id))
	return h, nil
}

// awaitIdentity returns the identity, or a non-empty reason it has none.
func (c *Controller) awaitIdentity(ctx context.Context, h *Handle) (id int, line, reason string) {
	timeout := c.startupTimeout()
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case l, ok := <-h.Lines():
			if !ok {
				return 0, "", "receiver closed stdout before announcing"
			}
			if strings.TrimSpace(l) == "" {
				continue
			}
			m := digitRun.FindString(l)
			if m == "" {
				return 0, l, "no digits in startup line"
			}
			n, err := strconv.Atoi(m)
			if err != nil {
				return 0, l, fmt.Sprintf("identity %s out of range", m)
			}
			return n, l, ""
		case <-timer.C:
			return 0, "", fmt.Sprintf("no output within %s", timeout)
		case <-ctx.Done():
			return 0, "", ctx.Err().Error()
		}
	}
}

// SendOnce runs the sender once against identity with payload.
//
// Without awaitAck the sender's output is discarded and SendOnce returns
// when it exits, however long that takes. With awaitAck its stdout is
// captured and it is given AckTimeout to exit; past that it is killed and
// the outcome reports TimedOut with Ack set to AckMissing.
//
// A non-zero sender exit is reported in the outcome, not as an error.
func (c *Controller) SendOnce(ctx context.Context, identity int, payload string, awaitAck bool) (SendOutcome, error) {
	outcome := SendOutcome{RunID: uuid.New().String(), Ack: AckUnknown}
	if len(c.Sender) == 0 {
		return outcome, fmt.Errorf("no sender command configured")
	}

	args := append(slices.Clone(c.Sender[1:]), strconv.Itoa(identity), payload)
	cmd := exec.CommandContext(ctx, c.Sender[0], args...)
	cmd.Dir = c.Dir
	cmd.Env = c.environ()
	cmd.WaitDelay = waitDelay

	log := c.logger().With(
		zap.String("send_id", outcome.RunID),
		zap.Int("identity", identity),
		zap.Int("payload_len", len(payload)),
	)

	start := time.Now()
	if !awaitAck {
		runErr := cmd.Run()
		outcome.Duration = time.Since(start)
		code, err := exitCode(c.Sender[0], runErr)
		if err != nil {
			return outcome, err
		}
		outcome.ExitCode = code
		log.Debug("sender finished", zap.Duration("duration", outcome.Duration), zap.Int("exit_code", code))
		return outcome, nil
	}

	stdout := &limitWriter{limit: c.maxOutput()}
	stderr := &limitWriter{limit: c.maxOutput()}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return outcome, fmt.Errorf("starting sender %s: %w", c.Sender[0], err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timer := time.NewTimer(c.ackTimeout())
	defer timer.Stop()

	select {
	case runErr := <-done:
		outcome.Duration = time.Since(start)
		code, err := exitCode(c.Sender[0], runErr)
		if err != nil {
			return outcome, err
		}
		outcome.ExitCode = code
		outcome.Stdout = stdout.String()
		outcome.Stderr = stderr.String()
		outcome.Ack = c.Ack.Detect(outcome.Stdout)
	case <-timer.C:
		_ = cmd.Process.Kill()
		<-done
		outcome.Duration = time.Since(start)
		outcome.ExitCode = -1
		outcome.TimedOut = true
		outcome.Ack = AckMissing
		outcome.Stdout = stdout.String()
		outcome.Stderr = stderr.String()
		log.Info("sender did not exit in time; killed", zap.Duration("timeout", c.ackTimeout()))
	}

	log.Debug("sender finished",
		zap.Duration("duration", outcome.Duration),
		zap.Int("exit_code", outcome.ExitCode),
		zap.Stringer("ack", outcome.Ack),
	)
	return outcome, nil
}

// Terminate interrupts the receiver (its whole group when it leads one)
// and waits for it to exit. A receiver still running after StopTimeout is
// killed. Only the first call on a handle has any effect.
func (c *Controller) Terminate(h *Handle) error {
	var err error
	h.terminate.Do(func() {
		defer h.close()
		err = c.stop(h)
	})
	return err
}

func (c *Controller) stop(h *Handle) error {
	log := c.logger().With(zap.Int("pid", h.Pid()))

	var children []int
	if !h.group {
		children = descendants(h.Pid())
	}

	grace := c.stopTimeout()
	if h.Alive() || h.group {
		if err := sendInterrupt(h); err != nil {
			log.Warn("interrupting receiver failed; killing", zap.Error(err))
			grace = 0
		}
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-h.Done():
	case <-timer.C:
		if grace > 0 {
			log.Warn("receiver ignored interrupt; killing", zap.Duration("grace", grace))
		}
		if err := c.kill(h); err != nil {
			return err
		}
	}

	if h.group {
		// Group members that ignored the interrupt outlive the leader.
		if err := forceKill(h); err != nil {
			return fmt.Errorf("killing receiver group %d: %w", h.Pid(), err)
		}
	} else if left := surviving(children); len(left) > 0 {
		log.Warn("receiver exited leaving children running; killing", zap.Ints("pids", left))
		if err := killAll(left); err != nil {
			return err
		}
	}
	log.Debug("receiver terminated")
	return nil
}

// Kill forcibly stops the receiver (and its group) and waits for it.
func (c *Controller) Kill(h *Handle) error {
	defer h.close()
	return c.kill(h)
}

func (c *Controller) kill(h *Handle) error {
	if err := forceKill(h); err != nil {
		return fmt.Errorf("killing receiver %d: %w", h.Pid(), err)
	}
	select {
	case <-h.Done():
		return nil
	case <-time.After(c.stopTimeout()):
		return fmt.Errorf("receiver %d still running after SIGKILL", h.Pid())
	}
}

// killAll forcibly stops children a receiver left behind when it was not
// started as a group leader.
func killAll(pids []int) error {
	var errs []error
	for _, pid := range pids {
		if err := killPid(pid); err != nil {
			errs = append(errs, fmt.Errorf("killing %d: %w", pid, err))
		}
	}
	return errors.Join(errs...)
}

func (c *Controller) environ() []string {
	if len(c.Env) == 0 {
		return nil
	}
	return append(os.Environ(), c.Env...)
}

func (c *Controller) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

func (c *Controller) startupTimeout() time.Duration {
	if c.StartupTimeout > 0 {
		return c.StartupTimeout
	}
	return DefaultStartupTimeout
}

func (c *Controller) ackTimeout() time.Duration {
	if c.AckTimeout > 0 {
		return c.AckTimeout
	}
	return DefaultAckTimeout
}

func (c *Controller) stopTimeout() time.Duration {
	if c.StopTimeout > 0 {
		return c.StopTimeout
	}
	return DefaultStopTimeout
}

func (c *Controller) maxOutput() int {
	if c.MaxOutput > 0 {
		return c.MaxOutput
	}
	return DefaultMaxOutput
}

// exitCode maps a Wait error to an exit code. Failing to execute the
// binary at all is returned as an error.
func exitCode(name string, err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return 0, fmt.Errorf("executing %s: %w", name, err)
}
