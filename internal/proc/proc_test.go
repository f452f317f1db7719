package proc

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/deixis/talkcheck/internal/fakepair"
	"github.com/deixis/talkcheck/internal/fixture"
	"github.com/deixis/talkcheck/internal/watch"
)

func newTestController(t *testing.T, receiverMode, senderMode string) *Controller {
	t.Helper()
	pair := fakepair.New(t, receiverMode, senderMode)
	return &Controller{
		Receiver:     pair.Receiver,
		Sender:       pair.Sender,
		Env:          pair.Env,
		ProcessGroup: true,
		StopTimeout:  2 * time.Second,
		Ack:          AckPolicy{Mode: AckMarker},
		Logger:       zaptest.NewLogger(t),
	}
}

func launch(t *testing.T, c *Controller) *Handle {
	t.Helper()
	h, err := c.LaunchReceiver(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(h) })
	return h
}

// waitLine reads lines from h until one contains want.
func waitLine(t *testing.T, h *Handle, want string) string {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case line, ok := <-h.Lines():
			require.True(t, ok, "receiver stdout closed before %q appeared", want)
			if strings.Contains(line, want) {
				return line
			}
		case <-timeout:
			t.Fatalf("%q not seen on receiver stdout", want)
		}
	}
}

func TestLaunchReceiver_Identity(t *testing.T) {
	c := newTestController(t, fakepair.ReceiverNormal, fakepair.SenderNormal)
	h := launch(t, c)

	assert.Equal(t, h.Pid(), h.Identity)
	assert.True(t, h.Alive())
	assert.True(t, IsAlive(h.Pid()))
	assert.True(t, h.Group())

	require.NoError(t, c.Terminate(h))
	assert.False(t, h.Alive())
	assert.False(t, IsAlive(h.Pid()))
}

func TestLaunchReceiver_StderrKeptSeparate(t *testing.T) {
	c := newTestController(t, fakepair.ReceiverNormal, fakepair.SenderNormal)
	h := launch(t, c)

	require.NoError(t, c.Terminate(h))
	assert.Contains(t, h.Stderr(), "listening")
	for line := range h.Lines() {
		assert.NotContains(t, line, "listening")
	}
}

func TestLaunchReceiver_NoDigits(t *testing.T) {
	c := newTestController(t, fakepair.ReceiverNoDigits, fakepair.SenderNormal)

	h, err := c.LaunchReceiver(context.Background())
	require.Nil(t, h)

	var serr *SetupError
	require.True(t, errors.As(err, &serr), "err = %v, want *SetupError", err)
	assert.Equal(t, "server ready", serr.Line)
	assert.Contains(t, serr.Reason, "no digits")
	assert.False(t, IsAlive(serr.Pid), "receiver %d left running", serr.Pid)
}

func TestLaunchReceiver_Silent(t *testing.T) {
	c := newTestController(t, fakepair.ReceiverSilent, fakepair.SenderNormal)
	c.StartupTimeout = 200 * time.Millisecond

	start := time.Now()
	_, err := c.LaunchReceiver(context.Background())
	elapsed := time.Since(start)

	var serr *SetupError
	require.True(t, errors.As(err, &serr), "err = %v, want *SetupError", err)
	assert.Contains(t, serr.Reason, "no output within")
	assert.Empty(t, serr.Line)
	assert.Less(t, elapsed, 2*time.Second)
	assert.False(t, IsAlive(serr.Pid), "receiver %d left running", serr.Pid)
}

func TestLaunchReceiver_MissingBinary(t *testing.T) {
	c := &Controller{Receiver: []string{"nonexistent-receiver-xyz-123"}}
	_, err := c.LaunchReceiver(context.Background())
	require.Error(t, err)

	var serr *SetupError
	assert.False(t, errors.As(err, &serr), "a missing binary is not a setup error")
	assert.Contains(t, err.Error(), "nonexistent-receiver-xyz-123")
}

func TestLaunchReceiver_NotConfigured(t *testing.T) {
	_, err := (&Controller{}).LaunchReceiver(context.Background())
	require.Error(t, err)
}

func TestSendOnce_FireAndForget(t *testing.T) {
	c := newTestController(t, fakepair.ReceiverNormal, fakepair.SenderNormal)
	h := launch(t, c)

	out, err := c.SendOnce(context.Background(), h.Identity, "Ab3", false)
	require.NoError(t, err)
	assert.Equal(t, AckUnknown, out.Ack)
	assert.Positive(t, out.Duration)
	assert.Zero(t, out.ExitCode)
	assert.NotEmpty(t, out.RunID)
	assert.Empty(t, out.Stdout, "stdout is discarded without an acknowledgement request")

	waitLine(t, h, "Ab3")
}

func TestSendOnce_Unicode(t *testing.T) {
	c := newTestController(t, fakepair.ReceiverNormal, fakepair.SenderNormal)
	h := launch(t, c)

	_, err := c.SendOnce(context.Background(), h.Identity, "éléphant 🦄", false)
	require.NoError(t, err)
	assert.Equal(t, "éléphant 🦄", waitLine(t, h, "🦄"))
}

func TestSendOnce_AckMarker(t *testing.T) {
	c := newTestController(t, fakepair.ReceiverNormal, fakepair.SenderNormal)
	h := launch(t, c)

	out, err := c.SendOnce(context.Background(), h.Identity, "AckTest_x1", true)
	require.NoError(t, err)
	assert.Equal(t, AckReceived, out.Ack)
	assert.True(t, out.Acknowledged())
	assert.False(t, out.TimedOut)
	assert.Contains(t, out.Stdout, DefaultAckMarker)
}

func TestSendOnce_AckPolicyDivergence(t *testing.T) {
	c := newTestController(t, fakepair.ReceiverNormal, fakepair.SenderChatty)
	h := launch(t, c)

	out, err := c.SendOnce(context.Background(), h.Identity, "hello", true)
	require.NoError(t, err)
	assert.Equal(t, AckMissing, out.Ack, "chatty output has no marker")

	c.Ack = AckPolicy{Mode: AckAnyOutput}
	out, err = c.SendOnce(context.Background(), h.Identity, "hello", true)
	require.NoError(t, err)
	assert.Equal(t, AckReceived, out.Ack, "any output counts under any-output")
}

func TestSendOnce_QuietSenderAnyOutput(t *testing.T) {
	c := newTestController(t, fakepair.ReceiverNormal, fakepair.SenderQuiet)
	c.Ack = AckPolicy{Mode: AckAnyOutput}
	h := launch(t, c)

	out, err := c.SendOnce(context.Background(), h.Identity, "hello", true)
	require.NoError(t, err)
	assert.Equal(t, AckMissing, out.Ack)
}

func TestSendOnce_AckTimeoutKillsSender(t *testing.T) {
	c := newTestController(t, fakepair.ReceiverNormal, fakepair.SenderHang)
	c.AckTimeout = 200 * time.Millisecond
	h := launch(t, c)

	out, err := c.SendOnce(context.Background(), h.Identity, "late", true)
	require.NoError(t, err)
	assert.True(t, out.TimedOut)
	assert.Equal(t, AckMissing, out.Ack)
	assert.Equal(t, -1, out.ExitCode)
	assert.GreaterOrEqual(t, out.Duration, 200*time.Millisecond)
	assert.Less(t, out.Duration, 3*time.Second)
}

func TestSendOnce_UnknownIdentity(t *testing.T) {
	c := newTestController(t, fakepair.ReceiverNormal, fakepair.SenderNormal)
	h := launch(t, c)

	out, err := c.SendOnce(context.Background(), h.Identity+999999, "lost", false)
	require.NoError(t, err, "a failing sender is an outcome, not an error")
	assert.Equal(t, 1, out.ExitCode)
}

func TestSendOnce_PayloadLengths(t *testing.T) {
	c := newTestController(t, fakepair.ReceiverNormal, fakepair.SenderNormal)
	h := launch(t, c)
	gen := fixture.New(7)

	for _, n := range []int{1, 2, 8, 64, 100, 255, 256, 512, 999, 1000} {
		payload := gen.ASCII(n)
		_, err := c.SendOnce(context.Background(), h.Identity, payload, false)
		require.NoError(t, err, "length %d", n)

		obs := watch.Await(context.Background(), h, payload, 2*time.Second)
		assert.True(t, obs.Found, "payload of length %d not echoed", n)
	}
}

func TestSendOnce_MissingBinary(t *testing.T) {
	c := &Controller{Sender: []string{"nonexistent-sender-xyz-123"}}
	_, err := c.SendOnce(context.Background(), 1, "x", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nonexistent-sender-xyz-123")
}

func TestTerminate_EscalatesToKill(t *testing.T) {
	c := newTestController(t, fakepair.ReceiverStubborn, fakepair.SenderNormal)
	c.StopTimeout = 300 * time.Millisecond
	h := launch(t, c)

	start := time.Now()
	require.NoError(t, c.Terminate(h))
	assert.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)
	assert.False(t, h.Alive())
	assert.False(t, IsAlive(h.Pid()))
}

func TestTerminate_ReclaimsProcessGroup(t *testing.T) {
	pair := fakepair.New(t, fakepair.ReceiverForks, fakepair.SenderNormal)
	c := &Controller{Receiver: pair.Receiver, Sender: pair.Sender, Env: pair.Env, ProcessGroup: true}
	h := launch(t, c)
	child := pair.ChildPid(t, h.Pid())
	require.True(t, IsAlive(child))

	require.NoError(t, c.Terminate(h))
	assert.Eventually(t, func() bool { return !IsAlive(child) }, 2*time.Second, 20*time.Millisecond)
}

func TestTerminate_ReclaimsGroupMemberIgnoringInterrupt(t *testing.T) {
	pair := fakepair.New(t, fakepair.ReceiverForksStubborn, fakepair.SenderNormal)
	c := &Controller{
		Receiver:     pair.Receiver,
		Sender:       pair.Sender,
		Env:          pair.Env,
		ProcessGroup: true,
		StopTimeout:  time.Second,
		Logger:       zaptest.NewLogger(t),
	}
	h := launch(t, c)
	child := pair.ChildPid(t, h.Pid())
	require.True(t, IsAlive(child))

	start := time.Now()
	require.NoError(t, c.Terminate(h))
	assert.Less(t, time.Since(start), time.Second, "the leader exits on SIGINT, no kill wait")
	assert.False(t, IsAlive(h.Pid()))
	assert.Eventually(t, func() bool { return !IsAlive(child) }, 2*time.Second, 20*time.Millisecond)
}

func TestTerminate_InterruptFailureStillKills(t *testing.T) {
	orig := sendInterrupt
	sendInterrupt = func(*Handle) error { return errors.New("operation not permitted") }
	t.Cleanup(func() { sendInterrupt = orig })

	c := newTestController(t, fakepair.ReceiverNormal, fakepair.SenderNormal)
	c.StopTimeout = 5 * time.Second
	h := launch(t, c)

	start := time.Now()
	require.NoError(t, c.Terminate(h))
	assert.Less(t, time.Since(start), 2*time.Second, "no grace period once the interrupt could not be sent")
	assert.False(t, h.Alive())
	assert.False(t, IsAlive(h.Pid()))
}

func TestTerminate_ReclaimsChildrenWithoutGroup(t *testing.T) {
	pair := fakepair.New(t, fakepair.ReceiverForks, fakepair.SenderNormal)
	c := &Controller{Receiver: pair.Receiver, Sender: pair.Sender, Env: pair.Env, ProcessGroup: false}
	h := launch(t, c)
	child := pair.ChildPid(t, h.Pid())
	require.True(t, IsAlive(child))

	require.NoError(t, c.Terminate(h))
	assert.False(t, h.Group())
	assert.Eventually(t, func() bool { return !IsAlive(child) }, 2*time.Second, 20*time.Millisecond)
}

func TestTerminate_OnlyOnce(t *testing.T) {
	c := newTestController(t, fakepair.ReceiverNormal, fakepair.SenderNormal)
	h := launch(t, c)

	require.NoError(t, c.Terminate(h))
	require.NoError(t, c.Terminate(h))
	assert.False(t, h.Alive())
}

func TestIsAlive_InvalidPid(t *testing.T) {
	assert.False(t, IsAlive(0))
	assert.False(t, IsAlive(-1))
}

func TestIsAlive_ExitedUnreaped(t *testing.T) {
	bin, err := exec.LookPath("true")
	if err != nil {
		t.Skip("true not available")
	}
	cmd := exec.Command(bin)
	require.NoError(t, cmd.Start())
	t.Cleanup(func() { _ = cmd.Wait() })

	// Not waited on yet, so the exited process lingers as a zombie.
	assert.Eventually(t, func() bool { return !IsAlive(cmd.Process.Pid) }, 2*time.Second, 20*time.Millisecond)
}
