package mcp

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap/zaptest"

	"github.com/deixis/talkcheck/internal/config"
	"github.com/deixis/talkcheck/internal/fakepair"
	"github.com/deixis/talkcheck/internal/proc"
	"github.com/deixis/talkcheck/internal/report"
	"github.com/deixis/talkcheck/internal/scenario"
	"github.com/deixis/talkcheck/internal/watch"
)

func TestMain(m *testing.M) {
	fakepair.Main()
	os.Exit(m.Run())
}

// newRunner returns a runner driving a fake pair with the given behaviours.
func newRunner(t *testing.T, receiverMode, senderMode string) *scenario.Runner {
	t.Helper()
	pair := fakepair.New(t, receiverMode, senderMode)
	return &scenario.Runner{
		Driver: &proc.Controller{
			Receiver:       pair.Receiver,
			Sender:         pair.Sender,
			Env:            pair.Env,
			StartupTimeout: 300 * time.Millisecond,
			StopTimeout:    2 * time.Second,
			ProcessGroup:   true,
			Logger:         zaptest.NewLogger(t),
		},
		Watcher: watch.Watcher{Timeout: 2 * time.Second},
		Logger:  zaptest.NewLogger(t),
	}
}

// setup creates a full talkcheck MCP server + client over in-memory transports.
func setup(t *testing.T, r *scenario.Runner, opts ...ServerOption) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()

	disk := report.NewDiskStore()
	t.Cleanup(func() { _ = disk.Close() })
	store := report.NewLRUStore(5, disk)
	server := NewServer(r, store, append(opts, WithLogger(zaptest.NewLogger(t)))...)

	ct, st := mcp.NewInMemoryTransports()
	ss, err := server.Connect(ctx, st, nil)
	if err != nil {
		t.Fatalf("server.Connect: %v", err)
	}

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	cs, err := client.Connect(ctx, ct, nil)
	if err != nil {
		t.Fatalf("client.Connect: %v", err)
	}

	t.Cleanup(func() {
		_ = cs.Close()
		_ = ss.Wait()
	})

	return cs
}

func callTool(t *testing.T, cs *mcp.ClientSession, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	return res
}

func resultText(r *mcp.CallToolResult) string {
	var parts []string
	for _, c := range r.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func runID(t *testing.T, text string) string {
	t.Helper()
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(line, "Run: ") {
			return strings.TrimPrefix(line, "Run: ")
		}
	}
	t.Fatalf("no Run ID found in output:\n%s", text)
	return ""
}

// --- talk_cases ---

func TestTalkCases(t *testing.T) {
	cs := setup(t, newRunner(t, fakepair.ReceiverNormal, fakepair.SenderNormal))
	res := callTool(t, cs, "talk_cases", nil)
	text := resultText(res)
	if res.IsError {
		t.Fatalf("unexpected error: %s", text)
	}
	for _, want := range []string{"1. pid", "Multiple messages", "6. ack", "bonus", "required"} {
		if !strings.Contains(text, want) {
			t.Errorf("expected %q in output, got:\n%s", want, text)
		}
	}
}

// --- talk_run ---

func TestTalkRun_Passing(t *testing.T) {
	cs := setup(t, newRunner(t, fakepair.ReceiverNormal, fakepair.SenderNormal))
	res := callTool(t, cs, "talk_run", map[string]any{"cases": []string{"pid", "single"}})
	text := resultText(res)
	if res.IsError {
		t.Fatalf("unexpected error: %s", text)
	}
	if !strings.Contains(text, "Status: PASS (required 2/2, bonus 0/0)") {
		t.Errorf("expected Status: PASS, got:\n%s", text)
	}
	if strings.Contains(text, "talk_inspect") {
		t.Errorf("unexpected inspect hint on a passing run:\n%s", text)
	}
}

func TestTalkRun_SilentReceiver(t *testing.T) {
	cs := setup(t, newRunner(t, fakepair.ReceiverSilent, fakepair.SenderNormal))
	res := callTool(t, cs, "talk_run", map[string]any{"cases": []string{"single"}, "parallel": true})
	text := resultText(res)
	if res.IsError {
		t.Fatalf("unexpected error: %s", text)
	}
	if !strings.Contains(text, "Status: FAIL") {
		t.Errorf("expected Status: FAIL, got:\n%s", text)
	}
	if !strings.Contains(text, "talk_inspect") {
		t.Errorf("expected talk_inspect hint, got:\n%s", text)
	}
}

func TestTalkRun_UnknownCase(t *testing.T) {
	cs := setup(t, newRunner(t, fakepair.ReceiverNormal, fakepair.SenderNormal))
	res := callTool(t, cs, "talk_run", map[string]any{"cases": []string{"bogus"}})
	if !res.IsError {
		t.Errorf("expected IsError for unknown case, got:\n%s", resultText(res))
	}
}

func TestTalkRun_BuildFailure(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{Build: []string{"sh", "-c", "echo no toolchain >&2; exit 1"}}
	cs := setup(t, newRunner(t, fakepair.ReceiverNormal, fakepair.SenderNormal), WithWorkspace(cfg, dir))

	res := callTool(t, cs, "talk_run", nil)
	text := resultText(res)
	if !res.IsError {
		t.Fatalf("expected IsError when the build fails, got:\n%s", text)
	}
	if !strings.Contains(text, "no toolchain") {
		t.Errorf("expected build output in error, got:\n%s", text)
	}
}

func TestTalkRun_DefaultsToConfiguredCases(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"server", "client"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	cfg := &config.Config{Cases: []string{"pid"}}
	cs := setup(t, newRunner(t, fakepair.ReceiverNormal, fakepair.SenderNormal), WithWorkspace(cfg, dir))

	res := callTool(t, cs, "talk_run", nil)
	text := resultText(res)
	if res.IsError {
		t.Fatalf("unexpected error: %s", text)
	}
	if !strings.Contains(text, "required 1/1") {
		t.Errorf("expected only the configured case to run, got:\n%s", text)
	}

	res = callTool(t, cs, "talk_run", map[string]any{"cases": []string{"pid", "single"}})
	if text := resultText(res); !strings.Contains(text, "required 2/2") {
		t.Errorf("expected explicit cases to win over the configured ones, got:\n%s", text)
	}
}

// --- workspace ---

func TestUseWorkspace_KeepsOverrides(t *testing.T) {
	dir := t.TempDir()
	body := "receiver: ./from-file\nsender: ./client-from-file\nack:\n  policy: marker\n"
	if err := os.WriteFile(filepath.Join(dir, config.FileName), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	h := &handler{
		runner: newRunner(t, fakepair.ReceiverNormal, fakepair.SenderNormal),
		flags:  config.Overrides{Receiver: "/opt/bin/server", AckPolicy: "any-output"},
		log:    zaptest.NewLogger(t),
	}
	if err := h.useWorkspace(dir); err != nil {
		t.Fatalf("useWorkspace: %v", err)
	}

	ctrl, ok := h.runner.Driver.(*proc.Controller)
	if !ok {
		t.Fatalf("driver is %T, want *proc.Controller", h.runner.Driver)
	}
	if got := ctrl.Receiver; len(got) != 1 || got[0] != "/opt/bin/server" {
		t.Errorf("Receiver = %v, want the command-line override", got)
	}
	if got, want := ctrl.Sender, filepath.Join(dir, "client-from-file"); len(got) != 1 || got[0] != want {
		t.Errorf("Sender = %v, want %s from the file", got, want)
	}
	if ctrl.Ack.Mode != proc.AckAnyOutput {
		t.Errorf("Ack.Mode = %v, want the command-line override", ctrl.Ack.Mode)
	}
	if h.ws == nil || h.ws.root != dir || h.ws.cfg.Receiver != "/opt/bin/server" {
		t.Errorf("workspace not replaced with the overridden config: %+v", h.ws)
	}
}

func TestUseWorkspace_InvalidKeepsPrevious(t *testing.T) {
	dir := t.TempDir()
	prev := newRunner(t, fakepair.ReceiverNormal, fakepair.SenderNormal)
	h := &handler{
		runner: prev,
		flags:  config.Overrides{AckPolicy: "telepathy"},
		log:    zaptest.NewLogger(t),
	}
	if err := h.useWorkspace(dir); err == nil {
		t.Fatal("expected an invalid override to be rejected")
	}
	if h.runner != prev || h.ws != nil {
		t.Error("runner replaced despite the error")
	}
}

// --- talk_inspect ---

func TestTalkInspect_MissingRunID(t *testing.T) {
	cs := setup(t, newRunner(t, fakepair.ReceiverNormal, fakepair.SenderNormal))
	_, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name: "talk_inspect",
		Arguments: map[string]any{
			"case": "single",
		},
	})
	if err == nil {
		t.Error("expected error for missing run_id")
	}
}

func TestTalkInspect_InvalidRunID(t *testing.T) {
	cs := setup(t, newRunner(t, fakepair.ReceiverNormal, fakepair.SenderNormal))
	res := callTool(t, cs, "talk_inspect", map[string]any{
		"run_id": "nonexistent-id",
	})
	if !res.IsError {
		t.Error("expected IsError for invalid run_id")
	}
}

func TestTalkInspect_AfterRun(t *testing.T) {
	cs := setup(t, newRunner(t, fakepair.ReceiverNormal, fakepair.SenderQuiet))

	runRes := callTool(t, cs, "talk_run", map[string]any{"cases": []string{"multi", "ack"}})
	id := runID(t, resultText(runRes))

	res := callTool(t, cs, "talk_inspect", map[string]any{
		"run_id": id,
		"case":   "multi",
	})
	text := resultText(res)
	if res.IsError {
		t.Fatalf("unexpected error from talk_inspect: %s", text)
	}
	if got := strings.Count(text, "Sent:"); got != scenario.MultiCount {
		t.Errorf("expected %d records, got %d:\n%s", scenario.MultiCount, got, text)
	}

	// A quiet sender never acknowledges under the default marker policy.
	res = callTool(t, cs, "talk_inspect", map[string]any{
		"run_id": id,
		"case":   "ack",
	})
	text = resultText(res)
	if !strings.Contains(text, "no acknowledgement") {
		t.Errorf("expected failure reason for ack, got:\n%s", text)
	}

	res = callTool(t, cs, "talk_inspect", map[string]any{
		"run_id": id,
		"case":   "unicode",
	})
	if text := resultText(res); !strings.Contains(text, "No records found") {
		t.Errorf("expected no records for a case that did not run, got:\n%s", text)
	}
}
