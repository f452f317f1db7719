// Package mcp provides the talkcheck MCP server, exposing the conformance
// cases as tools.
package mcp

import (
	"context"
	_ "embed"
	"net/url"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/deixis/talkcheck"
	"github.com/deixis/talkcheck/internal/build"
	"github.com/deixis/talkcheck/internal/config"
	"github.com/deixis/talkcheck/internal/report"
	"github.com/deixis/talkcheck/internal/scenario"
)

//go:embed instructions.md
var Instructions string

// handler holds shared dependencies for all tool handlers.
type handler struct {
	mu     sync.Mutex // one run at a time; guards runner and ws
	runner *scenario.Runner
	store  report.Store
	ws     *workspace // nil when programs are not built on demand
	flags  config.Overrides
	log    *zap.Logger
}

// workspace is the directory the programs under test live in.
type workspace struct {
	cfg  *config.Config
	root string
}

// NewServer creates an MCP server with all talkcheck tools registered.
func NewServer(r *scenario.Runner, store report.Store, opts ...ServerOption) *mcp.Server {
	var so serverOptions
	for _, o := range opts {
		o(&so)
	}
	h := &handler{
		runner: r,
		store:  store,
		ws:     so.ws,
		flags:  so.flags,
		log:    so.log,
	}
	if h.log == nil {
		h.log = zap.NewNop()
	}

	mcpOpts := &mcp.ServerOptions{
		Instructions: Instructions,
		Capabilities: &mcp.ServerCapabilities{
			Tools: &mcp.ToolCapabilities{ListChanged: false},
		},
	}
	if h.ws != nil {
		mcpOpts.InitializedHandler = func(ctx context.Context, req *mcp.InitializedRequest) {
			h.updateWorkspaceFromRoots(ctx, req.Session)
		}
	}
	s := mcp.NewServer(&mcp.Implementation{Name: "talkcheck", Version: talkcheck.Version}, mcpOpts)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "talk_cases",
		Description: "List the conformance cases with their ids, categories and what each one checks.",
	}, h.casesHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name: "talk_run",
		Description: `Run conformance cases against the receiver and sender programs.

Each case launches a fresh receiver, drives it with the sender and always terminates it.
Returns the summary table and a run id. Evidence for each record is kept for talk_inspect.`,
	}, h.runHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name: "talk_inspect",
		Description: `Show the evidence of a talk_run: what was sent, what the receiver printed, and why records failed.

Use the run_id from talk_run. Narrow it down with a case id (e.g. multi) or record name.`,
	}, h.inspectHandler)

	return s
}

// ServerOption configures the talkcheck MCP server.
type ServerOption func(*serverOptions)

type serverOptions struct {
	ws    *workspace
	flags config.Overrides
	log   *zap.Logger
}

// WithWorkspace makes talk_run build missing programs with the command cfg
// names, and lets the client's first root replace root.
func WithWorkspace(cfg *config.Config, root string) ServerOption {
	return func(o *serverOptions) {
		o.ws = &workspace{cfg: cfg, root: root}
	}
}

// WithOverrides keeps command-line settings in force when the workspace
// is replaced by a client root.
func WithOverrides(o config.Overrides) ServerOption {
	return func(so *serverOptions) {
		so.flags = o
	}
}

// WithLogger sets the server's logger.
func WithLogger(log *zap.Logger) ServerOption {
	return func(o *serverOptions) {
		o.log = log
	}
}

// updateWorkspaceFromRoots queries the client for MCP roots and rebuilds
// the runner from the configuration found there. This is called during
// session initialization, before any tool calls.
func (h *handler) updateWorkspaceFromRoots(ctx context.Context, session *mcp.ServerSession) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	roots, err := session.ListRoots(ctx, &mcp.ListRootsParams{})
	if err != nil {
		return
	}
	if len(roots.Roots) == 0 {
		return
	}

	u, err := url.Parse(roots.Roots[0].URI)
	if err != nil || u.Scheme != "file" {
		return
	}

	if err := h.useWorkspace(u.Path); err != nil {
		h.log.Warn("ignoring client root", zap.String("root", u.Path), zap.Error(err))
	}
}

// useWorkspace loads the configuration governing dir, applies the
// command-line overrides and rebuilds the runner from it.
func (h *handler) useWorkspace(dir string) error {
	loaded, err := config.Load(dir)
	if err != nil {
		return err
	}
	cfg := loaded.Config
	h.flags.Apply(cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	r, err := scenario.New(cfg, loaded.Root, h.runner.Metrics, h.runner.Logger)
	if err != nil {
		return err
	}
	h.runner = r
	h.ws = &workspace{cfg: cfg, root: loaded.Root}
	h.log.Info("workspace set from client root", zap.String("root", loaded.Root))
	return nil
}

// ensureBuilt builds missing programs when a workspace is configured.
func (h *handler) ensureBuilt(ctx context.Context) error {
	if h.ws == nil {
		return nil
	}
	x, target := build.FromConfig(h.ws.cfg, h.ws.root)
	return build.Ensure(ctx, x, target, h.log)
}

// textResult is a helper to build a text-only tool result.
func textResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}, nil, nil
}

// errorResult is a helper to build an error tool result.
func errorResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: true,
	}, nil, nil
}
