package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/deixis/talkcheck/internal/report"
	"github.com/deixis/talkcheck/internal/scenario"
)

type casesParams struct{}

func (h *handler) casesHandler(ctx context.Context, req *mcp.CallToolRequest, _ casesParams) (*mcp.CallToolResult, any, error) {
	var b strings.Builder
	for i, c := range scenario.Catalogue() {
		fmt.Fprintf(&b, "%d. %s (%s, %s): %s\n", i+1, c.ID, c.Name, c.Category, c.Description)
	}
	return textResult(b.String())
}

type runParams struct {
	Cases    []string `json:"cases,omitempty" jsonschema:"case ids, names or 1-based numbers to run (e.g. single, multi). Defaults to the cases listed in .talkcheck, or every case."`
	Parallel bool     `json:"parallel,omitempty" jsonschema:"run the cases concurrently, each with its own receiver. Default: false."`
}

func (h *handler) runHandler(ctx context.Context, req *mcp.CallToolRequest, params runParams) (*mcp.CallToolResult, any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ids := params.Cases
	if len(ids) == 0 && h.ws != nil {
		ids = h.ws.cfg.Cases
	}
	if _, err := scenario.Select(ids); err != nil {
		return errorResult(err.Error())
	}
	if err := h.ensureBuilt(ctx); err != nil {
		return errorResult(fmt.Sprintf("Programs under test are not available: %v", err))
	}

	result, err := h.runner.Execute(ctx, ids, params.Parallel, nil)
	if err != nil {
		return errorResult(fmt.Sprintf("Run interrupted: %v", err))
	}
	if err := h.store.Save(result); err != nil {
		h.log.Warn("saving run", zap.String("run_id", result.ID), zap.Error(err))
	}

	return textResult(formatRunOutput(result))
}

func formatRunOutput(result *report.RunResult) string {
	var b strings.Builder
	summary := result.Summary()
	fmt.Fprintf(&b, "Run: %s\n", result.ID)
	fmt.Fprintf(&b, "Status: %s (required %s, bonus %s)\n\n", summary.Verdict(), summary.Required, summary.Bonus)
	report.Render(&b, result.Records, false)

	var failed []string
	for _, rec := range result.Records {
		if !rec.Passed {
			failed = append(failed, rec.Case)
		}
	}
	if len(failed) > 0 {
		fmt.Fprintf(&b, "\nUse talk_inspect with run_id %s and a case (e.g. %s) for evidence.\n", result.ID, failed[0])
	}
	return b.String()
}

type inspectParams struct {
	RunID string `json:"run_id" jsonschema:"the run ID from a talk_run result"`
	Case  string `json:"case,omitempty" jsonschema:"case id (e.g. multi) or record name to narrow to. Defaults to every record of the run."`
}

func (h *handler) inspectHandler(ctx context.Context, req *mcp.CallToolRequest, params inspectParams) (*mcp.CallToolResult, any, error) {
	if params.RunID == "" {
		return errorResult("run_id is required")
	}

	result, err := h.store.Load(params.RunID)
	if err != nil {
		return errorResult(fmt.Sprintf("Failed to load run %s: %v", params.RunID, err))
	}

	records := result.ByCase(params.Case)
	if len(records) == 0 {
		return textResult(fmt.Sprintf("No records found for %q in run %s.", params.Case, params.RunID))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Run: %s (%s)\n\n", params.RunID, result.StartedAt.Format("2006-01-02 15:04:05"))
	p := &report.Printer{W: &b}
	for _, rec := range records {
		p.Record(rec)
	}
	return textResult(b.String())
}
