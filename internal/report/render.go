package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Printer is a Collector writing each record's evidence as it arrives:
// what was sent, what was observed and, on failure, why.
type Printer struct {
	W     io.Writer
	Color bool
}

// Record prints rec.
func (p *Printer) Record(rec CaseRecord) {
	var b strings.Builder
	fmt.Fprintf(&b, "\n%s %s", p.mark(rec.Passed, true), p.paint(rec.Name, text.Bold))
	if rec.Duration > 0 {
		fmt.Fprintf(&b, " (%s)", formatDuration(rec.Duration))
	}
	fmt.Fprintln(&b)
	fmt.Fprintf(&b, "    Sent:     %s\n", indent(rec.Sent))
	fmt.Fprintf(&b, "    Observed: %s\n", indent(rec.Observed))
	if !rec.Passed && rec.Detail != "" {
		fmt.Fprintf(&b, "    Reason:   %s\n", p.paint(indent(rec.Detail), text.FgRed))
	}
	_, _ = io.WriteString(p.W, b.String())
}

func (p *Printer) mark(passed, bracket bool) string {
	return markFor(passed, bracket, p.Color)
}

func (p *Printer) paint(s string, c text.Color) string {
	if !p.Color {
		return s
	}
	return text.Colors{c}.Sprint(s)
}

// Render writes the run summary table: required records first, then bonus
// records, then the tallies and verdict.
func Render(w io.Writer, records []CaseRecord, color bool) {
	s := Summarize(records)

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("Summary")
	t.AppendHeader(table.Row{"", "Case", "Category", "Duration", "Detail"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Case", WidthMax: 50, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Detail", WidthMax: 60, WidthMaxEnforcer: text.WrapSoft},
	})

	for _, cat := range []Category{Required, Bonus} {
		n := 0
		for _, rec := range records {
			if categoryOf(rec) != cat {
				continue
			}
			detail := ""
			if !rec.Passed {
				detail = rec.Detail
			}
			dur := ""
			if rec.Duration > 0 {
				dur = formatDuration(rec.Duration)
			}
			t.AppendRow(table.Row{markFor(rec.Passed, false, color), rec.Name, string(cat), dur, detail})
			n++
		}
		if n > 0 {
			t.AppendSeparator()
		}
	}

	t.AppendFooter(table.Row{
		"",
		fmt.Sprintf("required %s, bonus %s", s.Required, s.Bonus),
		"",
		"",
		s.Verdict(),
	})

	switch {
	case !color:
		t.SetStyle(table.StyleLight)
	case s.Passed:
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	default:
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	}
	t.Render()
}

func categoryOf(rec CaseRecord) Category {
	if rec.Category == Bonus {
		return Bonus
	}
	return Required
}

func markFor(passed, bracket, color bool) string {
	m, c := "✗", text.FgRed
	if passed {
		m, c = "✓", text.FgGreen
	}
	if bracket {
		m = "[" + m + "]"
	}
	if !color {
		return m
	}
	return text.Colors{c}.Sprint(m)
}

func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%.2fs", d.Seconds())
}

// indent aligns continuation lines under the evidence column.
func indent(s string) string {
	return strings.ReplaceAll(s, "\n", "\n              ")
}
