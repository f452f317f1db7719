package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/urfave/cli/v2"

	"github.com/deixis/talkcheck/internal/metrics"
	"github.com/deixis/talkcheck/internal/report"
	"github.com/deixis/talkcheck/internal/scenario"
)

var runCommand = &cli.Command{
	Name:      "run",
	Usage:     "run cases non-interactively",
	ArgsUsage: "[case...]",
	Flags: []cli.Flag{
		&cli.StringSliceFlag{
			Name:  "case",
			Usage: "case id, name or number to run; repeatable (default: all, or the config's cases)",
		},
		&cli.BoolFlag{
			Name:  "parallel",
			Usage: "run cases concurrently, each with its own receiver",
		},
		&cli.BoolFlag{
			Name:  "json",
			Usage: "print the run as JSON instead of the report",
		},
		&cli.StringFlag{
			Name:  "metrics-addr",
			Usage: "serve Prometheus metrics on this address while running (e.g. :9090)",
		},
	},
	Action: runMain,
}

func runMain(c *cli.Context) error {
	e, err := newEnv(c)
	if err != nil {
		return err
	}
	defer func() { _ = e.log.Sync() }()

	ids := append(c.StringSlice("case"), c.Args().Slice()...)
	if len(ids) == 0 {
		ids = e.cfg.Cases
	}
	if _, err := scenario.Select(ids); err != nil {
		return cli.Exit(err.Error(), 2)
	}

	if err := e.ensureBuilt(c.Context); err != nil {
		return err
	}

	m := metrics.New()
	if addr := c.String("metrics-addr"); addr != "" {
		shutdown, err := e.serveMetrics(c.Context, addr, m)
		if err != nil {
			return err
		}
		defer shutdown()
	}

	r, err := e.runner(m)
	if err != nil {
		return err
	}

	out := c.App.Writer
	asJSON := c.Bool("json")
	var col report.Collector
	if !asJSON {
		col = &report.Printer{W: out, Color: useColor(c)}
	}

	result, err := r.Execute(c.Context, ids, c.Bool("parallel"), col)
	if err != nil {
		return fmt.Errorf("run interrupted: %w", err)
	}

	if asJSON {
		if err := writeJSON(out, result); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(out)
		report.Render(out, result.Records, useColor(c))
	}

	if !result.Summary().Passed {
		return errFailed
	}
	return nil
}

func writeJSON(w io.Writer, result *report.RunResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		*report.RunResult
		Summary report.Summary `json:"summary"`
	}{result, result.Summary()})
}

var listCommand = &cli.Command{
	Name:  "list",
	Usage: "list the cases",
	Action: func(c *cli.Context) error {
		for i, cs := range scenario.Catalogue() {
			fmt.Fprintf(c.App.Writer, "%d  %-8s %-22s %-9s %s\n", i+1, cs.ID, cs.Name, cs.Category, cs.Description)
		}
		return nil
	},
}
