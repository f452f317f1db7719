package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/deixis/talkcheck/internal/report"
	"github.com/deixis/talkcheck/internal/scenario"
)

var menuCommand = &cli.Command{
	Name:  "menu",
	Usage: "pick cases to run from an interactive menu (default)",
	Action: func(c *cli.Context) error {
		e, err := newEnv(c)
		if err != nil {
			return err
		}
		defer func() { _ = e.log.Sync() }()

		if err := e.ensureBuilt(c.Context); err != nil {
			return err
		}
		r, err := e.runner(nil)
		if err != nil {
			return err
		}
		m := &menu{
			in:     c.App.Reader,
			out:    c.App.Writer,
			runner: r,
			color:  useColor(c),
			log:    e.log,
		}
		return m.run(c.Context)
	},
}

// menu runs cases picked one at a time by the operator.
type menu struct {
	in     io.Reader
	out    io.Writer
	runner *scenario.Runner
	color  bool
	log    *zap.Logger
}

func (m *menu) run(ctx context.Context) error {
	cases := scenario.Catalogue()
	all := len(cases) + 1
	quit := len(cases) + 2

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(m.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	var log report.Log
	for {
		m.prompt(cases, all, quit)

		var choice string
		select {
		case line, ok := <-lines:
			if !ok {
				m.log.Info("input closed; exiting")
				fmt.Fprintln(m.out)
				return nil
			}
			choice = strings.TrimSpace(line)
		case <-ctx.Done():
			m.log.Info("interrupted; exiting")
			fmt.Fprintln(m.out)
			return nil
		}

		var ids []string
		switch choice {
		case fmt.Sprint(quit), "q":
			return nil
		case fmt.Sprint(all):
			ids = scenario.IDs()
		default:
			c, ok := scenario.Lookup(choice)
			if !ok {
				fmt.Fprintf(m.out, "invalid choice %q\n", choice)
				continue
			}
			ids = []string{c.ID}
		}

		log.Reset()
		col := report.Tee(&log, &report.Printer{W: m.out, Color: m.color})
		if err := m.runner.Run(ctx, ids, col); err != nil {
			m.log.Info("run stopped", zap.Error(err))
		}
		fmt.Fprintln(m.out)
		report.Render(m.out, log.Records(), m.color)
	}
}

func (m *menu) prompt(cases []scenario.Case, all, quit int) {
	fmt.Fprintln(m.out)
	for i, c := range cases {
		fmt.Fprintf(m.out, "  %d. %s (%s)\n", i+1, c.Name, c.Category)
	}
	fmt.Fprintf(m.out, "  %d. All cases\n", all)
	fmt.Fprintf(m.out, "  %d. Quit\n", quit)
	fmt.Fprint(m.out, "> ")
}
