// Command talkcheck checks a receiver/sender pair for conformance.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/urfave/cli/v2"

	"github.com/deixis/talkcheck"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "talkcheck: %v\n", err)
		os.Exit(exitCode(err))
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "talkcheck",
		Usage:   "check a receiver/sender messaging pair",
		Version: talkcheck.Version,
		Description: `talkcheck launches the receiver, reads its pid from the first line it prints,
drives it with the sender and checks that every message shows up in its output.`,
		Flags: globalFlags,
		Commands: []*cli.Command{
			menuCommand,
			runCommand,
			listCommand,
			mcpCommand,
			versionCommand,
		},
		Action: menuCommand.Action,
		// Errors are reported once, by main, with the right exit code.
		ExitErrHandler: func(*cli.Context, error) {},
	}
}

// errFailed means a required case failed.
var errFailed = errors.New("required cases failed")

// exitCode maps an error from the app to the process exit status:
// 1 when required cases failed, 2 when the harness itself could not run.
func exitCode(err error) int {
	var exitErr cli.ExitCoder
	switch {
	case errors.As(err, &exitErr):
		return exitErr.ExitCode()
	case errors.Is(err, errFailed):
		return 1
	}
	return 2
}

var versionCommand = &cli.Command{
	Name:  "version",
	Usage: "print the version",
	Action: func(c *cli.Context) error {
		fmt.Fprintln(c.App.Writer, talkcheck.Version)
		return nil
	},
}
