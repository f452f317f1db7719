package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	talkmcp "github.com/deixis/talkcheck/internal/mcp"
	"github.com/deixis/talkcheck/internal/metrics"
	"github.com/deixis/talkcheck/internal/report"
)

var mcpCommand = &cli.Command{
	Name:  "mcp",
	Usage: "start the MCP server",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "instructions",
			Usage: "print model instructions and exit",
		},
		&cli.StringFlag{
			Name:  "http",
			Usage: "start HTTP server on address (e.g. :9090) instead of stdio",
		},
	},
	Action: mcpMain,
}

func mcpMain(c *cli.Context) error {
	if c.Bool("instructions") {
		fmt.Fprint(c.App.Writer, talkmcp.Instructions)
		return nil
	}

	e, err := newEnv(c)
	if err != nil {
		return err
	}
	defer func() { _ = e.log.Sync() }()

	m := metrics.New()
	r, err := e.runner(m)
	if err != nil {
		return err
	}

	disk := report.NewDiskStore()
	defer func() { _ = disk.Close() }()
	store := report.NewLRUStore(5, disk)

	server := talkmcp.NewServer(r, store,
		talkmcp.WithWorkspace(e.cfg, e.root),
		talkmcp.WithOverrides(e.overrides),
		talkmcp.WithLogger(e.log),
	)

	if addr := c.String("http"); addr != "" {
		return serveHTTP(c.Context, server, addr, m, e.log)
	}
	return server.Run(c.Context, &mcpsdk.StdioTransport{})
}

func serveHTTP(ctx context.Context, server *mcpsdk.Server, addr string, m *metrics.Recorder, log *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.Handle("/", mcpsdk.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcpsdk.Server { return server },
		nil,
	))

	httpServer := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		_ = httpServer.Close()
	}()

	log.Info("listening", zap.String("addr", addr))
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}
