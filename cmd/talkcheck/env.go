package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/deixis/talkcheck/internal/build"
	"github.com/deixis/talkcheck/internal/config"
	"github.com/deixis/talkcheck/internal/metrics"
	"github.com/deixis/talkcheck/internal/scenario"
)

var globalFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "config",
		Usage:   "path to a .talkcheck file (default: looked up from the working directory)",
		EnvVars: []string{"TALKCHECK_CONFIG"},
	},
	&cli.StringFlag{
		Name:  "receiver",
		Usage: "receiver binary (default ./server)",
	},
	&cli.StringFlag{
		Name:  "sender",
		Usage: "sender binary (default ./client)",
	},
	&cli.StringFlag{
		Name:  "ack-policy",
		Usage: `what counts as an acknowledgement: "marker" or "any-output"`,
	},
	&cli.BoolFlag{
		Name:  "no-color",
		Usage: "disable coloured output",
	},
	&cli.BoolFlag{
		Name:  "verbose",
		Usage: "log process lifecycle at debug level",
	},
}

// env is what every command needs: the configuration, where the programs
// live, and the logger.
type env struct {
	cfg       *config.Config
	root      string
	overrides config.Overrides
	log       *zap.Logger
}

func newEnv(c *cli.Context) (*env, error) {
	log, err := newLogger(c.Bool("verbose"))
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	var loaded *config.LoadResult
	if path := c.String("config"); path != "" {
		loaded, err = config.LoadFile(path)
	} else {
		var wd string
		wd, err = os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("determining workspace: %w", err)
		}
		loaded, err = config.Load(wd)
	}
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	cfg := loaded.Config
	overrides := config.Overrides{
		Receiver:  c.String("receiver"),
		Sender:    c.String("sender"),
		AckPolicy: c.String("ack-policy"),
	}
	overrides.Apply(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	log.Debug("configuration loaded", zap.String("path", loaded.Path), zap.String("root", loaded.Root))
	return &env{cfg: cfg, root: loaded.Root, overrides: overrides, log: log}, nil
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

// ensureBuilt makes sure both programs exist, building them if needed.
func (e *env) ensureBuilt(ctx context.Context) error {
	x, target := build.FromConfig(e.cfg, e.root)
	return build.Ensure(ctx, x, target, e.log)
}

func (e *env) runner(m *metrics.Recorder) (*scenario.Runner, error) {
	return scenario.New(e.cfg, e.root, m, e.log)
}

// serveMetrics exposes m on addr until ctx is done.
func (e *env) serveMetrics(ctx context.Context, addr string, m *metrics.Recorder) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.log.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	e.log.Info("serving metrics", zap.String("addr", ln.Addr().String()))

	return func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

// useColor reports whether output should be coloured.
func useColor(c *cli.Context) bool {
	if c.Bool("no-color") {
		return false
	}
	f, ok := c.App.Writer.(*os.File)
	if !ok {
		return false
	}
	fi, err := f.Stat()
	return err == nil && fi.Mode()&os.ModeCharDevice != 0
}
