// Package scenario runs the conformance cases against a receiver/sender
// pair. Each case owns one receiver from launch to termination and turns
// everything that happens in between into case records.
package scenario

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/deixis/talkcheck/internal/fixture"
	"github.com/deixis/talkcheck/internal/metrics"
	"github.com/deixis/talkcheck/internal/proc"
	"github.com/deixis/talkcheck/internal/report"
	"github.com/deixis/talkcheck/internal/watch"
)

// DefaultLatencyBudget is the round trip the performance case allows.
const DefaultLatencyBudget = time.Second

// Driver launches, drives and stops the programs under test.
// Implemented by proc.Controller.
type Driver interface {
	LaunchReceiver(ctx context.Context) (*proc.Handle, error)
	SendOnce(ctx context.Context, identity int, payload string, awaitAck bool) (proc.SendOutcome, error)
	Terminate(h *proc.Handle) error
}

// Runner holds shared dependencies for all cases.
type Runner struct {
	Driver        Driver
	Watcher       watch.Watcher
	Fixtures      *fixture.Generator // nil draws from the package-level source
	LatencyBudget time.Duration
	Parallelism   int // RunParallel limit; zero or less runs every case at once
	Metrics       *metrics.Recorder
	Logger        *zap.Logger
}

// Run runs the selected cases one after another in catalogue order,
// handing every record to col as it is made. Case failures become
// records; the only errors are an unknown case or a cancelled ctx.
func (r *Runner) Run(ctx context.Context, ids []string, col report.Collector) error {
	cases, err := Select(ids)
	if err != nil {
		return err
	}
	for _, c := range cases {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.RunCase(ctx, c, col)
	}
	return nil
}

// RunParallel runs the selected cases concurrently, each with its own
// receiver and its own log. The logs are merged in catalogue order.
func (r *Runner) RunParallel(ctx context.Context, ids []string) (*report.Log, error) {
	cases, err := Select(ids)
	if err != nil {
		return nil, err
	}

	logs := make([]*report.Log, len(cases))
	g, gctx := errgroup.WithContext(ctx)
	if r.Parallelism > 0 {
		g.SetLimit(r.Parallelism)
	}
	for i, c := range cases {
		logs[i] = &report.Log{}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r.RunCase(gctx, c, logs[i])
			return nil
		})
	}
	err = g.Wait()

	merged := &report.Log{}
	merged.Merge(logs...)
	return merged, err
}

// Execute runs the selected cases, sequentially or in parallel, and
// returns the finished run. col, when not nil, sees every record: as it
// is made when sequential, after the merge when parallel.
func (r *Runner) Execute(ctx context.Context, ids []string, parallel bool, col report.Collector) (*report.RunResult, error) {
	cases, err := Select(ids)
	if err != nil {
		return nil, err
	}
	result := &report.RunResult{
		ID:        uuid.New().String(),
		StartedAt: time.Now(),
	}
	for _, c := range cases {
		result.Cases = append(result.Cases, c.ID)
	}

	log := r.logger().With(zap.String("run_id", result.ID))
	log.Info("run started", zap.Strings("cases", result.Cases), zap.Bool("parallel", parallel))

	var records *report.Log
	if parallel {
		records, err = r.RunParallel(ctx, result.Cases)
		if col != nil {
			for _, rec := range records.Records() {
				col.Record(rec)
			}
		}
	} else {
		records = &report.Log{}
		var sink report.Collector = records
		if col != nil {
			sink = report.Tee(records, col)
		}
		err = r.Run(ctx, result.Cases, sink)
	}
	result.Records = records.Records()
	result.Duration = time.Since(result.StartedAt)

	summary := result.Summary()
	log.Info("run finished",
		zap.Duration("duration", result.Duration),
		zap.Stringer("required", summary.Required),
		zap.Stringer("bonus", summary.Bonus),
		zap.String("verdict", summary.Verdict()),
	)
	return result, err
}

// RunCase runs one case. The receiver it launches is terminated before
// RunCase returns, whatever happens while the case drives it.
func (r *Runner) RunCase(ctx context.Context, c Case, col report.Collector) {
	log := r.logger().With(zap.String("case", c.ID))
	s := &session{
		ctx:    ctx,
		runner: r,
		c:      c,
		col:    col,
		log:    log,
	}

	start := time.Now()
	log.Debug("case started")
	defer func() {
		log.Debug("case finished", zap.Duration("duration", time.Since(start)), zap.Int("records", s.recorded))
	}()

	h, err := r.Driver.LaunchReceiver(ctx)
	if err != nil {
		r.Metrics.LaunchFailed()
		log.Info("receiver did not start", zap.Error(err))
		s.record(report.CaseRecord{
			Name:   c.Name,
			Detail: "setup: " + err.Error(),
		})
		return
	}
	s.h = h
	log = log.With(zap.Int("pid", h.Pid()), zap.Int("identity", h.Identity))
	s.log = log

	defer func() {
		if p := recover(); p != nil {
			log.Error("case aborted", zap.Any("panic", p))
			s.record(report.CaseRecord{
				Name:   c.Name,
				Detail: fmt.Sprintf("aborted: %v", p),
			})
		}
		if err := r.Driver.Terminate(h); err != nil {
			log.Warn("terminating receiver", zap.Error(err))
		}
	}()

	c.drive(s)
}

func (r *Runner) latencyBudget() time.Duration {
	if r.LatencyBudget > 0 {
		return r.LatencyBudget
	}
	return DefaultLatencyBudget
}

func (r *Runner) ascii(n int) string {
	if r.Fixtures == nil {
		return fixture.RandomASCII(n)
	}
	return r.Fixtures.ASCII(n)
}

func (r *Runner) unicode() string {
	if r.Fixtures == nil {
		return fixture.RandomUnicode()
	}
	return r.Fixtures.Unicode()
}

func (r *Runner) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}
