package scenario

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/deixis/talkcheck/internal/proc"
	"github.com/deixis/talkcheck/internal/report"
	"github.com/deixis/talkcheck/internal/watch"
)

// session is one case in flight: a launched receiver and the collector
// its records go to.
type session struct {
	ctx    context.Context
	runner *Runner
	c      Case
	h      *proc.Handle
	col    report.Collector
	log    *zap.Logger

	recorded int
}

// record fills in the case fields of rec and hands it on.
func (s *session) record(rec report.CaseRecord) {
	rec.Case = s.c.ID
	rec.Category = s.c.Category
	if rec.Name == "" {
		rec.Name = s.c.Name
	}
	s.recorded++
	s.runner.Metrics.CaseRecorded(rec)
	s.col.Record(rec)
}

func (s *session) send(payload string, awaitAck bool) (proc.SendOutcome, error) {
	out, err := s.runner.Driver.SendOnce(s.ctx, s.h.Identity, payload, awaitAck)
	if err != nil {
		return out, err
	}
	ack := "none"
	if awaitAck {
		ack = out.Ack.String()
	}
	s.runner.Metrics.SendObserved(ack, out.Duration)
	return out, nil
}

func (s *session) observe(expected string) watch.Observation {
	obs := s.runner.Watcher.Await(s.ctx, s.h, expected)
	s.log.Debug("observed receiver",
		zap.Bool("found", obs.Found),
		zap.Int("lines", obs.Lines),
		zap.Duration("elapsed", obs.Elapsed),
	)
	return obs
}

// deliver sends payload and waits for the receiver to show it. The record
// it returns passes when the payload was seen.
func (s *session) deliver(name, payload string) report.CaseRecord {
	rec := report.CaseRecord{Name: name, Sent: payload}

	out, err := s.send(payload, false)
	rec.Duration = out.Duration
	if err != nil {
		rec.Detail = "sender: " + err.Error()
		return rec
	}

	obs := s.observe(payload)
	rec.Observed = obs.Output
	rec.Passed = obs.Found
	if !obs.Found {
		rec.Detail = s.missDetail(obs)
		if out.ExitCode != 0 {
			rec.Detail += fmt.Sprintf("; sender exited %d", out.ExitCode)
		}
	}
	return rec
}

func (s *session) missDetail(obs watch.Observation) string {
	if obs.Closed {
		return "receiver closed its output before the message appeared"
	}
	if err := s.ctx.Err(); err != nil {
		return "interrupted: " + err.Error()
	}
	timeout := s.runner.Watcher.Timeout
	if timeout <= 0 {
		timeout = watch.DefaultTimeout
	}
	return fmt.Sprintf("message not seen within %s", timeout)
}

func driveIdentity(s *session) {
	s.record(report.CaseRecord{
		Passed:   true,
		Observed: fmt.Sprintf("identity %d", s.h.Identity),
	})
}

func driveSingle(s *session) {
	s.record(s.deliver(s.c.Name, s.runner.ascii(SinglePayloadLen)))
}

func driveMultiple(s *session) {
	for i := range MultiCount {
		name := fmt.Sprintf("%s (%d/%d)", s.c.Name, i+1, MultiCount)
		s.record(s.deliver(name, s.runner.ascii(MultiPayloadLen)))
		if s.ctx.Err() != nil {
			return
		}
	}
}

func drivePerf(s *session) {
	rec := s.deliver(s.c.Name, s.runner.ascii(PerfPayloadLen))
	budget := s.runner.latencyBudget()
	if rec.Passed && rec.Duration >= budget {
		rec.Passed = false
		rec.Detail = fmt.Sprintf("round trip %s exceeds %s budget", rec.Duration.Round(time.Millisecond), budget)
	} else if rec.Passed {
		rec.Detail = fmt.Sprintf("round trip %s", rec.Duration.Round(time.Millisecond))
	}
	s.record(rec)
}

func driveUnicode(s *session) {
	s.record(s.deliver(s.c.Name, s.runner.unicode()))
}

// driveAck passes on the sender's acknowledgement alone. The receiver is
// still watched so the record shows whether the message got through.
func driveAck(s *session) {
	payload := ackPrefix + s.runner.ascii(3)
	rec := report.CaseRecord{Sent: payload}

	out, err := s.send(payload, true)
	rec.Duration = out.Duration
	if err != nil {
		rec.Detail = "sender: " + err.Error()
		s.record(rec)
		return
	}
	rec.Observed = strings.TrimSpace(out.Stdout)
	rec.Passed = out.Acknowledged()

	switch {
	case out.TimedOut:
		rec.Detail = fmt.Sprintf("sender still running after %s; killed", out.Duration.Round(time.Millisecond))
	case !rec.Passed:
		rec.Detail = "no acknowledgement in sender output"
		if out.ExitCode != 0 {
			rec.Detail += fmt.Sprintf("; sender exited %d", out.ExitCode)
		}
	}
	if !out.TimedOut {
		if obs := s.observe(payload); !obs.Found {
			if rec.Detail != "" {
				rec.Detail += "; "
			}
			rec.Detail += "receiver never showed the message"
		}
	}
	s.record(rec)
}
