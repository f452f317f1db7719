// Package report collects the case records of a run, renders them for the
// operator, and persists finished runs for later inspection.
package report

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Category partitions records in the summary.
type Category string

const (
	// Required records decide the overall verdict.
	Required Category = "required"
	// Bonus records are reported but never fail a run.
	Bonus Category = "bonus"
)

// CaseRecord is one assertion made by a case.
type CaseRecord struct {
	Case     string        `json:"case"` // catalogue id of the case that made it
	Name     string        `json:"name"`
	Passed   bool          `json:"passed"`
	Category Category      `json:"category"`
	Duration time.Duration `json:"duration,omitempty"` // sender round trip, when measured
	Sent     string        `json:"sent,omitempty"`
	Observed string        `json:"observed,omitempty"`
	Detail   string        `json:"detail,omitempty"` // why it failed, or a measurement
}

// Collector receives records as cases make them.
type Collector interface {
	Record(rec CaseRecord)
}

// Log is the record list of one run. It is not safe for concurrent use:
// cases running in parallel each get their own Log, merged afterwards.
type Log struct {
	records []CaseRecord
}

// Record appends rec.
func (l *Log) Record(rec CaseRecord) {
	l.records = append(l.records, rec)
}

// Records returns a copy of the records in the order they were made.
func (l *Log) Records() []CaseRecord {
	return slices.Clone(l.records)
}

// Len returns the number of records.
func (l *Log) Len() int { return len(l.records) }

// Reset empties the log for a new run.
func (l *Log) Reset() { l.records = l.records[:0] }

// Merge appends the records of others, in argument order.
func (l *Log) Merge(others ...*Log) {
	for _, o := range others {
		l.records = append(l.records, o.records...)
	}
}

// Tee returns a Collector forwarding every record to each of cs.
func Tee(cs ...Collector) Collector { return tee(cs) }

type tee []Collector

func (t tee) Record(rec CaseRecord) {
	for _, c := range t {
		c.Record(rec)
	}
}

// CollectorFunc adapts a function to a Collector.
type CollectorFunc func(CaseRecord)

// Record calls f(rec).
func (f CollectorFunc) Record(rec CaseRecord) { f(rec) }

// RunResult is a finished run.
type RunResult struct {
	ID        string        `json:"id"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Cases     []string      `json:"cases"`
	Records   []CaseRecord  `json:"records"`
}

// Summary returns the tallies of the run.
func (r *RunResult) Summary() Summary { return Summarize(r.Records) }

// ByCase returns the records whose case id or name matches query,
// ignoring case. An empty query matches everything.
func (r *RunResult) ByCase(query string) []CaseRecord {
	if query == "" {
		return slices.Clone(r.Records)
	}
	var out []CaseRecord
	for _, rec := range r.Records {
		if strings.EqualFold(rec.Case, query) || strings.EqualFold(rec.Name, query) ||
			strings.Contains(strings.ToLower(rec.Name), strings.ToLower(query)) {
			out = append(out, rec)
		}
	}
	return out
}

// Tally counts passes within one category.
type Tally struct {
	Passed int `json:"passed"`
	Total  int `json:"total"`
}

func (t Tally) String() string { return fmt.Sprintf("%d/%d", t.Passed, t.Total) }

// Summary partitions a run's records into required and bonus.
type Summary struct {
	Required Tally `json:"required"`
	Bonus    Tally `json:"bonus"`
	// Passed is true when every required record passed.
	Passed bool `json:"passed"`
}

// Summarize tallies records.
func Summarize(records []CaseRecord) Summary {
	var s Summary
	for _, rec := range records {
		t := &s.Required
		if rec.Category == Bonus {
			t = &s.Bonus
		}
		t.Total++
		if rec.Passed {
			t.Passed++
		}
	}
	s.Passed = s.Required.Passed == s.Required.Total
	return s
}

// Verdict is a one-word rendering of Passed.
func (s Summary) Verdict() string {
	if s.Passed {
		return "PASS"
	}
	return "FAIL"
}
