// Package watch waits for expected text to show up on a process's
// line-oriented output.
package watch

import (
	"context"
	"strings"
	"time"

	"github.com/acarl005/stripansi"
)

// DefaultTimeout is how long Await waits when no timeout is given.
const DefaultTimeout = 2 * time.Second

// LineSource delivers output one line at a time, in the order it was
// written. The channel is closed when no more output can arrive.
// Implemented by proc.Handle.
type LineSource interface {
	Lines() <-chan string
}

// Observation is the result of one wait.
type Observation struct {
	Found   bool          // the expected text appeared before the deadline
	Output  string        // all text read during the wait, trimmed
	Lines   int           // number of lines read
	Closed  bool          // the source ran dry before the text appeared
	Elapsed time.Duration // time spent waiting
}

// Watcher waits for text on a LineSource.
type Watcher struct {
	Timeout time.Duration
	// StripANSI also matches against output with terminal escape sequences
	// removed, and reports that cleaned output.
	StripANSI bool
}

// Await reads lines from src until expected is a substring of everything
// read so far, the timeout elapses, src is closed, or ctx is done.
//
// Every line read is kept: the search space only grows, and a match is
// reported only once all earlier lines have been scanned. Hitting the
// deadline sends nothing to the process; the caller just stops waiting.
func (w *Watcher) Await(ctx context.Context, src LineSource, expected string) Observation {
	timeout := w.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	start := time.Now()
	raw := newSearchBuffer(expected)
	var clean *searchBuffer
	if w.StripANSI {
		clean = newSearchBuffer(expected)
	}

	obs := Observation{}
	finish := func() Observation {
		obs.Elapsed = time.Since(start)
		if clean != nil {
			obs.Output = strings.TrimSpace(clean.String())
		} else {
			obs.Output = strings.TrimSpace(raw.String())
		}
		return obs
	}

	for {
		select {
		case line, ok := <-src.Lines():
			if !ok {
				obs.Closed = true
				return finish()
			}
			obs.Lines++
			found := raw.Append(line)
			if clean != nil && clean.Append(stripansi.Strip(line)) {
				found = true
			}
			if found {
				obs.Found = true
				return finish()
			}
		case <-timer.C:
			return finish()
		case <-ctx.Done():
			return finish()
		}
	}
}

// Await waits up to timeout for expected to appear on src.
func Await(ctx context.Context, src LineSource, expected string, timeout time.Duration) Observation {
	w := Watcher{Timeout: timeout}
	return w.Await(ctx, src, expected)
}

// searchBuffer accumulates lines and checks whether a needle is present,
// scanning only the region a new line can complete.
type searchBuffer struct {
	b      strings.Builder
	needle string
}

func newSearchBuffer(needle string) *searchBuffer {
	return &searchBuffer{needle: needle}
}

// Append adds line (and a newline) and reports whether the needle is now
// contained in the buffer.
func (s *searchBuffer) Append(line string) bool {
	from := s.b.Len() - len(s.needle) + 1
	if from < 0 {
		from = 0
	}
	s.b.WriteString(line)
	s.b.WriteByte('\n')
	return strings.Contains(s.b.String()[from:], s.needle)
}

func (s *searchBuffer) String() string { return s.b.String() }
