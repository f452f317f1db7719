// Package metrics exposes Prometheus counters for conformance runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/deixis/talkcheck/internal/report"
)

const Namespace = "talkcheck"

// Recorder holds the run metrics on its own registry so several runs (and
// tests) never collide on the default one. A nil *Recorder records nothing.
type Recorder struct {
	reg *prometheus.Registry

	casesTotal     *prometheus.CounterVec
	caseDuration   *prometheus.HistogramVec
	sendDuration   *prometheus.HistogramVec
	launchFailures prometheus.Counter
}

func New() *Recorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Recorder{
		reg: reg,
		casesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "cases_total",
			Help:      "Count of case records by outcome",
		}, []string{
			"case",
			"category",
			"result",
		}),
		caseDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "case_duration_seconds",
			Help:      "Time spent observing the receiver per record",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2, 5},
		}, []string{
			"case",
		}),
		sendDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "send_duration_seconds",
			Help:      "Sender wall time per invocation",
			Buckets:   []float64{.005, .01, .05, .1, .5, 1, 3},
		}, []string{
			"ack",
		}),
		launchFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "launch_failures_total",
			Help:      "Receivers that never announced an identity",
		}),
	}
}

// CaseRecorded counts one record. It satisfies the shape of a collector
// hook so it can sit behind report.CollectorFunc.
func (r *Recorder) CaseRecorded(rec report.CaseRecord) {
	if r == nil {
		return
	}
	result := "fail"
	if rec.Passed {
		result = "pass"
	}
	r.casesTotal.WithLabelValues(rec.Case, string(rec.Category), result).Inc()
	r.caseDuration.WithLabelValues(rec.Case).Observe(rec.Duration.Seconds())
}

// SendObserved records one sender run. ack is the acknowledgement state
// for acknowledged sends and "none" otherwise.
func (r *Recorder) SendObserved(ack string, d time.Duration) {
	if r == nil {
		return
	}
	r.sendDuration.WithLabelValues(ack).Observe(d.Seconds())
}

func (r *Recorder) LaunchFailed() {
	if r == nil {
		return
	}
	r.launchFailures.Inc()
}

// Registry returns the registry the metrics live on.
func (r *Recorder) Registry() *prometheus.Registry { return r.reg }

// Handler serves the metrics in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
