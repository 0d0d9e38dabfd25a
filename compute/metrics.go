package compute

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors reporting worker activity.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	runs      *prometheus.CounterVec
	pollWait  *prometheus.HistogramVec
	notReady  *prometheus.CounterVec
	state     *prometheus.GaugeVec
	workTimes *prometheus.HistogramVec
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// DefaultMetrics returns metrics registered with the global Prometheus registry.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})

	return sharedMetrics
}

// MustNewMetrics registers the collectors with reg and panics if that fails.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "appcompute",
				Subsystem: "worker",
				Name:      "runs_total",
				Help:      "Number of run cycles by outcome.",
			},
			[]string{"worker", "outcome"},
		),

		pollWait: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "appcompute",
				Subsystem: "worker",
				Name:      "poll_duration_seconds",
				Help:      "Time spent in a single poll of the device.",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
			},
			[]string{"worker", "blocking"},
		),

		notReady: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "appcompute",
				Subsystem: "worker",
				Name:      "pipeline_not_ready_total",
				Help:      "Number of runs aborted because a pipeline was not compiled yet.",
			},
			[]string{"worker"},
		),

		state: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "appcompute",
				Subsystem: "worker",
				Name:      "state",
				Help:      "Current worker state as number: 0=Created, 1=Available, 2=Working, 3=FinishedWorking.",
			},
			[]string{"worker"},
		),

		workTimes: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "appcompute",
				Subsystem: "worker",
				Name:      "submission_duration_seconds",
				Help:      "Time from submission until the staging buffers were mapped.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"worker"},
		),
	}

	reg.MustRegister(m.runs, m.pollWait, m.notReady, m.state, m.workTimes)

	return m
}

func (m *Metrics) observeRun(worker, outcome string) {
	if m == nil {
		return
	}

	m.runs.WithLabelValues(worker, outcome).Inc()
}

func (m *Metrics) observePoll(worker string, blocking bool, duration time.Duration) {
	if m == nil {
		return
	}

	label := "false"
	if blocking {
		label = "true"
	}

	m.pollWait.WithLabelValues(worker, label).Observe(duration.Seconds())
}

func (m *Metrics) observeNotReady(worker string) {
	if m == nil {
		return
	}

	m.notReady.WithLabelValues(worker).Inc()
}

func (m *Metrics) observeState(worker string, state WorkerState) {
	if m == nil {
		return
	}

	m.state.WithLabelValues(worker).Set(float64(state))
}

func (m *Metrics) observeSubmission(worker string, duration time.Duration) {
	if m == nil {
		return
	}

	m.workTimes.WithLabelValues(worker).Observe(duration.Seconds())
}
