package executor

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/autograph/gnnsearch/pkg/models"
)

// Metrics exposes executor activity to Prometheus
type Metrics struct {
	registry *prometheus.Registry

	submitted     prometheus.Counter
	finished      *prometheus.CounterVec
	running       prometheus.Gauge
	pending       prometheus.Gauge
	limit         prometheus.Gauge
	trialDuration prometheus.Histogram
	queueWait     prometheus.Histogram
	valAccuracy   prometheus.Histogram
}

// NewMetrics registers the executor collectors on reg, or on a private
// registry when reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		registry: reg,
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gnnsearch_trials_submitted_total",
			Help: "Trials submitted to the executor",
		}),
		finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gnnsearch_trials_finished_total",
			Help: "Trials that reached a terminal state",
		}, []string{"status"}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gnnsearch_trials_running",
			Help: "Trials currently holding a worker slot",
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gnnsearch_trials_pending",
			Help: "Trials waiting for a free slot",
		}),
		limit: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gnnsearch_executor_concurrency_limit",
			Help: "Maximum number of concurrently running trials",
		}),
		trialDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gnnsearch_trial_duration_seconds",
			Help:    "Training wall time per trial",
			Buckets: prometheus.ExponentialBuckets(0.01, 3, 10),
		}),
		queueWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gnnsearch_trial_queue_wait_seconds",
			Help:    "Time trials spent pending before dispatch",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		valAccuracy: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gnnsearch_trial_val_accuracy",
			Help:    "Validation accuracy of completed trials",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
		}),
	}
	reg.MustRegister(m.submitted, m.finished, m.running, m.pending, m.limit,
		m.trialDuration, m.queueWait, m.valAccuracy)
	return m
}

// Registry returns the registry the collectors live on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) observeFinished(status models.TrialStatus, timing models.TrialTiming, acc float64) {
	m.finished.WithLabelValues(string(status)).Inc()
	if status == models.TrialStatusCompleted {
		m.trialDuration.Observe(timing.Duration().Seconds())
		m.valAccuracy.Observe(acc)
	}
}

// WriteTextfile writes everything g gathers to path in the Prometheus text
// format, for node_exporter's textfile collector. The file is replaced
// atomically so a scrape never sees a partial write.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	mfs, err := g.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}

	var buf bytes.Buffer
	encoder := expfmt.NewEncoder(&buf, expfmt.FmtText)
	for _, mf := range mfs {
		if err := encoder.Encode(mf); err != nil {
			return fmt.Errorf("failed to encode metric %s: %w", mf.GetName(), err)
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("failed to create metrics file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write metrics file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write metrics file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return fmt.Errorf("failed to write metrics file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace metrics file: %w", err)
	}
	return nil
}
