package metrics

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/hylla/datetrack/internal/app"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// namespace prefixes every exported metric.
const namespace = "datetrack"

// Recorder turns run summaries into prometheus metrics on its own registry.
type Recorder struct {
	registry *prometheus.Registry

	runs            *prometheus.CounterVec
	changes         *prometheus.CounterVec
	groupErrors     *prometheus.CounterVec
	saveFailures    prometheus.Counter
	duration        *prometheus.HistogramVec
	lastRun         *prometheus.GaugeVec
	lastChanges     prometheus.Gauge
	groupsProcessed prometheus.Gauge
	unparseable     prometheus.Gauge
}

// NewRecorder builds a recorder with a fresh registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Recorder{
		registry: reg,
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Detection runs by mode and outcome.",
		}, []string{"mode", "outcome"}),
		changes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "changes_total",
			Help:      "Change records appended to the ledger by run mode.",
		}, []string{"mode"}),
		groupErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "group_errors_total",
			Help:      "Groups that could not be processed.",
		}, []string{"group"}),
		saveFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_save_failures_total",
			Help:      "Runs whose state could not be saved.",
		}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of detection runs.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"mode"}),
		lastRun: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time of the last run start by mode.",
		}, []string{"mode"}),
		lastChanges: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_changes",
			Help:      "Changes found by the most recent run.",
		}),
		groupsProcessed: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_groups_processed",
			Help:      "Groups processed by the most recent run.",
		}),
		unparseable: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_unparseable_values",
			Help:      "Values skipped as unparseable by the most recent run.",
		}),
	}
}

// ObserveRun records one run summary.
func (r *Recorder) ObserveRun(res app.RunResult) {
	mode := string(res.Mode)
	outcome := "success"
	if res.Failed() {
		outcome = "partial"
	}
	r.runs.WithLabelValues(mode, outcome).Inc()
	r.changes.WithLabelValues(mode).Add(float64(res.ChangesFound))
	for _, gerr := range res.Errors {
		r.groupErrors.WithLabelValues(gerr.Group).Inc()
	}
	if res.SaveErr != nil {
		r.saveFailures.Inc()
	}
	r.duration.WithLabelValues(mode).Observe(res.Duration.Seconds())
	if !res.StartedAt.IsZero() {
		r.lastRun.WithLabelValues(mode).Set(float64(res.StartedAt.Unix()))
	}
	r.lastChanges.Set(float64(res.ChangesFound))
	r.groupsProcessed.Set(float64(res.GroupsProcessed))
	r.unparseable.Set(float64(res.Unparseable))
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// WriteTextfile writes the registry for the node_exporter textfile collector.
func (r *Recorder) WriteTextfile(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return errors.New("textfile path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return prometheus.WriteToTextfile(path, r.registry)
}
