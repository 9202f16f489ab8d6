package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/hylla/datetrack/internal/app"
	"github.com/hylla/datetrack/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
)

// scrapeTimeout bounds one ledger and state read per scrape.
const scrapeTimeout = 5 * time.Second

// ReportSource is the read side scraped by a report collector.
type ReportSource interface {
	History(context.Context, domain.RecordFilter) ([]domain.ChangeRecord, error)
	State(context.Context) (domain.State, error)
}

// reportCollector derives gauges from the persisted ledger and state at scrape time.
type reportCollector struct {
	source ReportSource

	ledgerRecords *prometheus.Desc
	lastChange    *prometheus.Desc
	stateEntries  *prometheus.Desc
	stateLastRun  *prometheus.Desc
	scrapeErrors  *prometheus.Desc
}

// newReportCollector builds a collector over source.
func newReportCollector(source ReportSource) *reportCollector {
	return &reportCollector{
		source: source,
		ledgerRecords: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "ledger", "records"),
			"Change records in the ledger by group.",
			[]string{"group"}, nil,
		),
		lastChange: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "ledger", "last_change_timestamp_seconds"),
			"Unix time of the newest ledger record.",
			nil, nil,
		),
		stateEntries: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "state", "entries"),
			"Tracked fields in the persisted state.",
			nil, nil,
		),
		stateLastRun: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "state", "last_run_timestamp_seconds"),
			"Unix time of the last run recorded in the state.",
			nil, nil,
		),
		scrapeErrors: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "report", "scrape_errors"),
			"Sources that could not be read during this scrape.",
			[]string{"source"}, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *reportCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.ledgerRecords
	ch <- c.lastChange
	ch <- c.stateEntries
	ch <- c.stateLastRun
	ch <- c.scrapeErrors
}

// Collect implements prometheus.Collector.
func (c *reportCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), scrapeTimeout)
	defer cancel()

	ledgerFailed := 0.0
	records, err := c.source.History(ctx, domain.RecordFilter{})
	switch {
	case err == nil:
		perGroup := map[string]int{}
		var newest time.Time
		for _, r := range records {
			perGroup[r.Group]++
			if r.DetectedAt.After(newest) {
				newest = r.DetectedAt
			}
		}
		for group, n := range perGroup {
			ch <- prometheus.MustNewConstMetric(c.ledgerRecords, prometheus.GaugeValue, float64(n), group)
		}
		if !newest.IsZero() {
			ch <- prometheus.MustNewConstMetric(c.lastChange, prometheus.GaugeValue, float64(newest.Unix()))
		}
	case errors.Is(err, app.ErrLedgerMissing):
	default:
		ledgerFailed = 1
	}
	ch <- prometheus.MustNewConstMetric(c.scrapeErrors, prometheus.GaugeValue, ledgerFailed, "ledger")

	stateFailed := 0.0
	state, err := c.source.State(ctx)
	switch {
	case err == nil:
		ch <- prometheus.MustNewConstMetric(c.stateEntries, prometheus.GaugeValue, float64(state.Len()))
		if state.LastRun != nil {
			ch <- prometheus.MustNewConstMetric(c.stateLastRun, prometheus.GaugeValue, float64(state.LastRun.Unix()))
		}
	case errors.Is(err, app.ErrStateMissing):
		ch <- prometheus.MustNewConstMetric(c.stateEntries, prometheus.GaugeValue, 0)
	default:
		stateFailed = 1
	}
	ch <- prometheus.MustNewConstMetric(c.scrapeErrors, prometheus.GaugeValue, stateFailed, "state")
}

// RegisterReports exposes ledger and state gauges computed from source at scrape time.
func (r *Recorder) RegisterReports(source ReportSource) error {
	if source == nil {
		return errors.New("report source is required")
	}
	return r.registry.Register(newReportCollector(source))
}
