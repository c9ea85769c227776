// Package metrics exports pipeline and scheduler Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"content_harvester/internal/domain"
)

const namespace = "content_harvester"

type Metrics struct {
	registry *prometheus.Registry

	// Ingestion
	RecordsIngested *prometheus.CounterVec

	// Extraction
	TermRuns       *prometheus.CounterVec
	TermRecords    prometheus.Histogram
	Cycles         *prometheus.CounterVec
	CycleDuration  prometheus.Histogram
	CycleAttempted prometheus.Histogram

	// Refresh
	RefreshSelected prometheus.Counter
	RefreshUpdated  prometheus.Counter
	RefreshErrors   prometheus.Counter
	RefreshDuration prometheus.Histogram

	// Scheduler
	JobFires       *prometheus.CounterVec
	JobExecutions  *prometheus.CounterVec
	JobDuration    *prometheus.HistogramVec
	LastJobSuccess *prometheus.GaugeVec
}

// New registers all metrics on a fresh registry, so several instances can
// coexist in tests.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	f := promauto.With(reg)
	m := &Metrics{registry: reg}

	m.RecordsIngested = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "records_ingested_total",
		Help:      "Records processed by the ingester, by result",
	}, []string{"result"})

	m.TermRuns = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "term_runs_total",
		Help:      "Per-term extraction runs, by status",
	}, []string{"status"})

	m.TermRecords = f.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "term_records_seen",
		Help:      "Records returned by the content API per term run",
		Buckets:   []float64{0, 1, 5, 10, 25, 50, 100},
	})

	m.Cycles = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cycles_total",
		Help:      "Extraction cycles, by trigger",
	}, []string{"trigger"})

	m.CycleDuration = f.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "cycle_duration_seconds",
		Help:      "Wall time of an extraction cycle",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
	})

	m.CycleAttempted = f.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "cycle_terms_attempted",
		Help:      "Terms attempted per extraction cycle",
		Buckets:   []float64{0, 1, 5, 10, 20, 50, 100},
	})

	m.RefreshSelected = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "refresh_selected_total",
		Help:      "Stale important records selected for refresh",
	})

	m.RefreshUpdated = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "refresh_updated_total",
		Help:      "Records successfully refreshed",
	})

	m.RefreshErrors = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "refresh_errors_total",
		Help:      "Records that failed to refresh",
	})

	m.RefreshDuration = f.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "refresh_duration_seconds",
		Help:      "Wall time of a refresh pass",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300},
	})

	m.JobFires = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "fires_total",
		Help:      "Scheduled fires, by job and outcome (fired, dropped, misfired)",
	}, []string{"job", "outcome"})

	m.JobExecutions = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "executions_total",
		Help:      "Completed job executions, by job and status",
	}, []string{"job", "status"})

	m.JobDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "execution_duration_seconds",
		Help:      "Job execution wall time",
		Buckets:   []float64{0.1, 1, 5, 15, 30, 60, 300, 900, 1800},
	}, []string{"job"})

	m.LastJobSuccess = f.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix time of the last successful execution",
	}, []string{"job"})

	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveIngest(result domain.IngestResult) {
	m.RecordsIngested.WithLabelValues("inserted").Add(float64(result.Inserted))
	m.RecordsIngested.WithLabelValues("updated").Add(float64(result.Updated))
	m.RecordsIngested.WithLabelValues("skipped").Add(float64(result.Skipped))
}

func (m *Metrics) ObserveTerm(outcome domain.RunOutcome) {
	status := "success"
	if outcome.Failed() {
		status = "error"
	}
	m.TermRuns.WithLabelValues(status).Inc()
	m.TermRecords.Observe(float64(outcome.Seen))
}

func (m *Metrics) ObserveCycle(summary *domain.CycleSummary) {
	m.Cycles.WithLabelValues(summary.Trigger).Inc()
	m.CycleAttempted.Observe(float64(summary.Attempted))
	if !summary.FinishedAt.IsZero() {
		m.CycleDuration.Observe(summary.FinishedAt.Sub(summary.StartedAt).Seconds())
	}
}

func (m *Metrics) ObserveRefresh(summary *domain.RefreshSummary) {
	m.RefreshSelected.Add(float64(summary.Selected))
	m.RefreshUpdated.Add(float64(summary.Updated))
	m.RefreshErrors.Add(float64(summary.Errors))
	m.RefreshDuration.Observe(summary.Duration.Seconds())
}

func (m *Metrics) ObserveFire(jobID, outcome string) {
	m.JobFires.WithLabelValues(jobID, outcome).Inc()
}

func (m *Metrics) ObserveExecution(jobID string, d time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	} else {
		m.LastJobSuccess.WithLabelValues(jobID).SetToCurrentTime()
	}
	m.JobExecutions.WithLabelValues(jobID, status).Inc()
	m.JobDuration.WithLabelValues(jobID).Observe(d.Seconds())
}
