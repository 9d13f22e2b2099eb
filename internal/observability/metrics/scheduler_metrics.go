package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	billingdomain "github.com/luisterslim/billing/internal/providers/billing/domain"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	JobReconcileUsage = "reconcile_usage"
	JobRetryWebhooks  = "retry_webhooks"
)

const (
	SchedulerJobReasonDeadlineExceeded     = "deadline_exceeded"
	SchedulerJobReasonProviderUnavailable  = "provider_unavailable"
	SchedulerJobReasonDBLockTimeout        = "db_lock_timeout"
	SchedulerJobReasonSerializationFailure = "serialization_failure"
	SchedulerJobReasonUniqueViolation      = "unique_violation"
	SchedulerJobReasonDB                   = "db"
	SchedulerJobReasonUnknown              = "unknown"
)

// SchedulerMetrics captures background job health and reconciliation drift.
type SchedulerMetrics struct {
	jobRuns           *prometheus.CounterVec
	jobDuration       *prometheus.HistogramVec
	jobErrors         *prometheus.CounterVec
	batchProcessed    *prometheus.CounterVec
	unbilledArtifacts prometheus.Gauge
	unbilledMs        prometheus.Gauge
	driftPeriods      prometheus.Gauge
	lastReconcile     prometheus.Gauge
}

var (
	schedulerMetricsOnce sync.Once
	schedulerMetrics     *SchedulerMetrics
)

// Scheduler returns the singleton scheduler metrics registry.
func Scheduler() *SchedulerMetrics {
	return SchedulerWithConfig(Config{})
}

// SchedulerWithConfig returns the singleton scheduler metrics registry using config labels.
func SchedulerWithConfig(cfg Config) *SchedulerMetrics {
	schedulerMetricsOnce.Do(func() {
		schedulerMetrics = newSchedulerMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return schedulerMetrics
}

// NewSchedulerMetrics registers a fresh set of collectors on registerer.
func NewSchedulerMetrics(registerer prometheus.Registerer, cfg Config) *SchedulerMetrics {
	return newSchedulerMetrics(registerer, cfg)
}

func newSchedulerMetrics(registerer prometheus.Registerer, cfg Config) *SchedulerMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "luisterslim-billing"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	m := &SchedulerMetrics{
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "billing_scheduler_job_runs_total",
			Help:        "Scheduler job runs by name.",
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "billing_scheduler_job_duration_seconds",
			Help:        "Scheduler job latency.",
			Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "billing_scheduler_job_errors_total",
			Help:        "Scheduler job errors by low-cardinality reason.",
			ConstLabels: constLabels,
		}, []string{"job", "reason"}),
		batchProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "billing_scheduler_batch_processed_total",
			Help:        "Items handled by scheduler jobs.",
			ConstLabels: constLabels,
		}, []string{"job", "resource"}),
		unbilledArtifacts: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "billing_reconcile_unbilled_artifacts",
			Help:        "Transcript artifacts rejected for quota with no matching usage event in the current period.",
			ConstLabels: constLabels,
		}),
		unbilledMs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "billing_reconcile_unbilled_ms",
			Help:        "Milliseconds attached to unbilled transcript artifacts.",
			ConstLabels: constLabels,
		}),
		driftPeriods: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "billing_reconcile_drift_periods",
			Help:        "Usage periods whose counter disagrees with the sum of their events.",
			ConstLabels: constLabels,
		}),
		lastReconcile: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "billing_reconcile_last_success_timestamp_seconds",
			Help:        "Unix time of the last successful reconciliation pass.",
			ConstLabels: constLabels,
		}),
	}

	registerer.MustRegister(
		m.jobRuns,
		m.jobDuration,
		m.jobErrors,
		m.batchProcessed,
		m.unbilledArtifacts,
		m.unbilledMs,
		m.driftPeriods,
		m.lastReconcile,
	)
	return m
}

// IncJobRun increments the run counter for a scheduler job.
func (m *SchedulerMetrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

// ObserveJobDuration records scheduler job latency in seconds.
func (m *SchedulerMetrics) ObserveJobDuration(job string, duration time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

// IncJobError increments the scheduler job error counter with classification.
func (m *SchedulerMetrics) IncJobError(job string, err error) {
	if m == nil || err == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, ClassifySchedulerJobReason(err)).Inc()
}

// AddBatchProcessed increments the processed counter for a resource by count.
func (m *SchedulerMetrics) AddBatchProcessed(job, resource string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.batchProcessed.WithLabelValues(job, resource).Add(float64(count))
}

// SetReconciliation publishes the latest reconciliation snapshot.
func (m *SchedulerMetrics) SetReconciliation(unbilledArtifacts int, unbilledMs int64, driftPeriods int, at time.Time) {
	if m == nil {
		return
	}
	m.unbilledArtifacts.Set(float64(unbilledArtifacts))
	m.unbilledMs.Set(float64(unbilledMs))
	m.driftPeriods.Set(float64(driftPeriods))
	m.lastReconcile.Set(float64(at.Unix()))
}

// IsSchedulerErrorRetryable reports whether the job should be retried on its next tick.
func IsSchedulerErrorRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch ClassifySchedulerJobReason(err) {
	case SchedulerJobReasonDeadlineExceeded,
		SchedulerJobReasonProviderUnavailable,
		SchedulerJobReasonDBLockTimeout,
		SchedulerJobReasonSerializationFailure,
		SchedulerJobReasonDB:
		return true
	}
	return false
}

// ClassifySchedulerJobReason maps scheduler job errors to low-cardinality reasons.
func ClassifySchedulerJobReason(err error) string {
	switch {
	case err == nil:
		return SchedulerJobReasonUnknown
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		return SchedulerJobReasonDeadlineExceeded
	case errors.Is(err, billingdomain.ErrUnavailable):
		return SchedulerJobReasonProviderUnavailable
	case hasPGCode(err, "55P03"):
		return SchedulerJobReasonDBLockTimeout
	case hasPGCode(err, "40001"):
		return SchedulerJobReasonSerializationFailure
	case errors.Is(err, gorm.ErrDuplicatedKey) || hasPGCode(err, "23505"):
		return SchedulerJobReasonUniqueViolation
	case isDBError(err):
		return SchedulerJobReasonDB
	}
	return SchedulerJobReasonUnknown
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}

func isDBError(err error) bool {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false
	}
	if errors.Is(err, gorm.ErrInvalidDB) ||
		errors.Is(err, gorm.ErrInvalidTransaction) ||
		errors.Is(err, gorm.ErrInvalidData) ||
		errors.Is(err, gorm.ErrUnsupportedDriver) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr)
}
