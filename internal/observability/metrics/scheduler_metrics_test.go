package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	billingdomain "github.com/luisterslim/billing/internal/providers/billing/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestClassifySchedulerJobReason(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		want      string
		retryable bool
	}{
		{"deadline", context.DeadlineExceeded, SchedulerJobReasonDeadlineExceeded, true},
		{"provider", fmt.Errorf("fetch: %w", billingdomain.ErrUnavailable), SchedulerJobReasonProviderUnavailable, true},
		{"db_lock_timeout", &pgconn.PgError{Code: "55P03"}, SchedulerJobReasonDBLockTimeout, true},
		{"serialization_failure", &pgconn.PgError{Code: "40001"}, SchedulerJobReasonSerializationFailure, true},
		{"unique_violation", gorm.ErrDuplicatedKey, SchedulerJobReasonUniqueViolation, false},
		{"other_pg", &pgconn.PgError{Code: "08006"}, SchedulerJobReasonDB, true},
		{"unknown", errors.New("boom"), SchedulerJobReasonUnknown, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, ClassifySchedulerJobReason(tc.err))
			require.Equal(t, tc.retryable, IsSchedulerErrorRetryable(tc.err))
		})
	}
}

func TestSetReconciliationPublishesGauges(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewSchedulerMetrics(registry, Config{ServiceName: "billing", Environment: "test"})

	at := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	m.SetReconciliation(2, 4500, 1, at)
	m.AddBatchProcessed(JobRetryWebhooks, "webhook_events", 3)
	m.IncJobError(JobReconcileUsage, context.DeadlineExceeded)

	require.Equal(t, float64(2), testutil.ToFloat64(m.unbilledArtifacts))
	require.Equal(t, float64(4500), testutil.ToFloat64(m.unbilledMs))
	require.Equal(t, float64(1), testutil.ToFloat64(m.driftPeriods))
	require.Equal(t, float64(at.Unix()), testutil.ToFloat64(m.lastReconcile))
	require.Equal(t, float64(3), testutil.ToFloat64(m.batchProcessed.WithLabelValues(JobRetryWebhooks, "webhook_events")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.jobErrors.WithLabelValues(JobReconcileUsage, SchedulerJobReasonDeadlineExceeded)))
}

func TestNilSchedulerMetricsIsSafe(t *testing.T) {
	var m *SchedulerMetrics
	m.IncJobRun(JobReconcileUsage)
	m.ObserveJobDuration(JobReconcileUsage, time.Second)
	m.IncJobError(JobReconcileUsage, errors.New("x"))
	m.AddBatchProcessed(JobReconcileUsage, "periods", 1)
	m.SetReconciliation(0, 0, 0, time.Now())
}
