package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("account_id", "acc_1"),
		attribute.String("plan_code", "pro"),
		attribute.String("outcome", OutcomeAccepted),
	)
	require.Len(t, attrs, 2)
	for _, attr := range attrs {
		require.NotEqual(t, attribute.Key("account_id"), attr.Key)
	}
}

func TestRecordUsageDebitCountsAcceptedMilliseconds(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := New(Config{ServiceName: "billing-test"}, provider)
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordUsageDebit(ctx, "pro", OutcomeAccepted, 1500)
	m.RecordUsageDebit(ctx, "pro", OutcomeAccepted, 500)
	m.RecordUsageDebit(ctx, "pro", OutcomeRejected, 9000)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	require.Equal(t, int64(3), sumCounter(t, rm, "billing_usage_debits_total"))
	require.Equal(t, int64(2000), sumCounter(t, rm, "billing_usage_debited_ms_total"))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.RecordUsageDebit(ctx, "free", OutcomeAccepted, 1)
	m.RecordTopUpCredit(ctx, "topup", OutcomeAccepted, 1)
	m.RecordSubscriptionSync(ctx, "pro", "active", OutcomeAccepted)
	m.RecordWebhookEvent(ctx, "stripe", "invoice.paid", OutcomeAccepted)
	m.RecordRateLimitAllowed(ctx, "debit")
	m.RecordRateLimitDenied(ctx, "debit", "exhausted")
}

func sumCounter(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	var total int64
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "metric %s is not an int64 sum", name)
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}
