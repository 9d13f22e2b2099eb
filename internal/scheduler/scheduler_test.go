package scheduler_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/luisterslim/billing/internal/billingtest"
	"github.com/luisterslim/billing/internal/catalog"
	obsmetrics "github.com/luisterslim/billing/internal/observability/metrics"
	billingdomain "github.com/luisterslim/billing/internal/providers/billing/domain"
	quotadomain "github.com/luisterslim/billing/internal/quota/domain"
	"github.com/luisterslim/billing/internal/scheduler"
	usagedomain "github.com/luisterslim/billing/internal/usage/domain"
	webhookdomain "github.com/luisterslim/billing/internal/webhook/domain"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newScheduler(t *testing.T, s *billingtest.Stack, cfg scheduler.Config) (*scheduler.Scheduler, *prometheus.Registry) {
	t.Helper()
	registry := prometheus.NewRegistry()
	sched, err := scheduler.New(scheduler.Params{
		Log:      s.Log,
		GenID:    s.Node,
		Clock:    s.Clock,
		Usage:    s.Usage,
		Webhooks: s.Webhooks,
		Metrics:  obsmetrics.NewSchedulerMetrics(registry, obsmetrics.Config{ServiceName: "billing", Environment: "test"}),
		Config:   cfg,
	})
	require.NoError(t, err)
	return sched, registry
}

func metricFamily(t *testing.T, registry *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := registry.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() == name {
			return family
		}
	}
	return nil
}

func gaugeValue(t *testing.T, registry *prometheus.Registry, name string) float64 {
	t.Helper()
	family := metricFamily(t, registry, name)
	require.NotNil(t, family, "metric %s not registered", name)
	require.NotEmpty(t, family.GetMetric())
	return family.GetMetric()[0].GetGauge().GetValue()
}

func counterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	family := metricFamily(t, registry, name)
	if family == nil {
		return 0
	}
	for _, m := range family.GetMetric() {
		if hasLabels(m, labels) {
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func hasLabels(m *dto.Metric, want map[string]string) bool {
	got := map[string]string{}
	for _, lp := range m.GetLabel() {
		got[lp.GetName()] = lp.GetValue()
	}
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}

func TestNewRejectsMissingDependencies(t *testing.T) {
	_, err := scheduler.New(scheduler.Params{})
	require.ErrorIs(t, err, scheduler.ErrInvalidConfig)
}

func TestReconcileUsagePublishesFindings(t *testing.T) {
	s := billingtest.NewStack(t)
	ctx := context.Background()
	s.Provision(t, "acct_1")
	s.Provision(t, "acct_2")

	_, err := s.Quota.DebitUsage(ctx, quotadomain.DebitRequest{
		AccountID:            "acct_1",
		DeltaMs:              700 * catalog.MsPerMinute,
		TranscriptArtifactID: "art_big",
	})
	var exceeded *quotadomain.QuotaExceededError
	require.ErrorAs(t, err, &exceeded)

	_, err = s.Quota.DebitUsage(ctx, quotadomain.DebitRequest{
		AccountID:            "acct_2",
		DeltaMs:              10 * catalog.MsPerMinute,
		TranscriptArtifactID: "art_ok",
	})
	require.NoError(t, err)
	require.NoError(t, s.DB.Model(&usagedomain.UsagePeriod{}).
		Where("account_id = ?", "acct_2").
		Update("used_ms", 11*catalog.MsPerMinute).Error)

	sched, registry := newScheduler(t, s, scheduler.Config{})
	require.NoError(t, sched.ReconcileUsageJob(ctx))

	assert.Equal(t, float64(1), gaugeValue(t, registry, "billing_reconcile_unbilled_artifacts"))
	assert.Equal(t, float64(700*catalog.MsPerMinute), gaugeValue(t, registry, "billing_reconcile_unbilled_ms"))
	assert.Equal(t, float64(1), gaugeValue(t, registry, "billing_reconcile_drift_periods"))
	assert.Equal(t, float64(s.Clock.Now().Unix()), gaugeValue(t, registry, "billing_reconcile_last_success_timestamp_seconds"))
}

func TestReconcileUsageClearsAfterArtifactIsBilled(t *testing.T) {
	s := billingtest.NewStack(t)
	ctx := context.Background()
	s.Provision(t, "acct_1")

	req := quotadomain.DebitRequest{
		AccountID:            "acct_1",
		DeltaMs:              700 * catalog.MsPerMinute,
		TranscriptArtifactID: "art_1",
	}
	_, err := s.Quota.DebitUsage(ctx, req)
	require.Error(t, err)

	sched, registry := newScheduler(t, s, scheduler.Config{})
	require.NoError(t, sched.ReconcileUsageJob(ctx))
	assert.Equal(t, float64(1), gaugeValue(t, registry, "billing_reconcile_unbilled_artifacts"))

	req.DeltaMs = 5 * catalog.MsPerMinute
	_, err = s.Quota.DebitUsage(ctx, req)
	require.NoError(t, err)

	require.NoError(t, sched.ReconcileUsageJob(ctx))
	assert.Zero(t, gaugeValue(t, registry, "billing_reconcile_unbilled_artifacts"))
	assert.Zero(t, gaugeValue(t, registry, "billing_reconcile_unbilled_ms"))
}

func TestRetryWebhooksJobReappliesFailedEvents(t *testing.T) {
	s := billingtest.NewStack(t)
	ctx := context.Background()
	s.Provision(t, "acct_1")

	object, err := json.Marshal(map[string]any{
		"id":       "sub_1",
		"object":   "subscription",
		"customer": "cus_1",
		"status":   "active",
		"items": map[string]any{"data": []any{
			map[string]any{"price": map[string]any{"id": "price_pro"}},
		}},
	})
	require.NoError(t, err)
	payload, err := json.Marshal(map[string]any{
		"id":   "evt_1",
		"type": webhookdomain.EventSubscriptionCreated,
		"data": map[string]any{"object": json.RawMessage(object)},
	})
	require.NoError(t, err)
	s.Gateway.EXPECT().ConstructEvent(payload, "sig").Return(&billingdomain.Event{
		ID:      "evt_1",
		Type:    webhookdomain.EventSubscriptionCreated,
		Object:  object,
		Payload: payload,
	}, nil)

	_, err = s.Webhooks.Ingest(ctx, payload, "sig")
	require.ErrorIs(t, err, webhookdomain.ErrUnresolvedAccount)

	s.LinkCustomer(t, "acct_1", "cus_1")
	s.Clock.Advance(2 * time.Minute)

	sched, registry := newScheduler(t, s, scheduler.Config{BatchSize: 10})
	require.NoError(t, sched.RetryWebhooksJob(ctx))

	assignment, err := s.Accounts.GetAssignment(ctx, "acct_1")
	require.NoError(t, err)
	assert.Equal(t, catalog.PlanPro, assignment.PlanCode)
	assert.Equal(t, float64(1), counterValue(t, registry, "billing_scheduler_batch_processed_total",
		map[string]string{"job": obsmetrics.JobRetryWebhooks, "resource": "webhook_event"}))
}

func TestRunOnceHonorsEnabledJobs(t *testing.T) {
	s := billingtest.NewStack(t)
	sched, registry := newScheduler(t, s, scheduler.Config{EnabledJobs: []string{obsmetrics.JobReconcileUsage}})

	require.NoError(t, sched.RunOnce(context.Background()))

	assert.Equal(t, float64(1), counterValue(t, registry, "billing_scheduler_job_runs_total",
		map[string]string{"job": obsmetrics.JobReconcileUsage}))
	assert.Zero(t, counterValue(t, registry, "billing_scheduler_job_runs_total",
		map[string]string{"job": obsmetrics.JobRetryWebhooks}))
}

func TestStartRejectsInvalidSchedule(t *testing.T) {
	s := billingtest.NewStack(t)
	sched, _ := newScheduler(t, s, scheduler.Config{ReconcileSpec: "not a cron spec"})

	require.Error(t, sched.Start())
	require.NoError(t, sched.Stop(context.Background()))
}

func TestStartAndStop(t *testing.T) {
	s := billingtest.NewStack(t)
	sched, _ := newScheduler(t, s, scheduler.Config{})

	require.NoError(t, sched.Start())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sched.Stop(ctx))
}
