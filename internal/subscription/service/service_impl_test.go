package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/luisterslim/billing/internal/billingtest"
	"github.com/luisterslim/billing/internal/catalog"
	billingdomain "github.com/luisterslim/billing/internal/providers/billing/domain"
	subscriptiondomain "github.com/luisterslim/billing/internal/subscription/domain"
	"github.com/luisterslim/billing/internal/subscription/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var periodEnd = time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC)

func newStack(t *testing.T) *billingtest.Stack {
	return billingtest.NewStack(t, billingtest.WithNow(time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)))
}

func TestSyncUpgradesPlanAndKeepsAnchor(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	before := s.Provision(t, "acct_1")
	require.Equal(t, 15, before.RenewDay)

	s.Clock.Advance(3 * 24 * time.Hour)
	res, err := s.Subscriptions.Sync(ctx, subscriptiondomain.SyncRequest{
		AccountID:              "acct_1",
		PlanCode:               "PRO",
		ExternalSubscriptionID: "sub_1",
		Status:                 "active",
		CurrentPeriodEnd:       &periodEnd,
	})
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, catalog.PlanPro, res.Assignment.PlanCode)
	assert.Equal(t, int64(1800*60_000), res.Assignment.BaseQuotaMs)
	assert.Equal(t, 15, res.Assignment.RenewDay)
	assert.Equal(t, before.Timezone, res.Assignment.Timezone)
	assert.Equal(t, service.QuotaSourceCatalog, res.QuotaSource)
	assert.Equal(t, "30d", res.Retention.OptionID)

	require.NotNil(t, res.Subscription)
	assert.Equal(t, "sub_1", res.Subscription.ExternalSubscriptionID)
	assert.Equal(t, subscriptiondomain.StatusActive, res.Subscription.Status)
	require.NotNil(t, res.Subscription.CurrentPeriodEnd)
	assert.True(t, periodEnd.Equal(*res.Subscription.CurrentPeriodEnd))
}

func TestSyncReplayIsIdempotent(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	s.Provision(t, "acct_1")

	req := subscriptiondomain.SyncRequest{
		AccountID:              "acct_1",
		PlanCode:               catalog.PlanBusiness,
		ExternalSubscriptionID: "sub_1",
		Status:                 "active",
	}
	first, err := s.Subscriptions.Sync(ctx, req)
	require.NoError(t, err)
	require.True(t, first.Changed)

	second, err := s.Subscriptions.Sync(ctx, req)
	require.NoError(t, err)
	assert.False(t, second.Changed)
	assert.Equal(t, first.Assignment.PlanCode, second.Assignment.PlanCode)
	assert.Equal(t, first.Assignment.BaseQuotaMs, second.Assignment.BaseQuotaMs)
	assert.Equal(t, first.Assignment.RenewDay, second.Assignment.RenewDay)
	assert.Equal(t, first.Retention.OptionID, second.Retention.OptionID)

	logs, err := s.Audit.List(ctx, "acct_1", 50)
	require.NoError(t, err)
	synced := 0
	for _, l := range logs {
		if l.Action == "plan.synced" {
			synced++
		}
	}
	assert.Equal(t, 1, synced)
}

func TestSyncProvisionsUnknownAccount(t *testing.T) {
	s := newStack(t)
	res, err := s.Subscriptions.Sync(context.Background(), subscriptiondomain.SyncRequest{
		AccountID:              "acct_new",
		PlanCode:               catalog.PlanPro,
		ExternalSubscriptionID: "sub_1",
	})
	require.NoError(t, err)
	assert.Equal(t, catalog.PlanPro, res.Assignment.PlanCode)
	assert.Equal(t, subscriptiondomain.StatusActive, res.Subscription.Status)
}

func TestSyncPreservesExplicitRetentionChoice(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	s.Provision(t, "acct_1")
	_, err := s.Retention.Select(ctx, "acct_1", "1d")
	require.NoError(t, err)

	res, err := s.Subscriptions.Sync(ctx, subscriptiondomain.SyncRequest{
		AccountID:              "acct_1",
		PlanCode:               catalog.PlanPro,
		ExternalSubscriptionID: "sub_1",
	})
	require.NoError(t, err)
	assert.Equal(t, "1d", res.Retention.OptionID)
	assert.Equal(t, catalog.PlanPro, res.Retention.PlanCode)
}

func TestSyncUsesDynamicPlanQuota(t *testing.T) {
	s := billingtest.NewStack(t, billingtest.WithPlanQuotas(map[string]int64{"pro": 2400}))
	res, err := s.Subscriptions.Sync(context.Background(), subscriptiondomain.SyncRequest{
		AccountID:              "acct_1",
		PlanCode:               catalog.PlanPro,
		ExternalSubscriptionID: "sub_1",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2400*60_000), res.Assignment.BaseQuotaMs)
	assert.Equal(t, service.QuotaSourceDynamicConfig, res.QuotaSource)
}

func TestSyncValidation(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	_, err := s.Subscriptions.Sync(ctx, subscriptiondomain.SyncRequest{PlanCode: "pro", ExternalSubscriptionID: "sub_1"})
	require.ErrorIs(t, err, subscriptiondomain.ErrInvalidAccount)
	_, err = s.Subscriptions.Sync(ctx, subscriptiondomain.SyncRequest{AccountID: "acct_1", ExternalSubscriptionID: "sub_1"})
	require.ErrorIs(t, err, subscriptiondomain.ErrInvalidPlanCode)
	_, err = s.Subscriptions.Sync(ctx, subscriptiondomain.SyncRequest{AccountID: "acct_1", PlanCode: "pro"})
	require.ErrorIs(t, err, subscriptiondomain.ErrInvalidSubscriptionID)
}

func TestSyncVerification(t *testing.T) {
	cases := []struct {
		name      string
		sub       *billingdomain.Subscription
		err       error
		want      error
		retryable bool
	}{
		{
			name: "canceled",
			sub:  &billingdomain.Subscription{ID: "sub_1", CustomerID: "cus_1", Status: "canceled", PriceID: "price_pro"},
			want: billingdomain.ErrVerificationRejected,
		},
		{
			name: "customer mismatch",
			sub:  &billingdomain.Subscription{ID: "sub_1", CustomerID: "cus_other", Status: "active", PriceID: "price_pro"},
			want: billingdomain.ErrVerificationRejected,
		},
		{
			name: "price for another plan",
			sub:  &billingdomain.Subscription{ID: "sub_1", CustomerID: "cus_1", Status: "active", PriceID: "price_business"},
			want: billingdomain.ErrVerificationRejected,
		},
		{
			name: "missing subscription",
			err:  billingdomain.ErrNotFound,
			want: billingdomain.ErrVerificationRejected,
		},
		{
			name:      "provider unavailable",
			err:       billingdomain.ErrUnavailable,
			want:      billingdomain.ErrUnavailable,
			retryable: true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newStack(t)
			ctx := context.Background()
			s.Provision(t, "acct_1")
			s.Gateway.EXPECT().GetSubscription(gomock.Any(), "sub_1").Return(tc.sub, tc.err)

			_, err := s.Subscriptions.Sync(ctx, subscriptiondomain.SyncRequest{
				AccountID:              "acct_1",
				PlanCode:               catalog.PlanPro,
				ExternalSubscriptionID: "sub_1",
				Verify:                 &subscriptiondomain.Verification{ExpectedCustomerID: "cus_1"},
			})
			require.ErrorIs(t, err, tc.want)
			assert.Equal(t, tc.retryable, billingdomain.IsRetryable(err))

			assignment, err := s.Accounts.GetAssignment(ctx, "acct_1")
			require.NoError(t, err)
			assert.Equal(t, catalog.PlanFree, assignment.PlanCode, "no partial plan change")
			_, err = s.Subscriptions.Get(ctx, "acct_1")
			require.ErrorIs(t, err, subscriptiondomain.ErrSubscriptionNotFound)
		})
	}
}

func TestSyncVerifiedTakesProviderStatus(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	s.Provision(t, "acct_1")
	end := periodEnd
	s.Gateway.EXPECT().GetSubscription(gomock.Any(), "sub_1").Return(&billingdomain.Subscription{
		ID:               "sub_1",
		CustomerID:       "cus_1",
		Status:           "past_due",
		PriceID:          "price_pro",
		CurrentPeriodEnd: &end,
	}, nil)

	res, err := s.Subscriptions.Sync(ctx, subscriptiondomain.SyncRequest{
		AccountID:              "acct_1",
		PlanCode:               catalog.PlanPro,
		ExternalSubscriptionID: "sub_1",
		Status:                 "active",
		Verify:                 &subscriptiondomain.Verification{ExpectedCustomerID: "cus_1"},
	})
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StatusPastDue, res.Subscription.Status)
	assert.Equal(t, catalog.PlanPro, res.Assignment.PlanCode)
}

func TestClaim(t *testing.T) {
	t.Run("owned through billing customer", func(t *testing.T) {
		s := newStack(t)
		s.Provision(t, "acct_1")
		s.LinkCustomer(t, "acct_1", "cus_1")
		s.Gateway.EXPECT().GetSubscription(gomock.Any(), "sub_1").Return(&billingdomain.Subscription{
			ID: "sub_1", CustomerID: "cus_1", Status: "trialing", PriceID: "price_business",
		}, nil)

		res, err := s.Subscriptions.Claim(context.Background(), "acct_1", "sub_1")
		require.NoError(t, err)
		assert.Equal(t, catalog.PlanBusiness, res.Assignment.PlanCode)
		assert.Equal(t, subscriptiondomain.StatusTrialing, res.Subscription.Status)
	})

	t.Run("owned through metadata", func(t *testing.T) {
		s := newStack(t)
		s.Provision(t, "acct_1")
		s.Gateway.EXPECT().GetSubscription(gomock.Any(), "sub_1").Return(&billingdomain.Subscription{
			ID: "sub_1", CustomerID: "cus_9", Status: "active", PriceID: "price_pro",
			Metadata: map[string]string{"account_id": "acct_1"},
		}, nil)

		res, err := s.Subscriptions.Claim(context.Background(), "acct_1", "sub_1")
		require.NoError(t, err)
		assert.Equal(t, catalog.PlanPro, res.Assignment.PlanCode)
	})

	t.Run("foreign subscription", func(t *testing.T) {
		s := newStack(t)
		s.Provision(t, "acct_1")
		s.LinkCustomer(t, "acct_1", "cus_1")
		s.Gateway.EXPECT().GetSubscription(gomock.Any(), "sub_1").Return(&billingdomain.Subscription{
			ID: "sub_1", CustomerID: "cus_2", Status: "active", PriceID: "price_pro",
		}, nil)

		_, err := s.Subscriptions.Claim(context.Background(), "acct_1", "sub_1")
		require.ErrorIs(t, err, billingdomain.ErrVerificationRejected)
	})

	t.Run("unknown price", func(t *testing.T) {
		s := newStack(t)
		s.Provision(t, "acct_1")
		s.Gateway.EXPECT().GetSubscription(gomock.Any(), "sub_1").Return(&billingdomain.Subscription{
			ID: "sub_1", CustomerID: "cus_1", Status: "active", PriceID: "price_legacy",
		}, nil)

		_, err := s.Subscriptions.Claim(context.Background(), "acct_1", "sub_1")
		require.ErrorIs(t, err, subscriptiondomain.ErrUnknownPrice)
	})
}
