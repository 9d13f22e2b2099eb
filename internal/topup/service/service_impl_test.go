package service

import (
	"context"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	accountdomain "github.com/luisterslim/billing/internal/account/domain"
	accountrepo "github.com/luisterslim/billing/internal/account/repository"
	accountservice "github.com/luisterslim/billing/internal/account/service"
	"github.com/luisterslim/billing/internal/catalog"
	"github.com/luisterslim/billing/internal/clock"
	"github.com/luisterslim/billing/internal/config"
	"github.com/luisterslim/billing/internal/migration/migrationtest"
	billingdomain "github.com/luisterslim/billing/internal/providers/billing/domain"
	billingmock "github.com/luisterslim/billing/internal/providers/billing/mock"
	retentionrepo "github.com/luisterslim/billing/internal/retention/repository"
	retentionservice "github.com/luisterslim/billing/internal/retention/service"
	topupdomain "github.com/luisterslim/billing/internal/topup/domain"
	"github.com/luisterslim/billing/internal/topup/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const minute = int64(60_000)

type fixture struct {
	svc      topupdomain.Service
	accounts accountdomain.Service
	db       *gorm.DB
	gateway  *billingmock.MockGateway
	clock    *clock.FakeClock
}

func setupTopUpService(t *testing.T) fixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	db := migrationtest.OpenSQLite(t)
	fake := clock.NewFakeClock(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	gateway := billingmock.NewMockGateway(ctrl)
	cat := catalog.Build(nil)

	retention := retentionservice.NewService(retentionservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		Clock: fake,
		Repo:  retentionrepo.Provide(),
	})
	accounts := accountservice.NewService(accountservice.Params{
		DB:        db,
		Log:       zap.NewNop(),
		Clock:     fake,
		Config:    config.Config{DefaultTZ: "UTC"},
		Repo:      accountrepo.Provide(),
		Catalog:   cat,
		Retention: retention,
		Gateway:   gateway,
	})
	svc := NewService(Params{
		DB:       db,
		Log:      zap.NewNop(),
		Clock:    fake,
		Repo:     repository.Provide(),
		Catalog:  cat,
		Accounts: accounts,
		Gateway:  gateway,
	})
	return fixture{svc: svc, accounts: accounts, db: db, gateway: gateway, clock: fake}
}

func (f fixture) provision(t *testing.T, accountID string) {
	t.Helper()
	_, err := f.accounts.EnsureProvisioned(context.Background(), accountdomain.ProvisionRequest{AccountID: accountID})
	require.NoError(t, err)
}

func countCredits(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&topupdomain.TopUpCredit{}).Count(&n).Error)
	return n
}

func TestCreditTopUpIsIdempotentOnInvoice(t *testing.T) {
	f := setupTopUpService(t)
	ctx := context.Background()

	req := topupdomain.CreditRequest{
		ExternalInvoiceID: "in_1",
		AccountID:         "acct_1",
		TopUpID:           catalog.TopUp60,
		MinutesGranted:    60,
		ExternalPaymentID: "pi_1",
		CreditedPeriodID:  "2024-03",
	}
	first, err := f.svc.CreditTopUp(ctx, req)
	require.NoError(t, err)
	assert.True(t, first.Created)
	assert.Equal(t, 60*minute, first.Credit.MsGranted)

	second, err := f.svc.CreditTopUp(ctx, req)
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, "2024-03", second.Credit.CreditedPeriodID)

	bonus, err := f.svc.SumBonusMs(ctx, "acct_1")
	require.NoError(t, err)
	assert.Equal(t, 60*minute, bonus)
	assert.Equal(t, int64(1), countCredits(t, f.db))
}

func TestCreditTopUpRejectsInvoiceReplayForOtherAccount(t *testing.T) {
	f := setupTopUpService(t)
	ctx := context.Background()

	req := topupdomain.CreditRequest{
		ExternalInvoiceID: "in_1",
		AccountID:         "acct_1",
		TopUpID:           catalog.TopUp60,
		MinutesGranted:    60,
		CreditedPeriodID:  "2024-03",
	}
	_, err := f.svc.CreditTopUp(ctx, req)
	require.NoError(t, err)

	req.AccountID = "acct_2"
	_, err = f.svc.CreditTopUp(ctx, req)
	require.ErrorIs(t, err, topupdomain.ErrInvoiceConflict)

	bonus, err := f.svc.SumBonusMs(ctx, "acct_2")
	require.NoError(t, err)
	assert.Zero(t, bonus)
}

func TestCreditTopUpValidation(t *testing.T) {
	f := setupTopUpService(t)
	valid := topupdomain.CreditRequest{
		ExternalInvoiceID: "in_1",
		AccountID:         "acct_1",
		TopUpID:           catalog.TopUp60,
		MinutesGranted:    60,
		CreditedPeriodID:  "2024-03",
	}

	cases := []struct {
		name   string
		mutate func(r *topupdomain.CreditRequest)
		want   error
	}{
		{"missing invoice", func(r *topupdomain.CreditRequest) { r.ExternalInvoiceID = " " }, topupdomain.ErrInvalidInvoice},
		{"missing account", func(r *topupdomain.CreditRequest) { r.AccountID = "" }, topupdomain.ErrInvalidAccount},
		{"missing topup", func(r *topupdomain.CreditRequest) { r.TopUpID = "" }, topupdomain.ErrInvalidTopUp},
		{"zero minutes", func(r *topupdomain.CreditRequest) { r.MinutesGranted = 0 }, topupdomain.ErrInvalidMinutes},
		{"missing period", func(r *topupdomain.CreditRequest) { r.CreditedPeriodID = "" }, topupdomain.ErrInvalidPeriod},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := valid
			tc.mutate(&req)
			_, err := f.svc.CreditTopUp(context.Background(), req)
			require.ErrorIs(t, err, tc.want)
		})
	}
	assert.Zero(t, countCredits(t, f.db))
}

func TestCreditTopUpVerificationFailsClosed(t *testing.T) {
	base := topupdomain.CreditRequest{
		ExternalInvoiceID: "in_1",
		AccountID:         "acct_1",
		TopUpID:           catalog.TopUp60,
		MinutesGranted:    60,
		CreditedPeriodID:  "2024-03",
		Verify:            &topupdomain.Verification{PaymentIntentID: "pi_1"},
	}

	cases := []struct {
		name      string
		intent    *billingdomain.PaymentIntent
		err       error
		want      error
		retryable bool
	}{
		{
			name:   "not succeeded",
			intent: &billingdomain.PaymentIntent{ID: "pi_1", Status: "processing", Metadata: map[string]string{"account_id": "acct_1"}},
			want:   billingdomain.ErrVerificationRejected,
		},
		{
			name:   "other account",
			intent: &billingdomain.PaymentIntent{ID: "pi_1", Status: "succeeded", Metadata: map[string]string{"account_id": "acct_2", "topup_id": catalog.TopUp60}},
			want:   billingdomain.ErrVerificationRejected,
		},
		{
			name:   "paid for another pack",
			intent: &billingdomain.PaymentIntent{ID: "pi_1", Status: "succeeded", Metadata: map[string]string{"account_id": "acct_1", "topup_id": catalog.TopUp300}},
			want:   billingdomain.ErrVerificationRejected,
		},
		{
			name:   "pack not recorded on intent",
			intent: &billingdomain.PaymentIntent{ID: "pi_1", Status: "succeeded", Metadata: map[string]string{"account_id": "acct_1"}},
			want:   billingdomain.ErrVerificationRejected,
		},
		{
			name: "unknown intent",
			err:  billingdomain.ErrNotFound,
			want: billingdomain.ErrVerificationRejected,
		},
		{
			name:      "provider down",
			err:       billingdomain.ErrUnavailable,
			want:      billingdomain.ErrUnavailable,
			retryable: true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := setupTopUpService(t)
			f.gateway.EXPECT().GetPaymentIntent(gomock.Any(), "pi_1").Return(tc.intent, tc.err)

			_, err := f.svc.CreditTopUp(context.Background(), base)
			require.ErrorIs(t, err, tc.want)
			assert.Equal(t, tc.retryable, billingdomain.IsRetryable(err))
			assert.Zero(t, countCredits(t, f.db))
		})
	}
}

func TestCreditTopUpVerifiedByMetadata(t *testing.T) {
	f := setupTopUpService(t)
	f.gateway.EXPECT().GetPaymentIntent(gomock.Any(), "pi_1").Return(&billingdomain.PaymentIntent{
		ID:       "pi_1",
		Status:   "succeeded",
		Metadata: map[string]string{"account_id": "acct_1", "topup_id": catalog.TopUp300},
	}, nil)

	res, err := f.svc.CreditTopUp(context.Background(), topupdomain.CreditRequest{
		ExternalInvoiceID: "in_1",
		AccountID:         "acct_1",
		TopUpID:           catalog.TopUp300,
		MinutesGranted:    300,
		CreditedPeriodID:  "2024-03",
		Verify:            &topupdomain.Verification{PaymentIntentID: "pi_1"},
	})
	require.NoError(t, err)
	require.True(t, res.Created)
	require.NotNil(t, res.Credit.ExternalPaymentID)
	assert.Equal(t, "pi_1", *res.Credit.ExternalPaymentID)
	assert.Equal(t, "pi_1", res.Credit.ExternalInvoiceID, "verified credits are keyed by the payment intent")
}

func TestConfirmPurchaseUsesCustomerOwnershipAndCurrentPeriod(t *testing.T) {
	f := setupTopUpService(t)
	ctx := context.Background()
	f.provision(t, "acct_1")
	require.NoError(t, f.db.Create(&accountdomain.BillingCustomer{
		AccountID:          "acct_1",
		ExternalCustomerID: "cus_1",
		CreatedAt:          f.clock.Now(),
	}).Error)

	f.gateway.EXPECT().GetPaymentIntent(gomock.Any(), "pi_9").Return(&billingdomain.PaymentIntent{
		ID:         "pi_9",
		Status:     "succeeded",
		CustomerID: "cus_1",
		Metadata:   map[string]string{"topup_id": catalog.TopUp60},
	}, nil)

	res, err := f.svc.ConfirmPurchase(ctx, topupdomain.ConfirmRequest{
		AccountID:       "acct_1",
		TopUpID:         catalog.TopUp60,
		PaymentIntentID: "pi_9",
	})
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, "pi_9", res.Credit.ExternalInvoiceID)
	// provisioned at 09:00 on Mar 1 UTC, so the anchor is day 1
	assert.Equal(t, "2024-03", res.Credit.CreditedPeriodID)
	assert.Equal(t, int64(60), res.Credit.MinutesGranted)
}

// One payment intent is credited once, whichever path or invoice id it
// arrives under.
func TestPaymentIntentCreditedOnce(t *testing.T) {
	f := setupTopUpService(t)
	ctx := context.Background()
	f.provision(t, "acct_1")

	f.gateway.EXPECT().GetPaymentIntent(gomock.Any(), "pi_1").Return(&billingdomain.PaymentIntent{
		ID:       "pi_1",
		Status:   "succeeded",
		Metadata: map[string]string{"account_id": "acct_1", "topup_id": catalog.TopUp60},
	}, nil).Times(3)

	confirm := topupdomain.ConfirmRequest{AccountID: "acct_1", TopUpID: catalog.TopUp60, PaymentIntentID: "pi_1"}
	first, err := f.svc.ConfirmPurchase(ctx, confirm)
	require.NoError(t, err)
	assert.True(t, first.Created)

	second, err := f.svc.ConfirmPurchase(ctx, confirm)
	require.NoError(t, err)
	assert.False(t, second.Created)

	verified, err := f.svc.CreditTopUp(ctx, topupdomain.CreditRequest{
		ExternalInvoiceID: "in_a",
		AccountID:         "acct_1",
		TopUpID:           catalog.TopUp60,
		MinutesGranted:    60,
		CreditedPeriodID:  "2024-03",
		Verify:            &topupdomain.Verification{PaymentIntentID: "pi_1"},
	})
	require.NoError(t, err)
	assert.False(t, verified.Created)
	assert.Equal(t, "pi_1", verified.Credit.ExternalInvoiceID)

	// an unverified credit naming the same payment under a new invoice id
	unverified, err := f.svc.CreditTopUp(ctx, topupdomain.CreditRequest{
		ExternalInvoiceID: "in_b",
		AccountID:         "acct_1",
		TopUpID:           catalog.TopUp60,
		MinutesGranted:    60,
		ExternalPaymentID: "pi_1",
		CreditedPeriodID:  "2024-03",
	})
	require.NoError(t, err)
	assert.False(t, unverified.Created)
	assert.Equal(t, "pi_1", unverified.Credit.ExternalInvoiceID)

	assert.Equal(t, int64(1), countCredits(t, f.db))
	bonus, err := f.svc.SumBonusMs(ctx, "acct_1")
	require.NoError(t, err)
	assert.Equal(t, 60*minute, bonus)
}

func TestConfirmPurchaseRejectsOtherPack(t *testing.T) {
	f := setupTopUpService(t)
	f.provision(t, "acct_1")
	f.gateway.EXPECT().GetPaymentIntent(gomock.Any(), "pi_1").Return(&billingdomain.PaymentIntent{
		ID:       "pi_1",
		Status:   "succeeded",
		Metadata: map[string]string{"account_id": "acct_1", "topup_id": catalog.TopUp60},
	}, nil)

	_, err := f.svc.ConfirmPurchase(context.Background(), topupdomain.ConfirmRequest{
		AccountID:       "acct_1",
		TopUpID:         catalog.TopUp300,
		PaymentIntentID: "pi_1",
	})
	require.ErrorIs(t, err, billingdomain.ErrVerificationRejected)
	assert.False(t, billingdomain.IsRetryable(err))
	assert.Zero(t, countCredits(t, f.db))
}

func TestConfirmPurchaseErrors(t *testing.T) {
	f := setupTopUpService(t)
	ctx := context.Background()

	_, err := f.svc.ConfirmPurchase(ctx, topupdomain.ConfirmRequest{AccountID: "acct_1", TopUpID: catalog.TopUp60})
	require.ErrorIs(t, err, topupdomain.ErrInvalidPayment)

	_, err = f.svc.ConfirmPurchase(ctx, topupdomain.ConfirmRequest{AccountID: "acct_1", TopUpID: "topup_7", PaymentIntentID: "pi_1"})
	require.ErrorIs(t, err, topupdomain.ErrUnknownTopUp)

	_, err = f.svc.ConfirmPurchase(ctx, topupdomain.ConfirmRequest{AccountID: "acct_1", TopUpID: catalog.TopUp60, PaymentIntentID: "pi_1"})
	require.ErrorIs(t, err, accountdomain.ErrAccountNotProvisioned)
}

// Credits count for a trailing 365 days regardless of which billing period
// they were bought in.
func TestSumBonusMsUsesTrailingYearWindow(t *testing.T) {
	f := setupTopUpService(t)
	ctx := context.Background()

	_, err := f.svc.CreditTopUp(ctx, topupdomain.CreditRequest{
		ExternalInvoiceID: "in_old",
		AccountID:         "acct_1",
		TopUpID:           catalog.TopUp60,
		MinutesGranted:    60,
		CreditedPeriodID:  "2024-03",
	})
	require.NoError(t, err)

	f.clock.Advance(40 * 24 * time.Hour)
	_, err = f.svc.CreditTopUp(ctx, topupdomain.CreditRequest{
		ExternalInvoiceID: "in_new",
		AccountID:         "acct_1",
		TopUpID:           catalog.TopUp300,
		MinutesGranted:    300,
		CreditedPeriodID:  "2024-04",
	})
	require.NoError(t, err)

	bonus, err := f.svc.SumBonusMs(ctx, "acct_1")
	require.NoError(t, err)
	assert.Equal(t, 360*minute, bonus, "a credit from the previous period still counts")

	// the first credit is now exactly 365 days old
	f.clock.Set(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC).Add(topupdomain.BonusWindow))
	bonus, err = f.svc.SumBonusMs(ctx, "acct_1")
	require.NoError(t, err)
	assert.Equal(t, 360*minute, bonus)

	f.clock.Advance(time.Second)
	bonus, err = f.svc.SumBonusMs(ctx, "acct_1")
	require.NoError(t, err)
	assert.Equal(t, 300*minute, bonus)
}

func TestCreditReferral(t *testing.T) {
	f := setupTopUpService(t)
	ctx := context.Background()
	f.provision(t, "acct_1")

	first, err := f.svc.CreditReferral(ctx, "acct_1", "ref_42", 30)
	require.NoError(t, err)
	assert.True(t, first.Created)
	assert.Equal(t, "referral:ref_42:acct_1", first.Credit.ExternalInvoiceID)
	assert.Equal(t, topupdomain.TopUpIDReferral, first.Credit.TopUpID)

	again, err := f.svc.CreditReferral(ctx, "acct_1", "ref_42", 30)
	require.NoError(t, err)
	assert.False(t, again.Created)

	_, err = f.svc.CreditReferral(ctx, "acct_1", "ref_43", 0)
	require.ErrorIs(t, err, topupdomain.ErrInvalidMinutes)
	_, err = f.svc.CreditReferral(ctx, "acct_1", "", 10)
	require.ErrorIs(t, err, topupdomain.ErrInvalidReferral)

	bonus, err := f.svc.SumBonusMs(ctx, "acct_1")
	require.NoError(t, err)
	assert.Equal(t, 30*minute, bonus)
}
