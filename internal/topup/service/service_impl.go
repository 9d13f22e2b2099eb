package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	accountdomain "github.com/luisterslim/billing/internal/account/domain"
	auditdomain "github.com/luisterslim/billing/internal/audit/domain"
	"github.com/luisterslim/billing/internal/catalog"
	"github.com/luisterslim/billing/internal/clock"
	obsmetrics "github.com/luisterslim/billing/internal/observability/metrics"
	"github.com/luisterslim/billing/internal/period"
	billingdomain "github.com/luisterslim/billing/internal/providers/billing/domain"
	topupdomain "github.com/luisterslim/billing/internal/topup/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	paymentIntentSucceeded = "succeeded"

	defaultListLimit = 50
	maxListLimit     = 200

	// maxReferralMinutes caps a single referral grant.
	maxReferralMinutes = 600
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	Repo     topupdomain.Repository
	Catalog  *catalog.Catalog
	Accounts accountdomain.Service
	Gateway  billingdomain.Gateway
	Audit    auditdomain.Service `optional:"true"`
	Metrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	repo     topupdomain.Repository
	catalog  *catalog.Catalog
	accounts accountdomain.Service
	gateway  billingdomain.Gateway
	audit    auditdomain.Service
	metrics  *obsmetrics.Metrics
}

func NewService(p Params) topupdomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("topup.service"),
		clock:    p.Clock,
		repo:     p.Repo,
		catalog:  p.Catalog,
		accounts: p.Accounts,
		gateway:  p.Gateway,
		audit:    p.Audit,
		metrics:  p.Metrics,
	}
}

// CreditTopUp writes the credit once per external invoice id. When
// verification is requested it must pass before anything is written, and the
// verified payment intent id becomes the key.
func (s *Service) CreditTopUp(ctx context.Context, req topupdomain.CreditRequest) (*topupdomain.CreditResult, error) {
	req.ExternalInvoiceID = strings.TrimSpace(req.ExternalInvoiceID)
	req.AccountID = strings.TrimSpace(req.AccountID)
	req.TopUpID = strings.TrimSpace(req.TopUpID)
	req.CreditedPeriodID = strings.TrimSpace(req.CreditedPeriodID)
	req.ExternalPaymentID = strings.TrimSpace(req.ExternalPaymentID)

	switch {
	case req.ExternalInvoiceID == "" && req.Verify == nil:
		return nil, topupdomain.ErrInvalidInvoice
	case req.AccountID == "":
		return nil, topupdomain.ErrInvalidAccount
	case req.TopUpID == "":
		return nil, topupdomain.ErrInvalidTopUp
	case req.MinutesGranted <= 0:
		return nil, topupdomain.ErrInvalidMinutes
	case req.CreditedPeriodID == "":
		return nil, topupdomain.ErrInvalidPeriod
	}

	source := creditSource(req.TopUpID)

	if req.Verify != nil {
		verify := *req.Verify
		if strings.TrimSpace(verify.TopUpID) == "" {
			verify.TopUpID = req.TopUpID
		}
		paymentID, err := s.verifyPayment(ctx, req.AccountID, verify)
		if err != nil {
			s.metrics.RecordTopUpCredit(ctx, source, obsmetrics.OutcomeFailed, 0)
			return nil, err
		}
		req.ExternalInvoiceID = paymentID
		req.ExternalPaymentID = paymentID
	}

	credit := topupdomain.TopUpCredit{
		ExternalInvoiceID: req.ExternalInvoiceID,
		AccountID:         req.AccountID,
		TopUpID:           req.TopUpID,
		MsGranted:         req.MinutesGranted * catalog.MsPerMinute,
		MinutesGranted:    req.MinutesGranted,
		ExternalPaymentID: optionalString(req.ExternalPaymentID),
		CreditedPeriodID:  req.CreditedPeriodID,
		CreatedAt:         s.clock.Now().UTC(),
	}

	created, err := s.repo.InsertIfAbsent(ctx, s.db, &credit)
	if err != nil {
		return nil, err
	}
	if !created {
		existing, err := s.findExisting(ctx, req.ExternalInvoiceID, req.ExternalPaymentID)
		if err != nil {
			return nil, err
		}
		if existing.AccountID != req.AccountID {
			s.log.Warn("topup invoice replayed for a different account",
				zap.String("external_invoice_id", req.ExternalInvoiceID),
				zap.String("account_id", req.AccountID),
			)
			return nil, topupdomain.ErrInvoiceConflict
		}
		s.metrics.RecordTopUpCredit(ctx, source, obsmetrics.OutcomeReplayed, 0)
		return &topupdomain.CreditResult{Created: false, Credit: existing}, nil
	}

	s.metrics.RecordTopUpCredit(ctx, source, obsmetrics.OutcomeAccepted, credit.MsGranted)
	s.log.Info("topup credited",
		zap.String("account_id", credit.AccountID),
		zap.String("topup_id", credit.TopUpID),
		zap.Int64("ms_granted", credit.MsGranted),
		zap.String("credited_period_id", credit.CreditedPeriodID),
	)
	if s.audit != nil {
		s.audit.Record(ctx, auditdomain.Entry{
			AccountID:  credit.AccountID,
			Action:     auditdomain.ActionTopUpCredited,
			TargetType: "topup_credit",
			TargetID:   credit.ExternalInvoiceID,
			Metadata: map[string]any{
				"topup_id":            credit.TopUpID,
				"minutes_granted":     credit.MinutesGranted,
				"credited_period_id":  credit.CreditedPeriodID,
				"external_payment_id": req.ExternalPaymentID,
			},
		})
	}
	return &topupdomain.CreditResult{Created: true, Credit: &credit}, nil
}

// ConfirmPurchase credits a catalog top-up into the account's current period
// after the payment intent has been verified with the provider.
func (s *Service) ConfirmPurchase(ctx context.Context, req topupdomain.ConfirmRequest) (*topupdomain.CreditResult, error) {
	accountID := strings.TrimSpace(req.AccountID)
	if accountID == "" {
		return nil, topupdomain.ErrInvalidAccount
	}
	paymentIntentID := strings.TrimSpace(req.PaymentIntentID)
	if paymentIntentID == "" {
		return nil, topupdomain.ErrInvalidPayment
	}
	pack, ok := s.catalog.FindTopUp(req.TopUpID)
	if !ok {
		return nil, topupdomain.ErrUnknownTopUp
	}

	current, err := s.currentPeriod(ctx, accountID)
	if err != nil {
		return nil, err
	}

	verify := &topupdomain.Verification{PaymentIntentID: paymentIntentID, TopUpID: pack.ID}
	customer, err := s.accounts.FindCustomer(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if customer != nil {
		verify.ExpectedCustomerID = customer.ExternalCustomerID
	}

	return s.CreditTopUp(ctx, topupdomain.CreditRequest{
		AccountID:        accountID,
		TopUpID:          pack.ID,
		MinutesGranted:   pack.MinutesGranted,
		CreditedPeriodID: current.ID,
		Verify:           verify,
	})
}

// CreditReferral grants referral minutes through the same idempotent ledger.
// A referral can only be credited once per account.
func (s *Service) CreditReferral(ctx context.Context, accountID, referralID string, minutes int64) (*topupdomain.CreditResult, error) {
	accountID = strings.TrimSpace(accountID)
	referralID = strings.TrimSpace(referralID)
	if accountID == "" {
		return nil, topupdomain.ErrInvalidAccount
	}
	if referralID == "" {
		return nil, topupdomain.ErrInvalidReferral
	}
	if minutes <= 0 || minutes > maxReferralMinutes {
		return nil, topupdomain.ErrInvalidMinutes
	}

	current, err := s.currentPeriod(ctx, accountID)
	if err != nil {
		return nil, err
	}

	return s.CreditTopUp(ctx, topupdomain.CreditRequest{
		ExternalInvoiceID: fmt.Sprintf("referral:%s:%s", referralID, accountID),
		AccountID:         accountID,
		TopUpID:           topupdomain.TopUpIDReferral,
		MinutesGranted:    minutes,
		CreditedPeriodID:  current.ID,
	})
}

// SumBonusMs totals credits created within BonusWindow of now.
func (s *Service) SumBonusMs(ctx context.Context, accountID string) (int64, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return 0, topupdomain.ErrInvalidAccount
	}
	since := s.clock.Now().UTC().Add(-topupdomain.BonusWindow)
	return s.repo.SumMsSince(ctx, s.db, accountID, since)
}

func (s *Service) List(ctx context.Context, accountID string, limit int) ([]topupdomain.TopUpCredit, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, topupdomain.ErrInvalidAccount
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return s.repo.ListByAccount(ctx, s.db, accountID, limit)
}

// findExisting loads the row that won the insert conflict. The conflict may be
// on the invoice key or on the payment id.
func (s *Service) findExisting(ctx context.Context, invoiceID, paymentID string) (*topupdomain.TopUpCredit, error) {
	existing, err := s.repo.Find(ctx, s.db, invoiceID)
	if err != nil {
		return nil, err
	}
	if existing == nil && paymentID != "" {
		existing, err = s.repo.FindByPayment(ctx, s.db, paymentID)
		if err != nil {
			return nil, err
		}
	}
	if existing == nil {
		return nil, fmt.Errorf("topup credit %s vanished after conflict", invoiceID)
	}
	return existing, nil
}

func (s *Service) currentPeriod(ctx context.Context, accountID string) (period.Period, error) {
	assignment, err := s.accounts.GetAssignment(ctx, accountID)
	if err != nil {
		return period.Period{}, err
	}
	return period.At(s.clock.Now(), assignment.Timezone, assignment.RenewDay)
}

// verifyPayment fails closed: anything short of a succeeded intent owned by
// the account and paid for the claimed pack is an error. It returns the
// verified payment intent id.
func (s *Service) verifyPayment(ctx context.Context, accountID string, v topupdomain.Verification) (string, error) {
	paymentIntentID := strings.TrimSpace(v.PaymentIntentID)
	if paymentIntentID == "" {
		return "", topupdomain.ErrInvalidPayment
	}

	intent, err := s.gateway.GetPaymentIntent(ctx, paymentIntentID)
	if err != nil {
		if errors.Is(err, billingdomain.ErrNotFound) || errors.Is(err, billingdomain.ErrRejected) {
			return "", fmt.Errorf("%w: payment intent %s: %v", billingdomain.ErrVerificationRejected, paymentIntentID, err)
		}
		return "", err
	}

	if intent.Status != paymentIntentSucceeded {
		return "", fmt.Errorf("%w: payment intent status %q", billingdomain.ErrVerificationRejected, intent.Status)
	}

	owner := strings.TrimSpace(intent.Metadata["account_id"])
	expectedCustomer := strings.TrimSpace(v.ExpectedCustomerID)
	switch {
	case owner == accountID:
	case owner == "" && expectedCustomer != "" && intent.CustomerID == expectedCustomer:
	default:
		s.log.Warn("payment intent does not belong to account",
			zap.String("account_id", accountID),
			zap.String("payment_intent_id", paymentIntentID),
		)
		return "", fmt.Errorf("%w: payment intent not owned by account", billingdomain.ErrVerificationRejected)
	}

	paidFor := strings.TrimSpace(intent.Metadata["topup_id"])
	if paidFor != strings.TrimSpace(v.TopUpID) {
		s.log.Warn("payment intent was made for another top-up",
			zap.String("account_id", accountID),
			zap.String("payment_intent_id", paymentIntentID),
			zap.String("paid_topup_id", paidFor),
			zap.String("claimed_topup_id", v.TopUpID),
		)
		return "", fmt.Errorf("%w: payment intent is for top-up %q", billingdomain.ErrVerificationRejected, paidFor)
	}
	return paymentIntentID, nil
}

func creditSource(topUpID string) string {
	if topUpID == topupdomain.TopUpIDReferral {
		return "referral"
	}
	return "topup"
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
