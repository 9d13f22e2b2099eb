package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/luisterslim/billing/internal/account/domain"
	"github.com/luisterslim/billing/internal/catalog"
	"github.com/luisterslim/billing/internal/clock"
	obsmetrics "github.com/luisterslim/billing/internal/observability/metrics"
	billingdomain "github.com/luisterslim/billing/internal/providers/billing/domain"
	quotadomain "github.com/luisterslim/billing/internal/quota/domain"
	subscriptiondomain "github.com/luisterslim/billing/internal/subscription/domain"
	topupdomain "github.com/luisterslim/billing/internal/topup/domain"
	webhookdomain "github.com/luisterslim/billing/internal/webhook/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	checkoutModePayment      = "payment"
	checkoutModeSubscription = "subscription"
	checkoutPaid             = "paid"
	checkoutNoPaymentNeeded  = "no_payment_required"
)

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Clock         clock.Clock
	Repo          webhookdomain.Repository
	Gateway       billingdomain.Gateway
	Catalog       *catalog.Catalog
	Accounts      accountdomain.Service
	Subscriptions subscriptiondomain.Service
	TopUps        topupdomain.Service
	Quota         quotadomain.Service
	Metrics       *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	genID         *snowflake.Node
	clock         clock.Clock
	repo          webhookdomain.Repository
	gateway       billingdomain.Gateway
	catalog       *catalog.Catalog
	accounts      accountdomain.Service
	subscriptions subscriptiondomain.Service
	topups        topupdomain.Service
	quota         quotadomain.Service
	metrics       *obsmetrics.Metrics
}

func NewService(p Params) webhookdomain.Service {
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("webhook.service"),
		genID:         p.GenID,
		clock:         p.Clock,
		repo:          p.Repo,
		gateway:       p.Gateway,
		catalog:       p.Catalog,
		accounts:      p.Accounts,
		subscriptions: p.Subscriptions,
		topups:        p.TopUps,
		quota:         p.Quota,
		metrics:       p.Metrics,
	}
}

func (s *Service) Ingest(ctx context.Context, payload []byte, signatureHeader string) (*webhookdomain.IngestResult, error) {
	event, err := s.gateway.ConstructEvent(payload, signatureHeader)
	if err != nil {
		return nil, err
	}
	event.ID = strings.TrimSpace(event.ID)
	event.Type = strings.TrimSpace(event.Type)
	if event.ID == "" || event.Type == "" {
		return nil, webhookdomain.ErrInvalidEvent
	}

	received := webhookdomain.Event{
		ID:              s.genID.Generate(),
		Provider:        billingdomain.ProviderStripe,
		ProviderEventID: event.ID,
		EventType:       event.Type,
		Payload:         datatypes.JSON(payload),
		ReceivedAt:      s.clock.Now().UTC(),
	}
	inserted, err := s.repo.InsertIfAbsent(ctx, s.db, &received)
	if err != nil {
		return nil, err
	}
	stored := &received
	if !inserted {
		stored, err = s.repo.Find(ctx, s.db, billingdomain.ProviderStripe, event.ID)
		if err != nil {
			return nil, err
		}
		if stored == nil {
			return nil, webhookdomain.ErrInvalidEvent
		}
		if stored.ProcessedAt != nil {
			s.metrics.RecordWebhookEvent(ctx, billingdomain.ProviderStripe, event.Type, obsmetrics.OutcomeReplayed)
			return nil, webhookdomain.ErrEventAlreadyProcessed
		}
	}

	ignored, err := s.process(ctx, stored, event.Object)
	if err != nil {
		return nil, err
	}
	return &webhookdomain.IngestResult{EventID: event.ID, Type: event.Type, Ignored: ignored}, nil
}

func (s *Service) RetryPending(ctx context.Context, limit int) (*webhookdomain.RetryReport, error) {
	if limit <= 0 {
		limit = 50
	}
	before := s.clock.Now().UTC().Add(-webhookdomain.RetryGrace)
	pending, err := s.repo.ListPending(ctx, s.db, billingdomain.ProviderStripe, before, webhookdomain.MaxAttempts, limit)
	if err != nil {
		return nil, err
	}

	report := &webhookdomain.RetryReport{}
	for i := range pending {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		stored := &pending[i]
		var envelope stripeEnvelope
		if err := json.Unmarshal(stored.Payload, &envelope); err != nil {
			s.log.Warn("stored webhook payload unreadable",
				zap.String("provider_event_id", stored.ProviderEventID),
				zap.Error(err),
			)
			if err := s.repo.MarkFailed(ctx, s.db, stored.ID, "unreadable payload"); err != nil {
				return report, err
			}
			report.Attempted++
			report.Failed++
			continue
		}

		report.Attempted++
		if _, err := s.process(ctx, stored, envelope.Data.Object); err != nil {
			report.Failed++
			continue
		}
		report.Succeeded++
	}
	return report, nil
}

// process applies one recorded event and stores the outcome on its row.
func (s *Service) process(ctx context.Context, stored *webhookdomain.Event, object []byte) (bool, error) {
	ignored, err := s.dispatch(ctx, stored.EventType, object)
	if err != nil {
		s.log.Warn("webhook event failed",
			zap.String("provider_event_id", stored.ProviderEventID),
			zap.String("event_type", stored.EventType),
			zap.Int("attempt", stored.Attempts+1),
			zap.Bool("retryable", billingdomain.IsRetryable(err)),
			zap.Error(err),
		)
		s.metrics.RecordWebhookEvent(ctx, stored.Provider, stored.EventType, obsmetrics.OutcomeFailed)
		if markErr := s.repo.MarkFailed(ctx, s.db, stored.ID, err.Error()); markErr != nil {
			s.log.Error("failed to record webhook failure", zap.Error(markErr))
		}
		return false, err
	}

	if err := s.repo.MarkProcessed(ctx, s.db, stored.ID, s.clock.Now().UTC()); err != nil {
		return false, err
	}
	outcome := obsmetrics.OutcomeAccepted
	if ignored {
		outcome = obsmetrics.OutcomeIgnored
	}
	s.metrics.RecordWebhookEvent(ctx, stored.Provider, stored.EventType, outcome)
	return ignored, nil
}

func (s *Service) dispatch(ctx context.Context, eventType string, object []byte) (bool, error) {
	switch eventType {
	case webhookdomain.EventSubscriptionCreated, webhookdomain.EventSubscriptionUpdated:
		return s.onSubscriptionChanged(ctx, object, false)
	case webhookdomain.EventSubscriptionDeleted:
		return s.onSubscriptionChanged(ctx, object, true)
	case webhookdomain.EventInvoicePaid:
		return s.onInvoice(ctx, object, subscriptiondomain.StatusActive)
	case webhookdomain.EventInvoicePaymentFail:
		return s.onInvoice(ctx, object, subscriptiondomain.StatusPastDue)
	case webhookdomain.EventCheckoutCompleted:
		return s.onCheckoutCompleted(ctx, object)
	default:
		return true, nil
	}
}

func (s *Service) onSubscriptionChanged(ctx context.Context, object []byte, deleted bool) (bool, error) {
	var sub stripeSubscription
	if err := json.Unmarshal(object, &sub); err != nil || strings.TrimSpace(sub.ID) == "" {
		return false, webhookdomain.ErrInvalidEvent
	}
	accountID, err := s.resolveAccount(ctx, sub.Metadata, sub.Customer.String())
	if err != nil {
		return false, err
	}

	status := strings.ToLower(strings.TrimSpace(sub.Status))
	ending := deleted || subscriptiondomain.IsTerminal(status)
	if ending {
		stale, err := s.isSuperseded(ctx, accountID, sub.ID)
		if err != nil {
			return false, err
		}
		if stale {
			s.log.Info("ignoring end of a subscription that is not on record",
				zap.String("account_id", accountID),
				zap.String("external_subscription_id", sub.ID),
				zap.String("status", status),
			)
			return true, nil
		}
	}

	var planCode string
	switch {
	case deleted:
		planCode = catalog.PlanFree
		status = subscriptiondomain.StatusCanceled
	case ending:
		planCode = catalog.PlanFree
	default:
		plan, ok := s.catalog.FindPlanByExternalPriceID(sub.priceID())
		if !ok {
			return false, fmt.Errorf("%w: price %q", subscriptiondomain.ErrUnknownPrice, sub.priceID())
		}
		planCode = plan.Code
	}

	_, err = s.subscriptions.Sync(ctx, subscriptiondomain.SyncRequest{
		AccountID:              accountID,
		PlanCode:               planCode,
		ExternalSubscriptionID: sub.ID,
		Status:                 status,
		CurrentPeriodEnd:       sub.periodEnd(),
	})
	return false, err
}

// isSuperseded reports whether the account's recorded subscription is a
// different one. An account holds one active subscription at a time.
func (s *Service) isSuperseded(ctx context.Context, accountID, subscriptionID string) (bool, error) {
	current, err := s.subscriptions.Get(ctx, accountID)
	if err != nil {
		if errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound) {
			return false, nil
		}
		return false, err
	}
	return current.ExternalSubscriptionID != subscriptionID, nil
}

// onInvoice re-reads the subscription behind a subscription invoice and syncs
// it with status. Invoices without a subscription are ignored.
func (s *Service) onInvoice(ctx context.Context, object []byte, status string) (bool, error) {
	var invoice stripeInvoice
	if err := json.Unmarshal(object, &invoice); err != nil || strings.TrimSpace(invoice.ID) == "" {
		return false, webhookdomain.ErrInvalidEvent
	}
	subscriptionID := invoice.subscriptionID()
	if subscriptionID == "" {
		return true, nil
	}
	return false, s.syncFromProvider(ctx, subscriptionID, status)
}

func (s *Service) onCheckoutCompleted(ctx context.Context, object []byte) (bool, error) {
	var session stripeCheckoutSession
	if err := json.Unmarshal(object, &session); err != nil || strings.TrimSpace(session.ID) == "" {
		return false, webhookdomain.ErrInvalidEvent
	}
	if session.PaymentStatus != checkoutPaid && session.PaymentStatus != checkoutNoPaymentNeeded {
		return true, nil
	}

	switch session.Mode {
	case checkoutModeSubscription:
		subscriptionID := session.Subscription.String()
		if subscriptionID == "" {
			return true, nil
		}
		return false, s.syncFromProvider(ctx, subscriptionID, subscriptiondomain.StatusActive)
	case checkoutModePayment:
		return s.creditCheckoutTopUp(ctx, session)
	default:
		return true, nil
	}
}

// creditCheckoutTopUp credits a paid top-up session. The session's pack is
// checked against the payment intent, and the credit is keyed by the intent
// so a later client confirmation of the same payment is a replay.
func (s *Service) creditCheckoutTopUp(ctx context.Context, session stripeCheckoutSession) (bool, error) {
	topUpID := strings.TrimSpace(session.Metadata["topup_id"])
	if topUpID == "" {
		return true, nil
	}
	pack, ok := s.catalog.FindTopUp(topUpID)
	if !ok {
		return false, fmt.Errorf("%w: %q", topupdomain.ErrUnknownTopUp, topUpID)
	}
	paymentIntentID := session.PaymentIntent.String()
	if paymentIntentID == "" {
		s.log.Warn("top-up session without payment intent",
			zap.String("session_id", session.ID),
			zap.String("topup_id", topUpID),
		)
		return true, nil
	}

	metadata := session.Metadata
	if strings.TrimSpace(metadata["account_id"]) == "" && strings.TrimSpace(session.ClientReferenceID) != "" {
		metadata = map[string]string{"account_id": session.ClientReferenceID}
	}
	accountID, err := s.resolveAccount(ctx, metadata, session.Customer.String())
	if err != nil {
		return false, err
	}
	if _, err := s.accounts.EnsureProvisioned(ctx, accountdomain.ProvisionRequest{AccountID: accountID}); err != nil {
		return false, err
	}
	quota, err := s.quota.EffectiveQuota(ctx, accountID)
	if err != nil {
		return false, err
	}

	_, err = s.topups.CreditTopUp(ctx, topupdomain.CreditRequest{
		AccountID:        accountID,
		TopUpID:          pack.ID,
		MinutesGranted:   pack.MinutesGranted,
		CreditedPeriodID: quota.PeriodID,
		Verify: &topupdomain.Verification{
			PaymentIntentID:    paymentIntentID,
			ExpectedCustomerID: session.Customer.String(),
			TopUpID:            pack.ID,
		},
	})
	return false, err
}

func (s *Service) syncFromProvider(ctx context.Context, subscriptionID, status string) error {
	sub, err := s.gateway.GetSubscription(ctx, subscriptionID)
	if err != nil {
		if errors.Is(err, billingdomain.ErrNotFound) {
			return fmt.Errorf("%w: subscription %s: %v", billingdomain.ErrVerificationRejected, subscriptionID, err)
		}
		return err
	}
	accountID, err := s.resolveAccount(ctx, sub.Metadata, sub.CustomerID)
	if err != nil {
		return err
	}
	plan, ok := s.catalog.FindPlanByExternalPriceID(sub.PriceID)
	if !ok {
		return fmt.Errorf("%w: price %q", subscriptiondomain.ErrUnknownPrice, sub.PriceID)
	}

	_, err = s.subscriptions.Sync(ctx, subscriptiondomain.SyncRequest{
		AccountID:              accountID,
		PlanCode:               plan.Code,
		ExternalSubscriptionID: sub.ID,
		Status:                 status,
		CurrentPeriodEnd:       sub.CurrentPeriodEnd,
	})
	return err
}

// resolveAccount prefers the account id stamped into provider metadata and
// falls back to the stored billing customer link.
func (s *Service) resolveAccount(ctx context.Context, metadata map[string]string, customerID string) (string, error) {
	if accountID := strings.TrimSpace(metadata["account_id"]); accountID != "" {
		return accountID, nil
	}
	accountID, err := s.accounts.FindAccountByCustomer(ctx, customerID)
	if err != nil {
		if errors.Is(err, accountdomain.ErrCustomerNotFound) {
			return "", fmt.Errorf("%w: customer %q", webhookdomain.ErrUnresolvedAccount, customerID)
		}
		return "", err
	}
	return accountID, nil
}
