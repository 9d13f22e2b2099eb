package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	accountdomain "github.com/luisterslim/billing/internal/account/domain"
	auditdomain "github.com/luisterslim/billing/internal/audit/domain"
	"github.com/luisterslim/billing/internal/catalog"
	"github.com/luisterslim/billing/internal/clock"
	"github.com/luisterslim/billing/internal/config"
	obsmetrics "github.com/luisterslim/billing/internal/observability/metrics"
	billingdomain "github.com/luisterslim/billing/internal/providers/billing/domain"
	retentiondomain "github.com/luisterslim/billing/internal/retention/domain"
	subscriptiondomain "github.com/luisterslim/billing/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	Repo       subscriptiondomain.Repository
	Catalog    *catalog.Catalog
	PlanQuotas *config.PlanQuotaHolder `optional:"true"`
	Accounts   accountdomain.Service
	Retention  retentiondomain.Service
	Gateway    billingdomain.Gateway
	Audit      auditdomain.Service `optional:"true"`
	Metrics    *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	repo       subscriptiondomain.Repository
	catalog    *catalog.Catalog
	planQuotas *config.PlanQuotaHolder
	accounts   accountdomain.Service
	retention  retentiondomain.Service
	gateway    billingdomain.Gateway
	audit      auditdomain.Service
	metrics    *obsmetrics.Metrics
	resolvers  []quotaResolver
}

func NewService(p Params) subscriptiondomain.Service {
	s := &Service{
		db:         p.DB,
		log:        p.Log.Named("subscription.service"),
		clock:      p.Clock,
		repo:       p.Repo,
		catalog:    p.Catalog,
		planQuotas: p.PlanQuotas,
		accounts:   p.Accounts,
		retention:  p.Retention,
		gateway:    p.Gateway,
		audit:      p.Audit,
		metrics:    p.Metrics,
	}
	s.resolvers = s.quotaResolvers()
	return s
}

// Sync moves the account onto req.PlanCode. With verification the provider's
// view of the subscription replaces the status and period end in req, and any
// mismatch aborts before a write.
func (s *Service) Sync(ctx context.Context, req subscriptiondomain.SyncRequest) (*subscriptiondomain.SyncResult, error) {
	accountID := strings.TrimSpace(req.AccountID)
	planCode := strings.ToLower(strings.TrimSpace(req.PlanCode))
	subscriptionID := strings.TrimSpace(req.ExternalSubscriptionID)
	switch {
	case accountID == "":
		return nil, subscriptiondomain.ErrInvalidAccount
	case planCode == "":
		return nil, subscriptiondomain.ErrInvalidPlanCode
	case subscriptionID == "":
		return nil, subscriptiondomain.ErrInvalidSubscriptionID
	}

	status := normalizeStatus(req.Status)
	periodEnd := req.CurrentPeriodEnd

	if req.Verify != nil {
		sub, err := s.fetch(ctx, subscriptionID)
		if err != nil {
			s.metrics.RecordSubscriptionSync(ctx, planCode, status, obsmetrics.OutcomeFailed)
			return nil, err
		}
		if err := s.check(sub, planCode, req.Verify.ExpectedCustomerID); err != nil {
			s.log.Warn("subscription verification rejected",
				zap.String("account_id", accountID),
				zap.String("external_subscription_id", subscriptionID),
				zap.Error(err),
			)
			s.metrics.RecordSubscriptionSync(ctx, planCode, sub.Status, obsmetrics.OutcomeRejected)
			return nil, err
		}
		status = sub.Status
		periodEnd = sub.CurrentPeriodEnd
	}

	return s.apply(ctx, accountID, planCode, subscriptionID, status, periodEnd)
}

// Claim resolves the plan from the subscription's price. Ownership holds when
// the subscription belongs to the account's billing customer or carries the
// account id in its metadata.
func (s *Service) Claim(ctx context.Context, accountID, externalSubscriptionID string) (*subscriptiondomain.SyncResult, error) {
	accountID = strings.TrimSpace(accountID)
	externalSubscriptionID = strings.TrimSpace(externalSubscriptionID)
	if accountID == "" {
		return nil, subscriptiondomain.ErrInvalidAccount
	}
	if externalSubscriptionID == "" {
		return nil, subscriptiondomain.ErrInvalidSubscriptionID
	}

	sub, err := s.fetch(ctx, externalSubscriptionID)
	if err != nil {
		return nil, err
	}
	plan, ok := s.catalog.FindPlanByExternalPriceID(sub.PriceID)
	if !ok {
		return nil, fmt.Errorf("%w: price %q", subscriptiondomain.ErrUnknownPrice, sub.PriceID)
	}

	owned := strings.TrimSpace(sub.Metadata["account_id"]) == accountID
	if !owned {
		customer, err := s.accounts.FindCustomer(ctx, accountID)
		if err != nil {
			return nil, err
		}
		owned = customer != nil && customer.ExternalCustomerID == sub.CustomerID
	}
	if !owned {
		s.log.Warn("subscription claim for foreign subscription",
			zap.String("account_id", accountID),
			zap.String("external_subscription_id", externalSubscriptionID),
		)
		return nil, fmt.Errorf("%w: subscription not owned by account", billingdomain.ErrVerificationRejected)
	}
	if err := s.check(sub, plan.Code, ""); err != nil {
		return nil, err
	}

	return s.apply(ctx, accountID, plan.Code, externalSubscriptionID, sub.Status, sub.CurrentPeriodEnd)
}

func (s *Service) Get(ctx context.Context, accountID string) (*subscriptiondomain.ExternalSubscription, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, subscriptiondomain.ErrInvalidAccount
	}
	sub, err := s.repo.Find(ctx, s.db, accountID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}
	return sub, nil
}

// apply performs the three idempotent upserts of a sync. A failure part way
// leaves earlier writes in place; replaying the same sync converges.
func (s *Service) apply(ctx context.Context, accountID, planCode, subscriptionID, status string, periodEnd *time.Time) (*subscriptiondomain.SyncResult, error) {
	existing, err := s.accounts.GetAssignment(ctx, accountID)
	if err != nil && !errors.Is(err, accountdomain.ErrAccountNotProvisioned) {
		return nil, err
	}
	previousSub, err := s.repo.Find(ctx, s.db, accountID)
	if err != nil {
		return nil, err
	}

	quotaMs, source := s.resolveQuota(planCode, existing)

	assignment, err := s.accounts.UpsertPlan(ctx, accountdomain.UpsertPlanRequest{
		AccountID:   accountID,
		PlanCode:    planCode,
		BaseQuotaMs: quotaMs,
	})
	if err != nil {
		s.metrics.RecordSubscriptionSync(ctx, planCode, status, obsmetrics.OutcomeFailed)
		return nil, err
	}

	now := s.clock.Now()
	mirror := &subscriptiondomain.ExternalSubscription{
		AccountID:              accountID,
		ExternalSubscriptionID: subscriptionID,
		PlanCode:               planCode,
		Status:                 status,
		CurrentPeriodEnd:       utcPtr(periodEnd),
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if err := s.repo.Upsert(ctx, s.db, mirror); err != nil {
		s.metrics.RecordSubscriptionSync(ctx, planCode, status, obsmetrics.OutcomeFailed)
		return nil, err
	}

	retention, err := s.retention.ApplyPlan(ctx, accountID, planCode)
	if err != nil {
		s.metrics.RecordSubscriptionSync(ctx, planCode, status, obsmetrics.OutcomeFailed)
		return nil, err
	}

	changed := existing == nil ||
		existing.PlanCode != planCode ||
		existing.BaseQuotaMs != quotaMs ||
		previousSub == nil ||
		previousSub.ExternalSubscriptionID != subscriptionID ||
		previousSub.Status != status

	outcome := obsmetrics.OutcomeAccepted
	if !changed {
		outcome = obsmetrics.OutcomeReplayed
	}
	s.metrics.RecordSubscriptionSync(ctx, planCode, status, outcome)

	if changed {
		s.log.Info("subscription synced",
			zap.String("account_id", accountID),
			zap.String("plan_code", planCode),
			zap.String("status", status),
			zap.Int64("base_quota_ms", quotaMs),
			zap.String("quota_source", source),
		)
		if s.audit != nil {
			metadata := map[string]any{
				"plan_code":     planCode,
				"status":        status,
				"base_quota_ms": quotaMs,
				"quota_source":  source,
			}
			if existing != nil {
				metadata["previous_plan_code"] = existing.PlanCode
			}
			s.audit.Record(ctx, auditdomain.Entry{
				AccountID:  accountID,
				Action:     auditdomain.ActionPlanSynced,
				TargetType: "external_subscription",
				TargetID:   subscriptionID,
				Metadata:   metadata,
			})
		}
	}

	stored, err := s.repo.Find(ctx, s.db, accountID)
	if err != nil {
		return nil, err
	}
	return &subscriptiondomain.SyncResult{
		Assignment:   assignment,
		Subscription: stored,
		Retention:    retention,
		QuotaSource:  source,
		Changed:      changed,
	}, nil
}

func (s *Service) fetch(ctx context.Context, subscriptionID string) (*billingdomain.Subscription, error) {
	sub, err := s.gateway.GetSubscription(ctx, subscriptionID)
	if err != nil {
		if errors.Is(err, billingdomain.ErrNotFound) || errors.Is(err, billingdomain.ErrRejected) {
			return nil, fmt.Errorf("%w: subscription %s: %v", billingdomain.ErrVerificationRejected, subscriptionID, err)
		}
		return nil, err
	}
	sub.Status = normalizeStatus(sub.Status)
	return sub, nil
}

// check enforces the accepted status set, the expected customer and, when the
// price is known to the catalog, that it is the price of planCode.
func (s *Service) check(sub *billingdomain.Subscription, planCode, expectedCustomerID string) error {
	if _, ok := subscriptiondomain.VerifiableStatuses[sub.Status]; !ok {
		return fmt.Errorf("%w: subscription status %q", billingdomain.ErrVerificationRejected, sub.Status)
	}
	expectedCustomerID = strings.TrimSpace(expectedCustomerID)
	if expectedCustomerID != "" && sub.CustomerID != expectedCustomerID {
		return fmt.Errorf("%w: subscription customer mismatch", billingdomain.ErrVerificationRejected)
	}
	if plan, ok := s.catalog.FindPlanByExternalPriceID(sub.PriceID); ok && plan.Code != planCode {
		return fmt.Errorf("%w: subscription is for plan %q", billingdomain.ErrVerificationRejected, plan.Code)
	}
	return nil
}

func normalizeStatus(status string) string {
	status = strings.ToLower(strings.TrimSpace(status))
	if status == "" {
		return subscriptiondomain.StatusActive
	}
	return status
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
