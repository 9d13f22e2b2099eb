package service

import (
	"context"
	"strings"

	"github.com/google/uuid"
	accountdomain "github.com/luisterslim/billing/internal/account/domain"
	"github.com/luisterslim/billing/internal/clock"
	obscontext "github.com/luisterslim/billing/internal/observability/context"
	obsmetrics "github.com/luisterslim/billing/internal/observability/metrics"
	"github.com/luisterslim/billing/internal/observability/tracing"
	"github.com/luisterslim/billing/internal/period"
	quotadomain "github.com/luisterslim/billing/internal/quota/domain"
	topupdomain "github.com/luisterslim/billing/internal/topup/domain"
	usagedomain "github.com/luisterslim/billing/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Clock    clock.Clock
	Accounts accountdomain.Service
	Usage    usagedomain.Service
	TopUps   topupdomain.Service
	Metrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	log      *zap.Logger
	clock    clock.Clock
	accounts accountdomain.Service
	usage    usagedomain.Service
	topups   topupdomain.Service
	metrics  *obsmetrics.Metrics
}

func NewService(p Params) quotadomain.Service {
	return &Service{
		log:      p.Log.Named("quota.service"),
		clock:    p.Clock,
		accounts: p.Accounts,
		usage:    p.Usage,
		topups:   p.TopUps,
		metrics:  p.Metrics,
	}
}

// EffectiveQuota resolves the account's current period and its base plus
// bonus quota.
func (s *Service) EffectiveQuota(ctx context.Context, accountID string) (*quotadomain.Quota, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, quotadomain.ErrInvalidAccount
	}

	assignment, err := s.accounts.GetAssignment(ctx, accountID)
	if err != nil {
		return nil, err
	}
	current, err := period.At(s.clock.Now(), assignment.Timezone, assignment.RenewDay)
	if err != nil {
		return nil, err
	}
	bonusMs, err := s.topups.SumBonusMs(ctx, accountID)
	if err != nil {
		return nil, err
	}

	tracing.AnnotateQuota(ctx, assignment.PlanCode, current.ID)
	return &quotadomain.Quota{
		AccountID:   accountID,
		PlanCode:    assignment.PlanCode,
		PeriodID:    current.ID,
		PeriodEnd:   current.EndISO(),
		BaseQuotaMs: assignment.BaseQuotaMs,
		BonusMs:     bonusMs,
	}, nil
}

// DebitUsage charges deltaMs against the effective quota of the current
// period. A refusal is returned as *QuotaExceededError; the artifact it was
// for is not rolled back.
func (s *Service) DebitUsage(ctx context.Context, req quotadomain.DebitRequest) (*quotadomain.DebitResult, error) {
	quota, err := s.EffectiveQuota(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}
	ctx = obscontext.WithPeriodID(ctx, quota.PeriodID)

	eventID := strings.TrimSpace(req.EventID)
	if eventID == "" {
		eventID = uuid.NewString()
	}
	quotaMs := quota.EffectiveMs()

	res, err := s.usage.Debit(ctx, usagedomain.DebitRequest{
		EventID:              eventID,
		AccountID:            quota.AccountID,
		PeriodID:             quota.PeriodID,
		DeltaMs:              req.DeltaMs,
		QuotaMs:              quotaMs,
		TranscriptArtifactID: req.TranscriptArtifactID,
	})
	if err != nil {
		s.metrics.RecordUsageDebit(ctx, quota.PlanCode, obsmetrics.OutcomeFailed, 0)
		return nil, err
	}

	if !res.Accepted {
		s.log.Debug("usage debit refused",
			zap.String("account_id", quota.AccountID),
			zap.String("period_id", quota.PeriodID),
			zap.Int64("delta_ms", req.DeltaMs),
			zap.Int64("used_ms", res.UsedMs),
			zap.Int64("quota_ms", quotaMs),
		)
		s.metrics.RecordUsageDebit(ctx, quota.PlanCode, obsmetrics.OutcomeRejected, 0)
		return nil, &quotadomain.QuotaExceededError{
			AccountID: quota.AccountID,
			PeriodID:  quota.PeriodID,
			DeltaMs:   req.DeltaMs,
			UsedMs:    res.UsedMs,
			QuotaMs:   quotaMs,
		}
	}

	outcome := obsmetrics.OutcomeAccepted
	if res.Replayed {
		outcome = obsmetrics.OutcomeReplayed
	}
	s.metrics.RecordUsageDebit(ctx, quota.PlanCode, outcome, req.DeltaMs)

	return &quotadomain.DebitResult{
		Accepted:    true,
		Replayed:    res.Replayed,
		EventID:     eventID,
		PeriodID:    quota.PeriodID,
		UsedMs:      res.UsedMs,
		RemainingMs: quotadomain.RemainingMs(quotaMs, res.UsedMs),
		QuotaMs:     quotaMs,
	}, nil
}

func (s *Service) Snapshot(ctx context.Context, accountID string) (*quotadomain.Snapshot, error) {
	quota, err := s.EffectiveQuota(ctx, accountID)
	if err != nil {
		return nil, err
	}
	ctx = obscontext.WithPeriodID(ctx, quota.PeriodID)
	if err := s.usage.EnsurePeriodRow(ctx, quota.AccountID, quota.PeriodID); err != nil {
		return nil, err
	}
	usedMs, err := s.usage.GetUsedMs(ctx, quota.AccountID, quota.PeriodID)
	if err != nil {
		return nil, err
	}

	quotaMs := quota.EffectiveMs()
	return &quotadomain.Snapshot{
		PlanCode:         quota.PlanCode,
		QuotaMinutes:     quotadomain.MsToMinutes(quotaMs),
		UsedMinutes:      quotadomain.MsToMinutes(usedMs),
		RemainingMinutes: quotadomain.MsToMinutes(quotadomain.RemainingMs(quotaMs, usedMs)),
		BonusMinutes:     quotadomain.MsToMinutes(quota.BonusMs),
		BaseQuotaMinutes: quotadomain.MsToMinutes(quota.BaseQuotaMs),
		PeriodID:         quota.PeriodID,
		PeriodEndsAt:     quota.PeriodEnd,
	}, nil
}
