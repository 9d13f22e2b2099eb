package service

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/luisterslim/billing/internal/clock"
	usagedomain "github.com/luisterslim/billing/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
	Repo  usagedomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	repo  usagedomain.Repository
}

// errDebitRejected rolls back the event insert when the counter refuses the delta.
var errDebitRejected = errors.New("debit_rejected")

func NewService(p ServiceParam) usagedomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("usage.service"),
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) EnsurePeriodRow(ctx context.Context, accountID, periodID string) error {
	accountID, periodID, err := normalizeKey(accountID, periodID)
	if err != nil {
		return err
	}
	return s.repo.EnsurePeriod(ctx, s.db, accountID, periodID, s.clock.Now())
}

func (s *Service) GetUsedMs(ctx context.Context, accountID, periodID string) (int64, error) {
	accountID, periodID, err := normalizeKey(accountID, periodID)
	if err != nil {
		return 0, err
	}
	period, err := s.repo.FindPeriod(ctx, s.db, accountID, periodID)
	if err != nil {
		return 0, err
	}
	if period == nil {
		return 0, usagedomain.ErrPeriodNotFound
	}
	return period.UsedMs, nil
}

// RecordEvent appends to the event log without touching the counter. A retry
// with the same id returns the stored event.
func (s *Service) RecordEvent(ctx context.Context, req usagedomain.RecordEventRequest) (*usagedomain.UsageEvent, error) {
	event, err := s.buildEvent(req.ID, req.AccountID, req.PeriodID, req.DeltaMs, req.TranscriptArtifactID)
	if err != nil {
		return nil, err
	}

	created, err := s.repo.InsertEvent(ctx, s.db, event)
	if err != nil {
		return nil, err
	}
	if created {
		return event, nil
	}
	return s.existingEvent(ctx, s.db, event)
}

// Debit appends the event and moves the counter in one transaction. The
// counter only moves through a single conditional UPDATE, so concurrent
// debits can never push used_ms past QuotaMs.
func (s *Service) Debit(ctx context.Context, req usagedomain.DebitRequest) (usagedomain.DebitResult, error) {
	if req.QuotaMs < 0 {
		return usagedomain.DebitResult{}, usagedomain.ErrInvalidQuota
	}
	event, err := s.buildEvent(req.EventID, req.AccountID, req.PeriodID, req.DeltaMs, req.TranscriptArtifactID)
	if err != nil {
		return usagedomain.DebitResult{}, err
	}

	now := event.CreatedAt
	if err := s.repo.EnsurePeriod(ctx, s.db, event.AccountID, event.PeriodID, now); err != nil {
		return usagedomain.DebitResult{}, err
	}

	var result usagedomain.DebitResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		created, err := s.repo.InsertEvent(ctx, tx, event)
		if err != nil {
			return err
		}
		if !created {
			existing, err := s.existingEvent(ctx, tx, event)
			if err != nil {
				return err
			}
			result.Accepted = true
			result.Replayed = true
			result.Event = existing
			return s.readUsed(ctx, tx, event, &result)
		}

		ok, err := s.repo.IncrementIfWithin(ctx, tx, event.AccountID, event.PeriodID, event.DeltaMs, req.QuotaMs, now)
		if err != nil {
			return err
		}
		if !ok {
			return errDebitRejected
		}
		result.Accepted = true
		result.Event = event
		return s.readUsed(ctx, tx, event, &result)
	})

	switch {
	case err == nil:
		return result, nil
	case errors.Is(err, errDebitRejected):
		return s.reject(ctx, event, req.QuotaMs)
	default:
		return usagedomain.DebitResult{}, err
	}
}

func (s *Service) reject(ctx context.Context, event *usagedomain.UsageEvent, quotaMs int64) (usagedomain.DebitResult, error) {
	used, err := s.GetUsedMs(ctx, event.AccountID, event.PeriodID)
	if err != nil {
		return usagedomain.DebitResult{}, err
	}

	rejection := &usagedomain.UsageRejection{
		ID:                   uuid.NewString(),
		AccountID:            event.AccountID,
		PeriodID:             event.PeriodID,
		DeltaMs:              event.DeltaMs,
		TranscriptArtifactID: event.TranscriptArtifactID,
		UsedMs:               used,
		QuotaMs:              quotaMs,
		CreatedAt:            event.CreatedAt,
	}
	if err := s.repo.InsertRejection(ctx, s.db, rejection); err != nil {
		// the rejection itself stands; only its audit row is missing
		s.log.Error("failed to record usage rejection",
			zap.String("account_id", event.AccountID),
			zap.String("transcript_artifact_id", event.TranscriptArtifactID),
			zap.Error(err),
		)
	}

	s.log.Warn("debit rejected, artifact stored without usage event",
		zap.String("account_id", event.AccountID),
		zap.String("period_id", event.PeriodID),
		zap.String("transcript_artifact_id", event.TranscriptArtifactID),
		zap.Int64("delta_ms", event.DeltaMs),
		zap.Int64("used_ms", used),
		zap.Int64("quota_ms", quotaMs),
	)

	return usagedomain.DebitResult{Accepted: false, UsedMs: used}, nil
}

func (s *Service) ListEvents(ctx context.Context, accountID, periodID string) ([]usagedomain.UsageEvent, error) {
	accountID, periodID, err := normalizeKey(accountID, periodID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListEvents(ctx, s.db, accountID, periodID)
}

// ReconciliationReport lists rejected artifacts that never got a usage event
// and counters that disagree with their event sum. An empty periodID covers
// every period.
func (s *Service) ReconciliationReport(ctx context.Context, periodID string) (*usagedomain.ReconciliationReport, error) {
	periodID = strings.TrimSpace(periodID)

	unbilled, err := s.repo.ListUnbilledRejections(ctx, s.db, periodID)
	if err != nil {
		return nil, err
	}
	drift, err := s.repo.ListDrift(ctx, s.db, periodID)
	if err != nil {
		return nil, err
	}

	report := &usagedomain.ReconciliationReport{
		PeriodID:          periodID,
		GeneratedAt:       s.clock.Now(),
		UnbilledArtifacts: unbilled,
		Drift:             drift,
	}
	if report.UnbilledArtifacts == nil {
		report.UnbilledArtifacts = []usagedomain.UsageRejection{}
	}
	if report.Drift == nil {
		report.Drift = []usagedomain.PeriodDrift{}
	}
	for _, r := range unbilled {
		report.UnbilledArtifactMs += r.DeltaMs
	}
	return report, nil
}

func (s *Service) buildEvent(id, accountID, periodID string, deltaMs int64, artifactID string) (*usagedomain.UsageEvent, error) {
	accountID, periodID, err := normalizeKey(accountID, periodID)
	if err != nil {
		return nil, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, usagedomain.ErrInvalidEventID
	}
	if deltaMs <= 0 || deltaMs > usagedomain.MaxDeltaMs {
		return nil, usagedomain.ErrInvalidDelta
	}
	artifactID = strings.TrimSpace(artifactID)
	if artifactID == "" {
		return nil, usagedomain.ErrInvalidArtifact
	}
	return &usagedomain.UsageEvent{
		ID:                   id,
		AccountID:            accountID,
		PeriodID:             periodID,
		DeltaMs:              deltaMs,
		TranscriptArtifactID: artifactID,
		CreatedAt:            s.clock.Now(),
	}, nil
}

func (s *Service) existingEvent(ctx context.Context, db *gorm.DB, want *usagedomain.UsageEvent) (*usagedomain.UsageEvent, error) {
	existing, err := s.repo.FindEvent(ctx, db, want.ID)
	if err != nil {
		return nil, err
	}
	if existing == nil ||
		existing.AccountID != want.AccountID ||
		existing.PeriodID != want.PeriodID ||
		existing.DeltaMs != want.DeltaMs ||
		existing.TranscriptArtifactID != want.TranscriptArtifactID {
		return nil, usagedomain.ErrEventIDConflict
	}
	return existing, nil
}

func (s *Service) readUsed(ctx context.Context, db *gorm.DB, event *usagedomain.UsageEvent, result *usagedomain.DebitResult) error {
	period, err := s.repo.FindPeriod(ctx, db, event.AccountID, event.PeriodID)
	if err != nil {
		return err
	}
	if period == nil {
		return usagedomain.ErrPeriodNotFound
	}
	result.UsedMs = period.UsedMs
	return nil
}

func normalizeKey(accountID, periodID string) (string, string, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return "", "", usagedomain.ErrInvalidAccount
	}
	periodID = strings.TrimSpace(periodID)
	if periodID == "" {
		return "", "", usagedomain.ErrInvalidPeriod
	}
	return accountID, periodID, nil
}
