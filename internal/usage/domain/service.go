package domain

import (
	"context"
	"errors"
	"time"
)

// MaxDeltaMs bounds a single debit. No transcript runs longer than a day,
// and the bound keeps used_ms + delta far from bigint overflow.
const MaxDeltaMs = int64(24 * time.Hour / time.Millisecond)

type RecordEventRequest struct {
	ID                   string `json:"id"`
	AccountID            string `json:"account_id"`
	PeriodID             string `json:"period_id"`
	DeltaMs              int64  `json:"delta_ms"`
	TranscriptArtifactID string `json:"transcript_artifact_id"`
}

type DebitRequest struct {
	// EventID is caller supplied so a retry with the same id never debits twice.
	EventID              string
	AccountID            string
	PeriodID             string
	DeltaMs              int64
	QuotaMs              int64
	TranscriptArtifactID string
}

type DebitResult struct {
	Accepted bool
	// Replayed is set when EventID had already been applied.
	Replayed bool
	UsedMs   int64
	Event    *UsageEvent
}

// Service is the usage ledger.
type Service interface {
	EnsurePeriodRow(ctx context.Context, accountID, periodID string) error
	GetUsedMs(ctx context.Context, accountID, periodID string) (int64, error)
	RecordEvent(ctx context.Context, req RecordEventRequest) (*UsageEvent, error)
	Debit(ctx context.Context, req DebitRequest) (DebitResult, error)
	ListEvents(ctx context.Context, accountID, periodID string) ([]UsageEvent, error)
	ReconciliationReport(ctx context.Context, periodID string) (*ReconciliationReport, error)
}

var (
	ErrInvalidAccount  = errors.New("invalid_account")
	ErrInvalidPeriod   = errors.New("invalid_period")
	ErrInvalidDelta    = errors.New("invalid_delta")
	ErrInvalidQuota    = errors.New("invalid_quota")
	ErrInvalidEventID  = errors.New("invalid_event_id")
	ErrInvalidArtifact = errors.New("invalid_transcript_artifact")
	ErrPeriodNotFound  = errors.New("usage_period_not_found")
	ErrEventIDConflict = errors.New("usage_event_id_conflict")
)
