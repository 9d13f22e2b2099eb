// Package domain describes the quota reconciler: effective quota is the plan's
// base quota plus bonus minutes, and usage is debited against it atomically.
package domain

import (
	"context"
	"errors"
	"fmt"
)

const msPerMinute int64 = 60_000

type DebitRequest struct {
	AccountID            string `json:"-"`
	DeltaMs              int64  `json:"delta_ms"`
	TranscriptArtifactID string `json:"transcript_artifact_id"`
	// EventID lets a client retry a debit without charging twice. A fresh
	// id is generated when empty.
	EventID string `json:"event_id"`
}

type DebitResult struct {
	Accepted    bool   `json:"accepted"`
	Replayed    bool   `json:"replayed"`
	EventID     string `json:"event_id"`
	PeriodID    string `json:"period_id"`
	UsedMs      int64  `json:"used_ms"`
	RemainingMs int64  `json:"remaining_ms"`
	QuotaMs     int64  `json:"quota_ms"`
}

// Quota is the effective quota of an account in its current period.
type Quota struct {
	AccountID   string
	PlanCode    string
	PeriodID    string
	PeriodEnd   string
	BaseQuotaMs int64
	BonusMs     int64
}

func (q Quota) EffectiveMs() int64 { return q.BaseQuotaMs + q.BonusMs }

// Snapshot is the usage summary shown to clients. Minutes are rounded to
// the nearest whole minute.
type Snapshot struct {
	PlanCode         string `json:"plan_code"`
	QuotaMinutes     int64  `json:"quota_minutes"`
	UsedMinutes      int64  `json:"used_minutes"`
	RemainingMinutes int64  `json:"remaining_minutes"`
	BonusMinutes     int64  `json:"bonus_minutes"`
	BaseQuotaMinutes int64  `json:"base_quota_minutes"`
	PeriodID         string `json:"period_id"`
	PeriodEndsAt     string `json:"period_ends_at"`
}

type Service interface {
	DebitUsage(ctx context.Context, req DebitRequest) (*DebitResult, error)
	EffectiveQuota(ctx context.Context, accountID string) (*Quota, error)
	Snapshot(ctx context.Context, accountID string) (*Snapshot, error)
}

var (
	ErrInvalidAccount = errors.New("invalid_account")
	ErrQuotaExceeded  = errors.New("quota_exceeded")
)

// QuotaExceededError carries the figures behind a refused debit.
type QuotaExceededError struct {
	AccountID string
	PeriodID  string
	DeltaMs   int64
	UsedMs    int64
	QuotaMs   int64
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded: account %s period %s used %dms of %dms, requested %dms",
		e.AccountID, e.PeriodID, e.UsedMs, e.QuotaMs, e.DeltaMs)
}

func (e *QuotaExceededError) Unwrap() error { return ErrQuotaExceeded }

func (e *QuotaExceededError) RemainingMs() int64 {
	return RemainingMs(e.QuotaMs, e.UsedMs)
}

func RemainingMs(quotaMs, usedMs int64) int64 {
	if usedMs >= quotaMs {
		return 0
	}
	return quotaMs - usedMs
}

// MsToMinutes rounds half up to the nearest whole minute.
func MsToMinutes(ms int64) int64 {
	if ms <= 0 {
		return 0
	}
	return (ms + msPerMinute/2) / msPerMinute
}
