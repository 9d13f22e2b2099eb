// Package domain contains the usage ledger models: the per-period counter,
// the append-only debit log and the rejected-debit log.
package domain

import "time"

// UsagePeriod is the consumed-milliseconds counter for one account and period.
type UsagePeriod struct {
	AccountID string    `gorm:"primaryKey;type:text"`
	PeriodID  string    `gorm:"primaryKey;type:text"`
	UsedMs    int64     `gorm:"not null;default:0"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (UsagePeriod) TableName() string { return "usage_periods" }

// UsageEvent records one accepted debit. Rows are never updated.
type UsageEvent struct {
	ID                   string    `gorm:"primaryKey;type:text" json:"id"`
	AccountID            string    `gorm:"type:text;not null" json:"account_id"`
	PeriodID             string    `gorm:"type:text;not null" json:"period_id"`
	DeltaMs              int64     `gorm:"not null" json:"delta_ms"`
	TranscriptArtifactID string    `gorm:"column:transcript_artifact_id;type:text;not null" json:"transcript_artifact_id"`
	CreatedAt            time.Time `gorm:"not null" json:"created_at"`
}

func (UsageEvent) TableName() string { return "usage_events" }

// UsageRejection records a debit refused for lack of quota. The artifact it
// was for may already be stored, which is what the reconciliation report surfaces.
type UsageRejection struct {
	ID                   string    `gorm:"primaryKey;type:text" json:"id"`
	AccountID            string    `gorm:"type:text;not null" json:"account_id"`
	PeriodID             string    `gorm:"type:text;not null" json:"period_id"`
	DeltaMs              int64     `gorm:"not null" json:"delta_ms"`
	TranscriptArtifactID string    `gorm:"column:transcript_artifact_id;type:text;not null" json:"transcript_artifact_id"`
	UsedMs               int64     `gorm:"not null" json:"used_ms"`
	QuotaMs              int64     `gorm:"not null" json:"quota_ms"`
	CreatedAt            time.Time `gorm:"not null" json:"created_at"`
}

func (UsageRejection) TableName() string { return "usage_rejections" }

// PeriodDrift is a counter whose value no longer equals the sum of its events.
type PeriodDrift struct {
	AccountID  string `json:"account_id"`
	PeriodID   string `json:"period_id"`
	UsedMs     int64  `json:"used_ms"`
	EventSumMs int64  `json:"event_sum_ms"`
}

type ReconciliationReport struct {
	PeriodID           string           `json:"period_id,omitempty"`
	GeneratedAt        time.Time        `json:"generated_at"`
	UnbilledArtifacts  []UsageRejection `json:"unbilled_artifacts"`
	Drift              []PeriodDrift    `json:"drift"`
	UnbilledArtifactMs int64            `json:"unbilled_artifact_ms"`
}
