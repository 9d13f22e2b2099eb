// Package domain describes per-account data retention settings. The settings
// are consumed by the retention-deletion sweep, which runs elsewhere.
package domain

import (
	"time"

	"gorm.io/datatypes"
)

const (
	SourceUser        = "user"
	SourcePlanDefault = "plan_default"
)

type RetentionSetting struct {
	AccountID         string            `gorm:"primaryKey;type:text" json:"account_id"`
	PlanCode          string            `gorm:"type:text;not null" json:"plan_code"`
	OptionID          string            `gorm:"type:text;not null" json:"option_id"`
	RetentionDays     int               `gorm:"not null" json:"retention_days"`
	SchedulerMetadata datatypes.JSONMap `gorm:"column:scheduler_metadata" json:"scheduler_metadata,omitempty"`
	CreatedAt         time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt         time.Time         `gorm:"not null" json:"updated_at"`
}

func (RetentionSetting) TableName() string { return "retention_settings" }

// Source reports who chose the current option.
func (r RetentionSetting) Source() string {
	if r.SchedulerMetadata == nil {
		return ""
	}
	v, _ := r.SchedulerMetadata["source"].(string)
	return v
}

type Option struct {
	ID    string `json:"id"`
	Days  int    `json:"days"`
	Label string `json:"label"`
}

// Options is ordered from shortest to longest retention.
var Options = []Option{
	{ID: "1d", Days: 1, Label: "1 day"},
	{ID: "7d", Days: 7, Label: "7 days"},
	{ID: "30d", Days: 30, Label: "30 days"},
	{ID: "90d", Days: 90, Label: "90 days"},
	{ID: "365d", Days: 365, Label: "1 year"},
}

// planPolicy holds the default option and the longest option a plan unlocks.
var planPolicy = map[string]struct {
	Default string
	MaxDays int
}{
	"free":     {Default: "7d", MaxDays: 7},
	"pro":      {Default: "30d", MaxDays: 90},
	"business": {Default: "90d", MaxDays: 365},
}

const fallbackPlan = "free"

func FindOption(id string) (Option, bool) {
	for _, o := range Options {
		if o.ID == id {
			return o, true
		}
	}
	return Option{}, false
}

// DefaultOption returns the canonical option for a plan. Unknown plans get
// the free-tier default.
func DefaultOption(planCode string) Option {
	policy, ok := planPolicy[planCode]
	if !ok {
		policy = planPolicy[fallbackPlan]
	}
	o, _ := FindOption(policy.Default)
	return o
}

// Allowed reports whether a plan unlocks an option.
func Allowed(planCode string, o Option) bool {
	policy, ok := planPolicy[planCode]
	if !ok {
		policy = planPolicy[fallbackPlan]
	}
	return o.Days <= policy.MaxDays
}
