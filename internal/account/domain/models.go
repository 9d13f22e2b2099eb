// Package domain holds the per-account plan assignment and the link to the
// account's customer record in the billing system.
package domain

import "time"

// PlanAssignment is the single active plan of an account. BaseQuotaMs is
// copied from the catalog when the plan is synced, so catalog edits only
// reach an account on its next sync.
type PlanAssignment struct {
	AccountID   string    `gorm:"primaryKey;type:text" json:"account_id"`
	PlanCode    string    `gorm:"type:text;not null" json:"plan_code"`
	BaseQuotaMs int64     `gorm:"not null" json:"base_quota_ms"`
	RenewDay    int       `gorm:"not null" json:"renew_day"`
	Timezone    string    `gorm:"type:text;not null" json:"timezone"`
	CreatedAt   time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time `gorm:"not null" json:"updated_at"`
}

func (PlanAssignment) TableName() string { return "plan_assignments" }

type BillingCustomer struct {
	AccountID          string    `gorm:"primaryKey;type:text" json:"account_id"`
	ExternalCustomerID string    `gorm:"type:text;not null" json:"external_customer_id"`
	Email              *string   `gorm:"type:text" json:"email,omitempty"`
	CreatedAt          time.Time `gorm:"not null" json:"created_at"`
}

func (BillingCustomer) TableName() string { return "billing_customers" }
