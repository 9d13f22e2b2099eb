// Package domain contains the external subscription mirror and the sync
// contract that moves an account between plans.
package domain

import "time"

// Provider-side subscription statuses.
const (
	StatusActive            = "active"
	StatusTrialing          = "trialing"
	StatusPastDue           = "past_due"
	StatusIncomplete        = "incomplete"
	StatusIncompleteExpired = "incomplete_expired"
	StatusUnpaid            = "unpaid"
	StatusCanceled          = "canceled"
	StatusPaused            = "paused"
)

// VerifiableStatuses are the statuses a verified sync accepts.
var VerifiableStatuses = map[string]struct{}{
	StatusActive:     {},
	StatusTrialing:   {},
	StatusPastDue:    {},
	StatusIncomplete: {},
}

// TerminalStatuses move the account back to the free plan.
var TerminalStatuses = map[string]struct{}{
	StatusCanceled:          {},
	StatusIncompleteExpired: {},
	StatusUnpaid:            {},
}

func IsTerminal(status string) bool {
	_, ok := TerminalStatuses[status]
	return ok
}

// ExternalSubscription mirrors the billing provider's subscription for
// support and debugging. One row per account.
type ExternalSubscription struct {
	AccountID              string     `gorm:"primaryKey;type:text" json:"account_id"`
	ExternalSubscriptionID string     `gorm:"type:text;not null" json:"external_subscription_id"`
	PlanCode               string     `gorm:"type:text;not null" json:"plan_code"`
	Status                 string     `gorm:"type:text;not null" json:"status"`
	CurrentPeriodEnd       *time.Time `json:"current_period_end,omitempty"`
	CreatedAt              time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt              time.Time  `gorm:"not null" json:"updated_at"`
}

func (ExternalSubscription) TableName() string { return "external_subscriptions" }
