package domain

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

const (
	ActionPlanSynced       = "plan.synced"
	ActionTopUpCredited    = "topup.credited"
	ActionRetentionChanged = "retention.changed"
	ActionCustomerCreated  = "billing_customer.created"
)

type Entry struct {
	AccountID  string
	Action     string
	TargetType string
	TargetID   string
	Metadata   map[string]any
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *AuditLog) error
	ListByAccount(ctx context.Context, db *gorm.DB, accountID string, limit int) ([]AuditLog, error)
}

// Service writes the audit trail. Record never fails the caller.
type Service interface {
	Record(ctx context.Context, entry Entry)
	List(ctx context.Context, accountID string, limit int) ([]AuditLog, error)
}

var (
	ErrInvalidAccount = errors.New("invalid_account")
	ErrInvalidAction  = errors.New("invalid_action")
)
