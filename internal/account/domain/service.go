package domain

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

type ProvisionRequest struct {
	AccountID string
	Timezone  string
	Email     string
	Name      string
}

type UpsertPlanRequest struct {
	AccountID   string
	PlanCode    string
	BaseQuotaMs int64
}

type EphemeralKeyResponse struct {
	CustomerID   string    `json:"customer_id"`
	EphemeralKey string    `json:"ephemeral_key"`
	ExpiresAt    time.Time `json:"expires_at"`
}

type Repository interface {
	FindAssignment(ctx context.Context, db *gorm.DB, accountID string) (*PlanAssignment, error)
	InsertAssignmentIfAbsent(ctx context.Context, db *gorm.DB, assignment *PlanAssignment) (bool, error)
	// UpsertPlan overwrites plan_code and base_quota_ms only; the billing
	// anchor of an existing row is never touched.
	UpsertPlan(ctx context.Context, db *gorm.DB, assignment *PlanAssignment) error
	FindCustomer(ctx context.Context, db *gorm.DB, accountID string) (*BillingCustomer, error)
	FindCustomerByExternalID(ctx context.Context, db *gorm.DB, externalCustomerID string) (*BillingCustomer, error)
	InsertCustomerIfAbsent(ctx context.Context, db *gorm.DB, customer *BillingCustomer) (bool, error)
}

type Service interface {
	EnsureProvisioned(ctx context.Context, req ProvisionRequest) (*PlanAssignment, error)
	GetAssignment(ctx context.Context, accountID string) (*PlanAssignment, error)
	UpsertPlan(ctx context.Context, req UpsertPlanRequest) (*PlanAssignment, error)
	EnsureCustomer(ctx context.Context, accountID, email, name string) (*BillingCustomer, error)
	FindCustomer(ctx context.Context, accountID string) (*BillingCustomer, error)
	FindAccountByCustomer(ctx context.Context, externalCustomerID string) (string, error)
	CreateEphemeralKey(ctx context.Context, accountID string) (*EphemeralKeyResponse, error)
}

var (
	ErrInvalidAccount        = errors.New("invalid_account")
	ErrInvalidPlanCode       = errors.New("invalid_plan_code")
	ErrInvalidQuota          = errors.New("invalid_quota")
	ErrAccountNotProvisioned = errors.New("account_not_provisioned")
	ErrCustomerNotFound      = errors.New("billing_customer_not_found")
)
