package domain

import (
	"context"
	"errors"
	"time"

	accountdomain "github.com/luisterslim/billing/internal/account/domain"
	retentiondomain "github.com/luisterslim/billing/internal/retention/domain"
	"gorm.io/gorm"
)

// Verification asks Sync to fetch the subscription from the provider and
// check it before changing anything.
type Verification struct {
	// ExpectedCustomerID must equal the subscription's customer when set.
	ExpectedCustomerID string
}

type SyncRequest struct {
	AccountID              string
	PlanCode               string
	ExternalSubscriptionID string
	Status                 string
	CurrentPeriodEnd       *time.Time
	Verify                 *Verification
}

type SyncResult struct {
	Assignment   *accountdomain.PlanAssignment     `json:"assignment"`
	Subscription *ExternalSubscription             `json:"subscription"`
	Retention    *retentiondomain.RetentionSetting `json:"retention,omitempty"`
	// QuotaSource names the resolution step that produced the base quota.
	QuotaSource string `json:"quota_source"`
	// Changed is false when the sync replayed an already-applied state.
	Changed bool `json:"changed"`
}

type Repository interface {
	Find(ctx context.Context, db *gorm.DB, accountID string) (*ExternalSubscription, error)
	Upsert(ctx context.Context, db *gorm.DB, sub *ExternalSubscription) error
}

type Service interface {
	// Sync applies a subscription state to the account's plan assignment.
	Sync(ctx context.Context, req SyncRequest) (*SyncResult, error)
	// Claim syncs a subscription the client says it owns. The provider is
	// always consulted and the plan is taken from the subscription's price.
	Claim(ctx context.Context, accountID, externalSubscriptionID string) (*SyncResult, error)
	Get(ctx context.Context, accountID string) (*ExternalSubscription, error)
}

var (
	ErrInvalidAccount        = errors.New("invalid_account")
	ErrInvalidPlanCode       = errors.New("invalid_plan_code")
	ErrInvalidSubscriptionID = errors.New("invalid_external_subscription_id")
	ErrSubscriptionNotFound  = errors.New("subscription_not_found")
	ErrUnknownPrice          = errors.New("unknown_subscription_price")
)
