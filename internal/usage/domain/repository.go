package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type Repository interface {
	EnsurePeriod(ctx context.Context, db *gorm.DB, accountID, periodID string, now time.Time) error
	FindPeriod(ctx context.Context, db *gorm.DB, accountID, periodID string) (*UsagePeriod, error)
	// IncrementIfWithin adds deltaMs only when the result stays <= quotaMs.
	IncrementIfWithin(ctx context.Context, db *gorm.DB, accountID, periodID string, deltaMs, quotaMs int64, now time.Time) (bool, error)
	InsertEvent(ctx context.Context, db *gorm.DB, event *UsageEvent) (bool, error)
	FindEvent(ctx context.Context, db *gorm.DB, id string) (*UsageEvent, error)
	ListEvents(ctx context.Context, db *gorm.DB, accountID, periodID string) ([]UsageEvent, error)
	InsertRejection(ctx context.Context, db *gorm.DB, rejection *UsageRejection) error
	ListUnbilledRejections(ctx context.Context, db *gorm.DB, periodID string) ([]UsageRejection, error)
	ListDrift(ctx context.Context, db *gorm.DB, periodID string) ([]PeriodDrift, error)
}
