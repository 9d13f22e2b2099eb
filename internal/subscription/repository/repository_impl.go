package repository

import (
	"context"

	subscriptiondomain "github.com/luisterslim/billing/internal/subscription/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() subscriptiondomain.Repository {
	return &repo{}
}

func (r *repo) Find(ctx context.Context, db *gorm.DB, accountID string) (*subscriptiondomain.ExternalSubscription, error) {
	var rows []subscriptiondomain.ExternalSubscription
	err := db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (r *repo) Upsert(ctx context.Context, db *gorm.DB, sub *subscriptiondomain.ExternalSubscription) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "account_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"external_subscription_id",
				"plan_code",
				"status",
				"current_period_end",
				"updated_at",
			}),
		}).
		Create(sub).Error
}
