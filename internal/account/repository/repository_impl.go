package repository

import (
	"context"

	"github.com/luisterslim/billing/internal/account/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindAssignment(ctx context.Context, db *gorm.DB, accountID string) (*domain.PlanAssignment, error) {
	var rows []domain.PlanAssignment
	if err := db.WithContext(ctx).Where("account_id = ?", accountID).Limit(1).Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (r *repo) InsertAssignmentIfAbsent(ctx context.Context, db *gorm.DB, assignment *domain.PlanAssignment) (bool, error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "account_id"}}, DoNothing: true}).
		Create(assignment)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) UpsertPlan(ctx context.Context, db *gorm.DB, assignment *domain.PlanAssignment) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "account_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"plan_code", "base_quota_ms", "updated_at"}),
		}).
		Create(assignment).Error
}

func (r *repo) FindCustomer(ctx context.Context, db *gorm.DB, accountID string) (*domain.BillingCustomer, error) {
	var rows []domain.BillingCustomer
	if err := db.WithContext(ctx).Where("account_id = ?", accountID).Limit(1).Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (r *repo) FindCustomerByExternalID(ctx context.Context, db *gorm.DB, externalCustomerID string) (*domain.BillingCustomer, error) {
	var rows []domain.BillingCustomer
	if err := db.WithContext(ctx).Where("external_customer_id = ?", externalCustomerID).Limit(1).Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (r *repo) InsertCustomerIfAbsent(ctx context.Context, db *gorm.DB, customer *domain.BillingCustomer) (bool, error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(customer)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
