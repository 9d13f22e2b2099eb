package repository

import (
	"context"
	"time"

	"github.com/luisterslim/billing/internal/topup/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// InsertIfAbsent ignores a conflict on either the invoice key or the payment id.
func (r *repo) InsertIfAbsent(ctx context.Context, db *gorm.DB, credit *domain.TopUpCredit) (bool, error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(credit)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) Find(ctx context.Context, db *gorm.DB, externalInvoiceID string) (*domain.TopUpCredit, error) {
	return r.findOne(ctx, db, "external_invoice_id = ?", externalInvoiceID)
}

func (r *repo) FindByPayment(ctx context.Context, db *gorm.DB, externalPaymentID string) (*domain.TopUpCredit, error) {
	return r.findOne(ctx, db, "external_payment_id = ?", externalPaymentID)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, arg string) (*domain.TopUpCredit, error) {
	var rows []domain.TopUpCredit
	err := db.WithContext(ctx).
		Where(query, arg).
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

func (r *repo) SumMsSince(ctx context.Context, db *gorm.DB, accountID string, since time.Time) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.TopUpCredit{}).
		Select("COALESCE(SUM(ms_granted), 0)").
		Where("account_id = ? AND created_at >= ?", accountID, since).
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (r *repo) ListByAccount(ctx context.Context, db *gorm.DB, accountID string, limit int) ([]domain.TopUpCredit, error) {
	var rows []domain.TopUpCredit
	err := db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
