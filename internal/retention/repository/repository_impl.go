package repository

import (
	"context"
	"time"

	"github.com/luisterslim/billing/internal/retention/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Find(ctx context.Context, db *gorm.DB, accountID string) (*domain.RetentionSetting, error) {
	var rows []domain.RetentionSetting
	if err := db.WithContext(ctx).Where("account_id = ?", accountID).Limit(1).Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (r *repo) InsertIfAbsent(ctx context.Context, db *gorm.DB, setting *domain.RetentionSetting) (bool, error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "account_id"}}, DoNothing: true}).
		Create(setting)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) Upsert(ctx context.Context, db *gorm.DB, setting *domain.RetentionSetting, now time.Time) error {
	setting.UpdatedAt = now
	if setting.CreatedAt.IsZero() {
		setting.CreatedAt = now
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "account_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"plan_code", "option_id", "retention_days", "scheduler_metadata", "updated_at",
			}),
		}).
		Create(setting).Error
}
