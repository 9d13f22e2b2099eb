package repository

import (
	"context"
	"time"

	"github.com/luisterslim/billing/internal/usage/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) EnsurePeriod(ctx context.Context, db *gorm.DB, accountID, periodID string, now time.Time) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&domain.UsagePeriod{
			AccountID: accountID,
			PeriodID:  periodID,
			UsedMs:    0,
			CreatedAt: now,
			UpdatedAt: now,
		}).Error
}

func (r *repo) FindPeriod(ctx context.Context, db *gorm.DB, accountID, periodID string) (*domain.UsagePeriod, error) {
	var rows []domain.UsagePeriod
	err := db.WithContext(ctx).
		Where("account_id = ? AND period_id = ?", accountID, periodID).
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

func (r *repo) IncrementIfWithin(ctx context.Context, db *gorm.DB, accountID, periodID string, deltaMs, quotaMs int64, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE usage_periods
		 SET used_ms = used_ms + ?, updated_at = ?
		 WHERE account_id = ? AND period_id = ? AND used_ms + ? <= ?`,
		deltaMs,
		now,
		accountID,
		periodID,
		deltaMs,
		quotaMs,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) InsertEvent(ctx context.Context, db *gorm.DB, event *domain.UsageEvent) (bool, error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(event)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindEvent(ctx context.Context, db *gorm.DB, id string) (*domain.UsageEvent, error) {
	var rows []domain.UsageEvent
	if err := db.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (r *repo) ListEvents(ctx context.Context, db *gorm.DB, accountID, periodID string) ([]domain.UsageEvent, error) {
	var rows []domain.UsageEvent
	err := db.WithContext(ctx).
		Where("account_id = ? AND period_id = ?", accountID, periodID).
		Order("created_at ASC, id ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repo) InsertRejection(ctx context.Context, db *gorm.DB, rejection *domain.UsageRejection) error {
	return db.WithContext(ctx).Create(rejection).Error
}

func (r *repo) ListUnbilledRejections(ctx context.Context, db *gorm.DB, periodID string) ([]domain.UsageRejection, error) {
	query := `SELECT r.id, r.account_id, r.period_id, r.delta_ms, r.transcript_artifact_id,
			r.used_ms, r.quota_ms, r.created_at
		 FROM usage_rejections r
		 WHERE NOT EXISTS (
			SELECT 1 FROM usage_events e
			WHERE e.account_id = r.account_id
			  AND e.transcript_artifact_id = r.transcript_artifact_id
		 )`
	args := []any{}
	if periodID != "" {
		query += ` AND r.period_id = ?`
		args = append(args, periodID)
	}
	query += ` ORDER BY r.created_at ASC, r.id ASC`

	var rows []domain.UsageRejection
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) ListDrift(ctx context.Context, db *gorm.DB, periodID string) ([]domain.PeriodDrift, error) {
	query := `SELECT p.account_id, p.period_id, p.used_ms,
			COALESCE(SUM(e.delta_ms), 0) AS event_sum_ms
		 FROM usage_periods p
		 LEFT JOIN usage_events e
			ON e.account_id = p.account_id AND e.period_id = p.period_id`
	args := []any{}
	if periodID != "" {
		query += ` WHERE p.period_id = ?`
		args = append(args, periodID)
	}
	query += ` GROUP BY p.account_id, p.period_id, p.used_ms
		 HAVING p.used_ms <> COALESCE(SUM(e.delta_ms), 0)
		 ORDER BY p.account_id ASC, p.period_id ASC`

	var rows []domain.PeriodDrift
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
