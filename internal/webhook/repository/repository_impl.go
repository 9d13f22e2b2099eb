package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/luisterslim/billing/internal/webhook/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertIfAbsent(ctx context.Context, db *gorm.DB, event *domain.Event) (bool, error) {
	result := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "provider_event_id"}},
			DoNothing: true,
		}).
		Create(event)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) Find(ctx context.Context, db *gorm.DB, provider, providerEventID string) (*domain.Event, error) {
	var rows []domain.Event
	err := db.WithContext(ctx).
		Where("provider = ? AND provider_event_id = ?", provider, providerEventID).
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

func (r *repo) MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error {
	return db.WithContext(ctx).
		Model(&domain.Event{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"processed_at": at,
			"attempts":     gorm.Expr("attempts + 1"),
			"last_error":   nil,
		}).Error
}

func (r *repo) MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string) error {
	return db.WithContext(ctx).
		Model(&domain.Event{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": reason,
		}).Error
}

func (r *repo) ListPending(ctx context.Context, db *gorm.DB, provider string, receivedBefore time.Time, maxAttempts, limit int) ([]domain.Event, error) {
	var rows []domain.Event
	err := db.WithContext(ctx).
		Where("provider = ? AND processed_at IS NULL AND attempts < ? AND received_at < ?", provider, maxAttempts, receivedBefore).
		Order("received_at ASC, id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
