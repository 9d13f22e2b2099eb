package domain

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

type Repository interface {
	Find(ctx context.Context, db *gorm.DB, accountID string) (*RetentionSetting, error)
	InsertIfAbsent(ctx context.Context, db *gorm.DB, setting *RetentionSetting) (bool, error)
	Upsert(ctx context.Context, db *gorm.DB, setting *RetentionSetting, now time.Time) error
}

type Service interface {
	// EnsureDefault writes the plan default unless a setting already exists.
	EnsureDefault(ctx context.Context, accountID, planCode string) error
	// ApplyPlan re-derives the setting after a plan change. An explicit user
	// choice survives as long as its option id is still valid.
	ApplyPlan(ctx context.Context, accountID, planCode string) (*RetentionSetting, error)
	// Select records an explicit user choice. Plan locks are enforced by the caller.
	Select(ctx context.Context, accountID, optionID string) (*RetentionSetting, error)
	Get(ctx context.Context, accountID string) (*RetentionSetting, error)
}

var (
	ErrInvalidAccount  = errors.New("invalid_account")
	ErrInvalidOption   = errors.New("invalid_retention_option")
	ErrOptionLocked    = errors.New("retention_option_locked")
	ErrSettingNotFound = errors.New("retention_setting_not_found")
)
