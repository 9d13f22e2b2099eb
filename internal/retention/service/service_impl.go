package service

import (
	"context"
	"strings"
	"time"

	auditdomain "github.com/luisterslim/billing/internal/audit/domain"
	"github.com/luisterslim/billing/internal/clock"
	retentiondomain "github.com/luisterslim/billing/internal/retention/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
	Repo  retentiondomain.Repository
	Audit auditdomain.Service `optional:"true"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	repo  retentiondomain.Repository
	audit auditdomain.Service
}

func NewService(p Params) retentiondomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("retention.service"),
		clock: p.Clock,
		repo:  p.Repo,
		audit: p.Audit,
	}
}

func (s *Service) EnsureDefault(ctx context.Context, accountID, planCode string) error {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return retentiondomain.ErrInvalidAccount
	}
	now := s.clock.Now()
	option := retentiondomain.DefaultOption(planCode)
	_, err := s.repo.InsertIfAbsent(ctx, s.db, &retentiondomain.RetentionSetting{
		AccountID:         accountID,
		PlanCode:          planCode,
		OptionID:          option.ID,
		RetentionDays:     option.Days,
		SchedulerMetadata: metadata(retentiondomain.SourcePlanDefault, planCode, option, now),
		CreatedAt:         now,
		UpdatedAt:         now,
	})
	return err
}

func (s *Service) ApplyPlan(ctx context.Context, accountID, planCode string) (*retentiondomain.RetentionSetting, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, retentiondomain.ErrInvalidAccount
	}

	existing, err := s.repo.Find(ctx, s.db, accountID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	option := retentiondomain.DefaultOption(planCode)
	source := retentiondomain.SourcePlanDefault
	if existing != nil && existing.Source() == retentiondomain.SourceUser {
		if kept, ok := retentiondomain.FindOption(existing.OptionID); ok {
			option = kept
			source = retentiondomain.SourceUser
		}
	}

	setting := &retentiondomain.RetentionSetting{
		AccountID:         accountID,
		PlanCode:          planCode,
		OptionID:          option.ID,
		RetentionDays:     option.Days,
		SchedulerMetadata: metadata(source, planCode, option, now),
	}
	if existing != nil {
		setting.CreatedAt = existing.CreatedAt
	}
	if err := s.repo.Upsert(ctx, s.db, setting, now); err != nil {
		return nil, err
	}

	if existing == nil || existing.OptionID != setting.OptionID || existing.PlanCode != planCode {
		s.recordChange(ctx, setting, existing)
	}
	return setting, nil
}

func (s *Service) Select(ctx context.Context, accountID, optionID string) (*retentiondomain.RetentionSetting, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, retentiondomain.ErrInvalidAccount
	}
	option, ok := retentiondomain.FindOption(strings.TrimSpace(optionID))
	if !ok {
		return nil, retentiondomain.ErrInvalidOption
	}

	existing, err := s.repo.Find(ctx, s.db, accountID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, retentiondomain.ErrSettingNotFound
	}

	now := s.clock.Now()
	setting := &retentiondomain.RetentionSetting{
		AccountID:         accountID,
		PlanCode:          existing.PlanCode,
		OptionID:          option.ID,
		RetentionDays:     option.Days,
		SchedulerMetadata: metadata(retentiondomain.SourceUser, existing.PlanCode, option, now),
		CreatedAt:         existing.CreatedAt,
	}
	if err := s.repo.Upsert(ctx, s.db, setting, now); err != nil {
		return nil, err
	}
	s.recordChange(ctx, setting, existing)
	return setting, nil
}

func (s *Service) Get(ctx context.Context, accountID string) (*retentiondomain.RetentionSetting, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, retentiondomain.ErrInvalidAccount
	}
	setting, err := s.repo.Find(ctx, s.db, accountID)
	if err != nil {
		return nil, err
	}
	if setting == nil {
		return nil, retentiondomain.ErrSettingNotFound
	}
	return setting, nil
}

func (s *Service) recordChange(ctx context.Context, setting, previous *retentiondomain.RetentionSetting) {
	s.log.Info("retention setting updated",
		zap.String("account_id", setting.AccountID),
		zap.String("plan_code", setting.PlanCode),
		zap.String("option_id", setting.OptionID),
		zap.String("source", setting.Source()),
	)
	if s.audit == nil {
		return
	}
	meta := map[string]any{
		"plan_code": setting.PlanCode,
		"option_id": setting.OptionID,
		"source":    setting.Source(),
	}
	if previous != nil {
		meta["previous_option_id"] = previous.OptionID
	}
	s.audit.Record(ctx, auditdomain.Entry{
		AccountID:  setting.AccountID,
		Action:     auditdomain.ActionRetentionChanged,
		TargetType: "retention_setting",
		TargetID:   setting.AccountID,
		Metadata:   meta,
	})
}

func metadata(source, planCode string, option retentiondomain.Option, now time.Time) datatypes.JSONMap {
	return datatypes.JSONMap{
		"source":         source,
		"plan_code":      planCode,
		"retention_days": option.Days,
		"locked":         !retentiondomain.Allowed(planCode, option),
		"applied_at":     now.Format(time.RFC3339),
	}
}
