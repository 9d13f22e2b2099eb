package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/luisterslim/billing/internal/audit/domain"
	"github.com/luisterslim/billing/internal/audit/masking"
	"github.com/luisterslim/billing/internal/clock"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  auditdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  auditdomain.Repository
}

func NewService(p Params) auditdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Record(ctx context.Context, entry auditdomain.Entry) {
	action := strings.TrimSpace(entry.Action)
	accountID := strings.TrimSpace(entry.AccountID)
	if action == "" || accountID == "" {
		s.log.Warn("dropping malformed audit entry",
			zap.String("action", action),
			zap.String("account_id", accountID),
		)
		return
	}

	targetType := strings.TrimSpace(entry.TargetType)
	if targetType == "" {
		targetType = "unknown"
	}

	row := auditdomain.AuditLog{
		ID:         s.genID.Generate(),
		AccountID:  accountID,
		Action:     action,
		TargetType: targetType,
		TargetID:   normalizePointer(entry.TargetID),
		Metadata:   datatypes.JSONMap(masking.MaskMetadata(entry.Metadata)),
		CreatedAt:  s.clock.Now(),
	}

	if err := s.repo.Insert(context.WithoutCancel(ctx), s.db, &row); err != nil {
		s.log.Warn("failed to write audit log",
			zap.String("action", action),
			zap.String("account_id", accountID),
			zap.Error(err),
		)
	}
}

func (s *Service) List(ctx context.Context, accountID string, limit int) ([]auditdomain.AuditLog, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, auditdomain.ErrInvalidAccount
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return s.repo.ListByAccount(ctx, s.db, accountID, limit)
}

func normalizePointer(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
