package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/luisterslim/billing/internal/audit/domain"
	"github.com/luisterslim/billing/internal/audit/repository"
	"github.com/luisterslim/billing/internal/clock"
	"github.com/luisterslim/billing/internal/migration/migrationtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type failingRepo struct{}

func (failingRepo) Insert(context.Context, *gorm.DB, *auditdomain.AuditLog) error {
	return errors.New("disk full")
}

func (failingRepo) ListByAccount(context.Context, *gorm.DB, string, int) ([]auditdomain.AuditLog, error) {
	return nil, nil
}

func newAuditService(t *testing.T, repo auditdomain.Repository) auditdomain.Service {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return NewService(Params{
		DB:    migrationtest.OpenSQLite(t),
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.NewFakeClock(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)),
		Repo:  repo,
	})
}

func TestRecordMasksAndLists(t *testing.T) {
	svc := newAuditService(t, repository.Provide())
	ctx := context.Background()

	svc.Record(ctx, auditdomain.Entry{
		AccountID:  "acct_1",
		Action:     auditdomain.ActionTopUpCredited,
		TargetType: "topup_credit",
		TargetID:   "in_123",
		Metadata:   map[string]any{"external_payment_id": "pi_1234567890", "minutes": 60},
	})

	logs, err := svc.List(ctx, "acct_1", 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, auditdomain.ActionTopUpCredited, logs[0].Action)
	require.NotNil(t, logs[0].TargetID)
	assert.Equal(t, "in_123", *logs[0].TargetID)
	assert.Equal(t, "pi_****7890", logs[0].Metadata["external_payment_id"])
}

func TestRecordSwallowsFailures(t *testing.T) {
	svc := newAuditService(t, failingRepo{})

	assert.NotPanics(t, func() {
		svc.Record(context.Background(), auditdomain.Entry{AccountID: "acct_1", Action: auditdomain.ActionPlanSynced})
		svc.Record(context.Background(), auditdomain.Entry{})
	})
}

func TestListRequiresAccount(t *testing.T) {
	svc := newAuditService(t, repository.Provide())
	_, err := svc.List(context.Background(), " ", 10)
	assert.ErrorIs(t, err, auditdomain.ErrInvalidAccount)
}
