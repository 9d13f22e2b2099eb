// Package billingtest wires the billing services over a migrated sqlite
// database, a fake clock and a mocked billing gateway.
package billingtest

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/golang/mock/gomock"
	accountdomain "github.com/luisterslim/billing/internal/account/domain"
	accountrepo "github.com/luisterslim/billing/internal/account/repository"
	accountservice "github.com/luisterslim/billing/internal/account/service"
	auditdomain "github.com/luisterslim/billing/internal/audit/domain"
	auditrepo "github.com/luisterslim/billing/internal/audit/repository"
	auditservice "github.com/luisterslim/billing/internal/audit/service"
	"github.com/luisterslim/billing/internal/catalog"
	"github.com/luisterslim/billing/internal/clock"
	"github.com/luisterslim/billing/internal/config"
	"github.com/luisterslim/billing/internal/migration/migrationtest"
	billingmock "github.com/luisterslim/billing/internal/providers/billing/mock"
	quotadomain "github.com/luisterslim/billing/internal/quota/domain"
	quotaservice "github.com/luisterslim/billing/internal/quota/service"
	retentiondomain "github.com/luisterslim/billing/internal/retention/domain"
	retentionrepo "github.com/luisterslim/billing/internal/retention/repository"
	retentionservice "github.com/luisterslim/billing/internal/retention/service"
	subscriptiondomain "github.com/luisterslim/billing/internal/subscription/domain"
	subscriptionrepo "github.com/luisterslim/billing/internal/subscription/repository"
	subscriptionservice "github.com/luisterslim/billing/internal/subscription/service"
	topupdomain "github.com/luisterslim/billing/internal/topup/domain"
	topuprepo "github.com/luisterslim/billing/internal/topup/repository"
	topupservice "github.com/luisterslim/billing/internal/topup/service"
	usagedomain "github.com/luisterslim/billing/internal/usage/domain"
	usagerepo "github.com/luisterslim/billing/internal/usage/repository"
	usageservice "github.com/luisterslim/billing/internal/usage/service"
	webhookdomain "github.com/luisterslim/billing/internal/webhook/domain"
	webhookrepo "github.com/luisterslim/billing/internal/webhook/repository"
	webhookservice "github.com/luisterslim/billing/internal/webhook/service"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// PriceIDs is the price mapping every stack's catalog is built with.
var PriceIDs = map[string]string{
	catalog.PlanPro:      "price_pro",
	catalog.PlanBusiness: "price_business",
	catalog.TopUp60:      "price_topup_60",
	catalog.TopUp300:     "price_topup_300",
}

type Stack struct {
	DB         *gorm.DB
	Log        *zap.Logger
	Clock      *clock.FakeClock
	Gateway    *billingmock.MockGateway
	Catalog    *catalog.Catalog
	PlanQuotas *config.PlanQuotaHolder
	Node       *snowflake.Node

	Audit         auditdomain.Service
	Retention     retentiondomain.Service
	Accounts      accountdomain.Service
	Usage         usagedomain.Service
	TopUps        topupdomain.Service
	Subscriptions subscriptiondomain.Service
	Quota         quotadomain.Service
	Webhooks      webhookdomain.Service
}

type options struct {
	now        time.Time
	defaultTZ  string
	planQuotas config.PlanQuotas
	log        *zap.Logger
}

type Option func(*options)

// WithNow starts the fake clock at now.
func WithNow(now time.Time) Option {
	return func(o *options) { o.now = now }
}

func WithDefaultTimezone(tz string) Option {
	return func(o *options) { o.defaultTZ = tz }
}

// WithPlanQuotas installs dynamic plan quotas, in minutes per plan code.
func WithPlanQuotas(minutes map[string]int64) Option {
	return func(o *options) { o.planQuotas = config.PlanQuotas{QuotaMinutes: minutes} }
}

func WithLogger(log *zap.Logger) Option {
	return func(o *options) { o.log = log }
}

func NewStack(t testing.TB, opts ...Option) *Stack {
	t.Helper()

	o := options{
		now:       time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		defaultTZ: "UTC",
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	ctrl := gomock.NewController(t)
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}

	s := &Stack{
		DB:         migrationtest.OpenSQLite(t),
		Log:        o.log,
		Clock:      clock.NewFakeClock(o.now),
		Gateway:    billingmock.NewMockGateway(ctrl),
		Catalog:    catalog.Build(PriceIDs),
		PlanQuotas: config.NewStaticPlanQuotaHolder(o.planQuotas),
		Node:       node,
	}

	s.Audit = auditservice.NewService(auditservice.Params{
		DB:    s.DB,
		Log:   s.Log,
		GenID: node,
		Clock: s.Clock,
		Repo:  auditrepo.Provide(),
	})
	s.Retention = retentionservice.NewService(retentionservice.Params{
		DB:    s.DB,
		Log:   s.Log,
		Clock: s.Clock,
		Repo:  retentionrepo.Provide(),
		Audit: s.Audit,
	})
	s.Accounts = accountservice.NewService(accountservice.Params{
		DB:        s.DB,
		Log:       s.Log,
		Clock:     s.Clock,
		Config:    config.Config{DefaultTZ: o.defaultTZ},
		Repo:      accountrepo.Provide(),
		Catalog:   s.Catalog,
		Retention: s.Retention,
		Gateway:   s.Gateway,
		Audit:     s.Audit,
	})
	s.Usage = usageservice.NewService(usageservice.ServiceParam{
		DB:    s.DB,
		Log:   s.Log,
		Clock: s.Clock,
		Repo:  usagerepo.Provide(),
	})
	s.TopUps = topupservice.NewService(topupservice.Params{
		DB:       s.DB,
		Log:      s.Log,
		Clock:    s.Clock,
		Repo:     topuprepo.Provide(),
		Catalog:  s.Catalog,
		Accounts: s.Accounts,
		Gateway:  s.Gateway,
		Audit:    s.Audit,
	})
	s.Subscriptions = subscriptionservice.NewService(subscriptionservice.Params{
		DB:         s.DB,
		Log:        s.Log,
		Clock:      s.Clock,
		Repo:       subscriptionrepo.Provide(),
		Catalog:    s.Catalog,
		PlanQuotas: s.PlanQuotas,
		Accounts:   s.Accounts,
		Retention:  s.Retention,
		Gateway:    s.Gateway,
		Audit:      s.Audit,
	})
	s.Quota = quotaservice.NewService(quotaservice.Params{
		Log:      s.Log,
		Clock:    s.Clock,
		Accounts: s.Accounts,
		Usage:    s.Usage,
		TopUps:   s.TopUps,
	})
	s.Webhooks = webhookservice.NewService(webhookservice.Params{
		DB:            s.DB,
		Log:           s.Log,
		GenID:         node,
		Clock:         s.Clock,
		Repo:          webhookrepo.Provide(),
		Gateway:       s.Gateway,
		Catalog:       s.Catalog,
		Accounts:      s.Accounts,
		Subscriptions: s.Subscriptions,
		TopUps:        s.TopUps,
		Quota:         s.Quota,
	})
	return s
}

// Provision gives accountID the default free plan.
func (s *Stack) Provision(t testing.TB, accountID string) *accountdomain.PlanAssignment {
	t.Helper()
	a, err := s.Accounts.EnsureProvisioned(context.Background(), accountdomain.ProvisionRequest{AccountID: accountID})
	if err != nil {
		t.Fatalf("provision %s: %v", accountID, err)
	}
	return a
}

// LinkCustomer stores a billing customer row without calling the gateway.
func (s *Stack) LinkCustomer(t testing.TB, accountID, customerID string) {
	t.Helper()
	err := s.DB.Create(&accountdomain.BillingCustomer{
		AccountID:          accountID,
		ExternalCustomerID: customerID,
		CreatedAt:          s.Clock.Now(),
	}).Error
	if err != nil {
		t.Fatalf("link customer: %v", err)
	}
}
