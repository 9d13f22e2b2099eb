package service

import (
	"context"
	"errors"
	"strings"

	accountdomain "github.com/luisterslim/billing/internal/account/domain"
	auditdomain "github.com/luisterslim/billing/internal/audit/domain"
	"github.com/luisterslim/billing/internal/catalog"
	"github.com/luisterslim/billing/internal/clock"
	"github.com/luisterslim/billing/internal/config"
	"github.com/luisterslim/billing/internal/period"
	billingdomain "github.com/luisterslim/billing/internal/providers/billing/domain"
	retentiondomain "github.com/luisterslim/billing/internal/retention/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Clock     clock.Clock
	Config    config.Config
	Repo      accountdomain.Repository
	Catalog   *catalog.Catalog
	Retention retentiondomain.Service
	Gateway   billingdomain.Gateway
	Audit     auditdomain.Service `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	clock     clock.Clock
	defaultTZ string
	repo      accountdomain.Repository
	catalog   *catalog.Catalog
	retention retentiondomain.Service
	gateway   billingdomain.Gateway
	audit     auditdomain.Service
}

func NewService(p Params) accountdomain.Service {
	defaultTZ := strings.TrimSpace(p.Config.DefaultTZ)
	if _, err := period.LoadLocation(defaultTZ); err != nil {
		p.Log.Warn("invalid DEFAULT_TIMEZONE, falling back to UTC", zap.String("timezone", defaultTZ))
		defaultTZ = "UTC"
	}
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("account.service"),
		clock:     p.Clock,
		defaultTZ: defaultTZ,
		repo:      p.Repo,
		catalog:   p.Catalog,
		retention: p.Retention,
		gateway:   p.Gateway,
		audit:     p.Audit,
	}
}

// EnsureProvisioned gives a new account the free plan, anchored to today in
// its timezone. Safe to call on every request.
func (s *Service) EnsureProvisioned(ctx context.Context, req accountdomain.ProvisionRequest) (*accountdomain.PlanAssignment, error) {
	accountID := strings.TrimSpace(req.AccountID)
	if accountID == "" {
		return nil, accountdomain.ErrInvalidAccount
	}

	existing, err := s.repo.FindAssignment(ctx, s.db, accountID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	assignment := s.newAssignment(accountID, req.Timezone)
	free := s.catalog.FreePlan()
	assignment.PlanCode = free.Code
	assignment.BaseQuotaMs = free.QuotaMs()

	created, err := s.repo.InsertAssignmentIfAbsent(ctx, s.db, assignment)
	if err != nil {
		return nil, err
	}
	if created {
		s.log.Info("account provisioned",
			zap.String("account_id", accountID),
			zap.String("plan_code", assignment.PlanCode),
			zap.Int("renew_day", assignment.RenewDay),
			zap.String("timezone", assignment.Timezone),
		)
	}
	if err := s.retention.EnsureDefault(ctx, accountID, free.Code); err != nil {
		return nil, err
	}

	if created {
		return assignment, nil
	}
	// lost the race to a concurrent request
	return s.GetAssignment(ctx, accountID)
}

func (s *Service) GetAssignment(ctx context.Context, accountID string) (*accountdomain.PlanAssignment, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, accountdomain.ErrInvalidAccount
	}
	assignment, err := s.repo.FindAssignment(ctx, s.db, accountID)
	if err != nil {
		return nil, err
	}
	if assignment == nil {
		return nil, accountdomain.ErrAccountNotProvisioned
	}
	return assignment, nil
}

func (s *Service) UpsertPlan(ctx context.Context, req accountdomain.UpsertPlanRequest) (*accountdomain.PlanAssignment, error) {
	accountID := strings.TrimSpace(req.AccountID)
	if accountID == "" {
		return nil, accountdomain.ErrInvalidAccount
	}
	planCode := strings.ToLower(strings.TrimSpace(req.PlanCode))
	if planCode == "" {
		return nil, accountdomain.ErrInvalidPlanCode
	}
	if req.BaseQuotaMs < 0 {
		return nil, accountdomain.ErrInvalidQuota
	}

	row := s.newAssignment(accountID, "")
	row.PlanCode = planCode
	row.BaseQuotaMs = req.BaseQuotaMs
	if err := s.repo.UpsertPlan(ctx, s.db, row); err != nil {
		return nil, err
	}
	return s.GetAssignment(ctx, accountID)
}

func (s *Service) EnsureCustomer(ctx context.Context, accountID, email, name string) (*accountdomain.BillingCustomer, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, accountdomain.ErrInvalidAccount
	}

	existing, err := s.repo.FindCustomer(ctx, s.db, accountID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	customer, err := s.gateway.CreateCustomer(ctx, billingdomain.CreateCustomerRequest{
		AccountID: accountID,
		Email:     email,
		Name:      name,
	})
	if err != nil {
		return nil, err
	}

	row := &accountdomain.BillingCustomer{
		AccountID:          accountID,
		ExternalCustomerID: customer.ID,
		CreatedAt:          s.clock.Now(),
	}
	if email = strings.TrimSpace(email); email != "" {
		row.Email = &email
	}
	created, err := s.repo.InsertCustomerIfAbsent(ctx, s.db, row)
	if err != nil {
		return nil, err
	}
	if !created {
		return s.repo.FindCustomer(ctx, s.db, accountID)
	}

	if s.audit != nil {
		s.audit.Record(ctx, auditdomain.Entry{
			AccountID:  accountID,
			Action:     auditdomain.ActionCustomerCreated,
			TargetType: "billing_customer",
			TargetID:   accountID,
			Metadata:   map[string]any{"external_customer_id": customer.ID},
		})
	}
	return row, nil
}

func (s *Service) FindCustomer(ctx context.Context, accountID string) (*accountdomain.BillingCustomer, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, accountdomain.ErrInvalidAccount
	}
	return s.repo.FindCustomer(ctx, s.db, accountID)
}

func (s *Service) FindAccountByCustomer(ctx context.Context, externalCustomerID string) (string, error) {
	externalCustomerID = strings.TrimSpace(externalCustomerID)
	if externalCustomerID == "" {
		return "", accountdomain.ErrCustomerNotFound
	}
	customer, err := s.repo.FindCustomerByExternalID(ctx, s.db, externalCustomerID)
	if err != nil {
		return "", err
	}
	if customer == nil {
		return "", accountdomain.ErrCustomerNotFound
	}
	return customer.AccountID, nil
}

func (s *Service) CreateEphemeralKey(ctx context.Context, accountID string) (*accountdomain.EphemeralKeyResponse, error) {
	customer, err := s.FindCustomer(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if customer == nil {
		return nil, accountdomain.ErrCustomerNotFound
	}

	key, err := s.gateway.CreateEphemeralKey(ctx, customer.ExternalCustomerID)
	if err != nil {
		if errors.Is(err, billingdomain.ErrNotFound) {
			return nil, accountdomain.ErrCustomerNotFound
		}
		return nil, err
	}
	return &accountdomain.EphemeralKeyResponse{
		CustomerID:   customer.ExternalCustomerID,
		EphemeralKey: key.Secret,
		ExpiresAt:    key.ExpiresAt,
	}, nil
}

func (s *Service) newAssignment(accountID, timezone string) *accountdomain.PlanAssignment {
	tz := strings.TrimSpace(timezone)
	if tz == "" {
		tz = s.defaultTZ
	}
	loc, err := period.LoadLocation(tz)
	if err != nil {
		s.log.Warn("unknown timezone, using default",
			zap.String("account_id", accountID),
			zap.String("timezone", tz),
		)
		tz = s.defaultTZ
		loc, _ = period.LoadLocation(tz)
	}

	now := s.clock.Now()
	return &accountdomain.PlanAssignment{
		AccountID: accountID,
		RenewDay:  period.ClampRenewDay(now.In(loc).Day()),
		Timezone:  loc.String(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}
