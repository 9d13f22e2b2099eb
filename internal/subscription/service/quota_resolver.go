package service

import (
	accountdomain "github.com/luisterslim/billing/internal/account/domain"
	"github.com/luisterslim/billing/internal/catalog"
)

const (
	QuotaSourceDynamicConfig = "dynamic_config"
	QuotaSourceCatalog       = "catalog"
	QuotaSourceExisting      = "existing_assignment"
	QuotaSourceFreeDefault   = "free_default"
)

// quotaResolver is one step of the base quota lookup. Steps run in order and
// the first that answers wins.
type quotaResolver struct {
	name    string
	resolve func(planCode string, existing *accountdomain.PlanAssignment) (int64, bool)
}

func (s *Service) quotaResolvers() []quotaResolver {
	return []quotaResolver{
		{name: QuotaSourceDynamicConfig, resolve: s.fromDynamicConfig},
		{name: QuotaSourceCatalog, resolve: s.fromCatalog},
		{name: QuotaSourceExisting, resolve: fromExisting},
		{name: QuotaSourceFreeDefault, resolve: s.fromFreeDefault},
	}
}

func (s *Service) resolveQuota(planCode string, existing *accountdomain.PlanAssignment) (int64, string) {
	for _, r := range s.resolvers {
		if ms, ok := r.resolve(planCode, existing); ok {
			return ms, r.name
		}
	}
	return s.catalog.FreePlan().QuotaMs(), QuotaSourceFreeDefault
}

func (s *Service) fromDynamicConfig(planCode string, _ *accountdomain.PlanAssignment) (int64, bool) {
	minutes, ok := s.planQuotas.Get().Minutes(planCode)
	if !ok {
		return 0, false
	}
	return minutes * catalog.MsPerMinute, true
}

func (s *Service) fromCatalog(planCode string, _ *accountdomain.PlanAssignment) (int64, bool) {
	plan, ok := s.catalog.FindPlan(planCode)
	if !ok {
		return 0, false
	}
	return plan.QuotaMs(), true
}

func fromExisting(_ string, existing *accountdomain.PlanAssignment) (int64, bool) {
	if existing == nil {
		return 0, false
	}
	return existing.BaseQuotaMs, true
}

func (s *Service) fromFreeDefault(string, *accountdomain.PlanAssignment) (int64, bool) {
	return s.catalog.FreePlan().QuotaMs(), true
}
