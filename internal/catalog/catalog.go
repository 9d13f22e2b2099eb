// Package catalog holds the plan and top-up table. It is built once at startup
// and never mutated, so concurrent readers need no locking.
package catalog

import (
	"strings"

	"github.com/luisterslim/billing/internal/config"
	"go.uber.org/fx"
)

const (
	PlanFree     = "free"
	PlanPro      = "pro"
	PlanBusiness = "business"

	TopUp60  = "topup_60"
	TopUp300 = "topup_300"

	MsPerMinute int64 = 60_000
)

var Module = fx.Module("catalog",
	fx.Provide(New),
)

type Plan struct {
	Code         string `json:"code"`
	Name         string `json:"name"`
	QuotaMinutes int64  `json:"quota_minutes"`
	PriceID      string `json:"price_id,omitempty"`
}

func (p Plan) QuotaMs() int64 { return p.QuotaMinutes * MsPerMinute }

// Purchasable reports whether the plan can be the target of a paid checkout.
func (p Plan) Purchasable() bool { return p.PriceID != "" }

type TopUp struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	MinutesGranted int64  `json:"minutes_granted"`
	PriceID        string `json:"price_id,omitempty"`
}

func (t TopUp) MsGranted() int64 { return t.MinutesGranted * MsPerMinute }

func (t TopUp) Purchasable() bool { return t.PriceID != "" }

type Catalog struct {
	plans  []Plan
	topUps []TopUp
}

var (
	defaultPlans = []Plan{
		{Code: PlanFree, Name: "Free", QuotaMinutes: 600},
		{Code: PlanPro, Name: "Pro", QuotaMinutes: 1800},
		{Code: PlanBusiness, Name: "Business", QuotaMinutes: 6000},
	}
	defaultTopUps = []TopUp{
		{ID: TopUp60, Name: "60 extra minutes", MinutesGranted: 60},
		{ID: TopUp300, Name: "300 extra minutes", MinutesGranted: 300},
	}
)

// New builds the catalog, resolving external price ids from configuration.
func New(cfg config.Config) *Catalog {
	return Build(cfg.Stripe.PriceIDs)
}

// Build assembles the default table with the given code -> price id mapping.
func Build(priceIDs map[string]string) *Catalog {
	c := &Catalog{
		plans:  make([]Plan, len(defaultPlans)),
		topUps: make([]TopUp, len(defaultTopUps)),
	}
	copy(c.plans, defaultPlans)
	copy(c.topUps, defaultTopUps)

	for i := range c.plans {
		c.plans[i].PriceID = strings.TrimSpace(priceIDs[c.plans[i].Code])
	}
	for i := range c.topUps {
		c.topUps[i].PriceID = strings.TrimSpace(priceIDs[c.topUps[i].ID])
	}
	return c
}

// Plans returns the plans in display order.
func (c *Catalog) Plans() []Plan {
	out := make([]Plan, len(c.plans))
	copy(out, c.plans)
	return out
}

// TopUps returns the top-up packs in display order.
func (c *Catalog) TopUps() []TopUp {
	out := make([]TopUp, len(c.topUps))
	copy(out, c.topUps)
	return out
}

func (c *Catalog) FindPlan(code string) (Plan, bool) {
	code = normalize(code)
	for _, p := range c.plans {
		if p.Code == code {
			return p, true
		}
	}
	return Plan{}, false
}

func (c *Catalog) FindPlanByExternalPriceID(priceID string) (Plan, bool) {
	priceID = strings.TrimSpace(priceID)
	if priceID == "" {
		return Plan{}, false
	}
	for _, p := range c.plans {
		if p.PriceID == priceID {
			return p, true
		}
	}
	return Plan{}, false
}

func (c *Catalog) FindTopUp(id string) (TopUp, bool) {
	id = normalize(id)
	for _, t := range c.topUps {
		if t.ID == id {
			return t, true
		}
	}
	return TopUp{}, false
}

func (c *Catalog) FindTopUpByExternalPriceID(priceID string) (TopUp, bool) {
	priceID = strings.TrimSpace(priceID)
	if priceID == "" {
		return TopUp{}, false
	}
	for _, t := range c.topUps {
		if t.PriceID == priceID {
			return t, true
		}
	}
	return TopUp{}, false
}

// FreePlan is the last-resort plan used for new and cancelled accounts.
func (c *Catalog) FreePlan() Plan {
	p, _ := c.FindPlan(PlanFree)
	return p
}

func normalize(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}
