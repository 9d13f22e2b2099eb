package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/luisterslim/billing/internal/catalog"
	retentiondomain "github.com/luisterslim/billing/internal/retention/domain"
)

type planView struct {
	catalog.Plan
	Current bool `json:"current"`
}

func (s *Server) ListPlans(c *gin.Context) {
	assignment, err := s.accountSvc.GetAssignment(c.Request.Context(), currentAccountID(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	plans := s.catalog.Plans()
	views := make([]planView, 0, len(plans))
	for _, p := range plans {
		views = append(views, planView{Plan: p, Current: p.Code == assignment.PlanCode})
	}

	c.JSON(http.StatusOK, gin.H{
		"plans":             views,
		"topups":            s.catalog.TopUps(),
		"retention_options": retentionOptionViews(assignment.PlanCode),
	})
}

type retentionOptionView struct {
	retentiondomain.Option
	Locked bool `json:"locked"`
}

func retentionOptionViews(planCode string) []retentionOptionView {
	views := make([]retentionOptionView, 0, len(retentiondomain.Options))
	for _, o := range retentiondomain.Options {
		views = append(views, retentionOptionView{Option: o, Locked: !retentiondomain.Allowed(planCode, o)})
	}
	return views
}
