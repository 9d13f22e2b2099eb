package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	quotadomain "github.com/luisterslim/billing/internal/quota/domain"
)

func (s *Server) GetUsage(c *gin.Context) {
	snapshot, err := s.quotaSvc.Snapshot(c.Request.Context(), currentAccountID(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, snapshot)
}

func (s *Server) DebitUsage(c *gin.Context) {
	var req quotadomain.DebitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.AccountID = currentAccountID(c)

	res, err := s.quotaSvc.DebitUsage(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, res)
}

type listUsageEventsQuery struct {
	PeriodID string `form:"period_id"`
}

// ListUsageEvents defaults to the account's current period.
func (s *Server) ListUsageEvents(c *gin.Context) {
	var query listUsageEventsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	ctx := c.Request.Context()
	accountID := currentAccountID(c)
	periodID := strings.TrimSpace(query.PeriodID)
	if periodID == "" {
		quota, err := s.quotaSvc.EffectiveQuota(ctx, accountID)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		periodID = quota.PeriodID
	}

	events, err := s.usageSvc.ListEvents(ctx, accountID, periodID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"period_id": periodID,
		"events":    events,
	})
}
