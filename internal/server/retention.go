package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	retentiondomain "github.com/luisterslim/billing/internal/retention/domain"
)

type updateRetentionRequest struct {
	OptionID string `json:"option_id"`
}

func (s *Server) GetRetention(c *gin.Context) {
	ctx := c.Request.Context()
	accountID := currentAccountID(c)

	setting, err := s.retentionSvc.Get(ctx, accountID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"setting": setting,
		"source":  setting.Source(),
		"options": retentionOptionViews(setting.PlanCode),
	})
}

// UpdateRetention records an explicit choice. Options longer than the
// current plan allows are refused here; the selector itself does not check.
func (s *Server) UpdateRetention(c *gin.Context) {
	var req updateRetentionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	ctx := c.Request.Context()
	accountID := currentAccountID(c)

	option, ok := retentiondomain.FindOption(strings.TrimSpace(req.OptionID))
	if !ok {
		AbortWithError(c, retentiondomain.ErrInvalidOption)
		return
	}
	assignment, err := s.accountSvc.GetAssignment(ctx, accountID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if !retentiondomain.Allowed(assignment.PlanCode, option) {
		AbortWithError(c, retentiondomain.ErrOptionLocked)
		return
	}

	setting, err := s.retentionSvc.Select(ctx, accountID, option.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"setting": setting,
		"source":  setting.Source(),
	})
}
