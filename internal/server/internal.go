package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type reconciliationQuery struct {
	PeriodID string `form:"period_id"`
}

func (s *Server) GetReconciliation(c *gin.Context) {
	var query reconciliationQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	report, err := s.usageSvc.ReconciliationReport(c.Request.Context(), query.PeriodID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, report)
}

type creditReferralRequest struct {
	AccountID  string `json:"account_id"`
	ReferralID string `json:"referral_id"`
	Minutes    int64  `json:"minutes"`
}

func (s *Server) CreditReferral(c *gin.Context) {
	var req creditReferralRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	res, err := s.topUpSvc.CreditReferral(c.Request.Context(), req.AccountID, req.ReferralID, req.Minutes)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	c.JSON(status, res)
}

func (s *Server) ListAuditLogs(c *gin.Context) {
	var query listQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	limit, err := parseLimit(query.Limit)
	if err != nil {
		AbortWithError(c, newValidationError("limit", "invalid_limit", "invalid limit"))
		return
	}

	logs, err := s.auditSvc.List(c.Request.Context(), strings.TrimSpace(c.Param("accountId")), limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"audit_logs": logs})
}
