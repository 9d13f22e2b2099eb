package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	topupdomain "github.com/luisterslim/billing/internal/topup/domain"
)

type listQuery struct {
	Limit string `form:"limit"`
}

func (s *Server) ListTopUps(c *gin.Context) {
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

	credits, err := s.topUpSvc.List(c.Request.Context(), currentAccountID(c), limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"credits": credits})
}

// ConfirmTopUp credits a purchase the client reports. The payment intent is
// verified with the billing provider before any minutes are granted.
func (s *Server) ConfirmTopUp(c *gin.Context) {
	var req topupdomain.ConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.AccountID = currentAccountID(c)

	res, err := s.topUpSvc.ConfirmPurchase(c.Request.Context(), req)
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
