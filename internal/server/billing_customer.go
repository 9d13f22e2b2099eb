package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// CreateBillingCustomer links the account to a billing customer on first call
// and returns a fresh ephemeral key for the mobile payment sheet.
func (s *Server) CreateBillingCustomer(c *gin.Context) {
	ctx := c.Request.Context()
	accountID := currentAccountID(c)

	var email, name string
	if claims := authClaims(c); claims != nil {
		email, name = claims.Email, claims.Name
	}
	if _, err := s.accountSvc.EnsureCustomer(ctx, accountID, email, name); err != nil {
		AbortWithError(c, err)
		return
	}

	key, err := s.accountSvc.CreateEphemeralKey(ctx, accountID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, key)
}
