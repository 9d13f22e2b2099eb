package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type syncSubscriptionRequest struct {
	SubscriptionID string `json:"subscription_id"`
}

func (s *Server) GetSubscription(c *gin.Context) {
	sub, err := s.subscriptionSvc.Get(c.Request.Context(), currentAccountID(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, sub)
}

// SyncSubscription applies a subscription the client claims after checkout.
// The plan always comes from the provider's copy of the subscription.
func (s *Server) SyncSubscription(c *gin.Context) {
	var req syncSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	res, err := s.subscriptionSvc.Claim(c.Request.Context(), currentAccountID(c), req.SubscriptionID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, res)
}
