package server

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"
	accountdomain "github.com/luisterslim/billing/internal/account/domain"
	authdomain "github.com/luisterslim/billing/internal/auth/domain"
	obscontext "github.com/luisterslim/billing/internal/observability/context"
	"github.com/luisterslim/billing/internal/observability/logger"
	"go.uber.org/zap"
)

const (
	contextAccountIDKey = "account_id"
	contextClaimsKey    = "auth_claims"
)

// RequireAccount verifies the bearer token and provisions the account on
// first sight. Handlers read the account id with currentAccountID(c).
func (s *Server) RequireAccount() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		claims, err := s.verifier.Verify(token)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		accountID := claims.AccountID()
		ctx := obscontext.WithAccountID(c.Request.Context(), accountID)
		ctx = obscontext.WithActor(ctx, "account", accountID)
		if _, err := s.accountSvc.EnsureProvisioned(ctx, accountdomain.ProvisionRequest{
			AccountID: accountID,
			Timezone:  claims.Timezone,
			Email:     claims.Email,
			Name:      claims.Name,
		}); err != nil {
			logger.FromContext(ctx).Warn("account provisioning failed", zap.Error(err))
			AbortWithError(c, err)
			return
		}

		c.Request = c.Request.WithContext(ctx)
		c.Set(contextAccountIDKey, accountID)
		c.Set(contextClaimsKey, claims)
		c.Next()
	}
}

// RequireInternalToken guards support and operator routes. The routes are
// hidden entirely when no token is configured.
func (s *Server) RequireInternalToken() gin.HandlerFunc {
	expected := []byte(strings.TrimSpace(s.cfg.InternalToken))
	return func(c *gin.Context) {
		if len(expected) == 0 {
			AbortWithError(c, ErrNotFound)
			return
		}
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok || subtle.ConstantTimeCompare([]byte(token), expected) != 1 {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		ctx := obscontext.WithActor(c.Request.Context(), "system", "internal")
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

func currentAccountID(c *gin.Context) string {
	return c.GetString(contextAccountIDKey)
}

func authClaims(c *gin.Context) *authdomain.Claims {
	v, ok := c.Get(contextClaimsKey)
	if !ok {
		return nil
	}
	claims, _ := v.(*authdomain.Claims)
	return claims
}
