package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/luisterslim/billing/internal/observability/logger"
	"go.uber.org/zap"
)

const (
	rateLimitReasonAccountRate         = "account-rate"
	rateLimitReasonArtifactConcurrency = "artifact-concurrency"
)

type debitRateLimitKey struct {
	TranscriptArtifactID string `json:"transcript_artifact_id"`
}

// DebitRateLimit throttles debits per account and rejects a second in-flight
// debit for the same transcript artifact. When Redis is unreachable the
// request is let through if the limiter is configured to fail open.
func (s *Server) DebitRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.debitLimiter.Enabled() {
			c.Next()
			return
		}

		accountID := currentAccountID(c)
		endpoint := normalizeRateLimitEndpoint(c)
		ctx := c.Request.Context()

		res, err := s.debitLimiter.AllowAccount(ctx, accountID)
		if err != nil {
			logger.FromContext(ctx).Warn("debit rate limit check failed", zap.Error(err))
			s.rateLimitUnavailable(c)
			return
		}
		if !res.Allowed {
			s.denyDebitRateLimit(c, endpoint, rateLimitReasonAccountRate, res.RetryAfter)
			return
		}

		artifactID, err := readDebitRateLimitKey(c)
		if err != nil {
			logger.FromContext(ctx).Warn("debit rate limit read body failed", zap.Error(err))
			AbortWithError(c, invalidRequestError())
			return
		}

		if artifactID != "" {
			lockToken, acquired, err := s.debitLimiter.TryLockArtifact(ctx, accountID, artifactID)
			if err != nil {
				logger.FromContext(ctx).Warn("debit artifact lock failed", zap.Error(err))
				s.rateLimitUnavailable(c)
				return
			}
			if !acquired {
				s.denyDebitRateLimit(c, endpoint, rateLimitReasonArtifactConcurrency, time.Second)
				return
			}
			defer func() {
				if err := s.debitLimiter.ReleaseArtifact(context.WithoutCancel(ctx), accountID, artifactID, lockToken); err != nil {
					logger.FromContext(ctx).Warn("debit artifact unlock failed", zap.Error(err))
				}
			}()
		}

		s.obsMetrics.RecordRateLimitAllowed(ctx, endpoint)
		c.Next()
	}
}

func (s *Server) rateLimitUnavailable(c *gin.Context) {
	if s.debitLimiter.FailOpen() {
		c.Next()
		return
	}
	AbortWithError(c, ErrServiceUnavailable)
}

func (s *Server) denyDebitRateLimit(c *gin.Context, endpoint, reason string, retryAfter time.Duration) {
	ctx := c.Request.Context()
	logger.FromContext(ctx).Warn("debit rate limit exceeded",
		zap.String("reason", reason),
		zap.String("endpoint", endpoint),
	)
	s.obsMetrics.RecordRateLimitDenied(ctx, endpoint, reason)

	c.Header("Retry-After", retryAfterSeconds(retryAfter))
	c.Header("X-Rate-Limited-Reason", reason)
	AbortWithError(c, ErrRateLimited)
}

func retryAfterSeconds(d time.Duration) string {
	secs := int64(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.FormatInt(secs, 10)
}

func readDebitRateLimitKey(c *gin.Context) (string, error) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return "", err
	}
	c.Request.Body = io.NopCloser(bytes.NewBuffer(body))
	if len(body) == 0 {
		return "", nil
	}

	var payload debitRateLimitKey
	if err := json.Unmarshal(body, &payload); err != nil {
		// The handler reports malformed bodies.
		return "", nil
	}
	return strings.TrimSpace(payload.TranscriptArtifactID), nil
}

func normalizeRateLimitEndpoint(c *gin.Context) string {
	if c == nil {
		return "unknown"
	}
	endpoint := strings.TrimSpace(c.FullPath())
	if endpoint == "" {
		endpoint = strings.TrimSpace(c.Request.URL.Path)
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	return endpoint
}
