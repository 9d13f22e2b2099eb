package server

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	authservice "github.com/luisterslim/billing/internal/auth/service"
	"github.com/luisterslim/billing/internal/billingtest"
	"github.com/luisterslim/billing/internal/config"
	"github.com/luisterslim/billing/internal/observability"
	obsmetrics "github.com/luisterslim/billing/internal/observability/metrics"
	"github.com/luisterslim/billing/internal/ratelimit"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

const (
	testJWTSecret     = "test-jwt-secret"
	testInternalToken = "test-internal-token"
)

type testServer struct {
	*billingtest.Stack
	srv      *Server
	verifier *authservice.Verifier
}

type testOption func(*ServerParams)

func withLimiter(limiter *ratelimit.DebitLimiter) testOption {
	return func(p *ServerParams) { p.DebitLimiter = limiter }
}

func withInternalToken(token string) testOption {
	return func(p *ServerParams) { p.Cfg.InternalToken = token }
}

func newTestServer(t *testing.T, opts ...testOption) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	stack := billingtest.NewStack(t)
	cfg := config.Config{
		Environment:   "test",
		AuthJWTSecret: testJWTSecret,
		InternalToken: testInternalToken,
	}
	verifier := authservice.NewVerifier(cfg, stack.Clock, stack.Log)

	params := ServerParams{
		Gin:           NewEngine(observability.Config{}, nil),
		Cfg:           cfg,
		Log:           stack.Log,
		Catalog:       stack.Catalog,
		Verifier:      verifier,
		Accounts:      stack.Accounts,
		Audit:         stack.Audit,
		Retention:     stack.Retention,
		Usage:         stack.Usage,
		TopUps:        stack.TopUps,
		Subscriptions: stack.Subscriptions,
		Quota:         stack.Quota,
		Webhooks:      stack.Webhooks,
		ObsMetrics:    obsmetrics.NewNoop(),
	}
	for _, opt := range opts {
		opt(&params)
	}

	return &testServer{
		Stack:    stack,
		srv:      NewServer(params),
		verifier: verifier,
	}
}

func newTestLimiter(t *testing.T, burst int, failOpen bool) (*ratelimit.DebitLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	limiter, err := ratelimit.NewDebitLimiterWithClient(client, config.RateLimitConfig{
		Enabled:     true,
		DebitRate:   0.001,
		DebitBurst:  burst,
		FailOpen:    failOpen,
		KeyPrefix:   "rl:debit:",
		BucketTTLMs: 60_000,
	})
	require.NoError(t, err)
	return limiter, mr
}

func (ts *testServer) token(t *testing.T, accountID string) string {
	t.Helper()
	token, err := ts.verifier.Issue(accountID, time.Hour)
	require.NoError(t, err)
	return token
}

func (ts *testServer) do(t *testing.T, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case []byte:
		reader = bytes.NewReader(b)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	ts.srv.Engine().ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) as(t *testing.T, accountID, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return ts.do(t, method, path, ts.token(t, accountID), body)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	return decode[errorResponse](t, rec).Error
}
