package service

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	authdomain "github.com/luisterslim/billing/internal/auth/domain"
	"github.com/luisterslim/billing/internal/clock"
	"github.com/luisterslim/billing/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newVerifier(secret, issuer string, clk clock.Clock) *Verifier {
	return NewVerifier(config.Config{AuthJWTSecret: secret, AuthJWTIssuer: issuer}, clk, zap.NewNop())
}

func TestVerifyRoundTrip(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	v := newVerifier("secret", "luisterslim", clk)

	token, err := v.Issue("acct_1", time.Hour)
	require.NoError(t, err)

	claims, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "acct_1", claims.AccountID())
}

func TestVerifyRejects(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	v := newVerifier("secret", "luisterslim", clk)

	sign := func(method jwt.SigningMethod, key any, claims authdomain.Claims) string {
		t.Helper()
		s, err := jwt.NewWithClaims(method, claims).SignedString(key)
		require.NoError(t, err)
		return s
	}
	valid := func(mutate func(*jwt.RegisteredClaims)) authdomain.Claims {
		rc := jwt.RegisteredClaims{
			Subject:   "acct_1",
			Issuer:    "luisterslim",
			ExpiresAt: jwt.NewNumericDate(clk.Now().Add(time.Hour)),
		}
		if mutate != nil {
			mutate(&rc)
		}
		return authdomain.Claims{RegisteredClaims: rc}
	}

	cases := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not-a-token"},
		{"wrong secret", sign(jwt.SigningMethodHS256, []byte("other"), valid(nil))},
		{"hs512", sign(jwt.SigningMethodHS512, []byte("secret"), valid(nil))},
		{"expired", sign(jwt.SigningMethodHS256, []byte("secret"), valid(func(rc *jwt.RegisteredClaims) {
			rc.ExpiresAt = jwt.NewNumericDate(clk.Now().Add(-time.Hour))
		}))},
		{"no expiry", sign(jwt.SigningMethodHS256, []byte("secret"), valid(func(rc *jwt.RegisteredClaims) {
			rc.ExpiresAt = nil
		}))},
		{"wrong issuer", sign(jwt.SigningMethodHS256, []byte("secret"), valid(func(rc *jwt.RegisteredClaims) {
			rc.Issuer = "someone-else"
		}))},
		{"no subject", sign(jwt.SigningMethodHS256, []byte("secret"), valid(func(rc *jwt.RegisteredClaims) {
			rc.Subject = ""
		}))},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := v.Verify(tc.token)
			require.ErrorIs(t, err, authdomain.ErrUnauthorized)
		})
	}
}

func TestVerifyWithoutSecret(t *testing.T) {
	v := newVerifier("", "", clock.NewSystemClock())
	_, err := v.Verify("anything")
	require.ErrorIs(t, err, authdomain.ErrNotConfigured)
}
