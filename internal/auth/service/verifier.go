package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	authdomain "github.com/luisterslim/billing/internal/auth/domain"
	"github.com/luisterslim/billing/internal/clock"
	"github.com/luisterslim/billing/internal/config"
	"go.uber.org/zap"
)

const leeway = 30 * time.Second

// Verifier checks HS256 bearer tokens from the identity collaborator.
type Verifier struct {
	secret []byte
	issuer string
	clock  clock.Clock
	log    *zap.Logger
}

func NewVerifier(cfg config.Config, clk clock.Clock, log *zap.Logger) *Verifier {
	if cfg.AuthJWTSecret == "" {
		log.Warn("AUTH_JWT_SECRET is empty, authenticated routes will reject every request")
	}
	return &Verifier{
		secret: []byte(cfg.AuthJWTSecret),
		issuer: cfg.AuthJWTIssuer,
		clock:  clk,
		log:    log.Named("auth.verifier"),
	}
}

func (v *Verifier) Verify(tokenStr string) (*authdomain.Claims, error) {
	if len(v.secret) == 0 {
		return nil, authdomain.ErrNotConfigured
	}
	tokenStr = strings.TrimSpace(tokenStr)
	if tokenStr == "" {
		return nil, authdomain.ErrUnauthorized
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(leeway),
		jwt.WithTimeFunc(v.clock.Now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &authdomain.Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}, opts...)
	if err != nil {
		v.log.Debug("bearer token rejected", zap.Error(err))
		return nil, authdomain.ErrUnauthorized
	}
	if !token.Valid || strings.TrimSpace(claims.Subject) == "" {
		return nil, authdomain.ErrUnauthorized
	}
	claims.Subject = strings.TrimSpace(claims.Subject)
	return claims, nil
}

// Issue signs a token for accountID. Used by tests and local tooling.
func (v *Verifier) Issue(accountID string, ttl time.Duration) (string, error) {
	if len(v.secret) == 0 {
		return "", authdomain.ErrNotConfigured
	}
	now := v.clock.Now()
	claims := authdomain.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
