package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/luisterslim/billing/internal/config"
	redis "github.com/redis/go-redis/v9"
)

const keyDebitAccount = "%saccount:%s"

// DebitLimiter throttles usage debits per account and serializes concurrent
// submissions of the same transcript artifact.
type DebitLimiter struct {
	client    *redis.Client
	bucket    *TokenBucket
	artifacts *artifactLock
	rate      float64
	burst     int
	prefix    string
	failOpen  bool
}

// NewDebitLimiter returns nil when rate limiting is disabled.
func NewDebitLimiter(cfg config.Config) (*DebitLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}
	addr := strings.TrimSpace(limitCfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(limitCfg.RedisPass),
		DB:       limitCfg.RedisDB,
	})
	return NewDebitLimiterWithClient(client, limitCfg)
}

func NewDebitLimiterWithClient(client *redis.Client, limitCfg config.RateLimitConfig) (*DebitLimiter, error) {
	if client == nil {
		return nil, errors.New("rate limit redis client is required")
	}
	if limitCfg.DebitRate <= 0 || limitCfg.DebitBurst <= 0 {
		return nil, errors.New("debit rate limit must be positive")
	}
	bucket := NewTokenBucket(client)
	bucket.minTTL = time.Duration(limitCfg.BucketTTLMs) * time.Millisecond
	return &DebitLimiter{
		client:    client,
		bucket:    bucket,
		artifacts: newArtifactLock(client, limitCfg.KeyPrefix, time.Duration(limitCfg.ArtifactLockTTLMs)*time.Millisecond),
		rate:      limitCfg.DebitRate,
		burst:     limitCfg.DebitBurst,
		prefix:    limitCfg.KeyPrefix,
		failOpen:  limitCfg.FailOpen,
	}, nil
}

func (l *DebitLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

// FailOpen reports whether a Redis outage lets debits through.
func (l *DebitLimiter) FailOpen() bool {
	return l == nil || l.failOpen
}

func (l *DebitLimiter) AllowAccount(ctx context.Context, accountID string) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyDebitAccount, l.prefix, strings.TrimSpace(accountID)), l.rate, l.burst)
}

// TryLockArtifact claims the transcript artifact for one debit. The claim
// lapses after the configured artifact lock TTL.
func (l *DebitLimiter) TryLockArtifact(ctx context.Context, accountID, artifactID string) (string, bool, error) {
	if !l.Enabled() {
		return "", true, nil
	}
	return l.artifacts.acquire(ctx, accountID, artifactID)
}

func (l *DebitLimiter) ReleaseArtifact(ctx context.Context, accountID, artifactID, token string) error {
	if !l.Enabled() {
		return nil
	}
	return l.artifacts.release(ctx, accountID, artifactID, token)
}

func (l *DebitLimiter) Close() error {
	if l == nil || l.client == nil {
		return nil
	}
	return l.client.Close()
}
