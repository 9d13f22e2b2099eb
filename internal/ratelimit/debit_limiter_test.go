package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/luisterslim/billing/internal/config"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, burst int) (*DebitLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	limiter, err := NewDebitLimiterWithClient(client, config.RateLimitConfig{
		Enabled:     true,
		DebitRate:   0.001,
		DebitBurst:  burst,
		KeyPrefix:   "rl:debit:",
		BucketTTLMs: 60_000,
	})
	require.NoError(t, err)
	return limiter, mr
}

func TestAllowAccountExhaustsBurst(t *testing.T) {
	limiter, mr := newTestLimiter(t, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := limiter.AllowAccount(ctx, "acct_1")
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d", i)
		assert.Equal(t, 3, res.Limit)
	}
	res, err := limiter.AllowAccount(ctx, "acct_1")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Positive(t, res.RetryAfter)

	res, err = limiter.AllowAccount(ctx, "acct_2")
	require.NoError(t, err)
	assert.True(t, res.Allowed, "buckets are per account")

	assert.True(t, mr.Exists("rl:debit:account:acct_1"))
	assert.Positive(t, mr.TTL("rl:debit:account:acct_1"))
}

func TestArtifactLock(t *testing.T) {
	limiter, _ := newTestLimiter(t, 3)
	ctx := context.Background()

	token, ok, err := limiter.TryLockArtifact(ctx, "acct_1", "art_1")
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, token)

	_, ok, err = limiter.TryLockArtifact(ctx, "acct_1", "art_1")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = limiter.TryLockArtifact(ctx, "acct_1", "art_2")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, limiter.ReleaseArtifact(ctx, "acct_1", "art_1", "wrong-token"))
	_, ok, err = limiter.TryLockArtifact(ctx, "acct_1", "art_1")
	require.NoError(t, err)
	assert.False(t, ok, "a foreign token must not release the lock")

	require.NoError(t, limiter.ReleaseArtifact(ctx, "acct_1", "art_1", token))
	_, ok, err = limiter.TryLockArtifact(ctx, "acct_1", "art_1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisOutageSurfacesError(t *testing.T) {
	limiter, mr := newTestLimiter(t, 3)
	mr.Close()

	_, err := limiter.AllowAccount(context.Background(), "acct_1")
	require.Error(t, err)
}

func TestDisabledLimiter(t *testing.T) {
	limiter, err := NewDebitLimiter(config.Config{})
	require.NoError(t, err)
	require.Nil(t, limiter)

	assert.False(t, limiter.Enabled())
	assert.True(t, limiter.FailOpen())
	res, err := limiter.AllowAccount(context.Background(), "acct_1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	_, ok, err := limiter.TryLockArtifact(context.Background(), "acct_1", "art_1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestInvalidConfig(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	_, err := NewDebitLimiterWithClient(client, config.RateLimitConfig{Enabled: true, DebitRate: 0, DebitBurst: 1})
	require.Error(t, err)
	_, err = NewDebitLimiterWithClient(nil, config.RateLimitConfig{Enabled: true, DebitRate: 1, DebitBurst: 1})
	require.Error(t, err)
}

func TestArtifactLockExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	limiter, err := NewDebitLimiterWithClient(client, config.RateLimitConfig{
		Enabled:           true,
		DebitRate:         1,
		DebitBurst:        1,
		KeyPrefix:         "rl:debit:",
		ArtifactLockTTLMs: 5_000,
	})
	require.NoError(t, err)
	ctx := context.Background()

	stale, ok, err := limiter.TryLockArtifact(ctx, "acct_1", "art_1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 5*time.Second, mr.TTL("rl:debit:lock:acct_1:art_1"))

	mr.FastForward(6 * time.Second)
	fresh, ok, err := limiter.TryLockArtifact(ctx, "acct_1", "art_1")
	require.NoError(t, err)
	require.True(t, ok, "an abandoned artifact is claimable once the lock lapses")

	require.NoError(t, limiter.ReleaseArtifact(ctx, "acct_1", "art_1", stale))
	got, err := mr.Get("rl:debit:lock:acct_1:art_1")
	require.NoError(t, err)
	assert.Equal(t, fresh, got, "the late debit must not free the retry's claim")
}

func TestArtifactLockDefaultsAndScope(t *testing.T) {
	limiter, mr := newTestLimiter(t, 1)
	ctx := context.Background()

	_, ok, err := limiter.TryLockArtifact(ctx, " acct_1 ", "art_1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, defaultArtifactLockTTL, mr.TTL("rl:debit:lock:acct_1:art_1"))

	_, ok, err = limiter.TryLockArtifact(ctx, "acct_2", "art_1")
	require.NoError(t, err)
	assert.True(t, ok, "artifact claims are scoped to the account")

	_, _, err = limiter.TryLockArtifact(ctx, "acct_1", "")
	require.ErrorIs(t, err, errArtifactLockKey)
	require.NoError(t, limiter.ReleaseArtifact(ctx, "acct_1", "art_1", ""))
}
