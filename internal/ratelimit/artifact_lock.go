package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// Deletes the artifact key only while it still holds the caller's token, so a
// debit that outlived its TTL cannot free a lock now held by a retry.
const artifactUnlockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

const (
	keyArtifactLock = "%slock:%s:%s"

	defaultArtifactLockTTL = 30 * time.Second
)

var errArtifactLockKey = errors.New("artifact lock needs an account and an artifact")

// artifactLock serializes debits of one transcript artifact within an account.
// The key expires after ttl so a crashed debit never wedges the artifact.
type artifactLock struct {
	client *redis.Client
	unlock *redis.Script
	prefix string
	ttl    time.Duration
}

func newArtifactLock(client *redis.Client, prefix string, ttl time.Duration) *artifactLock {
	if ttl <= 0 {
		ttl = defaultArtifactLockTTL
	}
	return &artifactLock{
		client: client,
		unlock: redis.NewScript(artifactUnlockScript),
		prefix: prefix,
		ttl:    ttl,
	}
}

func (a *artifactLock) key(accountID, artifactID string) (string, error) {
	accountID = strings.TrimSpace(accountID)
	artifactID = strings.TrimSpace(artifactID)
	if accountID == "" || artifactID == "" {
		return "", errArtifactLockKey
	}
	return fmt.Sprintf(keyArtifactLock, a.prefix, accountID, artifactID), nil
}

// acquire returns the holder token and false when another debit of the same
// artifact is in flight.
func (a *artifactLock) acquire(ctx context.Context, accountID, artifactID string) (string, bool, error) {
	key, err := a.key(accountID, artifactID)
	if err != nil {
		return "", false, err
	}
	token := uuid.NewString()
	ok, err := a.client.SetNX(ctx, key, token, a.ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("lock artifact %s: %w", artifactID, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

func (a *artifactLock) release(ctx context.Context, accountID, artifactID, token string) error {
	if token == "" {
		return nil
	}
	key, err := a.key(accountID, artifactID)
	if err != nil {
		return err
	}
	if err := a.unlock.Run(ctx, a.client, []string{key}, token).Err(); err != nil {
		return fmt.Errorf("unlock artifact %s: %w", artifactID, err)
	}
	return nil
}
