// Package ban provides the Redis-backed freeze cache consulted on every auth
// handshake. The durable ban flag lives on the account row; the cache exists
// so the hot path does not hit PostgreSQL. Freezes have no TTL: a frozen
// account stays frozen until an operator lifts it.
//
//	Key:   ban:<account_id>
//	Value: <reason>
package ban

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// BanPrefix is the Redis key prefix for freeze records.
const BanPrefix = "ban:"

// Store manages freeze records in Redis.
type Store struct {
	client *redis.Client
}

// NewStore creates a new ban store using the provided Redis client.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// IsFrozen checks whether an account is frozen.
// Returns (frozen, reason, error). Redis errors are returned so callers can
// decide how to handle them; the recommended policy is fail-open against the
// cache and let the durable account flag be the backstop.
func (s *Store) IsFrozen(ctx context.Context, accountID string) (bool, string, error) {
	key := BanPrefix + accountID

	reason, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, "", nil
	}
	if err != nil {
		return false, "", err
	}
	return true, reason, nil
}

// Freeze records a freeze with the given reason. No expiry is set.
func (s *Store) Freeze(ctx context.Context, accountID, reason string) error {
	key := BanPrefix + accountID
	return s.client.Set(ctx, key, reason, 0).Err()
}

// Unfreeze lifts a freeze immediately.
func (s *Store) Unfreeze(ctx context.Context, accountID string) error {
	key := BanPrefix + accountID
	return s.client.Del(ctx, key).Err()
}
