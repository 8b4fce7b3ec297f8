package cluster

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLeaseStore implements LeaseStore against Redis, using SETNX for
// initial acquisition and a compare-and-swap Lua script for renew/release
// so a lease can only be extended or dropped by the holder that currently
// owns it.
type RedisLeaseStore struct {
	client *redis.Client
}

// NewRedisLeaseStore wraps an existing Redis client.
func NewRedisLeaseStore(client *redis.Client) *RedisLeaseStore {
	return &RedisLeaseStore{client: client}
}

func (s *RedisLeaseStore) makeKey(name string) string {
	return fmt.Sprintf("pollwatch:lease:%s", name)
}

func (s *RedisLeaseStore) Acquire(ctx context.Context, name, holderID string, ttl time.Duration) (bool, error) {
	key := s.makeKey(name)

	success, err := s.client.SetNX(ctx, key, holderID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("cluster: acquire lease: %w", err)
	}
	if success {
		return true, nil
	}

	val, err := s.client.Get(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("cluster: check existing lease: %w", err)
	}

	if val == holderID {
		return true, s.Renew(ctx, name, holderID, ttl)
	}

	return false, nil
}

const renewScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end
`

func (s *RedisLeaseStore) Renew(ctx context.Context, name, holderID string, ttl time.Duration) error {
	key := s.makeKey(name)
	ttlMs := int64(ttl / time.Millisecond)

	res, err := s.client.Eval(ctx, renewScript, []string{key}, holderID, ttlMs).Result()
	if err != nil {
		return fmt.Errorf("cluster: execute renew script: %w", err)
	}

	success, ok := res.(int64)
	if !ok {
		return fmt.Errorf("cluster: unexpected return type from renew script: %T", res)
	}
	if success == 1 {
		return nil
	}
	return errors.New("cluster: lease lost or stolen")
}

const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

func (s *RedisLeaseStore) Release(ctx context.Context, name, holderID string) error {
	key := s.makeKey(name)

	// A no-op release (lease already gone or held by someone else) is not
	// an error: Release means "ensure we no longer hold it," which is
	// already true in that case.
	if _, err := s.client.Eval(ctx, releaseScript, []string{key}, holderID).Result(); err != nil {
		return fmt.Errorf("cluster: execute release script: %w", err)
	}
	return nil
}

func (s *RedisLeaseStore) Get(ctx context.Context, name string) (*Lease, error) {
	key := s.makeKey(name)

	val, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("cluster: get lease: %w", err)
	}

	ttl, err := s.client.PTTL(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("cluster: get lease ttl: %w", err)
	}

	return &Lease{
		Name:      name,
		HolderID:  val,
		ExpiresAt: time.Now().Add(ttl),
	}, nil
}
