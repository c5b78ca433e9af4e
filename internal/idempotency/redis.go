package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "zaloga:idempotency:"

// Redis is a Guard shared by every instance talking to the same Redis.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis returns a Redis backed guard remembering keys for ttl.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

func (r *Redis) Reserve(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, keyPrefix+key, "", r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("reserving idempotency key: %w", err)
	}
	return ok, nil
}

func (r *Redis) Complete(ctx context.Context, key, orderID string) error {
	err := r.client.SetArgs(ctx, keyPrefix+key, orderID, redis.SetArgs{KeepTTL: true}).Err()
	if err != nil {
		return fmt.Errorf("completing idempotency key: %w", err)
	}
	return nil
}

func (r *Redis) Lookup(ctx context.Context, key string) (string, error) {
	v, err := r.client.Get(ctx, keyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("looking up idempotency key: %w", err)
	}
	return v, nil
}

func (r *Redis) Release(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("releasing idempotency key: %w", err)
	}
	return nil
}
