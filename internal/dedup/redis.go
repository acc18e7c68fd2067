package dedup

import (
	"context"
	"time"

	redisadapter "pulse/internal/adapters/redis"
	"pulse/pkg/errors"
)

const keyPrefix = "dedup:"

// RedisFilter is the production dedup filter: SETNX with a TTL gives a
// single round-trip atomic check-and-mark shared by every worker instance.
type RedisFilter struct {
	client *redisadapter.Client
	ttl    time.Duration
}

// NewRedisFilter creates a Redis-backed dedup filter
func NewRedisFilter(client *redisadapter.Client, ttl time.Duration) *RedisFilter {
	if ttl == 0 {
		ttl = DefaultTTL
	}
	return &RedisFilter{client: client, ttl: ttl}
}

// SeenOrMark checks and marks in one SETNX round trip
func (f *RedisFilter) SeenOrMark(ctx context.Context, fingerprint string) (bool, error) {
	isNew, err := f.client.SetNX(ctx, keyPrefix+fingerprint, 1, f.ttl)
	if err != nil {
		return false, errors.Wrap(err, "dedup setnx")
	}
	return !isNew, nil
}
