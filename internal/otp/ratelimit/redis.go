package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "otp:issued:"

// RedisLimiter keeps a sorted set of issuance timestamps per builder so the limit
// holds across server instances.
type RedisLimiter struct {
	client redis.Cmdable
	limit  int
	window time.Duration
	prefix string
}

// NewRedisLimiter allows at most limit issuances per builder within window.
func NewRedisLimiter(client redis.Cmdable, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, limit: limit, window: window, prefix: defaultKeyPrefix}
}

// Allow trims entries older than the window, and records now when under the limit.
func (l *RedisLimiter) Allow(ctx context.Context, builderID string, now time.Time) (bool, error) {
	key := l.prefix + builderID
	cutoff := strconv.FormatInt(now.Add(-l.window).UnixNano(), 10)

	var card *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRemRangeByScore(ctx, key, "-inf", "("+cutoff)
		card = p.ZCard(ctx, key)
		return nil
	})
	if err != nil {
		return false, errors.Wrap(err, "ratelimit: read window")
	}
	if card.Val() >= int64(l.limit) {
		return false, nil
	}

	_, err = l.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixNano()), Member: uuid.NewString()})
		p.Expire(ctx, key, l.window)
		return nil
	})
	if err != nil {
		return false, errors.Wrap(err, "ratelimit: record issuance")
	}
	return true, nil
}
