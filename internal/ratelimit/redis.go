package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "ratelimit:"

// RedisLimiter keeps one sorted set per key whose scores are event times in milliseconds.
type RedisLimiter struct {
	client redis.Cmdable
	Window time.Duration
	now    func() time.Time
}

// NewRedis builds a Redis-backed sliding window limiter.
func NewRedis(client redis.Cmdable, window time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, Window: window, now: time.Now}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int) (Decision, error) {
	now := l.now()
	nowMs := now.UnixMilli()
	windowStart := nowMs - l.Window.Milliseconds()
	redisKey := redisKeyPrefix + key
	member := fmt.Sprintf("%d-%s", nowMs, uuid.NewString())

	pipe := l.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "-inf", strconv.FormatInt(windowStart, 10))
	pipe.ZAdd(ctx, redisKey, redis.Z{Score: float64(nowMs), Member: member})
	card := pipe.ZCard(ctx, redisKey)
	oldest := pipe.ZRangeWithScores(ctx, redisKey, 0, 0)
	pipe.PExpire(ctx, redisKey, l.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, fmt.Errorf("rate limit pipeline: %w", err)
	}

	count := int(card.Val())
	resetAt := now.Add(l.Window)
	if entries := oldest.Val(); len(entries) > 0 {
		resetAt = time.UnixMilli(int64(entries[0].Score)).In(now.Location()).Add(l.Window)
	}

	if count > limit {
		if err := l.client.ZRem(ctx, redisKey, member).Err(); err != nil {
			return Decision{}, fmt.Errorf("rate limit rollback: %w", err)
		}
		return Decision{Allowed: false, Remaining: 0, ResetAt: resetAt}, nil
	}
	return Decision{Allowed: true, Remaining: limit - count, ResetAt: resetAt}, nil
}
