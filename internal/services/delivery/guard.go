package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// IdempotencyGuard не дает обработать одно событие дважды
type IdempotencyGuard interface {
	// Acquire возвращает false, если ключ уже занят
	Acquire(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
	// Applied - получатели, чьи счетчики уже записаны прошлой попыткой
	Applied(ctx context.Context, key string) ([]string, error)
	MarkApplied(ctx context.Context, key string, userIDs []string) error
}

const (
	guardKeyPrefix   = "msg-event:"
	appliedKeySuffix = ":applied"
)

type RedisGuard struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisGuard(client redis.UniversalClient, ttl time.Duration) *RedisGuard {
	return &RedisGuard{client: client, ttl: ttl}
}

func (g *RedisGuard) Acquire(ctx context.Context, key string) (bool, error) {
	ok, err := g.client.SetNX(ctx, guardKeyPrefix+key, time.Now().UTC().Format(time.RFC3339), g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

// Release снимает только блокировку, прогресс живет до своего TTL
func (g *RedisGuard) Release(ctx context.Context, key string) error {
	return g.client.Del(ctx, guardKeyPrefix+key).Err()
}

func (g *RedisGuard) Applied(ctx context.Context, key string) ([]string, error) {
	members, err := g.client.SMembers(ctx, guardKeyPrefix+key+appliedKeySuffix).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers: %w", err)
	}
	return members, nil
}

func (g *RedisGuard) MarkApplied(ctx context.Context, key string, userIDs []string) error {
	if len(userIDs) == 0 {
		return nil
	}
	setKey := guardKeyPrefix + key + appliedKeySuffix
	_, err := g.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, setKey, userIDs)
		pipe.Expire(ctx, setKey, g.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis sadd: %w", err)
	}
	return nil
}

// NoopGuard - без redis: каждое событие считается новым
type NoopGuard struct{}

func (NoopGuard) Acquire(context.Context, string) (bool, error)       { return true, nil }
func (NoopGuard) Release(context.Context, string) error               { return nil }
func (NoopGuard) Applied(context.Context, string) ([]string, error)   { return nil, nil }
func (NoopGuard) MarkApplied(context.Context, string, []string) error { return nil }
