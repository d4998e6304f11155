package cache

import (
	"WordsToLink-Backend/internal/config"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// GoRedis adapts *redis.Client to RedisClient.
type GoRedis struct {
	rdb *redis.Client
}

func NewGoRedis(rdb *redis.Client) *GoRedis {
	return &GoRedis{rdb: rdb}
}

// Connect opens a client for cfg and verifies it with PING.
func Connect(ctx context.Context, cfg *config.Redis) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	return rdb, nil
}

func (g *GoRedis) Get(ctx context.Context, key string) (string, error) {
	val, err := g.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrCacheMiss
	}
	return val, err
}

func (g *GoRedis) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return g.rdb.Set(ctx, key, value, ttl).Err()
}

func (g *GoRedis) Del(ctx context.Context, keys ...string) error {
	return g.rdb.Del(ctx, keys...).Err()
}

func (g *GoRedis) Ping(ctx context.Context) error {
	return g.rdb.Ping(ctx).Err()
}
