// Package cache wraps a repository.Storage with a Redis cache-aside layer for
// redirect resolution.
package cache

import (
	"WordsToLink-Backend/internal/domain"
	"WordsToLink-Backend/internal/repository"
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"
)

const (
	keyPrefix   = "wordsto:link:"
	negativeTTL = time.Minute
	missMarker  = "null"
)

// ErrCacheMiss is returned by RedisClient.Get when the key does not exist.
var ErrCacheMiss = errors.New("cache miss")

// RedisClient is the subset of Redis the cache needs.
type RedisClient interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Ping(ctx context.Context) error
}

// CachedStorage serves Resolve from Redis and falls through to the wrapped
// storage on a miss. Cache failures never fail a request.
type CachedStorage struct {
	repository.Storage
	client RedisClient
	ttl    time.Duration
	log    *zap.Logger
	now    func() time.Time
}

func New(backend repository.Storage, client RedisClient, ttl time.Duration, log *zap.Logger) *CachedStorage {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &CachedStorage{
		Storage: backend,
		client:  client,
		ttl:     ttl,
		log:     log.With(zap.String("component", "link_cache")),
		now:     time.Now,
	}
}

func cacheKey(pathKey string) string {
	return keyPrefix + pathKey
}

func (c *CachedStorage) Resolve(ctx context.Context, identifier *string, keywords []string) (*domain.Link, error) {
	key := cacheKey(domain.PathKey(identifier, keywords))

	data, err := c.client.Get(ctx, key)
	switch {
	case err == nil && data == missMarker:
		return nil, repository.ErrNotFound
	case err == nil:
		var link domain.Link
		if jsonErr := json.Unmarshal([]byte(data), &link); jsonErr == nil {
			if link.IsLive(c.now()) {
				return &link, nil
			}
			// expired while cached
			c.del(ctx, key)
			return nil, repository.ErrNotFound
		}
		c.log.Warn("dropping undecodable cache entry", zap.String("key", key))
		c.del(ctx, key)
	case !errors.Is(err, ErrCacheMiss):
		c.log.Warn("cache get failed, falling back to storage", zap.String("key", key), zap.Error(err))
	}

	link, err := c.Storage.Resolve(ctx, identifier, keywords)
	if errors.Is(err, repository.ErrNotFound) {
		c.set(ctx, key, missMarker, negativeTTL)
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	if encoded, err := json.Marshal(link); err == nil {
		c.set(ctx, key, string(encoded), c.ttlFor(link))
	}
	return link, nil
}

func (c *CachedStorage) CreateLink(ctx context.Context, link *domain.Link) error {
	if err := c.Storage.CreateLink(ctx, link); err != nil {
		return err
	}
	// clear a cached miss for this path
	c.del(ctx, cacheKey(domain.PathKey(link.Identifier, link.Keywords)))
	return nil
}

func (c *CachedStorage) SetLinkActive(ctx context.Context, id int64, active bool) (*domain.Link, error) {
	link, err := c.Storage.SetLinkActive(ctx, id, active)
	if err != nil {
		return nil, err
	}
	c.invalidate(ctx, link)
	return link, nil
}

func (c *CachedStorage) UpdateLink(ctx context.Context, id int64, upd repository.LinkUpdate) (*domain.Link, error) {
	link, err := c.Storage.UpdateLink(ctx, id, upd)
	if err != nil {
		return nil, err
	}
	c.invalidate(ctx, link)
	return link, nil
}

// Ping checks both the storage and Redis.
func (c *CachedStorage) Ping(ctx context.Context) error {
	if err := c.Storage.Ping(ctx); err != nil {
		return err
	}
	return c.client.Ping(ctx)
}

func (c *CachedStorage) invalidate(ctx context.Context, link *domain.Link) {
	c.del(ctx, cacheKey(domain.PathKey(link.Identifier, link.Keywords)))
}

// ttlFor never lets an entry outlive the link's expiry.
func (c *CachedStorage) ttlFor(link *domain.Link) time.Duration {
	ttl := c.ttl
	if link.ExpiresAt != nil {
		if left := link.ExpiresAt.Sub(c.now()); left < ttl {
			ttl = left
		}
	}
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}

func (c *CachedStorage) set(ctx context.Context, key, value string, ttl time.Duration) {
	if err := c.client.Set(ctx, key, value, ttl); err != nil {
		c.log.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
}

func (c *CachedStorage) del(ctx context.Context, key string) {
	if err := c.client.Del(ctx, key); err != nil {
		c.log.Warn("cache delete failed", zap.String("key", key), zap.Error(err))
	}
}
