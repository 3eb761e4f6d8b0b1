package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/velto/linkpage/internal/models"
)

// CachedLink is a link together with its variants, the unit the redirect
// hot path resolves.
type CachedLink struct {
	Link     *models.Link          `json:"link"`
	Variants []*models.LinkVariant `json:"variants"`
}

// LinkCache is the read-through cache in front of link resolution. A nil
// *RedisLinkCache is a valid no-op cache.
type LinkCache interface {
	Get(ctx context.Context, linkID string) (*CachedLink, error)
	Set(ctx context.Context, cl *CachedLink) error
	Invalidate(ctx context.Context, linkID string) error
}

// RedisLinkCache caches link+variant resolution in Redis with a TTL. The
// links service invalidates entries on every link or variant mutation, so
// the TTL only bounds staleness after missed invalidations.
type RedisLinkCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLinkCache creates a Redis-backed link cache.
func NewRedisLinkCache(client *redis.Client, ttl time.Duration) *RedisLinkCache {
	return &RedisLinkCache{client: client, ttl: ttl}
}

func cacheKey(linkID string) string {
	return "link:resolve:" + linkID
}

// Get returns the cached entry or ErrNotFound on a miss.
func (c *RedisLinkCache) Get(ctx context.Context, linkID string) (*CachedLink, error) {
	if c == nil {
		return nil, ErrNotFound
	}

	data, err := c.client.Get(ctx, cacheKey(linkID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("cache get: %w", err)
	}

	var cl CachedLink
	if err := json.Unmarshal(data, &cl); err != nil {
		return nil, fmt.Errorf("cache decode: %w", err)
	}
	return &cl, nil
}

// Set stores the entry under the configured TTL.
func (c *RedisLinkCache) Set(ctx context.Context, cl *CachedLink) error {
	if c == nil || cl == nil || cl.Link == nil {
		return nil
	}

	data, err := json.Marshal(cl)
	if err != nil {
		return fmt.Errorf("cache encode: %w", err)
	}
	if err := c.client.Set(ctx, cacheKey(cl.Link.ID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// Invalidate drops the entry for linkID.
func (c *RedisLinkCache) Invalidate(ctx context.Context, linkID string) error {
	if c == nil {
		return nil
	}
	if err := c.client.Del(ctx, cacheKey(linkID)).Err(); err != nil {
		return fmt.Errorf("cache invalidate: %w", err)
	}
	return nil
}
