package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/leadgen-site/internal/pkg/logger"
)

// ProfileCache remembers successful lookups. Failures are never cached.
type ProfileCache interface {
	Get(ctx context.Context, token string) (*Profile, bool)
	Set(ctx context.Context, token string, p *Profile)
}

// RedisProfileCache stores profiles under profile:<sha256(token)> so raw
// tokens never reach Redis.
type RedisProfileCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewRedisProfileCache(client redis.Cmdable, ttl time.Duration) *RedisProfileCache {
	return &RedisProfileCache{client: client, ttl: ttl}
}

func cacheKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "profile:" + hex.EncodeToString(sum[:])
}

func (c *RedisProfileCache) Get(ctx context.Context, token string) (*Profile, bool) {
	data, err := c.client.Get(ctx, cacheKey(token)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.Warn("profile cache read failed", "error", err)
		}
		return nil, false
	}
	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, false
	}
	return &p, true
}

func (c *RedisProfileCache) Set(ctx context.Context, token string, p *Profile) {
	data, err := json.Marshal(p)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, cacheKey(token), data, c.ttl).Err(); err != nil {
		logger.Warn("profile cache write failed", "error", err)
	}
}
