package fees

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache shares computed options between instances. Redis failures
// degrade to cache misses.
type RedisCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RedisCache{rdb: rdb, ttl: ttl, prefix: "fees:options:"}
}

func (c *RedisCache) Get(ctx context.Context, key string) (*Options, bool) {
	bs, err := c.rdb.Get(ctx, c.redisKey(key)).Bytes()
	if err != nil {
		return nil, false
	}
	var out Options
	if err := json.Unmarshal(bs, &out); err != nil {
		return nil, false
	}
	return &out, true
}

func (c *RedisCache) Set(ctx context.Context, key string, value *Options) {
	bs, err := json.Marshal(value)
	if err != nil {
		return
	}
	_ = c.rdb.SetEx(ctx, c.redisKey(key), bs, c.ttl).Err()
}

func (c *RedisCache) redisKey(key string) string {
	sum := sha1.Sum([]byte(key))
	return c.prefix + hex.EncodeToString(sum[:])
}
