package translate

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"rankpool/config"
	"rankpool/logging"
	"rankpool/models"
)

const keyPrefix = "rankpool:brand_en:"

type RedisClient interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

type redisClient struct {
	client *redis.Client
}

func NewRedisClient(cfg config.RedisConfig) RedisClient {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &redisClient{client: rdb}
}

// Get returns "" with a nil error on a miss.
func (r *redisClient) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return val, err
}

func (r *redisClient) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

// Cache keeps translations in process and, when a Redis client is given,
// shares them between runs. Redis failures degrade to the local tier.
type Cache struct {
	local sync.Map
	redis RedisClient
	ttl   time.Duration
}

func NewCache(rc RedisClient, ttl time.Duration) *Cache {
	return &Cache{redis: rc, ttl: ttl}
}

func (c *Cache) Get(ctx context.Context, text string) (string, bool) {
	if v, ok := c.local.Load(text); ok {
		return v.(string), true
	}
	if c.redis == nil {
		return "", false
	}
	v, err := c.redis.Get(ctx, keyPrefix+text)
	if err != nil {
		logging.Logf(models.LogLevelWarn, "translate", "redis get: %v", err)
		return "", false
	}
	if v == "" {
		return "", false
	}
	c.local.Store(text, v)
	return v, true
}

func (c *Cache) Set(ctx context.Context, text, translated string) {
	c.local.Store(text, translated)
	if c.redis == nil {
		return
	}
	if err := c.redis.Set(ctx, keyPrefix+text, translated, c.ttl); err != nil {
		logging.Logf(models.LogLevelWarn, "translate", "redis set: %v", err)
	}
}
