package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisCache stores tiles in redis with a TTL, for sharing a tile cache
// across replicas.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

var _ Cache = (*RedisCache)(nil)

func NewRedisCache(cfg RedisConfig, logger *zap.Logger) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	ttl := cfg.TTL
	if ttl == 0 {
		ttl = 24 * time.Hour
	}

	return &RedisCache{client: client, ttl: ttl, logger: logger}, nil
}

func (c *RedisCache) keyFor(k TileKey) string {
	return "tile:" + k.String()
}

func (c *RedisCache) Get(key TileKey) ([]byte, bool) {
	data, err := c.client.Get(context.Background(), c.keyFor(key)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("redis get failed", zap.String("key", key.String()), zap.Error(err))
		}
		return nil, false
	}
	return data, true
}

func (c *RedisCache) Set(key TileKey, value []byte) {
	if err := c.client.Set(context.Background(), c.keyFor(key), value, c.ttl).Err(); err != nil {
		c.logger.Warn("redis set failed", zap.String("key", key.String()), zap.Error(err))
	}
}

func (c *RedisCache) Clear() {
	if err := c.client.FlushDB(context.Background()).Err(); err != nil {
		c.logger.Warn("redis flush failed", zap.Error(err))
	}
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
