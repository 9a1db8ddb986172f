package cache

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Settings selects and configures a tile cache backend.
type Settings struct {
	Type        string
	FileDir     string
	MemoryTiles int
	SQLitePath  string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTTL      time.Duration
}

// NewCache creates a cache instance based on the configured type.
func NewCache(s Settings, log *zap.Logger) (Cache, error) {
	switch s.Type {
	case "memory":
		log.Info("Using memory tile cache", zap.Int("max_tiles", s.MemoryTiles))
		return NewMemoryCache(s.MemoryTiles), nil
	case "file":
		log.Info("Using file tile cache", zap.String("cache_dir", s.FileDir))
		return NewFileCache(s.FileDir)
	case "redis":
		log.Info("Using redis tile cache", zap.String("addr", s.RedisAddr))
		return NewRedisCache(RedisConfig{
			Addr:     s.RedisAddr,
			Password: s.RedisPassword,
			DB:       s.RedisDB,
			TTL:      s.RedisTTL,
		}, log)
	case "sqlite":
		log.Info("Using sqlite tile cache", zap.String("path", s.SQLitePath))
		return NewSQLiteCache(s.SQLitePath, log)
	case "disabled":
		log.Info("Tile cache disabled")
		return NewNoopCache(), nil
	default:
		return nil, fmt.Errorf("unknown cache type: %s (supported: memory, file, redis, sqlite, disabled)", s.Type)
	}
}
