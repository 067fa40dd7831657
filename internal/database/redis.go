package database

import (
	"context"
	"log"

	"github.com/go-redis/redis/v8"

	"github.com/clubledger/backend/internal/config"
)

// InitRedis initializes the Redis client used for the dues-run lock. The
// backend stays functional without Redis; the storage-level unique index is
// the correctness guard, the lock only avoids wasted overlapping runs.
func InitRedis(cfg config.RedisConfig) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Host + ":" + cfg.Port,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Printf("Redis connection failed, continuing without Redis: %v", err)
		return nil
	}

	log.Println("Redis connection established")
	return rdb
}
