package db

import (
	"context"
	"fmt"
	"time"

	"airadio/config"

	"github.com/go-redis/redis/v8"
)

// RedisClient is the process-wide Redis client, shared by the metadata
// cache (C3), the Store's dedup fast-path (C2), and the provider
// registry's rate-limit counters (C6).
var RedisClient *redis.Client

// ConnectRedis dials Redis and verifies connectivity with a PING.
func ConnectRedis(cfg *config.Config) error {
	RedisClient = redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := RedisClient.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return nil
}

// CloseRedis closes the client.
func CloseRedis() error {
	if RedisClient != nil {
		return RedisClient.Close()
	}
	return nil
}
