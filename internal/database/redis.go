package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quantflow-ai/quantflow/internal/config"
	"github.com/quantflow-ai/quantflow/internal/logging"
)

// RedisClient wraps a Redis client. All key-value persistence (forecast
// caches, positions, balance, stats) routes through it.
type RedisClient struct {
	Client *redis.Client
	logger logging.Logger
}

// NewRedisConnection creates a new Redis connection and verifies it with a
// ping.
func NewRedisConnection(cfg config.RedisConfig, logger logging.Logger) (*RedisClient, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log := logger.WithComponent("database")
	log.Info("Successfully connected to Redis")

	return &RedisClient{Client: rdb, logger: log}, nil
}

// Close closes the Redis connection.
func (r *RedisClient) Close() {
	if r.Client == nil {
		return
	}
	if err := r.Client.Close(); err != nil {
		r.logger.WithError(err).Error("Error closing Redis client")
		return
	}
	r.logger.Info("Redis connection closed")
}

// HealthCheck verifies the Redis connection.
func (r *RedisClient) HealthCheck(ctx context.Context) error {
	if r.Client == nil {
		return fmt.Errorf("redis client is nil")
	}
	return r.Client.Ping(ctx).Err()
}
