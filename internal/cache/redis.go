package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/devassist/devassist/pkg/config"
	"github.com/devassist/devassist/pkg/errors"
)

// RedisClient wraps the Redis client with additional functionality
type RedisClient struct {
	client *redis.Client
	config *config.RedisConfig
}

// NewRedisClient creates a new Redis client
func NewRedisClient(cfg *config.RedisConfig) (*RedisClient, error) {
	if cfg == nil {
		return nil, errors.NewValidationError("Redis configuration is required")
	}

	opts := &redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,

		PoolTimeout:     4 * time.Second,
		ConnMaxIdleTime: 5 * time.Minute,

		MaxRetries:      3,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 512 * time.Millisecond,
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.NewInternalError("failed to connect to Redis").WithCause(err)
	}

	return &RedisClient{
		client: client,
		config: cfg,
	}, nil
}

// Close closes the Redis connection
func (r *RedisClient) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// Health checks the Redis connection health
func (r *RedisClient) Health(ctx context.Context) error {
	if r.client == nil {
		return errors.NewInternalError("Redis client is nil")
	}

	if err := r.client.Ping(ctx).Err(); err != nil {
		return errors.NewInternalError("Redis health check failed").WithCause(err)
	}

	return nil
}

// Client exposes the underlying Redis client
func (r *RedisClient) Client() *redis.Client {
	return r.client
}

// Set stores a value with an expiration
func (r *RedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if err := r.client.Set(ctx, key, value, expiration).Err(); err != nil {
		return errors.NewInternalError("failed to set cache key").WithCause(err)
	}
	return nil
}

// Get retrieves a value. A missing key returns a not-found error.
func (r *RedisClient) Get(ctx context.Context, key string) (string, error) {
	value, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return "", errors.NewNotFoundError("cache key")
		}
		return "", errors.NewInternalError("failed to get cache key").WithCause(err)
	}
	return value, nil
}

// Delete removes a key
func (r *RedisClient) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return errors.NewInternalError("failed to delete cache key").WithCause(err)
	}
	return nil
}

// Stats returns connection pool statistics
func (r *RedisClient) Stats() *redis.PoolStats {
	if r.client == nil {
		return &redis.PoolStats{}
	}
	return r.client.PoolStats()
}

// SetNX stores a value only if the key does not exist, reporting whether
// the write happened
func (r *RedisClient) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, value, expiration).Result()
	if err != nil {
		return false, errors.NewInternalError("failed to setnx cache key").WithCause(err)
	}
	return ok, nil
}
