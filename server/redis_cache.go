package server

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisCache implements the ProfileCache interface using Redis.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache creates a new Redis cache.
func NewRedisCache(ctx context.Context, address string, ttlSeconds int) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        address,
		DialTimeout: 2 * time.Second,
		ReadTimeout: 2 * time.Second,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %v", err)
	}

	return &RedisCache{
		client: client,
		ttl:    time.Duration(ttlSeconds) * time.Second,
	}, nil
}

// Close closes the Redis client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func profileKey(name string) string {
	return fmt.Sprintf("profile:%s", name)
}

// Get fetches a cached profile. A miss is reported as ErrNotFound.
func (c *RedisCache) Get(ctx context.Context, name string) (*Profile, error) {
	data, err := c.client.Get(ctx, profileKey(name)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("%w: profile %s not cached", ErrNotFound, name)
		}
		return nil, err
	}

	var profile Profile
	if err := json.Unmarshal(data, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// Set stores a profile with the configured TTL.
func (c *RedisCache) Set(ctx context.Context, profile *Profile) error {
	data, err := json.Marshal(profile)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, profileKey(profile.Name), data, c.ttl).Err()
}

// Delete drops a profile from the cache.
func (c *RedisCache) Delete(ctx context.Context, name string) error {
	return c.client.Del(ctx, profileKey(name)).Err()
}
