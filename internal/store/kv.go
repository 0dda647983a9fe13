package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// KVStore is the narrow key-value contract used for forecast caching and for
// position, balance and stats persistence. Values are JSON documents.
type KVStore interface {
	// GetJSON loads key into dest. The boolean is false when the key does
	// not exist (or has expired).
	GetJSON(ctx context.Context, key string, dest interface{}) (bool, error)
	// SetJSON stores value under key with the given TTL. A zero TTL means no
	// expiry.
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Keys returns every key matching prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// RedisKV implements KVStore on a Redis client.
type RedisKV struct {
	client *redis.Client
}

// NewRedisKV creates a Redis-backed key-value store.
func NewRedisKV(client *redis.Client) *RedisKV {
	return &RedisKV{client: client}
}

// GetJSON loads key into dest.
func (kv *RedisKV) GetJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := kv.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}

// SetJSON stores value under key with the given TTL.
func (kv *RedisKV) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	if err := kv.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (kv *RedisKV) Delete(ctx context.Context, key string) error {
	if err := kv.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Keys scans for every key matching prefix. SCAN is used instead of KEYS so
// a large keyspace does not block the server.
func (kv *RedisKV) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := kv.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan keys with prefix %s: %w", prefix, err)
	}
	return keys, nil
}
