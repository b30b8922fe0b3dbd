// Package rediscache provides a Redis-backed splists.MissingFieldCache so that
// several processes talking to the same site share what they learned about
// absent optional fields.
package rediscache

import (
	"context"
	"errors"
	"fmt"

	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces every key written by the cache.
const DefaultKeyPrefix = "splists:missing:"

// Config configures a Cache.
type Config struct {
	// Client is a caller-owned Redis client. When nil, one is dialled from Addr.
	Client *redis.Client
	// Addr like "localhost:6379".
	Addr string
	// KeyPrefix for all keys.
	KeyPrefix string
}

// EnvConfig is the environment-decoded subset of Config.
type EnvConfig struct {
	// ENV: SPLISTS_REDIS_ADDR
	Addr string `env:"SPLISTS_REDIS_ADDR,default=localhost:6379"`
	// ENV: SPLISTS_REDIS_PREFIX
	KeyPrefix string `env:"SPLISTS_REDIS_PREFIX,default=splists:missing:"`
}

// Cache stores one Redis set per list key.
type Cache struct {
	client    *redis.Client
	keyPrefix string
	owned     bool
}

// New creates a Cache and verifies the connection.
func New(ctx context.Context, cfg Config) (*Cache, error) {
	client := cfg.Client
	owned := false
	if client == nil {
		addr := cfg.Addr
		if addr == "" {
			addr = "localhost:6379"
		}
		client = redis.NewClient(&redis.Options{Addr: addr})
		owned = true
	}

	if err := client.Ping(ctx).Err(); err != nil {
		if owned {
			_ = client.Close()
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Cache{client: client, keyPrefix: prefix, owned: owned}, nil
}

// NewFromEnv builds a Cache using envdecode to populate Config.
func NewFromEnv(ctx context.Context) (*Cache, error) {
	var env EnvConfig
	if err := envdecode.Decode(&env); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode redis env: %w", err)
	}
	return New(ctx, Config{Addr: env.Addr, KeyPrefix: env.KeyPrefix})
}

// Close releases the client if the cache dialled it.
func (c *Cache) Close() error {
	if !c.owned {
		return nil
	}
	return c.client.Close()
}

func (c *Cache) key(listKey string) string { return c.keyPrefix + listKey }

// Missing returns the fields recorded as absent for listKey.
func (c *Cache) Missing(ctx context.Context, listKey string) (map[string]struct{}, error) {
	members, err := c.client.SMembers(ctx, c.key(listKey)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read missing fields for %s: %w", listKey, err)
	}
	out := make(map[string]struct{}, len(members))
	for _, m := range members {
		out[m] = struct{}{}
	}
	return out, nil
}

// Add records field as absent for listKey.
func (c *Cache) Add(ctx context.Context, listKey, field string) error {
	if err := c.client.SAdd(ctx, c.key(listKey), field).Err(); err != nil {
		return fmt.Errorf("failed to record missing field %s for %s: %w", field, listKey, err)
	}
	return nil
}

// Reset deletes every key under the cache prefix.
func (c *Cache) Reset(ctx context.Context) error {
	keys, err := c.scanKeys(ctx, c.keyPrefix+"*")
	if err != nil {
		return fmt.Errorf("failed to scan keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete keys: %w", err)
	}
	return nil
}

func (c *Cache) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		batch, next, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}
