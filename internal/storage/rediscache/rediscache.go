// Package rediscache is the Redis HotCache backend for multi-node
// deployments where price lookups should share one hot tier.
package rediscache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bobmcallan/papertrade/internal/common"
	"github.com/bobmcallan/papertrade/internal/interfaces"
)

// keyPrefix namespaces cache keys so the instance can share a Redis with
// other tenants.
const keyPrefix = "papertrade:"

// Cache implements interfaces.HotCache on Redis.
type Cache struct {
	client *redis.Client
	logger *common.Logger
}

// New connects to Redis and verifies the connection with a ping.
func New(address string, logger *common.Logger) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr: address,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	logger.Info().Str("address", address).Msg("Redis hot cache connected")
	return &Cache{client: client, logger: logger}, nil
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, keyPrefix+key, value, ttl).Err()
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, keyPrefix+key).Err()
}

func (c *Cache) Close() error {
	return c.client.Close()
}

// Compile-time check
var _ interfaces.HotCache = (*Cache)(nil)
