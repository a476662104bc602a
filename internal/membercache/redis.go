// Package membercache caches per-space member-id sets in Redis so sync fanout
// does not hit the database for every mutation. Entries are invalidated on
// every membership mutation and expire on their own as a backstop.
package membercache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultTTL = 5 * time.Minute

type Cache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func New(redisURL string) (*Cache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewWithClient(client), nil
}

// NewWithClient creates a cache from an existing Redis client.
func NewWithClient(client *redis.Client) *Cache {
	return &Cache{
		client: client,
		prefix: "spacemembers:",
		ttl:    defaultTTL,
	}
}

func (c *Cache) key(spaceID string) string {
	return c.prefix + spaceID
}

// Get returns the cached member-id set for the space. The second return is
// false on a miss.
func (c *Cache) Get(ctx context.Context, spaceID string) ([]string, bool, error) {
	raw, err := c.client.Get(ctx, c.key(spaceID)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get member set: %w", err)
	}

	var userIDs []string
	if err := json.Unmarshal([]byte(raw), &userIDs); err != nil {
		return nil, false, fmt.Errorf("unmarshal member set: %w", err)
	}
	return userIDs, true, nil
}

func (c *Cache) Set(ctx context.Context, spaceID string, userIDs []string) error {
	raw, err := json.Marshal(userIDs)
	if err != nil {
		return fmt.Errorf("marshal member set: %w", err)
	}
	if err := c.client.Set(ctx, c.key(spaceID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("set member set: %w", err)
	}
	return nil
}

// Invalidate drops the cached set after a membership mutation.
func (c *Cache) Invalidate(ctx context.Context, spaceID string) error {
	if err := c.client.Del(ctx, c.key(spaceID)).Err(); err != nil {
		return fmt.Errorf("invalidate member set: %w", err)
	}
	return nil
}

func (c *Cache) Close() error {
	return c.client.Close()
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
