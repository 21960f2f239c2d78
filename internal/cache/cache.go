// Package cache keeps generated tests in Redis in front of the store.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/pavelanni/langtest/internal/model"
)

// TestStore is the durable store behind the cache.
type TestStore interface {
	GetTest(id string) (model.GeneratedTest, error)
	SaveTest(t model.GeneratedTest) error
}

// TestCache reads tests from Redis and loads misses from the store. A nil
// client disables Redis and every call goes to the store.
type TestCache struct {
	client *redis.Client
	store  TestStore
	ttl    time.Duration
	logger *slog.Logger
	sf     singleflight.Group
}

func New(client *redis.Client, store TestStore, ttl time.Duration, logger *slog.Logger) *TestCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &TestCache{client: client, store: store, ttl: ttl, logger: logger}
}

// Enabled reports whether Redis is in use.
func (c *TestCache) Enabled() bool {
	return c.client != nil
}

// Ping checks the Redis connection when one is configured.
func (c *TestCache) Ping(ctx context.Context) error {
	if c.client == nil {
		return nil
	}
	return c.client.Ping(ctx).Err()
}

func key(id string) string {
	return "langtest:test:" + id
}

// Get returns the test with the given id. Store errors, including
// store.ErrNotFound, are returned unchanged. Redis failures are logged and
// treated as misses.
func (c *TestCache) Get(ctx context.Context, id string) (model.GeneratedTest, error) {
	if c.client == nil {
		return c.store.GetTest(id)
	}
	if t, ok := c.lookup(ctx, id); ok {
		return t, nil
	}

	v, err, _ := c.sf.Do(id, func() (any, error) {
		// Another caller may have filled the key meanwhile.
		if t, ok := c.lookup(ctx, id); ok {
			return t, nil
		}
		t, err := c.store.GetTest(id)
		if err != nil {
			return model.GeneratedTest{}, err
		}
		c.write(ctx, t)
		return t, nil
	})
	if err != nil {
		return model.GeneratedTest{}, err
	}
	return v.(model.GeneratedTest), nil
}

// Put saves the test in the store and then in Redis.
func (c *TestCache) Put(ctx context.Context, t model.GeneratedTest) error {
	if err := c.store.SaveTest(t); err != nil {
		return err
	}
	if c.client != nil {
		c.write(ctx, t)
	}
	return nil
}

func (c *TestCache) lookup(ctx context.Context, id string) (model.GeneratedTest, bool) {
	raw, err := c.client.Get(ctx, key(id)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("redis get failed", "test", id, "error", err)
		}
		return model.GeneratedTest{}, false
	}
	var t model.GeneratedTest
	if err := json.Unmarshal(raw, &t); err != nil {
		c.logger.Warn("discarding unreadable cached test", "test", id, "error", err)
		return model.GeneratedTest{}, false
	}
	return t, true
}

func (c *TestCache) write(ctx context.Context, t model.GeneratedTest) {
	raw, err := json.Marshal(t)
	if err != nil {
		c.logger.Warn("encode test for cache", "test", t.ID, "error", err)
		return
	}
	if err := c.client.Set(ctx, key(t.ID), raw, c.ttlWithJitter()).Err(); err != nil {
		c.logger.Warn("redis set failed", "test", t.ID, "error", err)
	}
}

// ttlWithJitter spreads expiries by up to a tenth of the TTL. A zero TTL
// keeps keys without expiry.
func (c *TestCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	return c.ttl + time.Duration(rand.Int64N(int64(c.ttl)/10+1))
}
