// Package cache provides the time-boxed result cache keyed by query
// fingerprint.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/augurhq/augur/pkg/core"
)

// keyPrefix namespaces cache entries in the backing key-value table so they
// never collide with in-flight markers.
const keyPrefix = "cache:"

// Cache stores previously computed results by fingerprint. A miss is a
// normal outcome, never an error; store failures propagate as
// *core.StoreError and are never masked as misses.
type Cache struct {
	store  core.Storage
	ttl    time.Duration
	logger *slog.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

// Stats reports cache observability counters.
type Stats struct {
	Count  int64 `json:"count"`
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

// New creates a result cache with the given default TTL.
func New(store core.Storage, ttl time.Duration, logger *slog.Logger) *Cache {
	return &Cache{
		store:  store,
		ttl:    ttl,
		logger: logger.With("component", "result_cache"),
	}
}

// TTL returns the cache's default entry time-to-live.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Get looks up a cached result by fingerprint. Every lookup updates the
// hit/miss counters.
func (c *Cache) Get(ctx context.Context, fp string) (*core.Result, bool, error) {
	raw, found, err := c.store.KVGet(ctx, keyPrefix+fp)
	if err != nil {
		return nil, false, core.NewStoreError("cache get", err)
	}
	if !found {
		c.misses.Add(1)
		c.logger.Debug("cache miss", "fingerprint", fp)
		return nil, false, nil
	}

	var res core.Result
	if err := json.Unmarshal(raw, &res); err != nil {
		// A corrupt entry is unreadable; treat as a miss and drop it.
		c.misses.Add(1)
		c.logger.Warn("dropping undecodable cache entry", "fingerprint", fp, "error", err)
		_ = c.store.KVDelete(ctx, keyPrefix+fp)
		return nil, false, nil
	}

	c.hits.Add(1)
	c.logger.Debug("cache hit", "fingerprint", fp)
	return &res, true, nil
}

// Put stores a result under a fingerprint with the cache's TTL.
func (c *Cache) Put(ctx context.Context, fp string, res *core.Result) error {
	raw, err := json.Marshal(res)
	if err != nil {
		return err
	}
	if err := c.store.KVPut(ctx, keyPrefix+fp, raw, c.ttl); err != nil {
		return core.NewStoreError("cache put", err)
	}
	return nil
}

// Delete removes a cached result.
func (c *Cache) Delete(ctx context.Context, fp string) error {
	if err := c.store.KVDelete(ctx, keyPrefix+fp); err != nil {
		return core.NewStoreError("cache delete", err)
	}
	return nil
}

// Stats returns the live entry count and lookup counters.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	count, err := c.store.KVCount(ctx, keyPrefix)
	if err != nil {
		return Stats{}, core.NewStoreError("cache stats", err)
	}
	return Stats{
		Count:  count,
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
	}, nil
}

// Clear removes every cache entry and returns how many were evicted.
// Destructive: reserved for the administrative surface, never called from
// the request flow.
func (c *Cache) Clear(ctx context.Context) (int64, error) {
	n, err := c.store.KVDeletePrefix(ctx, keyPrefix)
	if err != nil {
		return 0, core.NewStoreError("cache clear", err)
	}
	c.logger.Info("cache cleared", "evicted", n)
	return n, nil
}
