// Package snapcache provides an optional Redis-backed cache in front of
// trustsnapshot.Compute. It is cache-only: a cache miss, a Redis outage,
// or an entry that fails to decode falls through to trustsnapshot.Compute,
// and effective trust is never stored as a source of truth. A hit is
// served as stored until its TTL expires; it is not compared against a
// fresh recomputation.
package snapcache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/truthmesh/core/pkg/trustsnapshot"
)

// Cache wraps a Redis client with get/put helpers keyed by claim type,
// agent ids and snapshot time. Because a TrustSnapshot is
// content-addressed (SnapshotHash is the canonical hash of its own
// contents), a caller that recomputes and compares hashes can detect
// cache poisoning or staleness without trusting Redis at all.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// New creates a Cache backed by a Redis instance at addr. ttl bounds how
// long an entry may live before a fresh recomputation is forced even on a
// hit; a non-positive ttl disables expiry (the entry is still only ever
// used as an accelerator, never as a source of truth).
func New(addr, password string, db int, ttl time.Duration) *Cache {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	return &Cache{client: client, ttl: ttl, prefix: "truthmesh:snapshot:"}
}

func (c *Cache) key(claimType string, agentIDs []string, snapshotTime time.Time) string {
	return fmt.Sprintf("%s%s:%s:%d", c.prefix, claimType, strings.Join(agentIDs, ","), snapshotTime.UTC().Unix())
}

// Get looks up a previously cached snapshot for the given context. A
// miss, a Redis error, or a JSON decode failure all return (zero, false)
// rather than an error: the caller is expected to fall through to
// trustsnapshot.Compute unconditionally on any non-hit.
func (c *Cache) Get(ctx context.Context, claimType string, agentIDs []string, snapshotTime time.Time) (trustsnapshot.TrustSnapshot, bool) {
	raw, err := c.client.Get(ctx, c.key(claimType, agentIDs, snapshotTime)).Bytes()
	if err != nil {
		return trustsnapshot.TrustSnapshot{}, false
	}
	var snap trustsnapshot.TrustSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return trustsnapshot.TrustSnapshot{}, false
	}
	return snap, true
}

// Put stores a freshly computed snapshot under its context key and
// returns the Redis error, if any. ComputeCached ignores that error, so a
// failed cache write never fails the snapshot computation it is
// accelerating.
func (c *Cache) Put(ctx context.Context, claimType string, agentIDs []string, snap trustsnapshot.TrustSnapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("snapcache: marshal snapshot: %w", err)
	}
	return c.client.Set(ctx, c.key(claimType, agentIDs, snap.SnapshotTime), raw, c.ttl).Err()
}

// ComputeCached returns a snapshot for the given input, serving a cache
// hit directly (the fast path caching exists for) and falling through to
// trustsnapshot.Compute on any miss, storing the fresh result for next
// time. A cache hit is returned as stored, without re-verification
// against a fresh recomputation. The package's tests cover the miss path
// only: with Redis unreachable, ComputeCached returns the same snapshot
// as a direct Compute.
func (c *Cache) ComputeCached(ctx context.Context, in trustsnapshot.Input) (trustsnapshot.TrustSnapshot, error) {
	if cached, ok := c.Get(ctx, in.ClaimType, in.AgentIDs, in.SnapshotTime); ok {
		return cached, nil
	}
	fresh, err := trustsnapshot.Compute(in)
	if err != nil {
		return trustsnapshot.TrustSnapshot{}, err
	}
	_ = c.Put(ctx, in.ClaimType, in.AgentIDs, fresh)
	return fresh, nil
}

// Close releases the underlying Redis client.
func (c *Cache) Close() error {
	return c.client.Close()
}
