// Package cache implements the two-tier resolution cache: a sharded
// in-process map in front of the persistent store. The cache is a disposable
// accelerator; the store row stays the durable source of truth.
package cache

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/sells-group/territory-engine/internal/model"
)

const shardCount = 32

// LookupState describes where a lookup was answered from.
type LookupState int

const (
	// Miss means neither tier had a fresh entry; resolve live.
	Miss LookupState = iota
	// MemoryHit means the in-process tier answered.
	MemoryHit
	// StoreHit means the persistent tier answered within its TTL.
	StoreHit
	// FailureHit means a recent failure is cached; don't hammer providers.
	FailureHit
)

func (s LookupState) String() string {
	switch s {
	case MemoryHit:
		return "memory_hit"
	case StoreHit:
		return "store_hit"
	case FailureHit:
		return "failure_hit"
	default:
		return "miss"
	}
}

// Hit reports whether the state is any kind of cache hit.
func (s LookupState) Hit() bool {
	return s == MemoryHit || s == StoreHit
}

// ReadStore is the persistent-tier read the cache needs.
type ReadStore interface {
	GetResolution(ctx context.Context, zip model.ZipCode) (*model.Resolution, error)
}

// entry wraps a cached value. Failure markers have a nil resolution.
// Entries are replaced whole, never partially updated.
type entry struct {
	res       *model.Resolution
	expiresAt time.Time
}

type shard struct {
	mu      sync.RWMutex
	entries map[model.ZipCode]entry
}

// Options tunes cache TTLs.
type Options struct {
	// MemoryTTLCap bounds how long the in-process tier may serve an entry,
	// regardless of the resolution's own revalidation deadline. Bounds
	// staleness under rapid upstream corrections. Default 10m.
	MemoryTTLCap time.Duration `yaml:"memory_ttl_cap" mapstructure:"memory_ttl_cap"`
	// FailureTTL is how long a resolution failure is remembered so transient
	// provider outages don't cause a thundering herd of retries. Default 5m.
	FailureTTL time.Duration `yaml:"failure_ttl" mapstructure:"failure_ttl"`
}

func (o Options) withDefaults() Options {
	if o.MemoryTTLCap <= 0 {
		o.MemoryTTLCap = 10 * time.Minute
	}
	if o.FailureTTL <= 0 {
		o.FailureTTL = 5 * time.Minute
	}
	return o
}

// Cache is safe for concurrent use. Sharded per-key locking keeps concurrent
// resolutions from serializing on a single lock. It deliberately does not
// provide mutual exclusion across concurrent misses for the same key; the
// store's upsert is idempotent and last-write-wins.
type Cache struct {
	shards [shardCount]shard
	store  ReadStore
	opts   Options

	nowFunc func() time.Time
}

// New creates a cache over the given persistent read tier.
func New(store ReadStore, opts Options) *Cache {
	c := &Cache{
		store:   store,
		opts:    opts.withDefaults(),
		nowFunc: time.Now,
	}
	for i := range c.shards {
		c.shards[i].entries = make(map[model.ZipCode]entry)
	}
	return c
}

// WithNow sets a fixed clock for testing.
func (c *Cache) WithNow(now func() time.Time) *Cache {
	c.nowFunc = now
	return c
}

func (c *Cache) shardFor(zip model.ZipCode) *shard {
	h := fnv.New32a()
	h.Write([]byte(zip))
	return &c.shards[h.Sum32()%shardCount]
}

// Lookup reads the tiers in order. A fresh store row is promoted into the
// memory tier on the way out. Store read errors degrade to a miss; a broken
// store must not block live resolution.
func (c *Cache) Lookup(ctx context.Context, zip model.ZipCode) (*model.Resolution, LookupState) {
	now := c.nowFunc()
	sh := c.shardFor(zip)

	sh.mu.RLock()
	e, ok := sh.entries[zip]
	sh.mu.RUnlock()

	if ok && now.Before(e.expiresAt) {
		if e.res == nil {
			return nil, FailureHit
		}
		return e.res, MemoryHit
	}

	if c.store == nil {
		return nil, Miss
	}
	res, err := c.store.GetResolution(ctx, zip)
	if err != nil || res == nil {
		return nil, Miss
	}
	if res.Expired(now) {
		return nil, Miss
	}

	c.put(zip, res, now)
	return res, StoreHit
}

// Put caches a fresh resolution in the memory tier. The entry's TTL follows
// the resolution's own revalidation deadline, capped at MemoryTTLCap.
func (c *Cache) Put(res *model.Resolution) {
	c.put(res.ZipCode, res, c.nowFunc())
}

func (c *Cache) put(zip model.ZipCode, res *model.Resolution, now time.Time) {
	ttl := res.NextRevalidationAt.Sub(now)
	if ttl <= 0 {
		return
	}
	if ttl > c.opts.MemoryTTLCap {
		ttl = c.opts.MemoryTTLCap
	}

	sh := c.shardFor(zip)
	sh.mu.Lock()
	sh.entries[zip] = entry{res: res, expiresAt: now.Add(ttl)}
	sh.mu.Unlock()
}

// PutFailure caches a failure marker with the short failure TTL.
func (c *Cache) PutFailure(zip model.ZipCode) {
	sh := c.shardFor(zip)
	sh.mu.Lock()
	sh.entries[zip] = entry{res: nil, expiresAt: c.nowFunc().Add(c.opts.FailureTTL)}
	sh.mu.Unlock()
}

// Invalidate drops the memory-tier entry for a code.
func (c *Cache) Invalidate(zip model.ZipCode) {
	sh := c.shardFor(zip)
	sh.mu.Lock()
	delete(sh.entries, zip)
	sh.mu.Unlock()
}

// Len returns the number of live memory-tier entries, for observability.
func (c *Cache) Len() int {
	now := c.nowFunc()
	total := 0
	for i := range c.shards {
		sh := &c.shards[i]
		sh.mu.RLock()
		for _, e := range sh.entries {
			if now.Before(e.expiresAt) {
				total++
			}
		}
		sh.mu.RUnlock()
	}
	return total
}
