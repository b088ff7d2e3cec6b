// Package keycache stores derived key material in two tiers: a bounded
// in-memory LRU and one persistent record per fingerprint. The disk tier is a
// performance optimization only; every filesystem failure degrades to a miss.
package keycache

import (
	"log/slog"
	"sync"
	"time"

	"seedforge/go-engine/internal/keyderive"
	"seedforge/go-engine/internal/observability"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	// DefaultMemoryCapacity bounds the in-memory tier.
	DefaultMemoryCapacity = 128

	// DefaultExpiration is the disk-record validity window.
	DefaultExpiration = 30 * 24 * time.Hour
)

// Options configure a TieredCache. Zero values fall back to defaults; an
// empty Dir disables the disk tier entirely.
type Options struct {
	Dir            string
	MemoryCapacity int
	Expiration     time.Duration
	Logger         *slog.Logger
}

// Stats is a point-in-time snapshot of cache effectiveness.
type Stats struct {
	MemoryHits int64   `json:"memory_hits"`
	DiskHits   int64   `json:"disk_hits"`
	Misses     int64   `json:"misses"`
	HitRatio   float64 `json:"hit_ratio"`
	MemorySize int     `json:"memory_size"`
}

// DiskInfo summarizes the persistent tier. Both fields are zero when the
// storage directory is absent.
type DiskInfo struct {
	Files      int   `json:"files"`
	TotalBytes int64 `json:"total_bytes"`
}

// TieredCache is safe for concurrent use.
type TieredCache struct {
	mem  *lru.Cache[string, *keyderive.KeyMaterial]
	disk *diskTier
	log  *slog.Logger

	mu         sync.Mutex
	memoryHits int64
	diskHits   int64
	misses     int64
}

// New constructs the cache. The disk directory is created lazily on first
// write with owner-only permissions.
func New(opts Options) (*TieredCache, error) {
	capacity := opts.MemoryCapacity
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	expiration := opts.Expiration
	if expiration <= 0 {
		expiration = DefaultExpiration
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mem, err := lru.New[string, *keyderive.KeyMaterial](capacity)
	if err != nil {
		return nil, err
	}
	c := &TieredCache{
		mem: mem,
		log: logger,
	}
	if opts.Dir != "" {
		c.disk = newDiskTier(opts.Dir, expiration, logger)
	}
	return c, nil
}

// Get looks up fingerprint in memory first, then on disk. A disk hit is
// promoted into the memory tier.
func (c *TieredCache) Get(fingerprint string) (*keyderive.KeyMaterial, bool) {
	if material, ok := c.mem.Get(fingerprint); ok {
		c.recordHit(&c.memoryHits)
		observability.RecordCacheLookup("memory", true)
		return material.Clone(), true
	}
	if c.disk != nil {
		if material, ok := c.disk.read(fingerprint); ok {
			c.mem.Add(fingerprint, material)
			c.recordHit(&c.diskHits)
			observability.RecordCacheLookup("disk", true)
			return material.Clone(), true
		}
	}
	c.recordHit(&c.misses)
	observability.RecordCacheLookup("disk", false)
	return nil, false
}

// Put writes material through both tiers. Disk failures are logged and
// swallowed; the derivation result is already in memory.
func (c *TieredCache) Put(fingerprint string, material *keyderive.KeyMaterial) {
	stored := material.Clone()
	c.mem.Add(fingerprint, stored)
	if c.disk == nil {
		return
	}
	if err := c.disk.write(fingerprint, stored); err != nil {
		c.log.Warn("disk cache write failed", "error", err)
	}
}

// Stats reports hit/miss counters and current tier sizes.
func (c *TieredCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := c.memoryHits + c.diskHits + c.misses
	ratio := 0.0
	if total > 0 {
		ratio = float64(c.memoryHits+c.diskHits) / float64(total)
	}
	return Stats{
		MemoryHits: c.memoryHits,
		DiskHits:   c.diskHits,
		Misses:     c.misses,
		HitRatio:   ratio,
		MemorySize: c.mem.Len(),
	}
}

// DiskInfo reports file count and total bytes of the persistent tier.
func (c *TieredCache) DiskInfo() DiskInfo {
	if c.disk == nil {
		return DiskInfo{}
	}
	return c.disk.info()
}

// CleanupExpired scans the disk tier and deletes expired or malformed
// records, returning the number removed.
func (c *TieredCache) CleanupExpired() int {
	if c.disk == nil {
		return 0
	}
	return c.disk.cleanup()
}

// Clear empties both tiers and resets counters.
func (c *TieredCache) Clear() {
	c.mem.Purge()
	if c.disk != nil {
		c.disk.clear()
	}
	c.mu.Lock()
	c.memoryHits, c.diskHits, c.misses = 0, 0, 0
	c.mu.Unlock()
}

func (c *TieredCache) recordHit(counter *int64) {
	c.mu.Lock()
	*counter++
	c.mu.Unlock()
}
