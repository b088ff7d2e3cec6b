// Package engine is the single public entrypoint for deterministic key
// derivation. It turns a seed phrase into key material via cache lookup,
// coalesced derivation on the worker pool, and write-through caching.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"seedforge/go-engine/internal/derivepool"
	"seedforge/go-engine/internal/keycache"
	"seedforge/go-engine/internal/keyderive"

	"github.com/mr-tron/base58/base58"
	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/singleflight"
)

var ErrPhraseRequired = errors.New("phrase is required")

// fingerprintPrefix versions the fingerprint format; cache records are keyed
// by this string, never by the seed itself.
const fingerprintPrefix = "sk1"

// Config carries the externally supplied knobs. Zero values use the
// component defaults; an empty CacheDir disables the persistent tier.
type Config struct {
	CacheDir       string
	MemoryCapacity int
	Expiration     time.Duration
	MaxWorkers     int

	// KeyBits overrides the modulus size. Tests use small keys; production
	// leaves this zero for 4096-bit derivation.
	KeyBits int
}

// Options tune a single DeriveKey call.
type Options struct {
	// Inline runs the derivation on the caller's goroutine.
	Inline bool
	// OnProgress receives stage reports while the derivation runs. When
	// the call coalesces onto another caller's in-flight derivation no
	// events are delivered.
	OnProgress derivepool.ProgressFunc
}

// Engine orchestrates cache and pool. Safe for concurrent use.
type Engine struct {
	cache   *keycache.TieredCache
	pool    *derivepool.Pool
	deriver *keyderive.Deriver
	log     *slog.Logger
	flight  singleflight.Group
}

// New builds an engine from cfg. The cache directory is created lazily with
// owner-only permissions on first write.
func New(cfg Config, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cache, err := keycache.New(keycache.Options{
		Dir:            cfg.CacheDir,
		MemoryCapacity: cfg.MemoryCapacity,
		Expiration:     cfg.Expiration,
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}
	deriver := keyderive.New()
	if cfg.KeyBits > 0 {
		deriver = keyderive.NewWithBits(cfg.KeyBits)
	}
	workers := cfg.MaxWorkers
	if workers == 0 {
		workers = derivepool.DefaultMaxWorkers
	}
	return &Engine{
		cache:   cache,
		pool:    derivepool.New(deriver, workers, logger),
		deriver: deriver,
		log:     logger,
	}, nil
}

// Fingerprint derives the stable cache key for a seed.
func Fingerprint(seed []byte) string {
	sum := blake2b.Sum256(seed)
	return fingerprintPrefix + base58.Encode(sum[:])
}

// DeriveKey resolves phrase to its key material. Cache hits return
// immediately; misses run exactly one derivation per fingerprint even under
// concurrent duplicate requests.
func (e *Engine) DeriveKey(ctx context.Context, phrase string, opts Options) (*keyderive.KeyMaterial, error) {
	phrase = strings.TrimSpace(phrase)
	if phrase == "" {
		return nil, ErrPhraseRequired
	}
	seed := bip39.NewSeed(phrase, "")
	fingerprint := Fingerprint(seed)

	if material, ok := e.cache.Get(fingerprint); ok {
		return material, nil
	}

	ch := e.flight.DoChan(fingerprint, func() (any, error) {
		// A duplicate may have landed the result while this call was
		// waiting its turn.
		if material, ok := e.cache.Get(fingerprint); ok {
			return material, nil
		}
		job, err := e.pool.Submit(seed, derivepool.SubmitOptions{
			Inline:     opts.Inline,
			OnProgress: opts.OnProgress,
		})
		if err != nil {
			return nil, err
		}
		material, err := job.Wait(context.Background())
		if err != nil {
			return nil, err
		}
		e.cache.Put(fingerprint, material)
		e.log.Debug("derived key material", "fingerprint", fingerprint)
		return material.Clone(), nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		// Coalesced callers share one Result; hand each its own copy.
		return res.Val.(*keyderive.KeyMaterial).Clone(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ValidateCompatibility reports whether phrase derives structurally valid
// material. Internal errors are swallowed.
func (e *Engine) ValidateCompatibility(phrase string) bool {
	return e.deriver.ValidateCompatibility(phrase)
}

// CacheStats reports cache effectiveness counters.
func (e *Engine) CacheStats() keycache.Stats {
	return e.cache.Stats()
}

// DiskInfo reports the size of the persistent tier.
func (e *Engine) DiskInfo() keycache.DiskInfo {
	return e.cache.DiskInfo()
}

// CleanupExpired removes expired and malformed disk records.
func (e *Engine) CleanupExpired() int {
	return e.cache.CleanupExpired()
}

// ClearCache empties both tiers and resets counters.
func (e *Engine) ClearCache() {
	e.cache.Clear()
}

// PoolStats reports worker pool activity.
func (e *Engine) PoolStats() derivepool.Stats {
	return e.pool.Stats()
}

// Close shuts the worker pool down, force-terminating after timeout.
func (e *Engine) Close(timeout time.Duration) {
	e.pool.Shutdown(timeout)
}
