package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg := LoadFromPath(filepath.Join(t.TempDir(), "nope.yaml"))
	def := DefaultConfig()
	if cfg.ListenAddr != def.ListenAddr {
		t.Fatalf("expected default listen addr, got %q", cfg.ListenAddr)
	}
	if cfg.Pool.MaxWorkers != def.Pool.MaxWorkers {
		t.Fatalf("expected default workers, got %d", cfg.Pool.MaxWorkers)
	}
}

func TestLoadPartialFileMergesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "" +
		"listenAddr: 127.0.0.1:9999\n" +
		"cache:\n" +
		"  memoryCapacity: 16\n" +
		"  expiration: 24h\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config failed: %v", err)
	}

	cfg := LoadFromPath(path)
	if cfg.ListenAddr != "127.0.0.1:9999" {
		t.Fatalf("listen addr not merged: %q", cfg.ListenAddr)
	}
	if cfg.Cache.MemoryCapacity != 16 {
		t.Fatalf("capacity not merged: %d", cfg.Cache.MemoryCapacity)
	}
	if cfg.Cache.Expiration != 24*time.Hour {
		t.Fatalf("expiration not merged: %v", cfg.Cache.Expiration)
	}
	// Untouched fields keep their defaults.
	if cfg.Pool.MaxWorkers != DefaultConfig().Pool.MaxWorkers {
		t.Fatalf("workers should stay default, got %d", cfg.Pool.MaxWorkers)
	}
}

func TestExplicitZeroWorkersSurvivesMerge(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("pool:\n  maxWorkers: 0\n"), 0o600); err != nil {
		t.Fatalf("write config failed: %v", err)
	}
	cfg := LoadFromPath(path)
	if cfg.Pool.MaxWorkers != 0 {
		t.Fatalf("explicit zero must override the default, got %d", cfg.Pool.MaxWorkers)
	}
}

func TestEnvOverridesWin(t *testing.T) {
	t.Setenv("SEEDFORGE_LISTEN_ADDR", "127.0.0.1:7777")
	t.Setenv("SEEDFORGE_MAX_WORKERS", "9")
	t.Setenv("SEEDFORGE_CACHE_EXPIRATION", "48h")

	cfg := LoadFromPath(filepath.Join(t.TempDir(), "absent.yaml"))
	if cfg.ListenAddr != "127.0.0.1:7777" {
		t.Fatalf("env listen addr not applied: %q", cfg.ListenAddr)
	}
	if cfg.Pool.MaxWorkers != 9 {
		t.Fatalf("env workers not applied: %d", cfg.Pool.MaxWorkers)
	}
	if cfg.Cache.Expiration != 48*time.Hour {
		t.Fatalf("env expiration not applied: %v", cfg.Cache.Expiration)
	}
}

func TestUnparseableFileIsSkipped(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(":::not yaml"), 0o600); err != nil {
		t.Fatalf("write config failed: %v", err)
	}
	cfg := LoadFromPath(path)
	if cfg.ListenAddr != DefaultConfig().ListenAddr {
		t.Fatalf("broken file should fall back to defaults, got %q", cfg.ListenAddr)
	}
}
