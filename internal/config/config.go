// Package config loads daemon configuration from YAML with environment
// overrides. Missing files and unset fields fall back to defaults; a partial
// file only overrides what it names.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the externally supplied daemon configuration.
type Config struct {
	ListenAddr string `yaml:"listenAddr"`

	Cache CacheConfig `yaml:"cache"`
	Pool  PoolConfig  `yaml:"pool"`
	API   APIConfig   `yaml:"api"`
}

type CacheConfig struct {
	Dir            string        `yaml:"dir"`
	MemoryCapacity int           `yaml:"memoryCapacity"`
	Expiration     time.Duration `yaml:"expiration"`
}

type PoolConfig struct {
	MaxWorkers int `yaml:"maxWorkers"`
}

type APIConfig struct {
	RateLimitRPS   float64 `yaml:"rateLimitRps"`
	RateLimitBurst int     `yaml:"rateLimitBurst"`
}

// fileConfig mirrors Config with pointer fields so absent YAML keys are
// distinguishable from explicit zeroes.
type fileConfig struct {
	ListenAddr string `yaml:"listenAddr"`
	Cache      struct {
		Dir            string `yaml:"dir"`
		MemoryCapacity *int   `yaml:"memoryCapacity"`
		Expiration     string `yaml:"expiration"`
	} `yaml:"cache"`
	Pool struct {
		MaxWorkers *int `yaml:"maxWorkers"`
	} `yaml:"pool"`
	API struct {
		RateLimitRPS   *float64 `yaml:"rateLimitRps"`
		RateLimitBurst *int     `yaml:"rateLimitBurst"`
	} `yaml:"api"`
}

// DefaultConfig returns the daemon defaults. The cache directory lives under
// the user home so records survive restarts.
func DefaultConfig() Config {
	dir := ""
	if home, err := os.UserHomeDir(); err == nil {
		dir = home + string(os.PathSeparator) + ".seedforge" + string(os.PathSeparator) + "keycache"
	}
	return Config{
		ListenAddr: "127.0.0.1:8790",
		Cache: CacheConfig{
			Dir:            dir,
			MemoryCapacity: 128,
			Expiration:     30 * 24 * time.Hour,
		},
		Pool: PoolConfig{MaxWorkers: 4},
		API: APIConfig{
			RateLimitRPS:   5,
			RateLimitBurst: 10,
		},
	}
}

// LoadFromPath reads configPath, or the default candidates when empty, and
// applies environment overrides on top. Unreadable or unparseable files are
// skipped rather than fatal.
func LoadFromPath(configPath string) Config {
	cfg := DefaultConfig()

	candidates := make([]string, 0, 2)
	if configPath != "" {
		candidates = append(candidates, configPath)
	} else {
		candidates = append(candidates,
			"configs/config.yaml",
			"config.yaml",
		)
	}

	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var parsed fileConfig
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			continue
		}
		merged := cfg
		Merge(&merged, parsed)
		ApplyEnvOverrides(&merged)
		return merged
	}

	ApplyEnvOverrides(&cfg)
	return cfg
}

// Merge applies the fields src actually sets onto dst.
func Merge(dst *Config, src fileConfig) {
	if strings.TrimSpace(src.ListenAddr) != "" {
		dst.ListenAddr = strings.TrimSpace(src.ListenAddr)
	}
	if strings.TrimSpace(src.Cache.Dir) != "" {
		dst.Cache.Dir = strings.TrimSpace(src.Cache.Dir)
	}
	if src.Cache.MemoryCapacity != nil {
		dst.Cache.MemoryCapacity = *src.Cache.MemoryCapacity
	}
	if v := strings.TrimSpace(src.Cache.Expiration); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Cache.Expiration = d
		}
	}
	if src.Pool.MaxWorkers != nil {
		dst.Pool.MaxWorkers = *src.Pool.MaxWorkers
	}
	if src.API.RateLimitRPS != nil {
		dst.API.RateLimitRPS = *src.API.RateLimitRPS
	}
	if src.API.RateLimitBurst != nil {
		dst.API.RateLimitBurst = *src.API.RateLimitBurst
	}
}

// ApplyEnvOverrides lets the environment win over file values.
func ApplyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("SEEDFORGE_LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("SEEDFORGE_CACHE_DIR")); v != "" {
		cfg.Cache.Dir = v
	}
	if v, ok := envInt("SEEDFORGE_CACHE_CAPACITY"); ok {
		cfg.Cache.MemoryCapacity = v
	}
	if v := strings.TrimSpace(os.Getenv("SEEDFORGE_CACHE_EXPIRATION")); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.Expiration = d
		}
	}
	if v, ok := envInt("SEEDFORGE_MAX_WORKERS"); ok {
		cfg.Pool.MaxWorkers = v
	}
}

func envInt(name string) (int, bool) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
