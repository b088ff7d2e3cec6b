package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"seedforge/go-engine/internal/api"
	"seedforge/go-engine/internal/config"
	"seedforge/go-engine/internal/engine"
	"seedforge/go-engine/internal/platform/privacylog"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	listenAddr := flag.String("listen-addr", "", "HTTP listen address (overrides config)")
	configPath := flag.String("config", "", "Path to config.yaml (optional)")
	cacheDir := flag.String("cache-dir", "", "Directory for the persistent key cache (overrides config)")
	flag.Parse()
	if *showVersion {
		fmt.Printf("keyforged version=%s commit=%s build_date=%s\n", version, commit, buildDate)
		return
	}

	handler := privacylog.WrapHandler(slog.NewJSONHandler(os.Stderr, nil))
	logger := slog.New(handler)
	slog.SetDefault(logger)

	cfg := config.LoadFromPath(*configPath)
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *cacheDir != "" {
		cfg.Cache.Dir = *cacheDir
	}

	eng, err := engine.New(engine.Config{
		CacheDir:       cfg.Cache.Dir,
		MemoryCapacity: cfg.Cache.MemoryCapacity,
		Expiration:     cfg.Cache.Expiration,
		MaxWorkers:     cfg.Pool.MaxWorkers,
	}, logger)
	if err != nil {
		log.Fatalf("keyforged failed to initialize: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := api.NewServer(cfg, eng, logger)
	logger.Info("keyforged starting", "listen_addr", cfg.ListenAddr)
	if err := srv.Run(ctx); err != nil {
		log.Fatalf("keyforged failed: %v", err)
	}
	logger.Info("keyforged stopped")
}
