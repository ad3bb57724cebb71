package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/pingvault/pingvault/internal/api"
	"github.com/pingvault/pingvault/internal/auth"
	"github.com/pingvault/pingvault/internal/config"
	"github.com/pingvault/pingvault/internal/store"
	"github.com/pingvault/pingvault/internal/uploader"
	"github.com/pingvault/pingvault/internal/ws"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	// Load .env if present — secrets (API keys, tokens) are resolved from the
	// environment, never from the config file.
	godotenv.Load() //nolint:errcheck

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	slog.Info("pingvault starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	slog.Info("config loaded",
		"store_dir", cfg.Store.Dir,
		"max_count", cfg.Store.MaxCount,
		"http_port", cfg.Server.HTTPPort,
		"upload_enabled", cfg.Uploader.Endpoint != "",
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Durable ping store with background oldest-first eviction.
	policy, err := store.ParseCorruptPolicy(cfg.Store.CorruptPolicy)
	if err != nil {
		slog.Error("invalid corrupt policy", "err", err)
		os.Exit(1)
	}
	st, err := store.New(cfg.Store.Dir, policy)
	if err != nil {
		slog.Error("failed to open ping store", "dir", cfg.Store.Dir, "err", err)
		os.Exit(1)
	}
	go st.Run(ctx, cfg.Store.PruneInterval, cfg.Store.MaxCount)

	// Uploader — delivers stored pings to the collector. Optional: an empty
	// endpoint runs the daemon as store + API only.
	var up *uploader.Uploader
	if cfg.Uploader.Endpoint != "" {
		up, err = uploader.New(cfg.Uploader, st)
		if err != nil {
			slog.Error("failed to build uploader", "err", err)
			os.Exit(1)
		}
		go up.Run(ctx)
		slog.Info("uploader started",
			"endpoint", cfg.Uploader.Endpoint,
			"interval", cfg.Uploader.Interval,
			"auth_mode", cfg.Uploader.Auth.Mode,
		)
	} else {
		slog.Info("uploader disabled — no endpoint configured")
	}

	// Watch config file for hot-reload (logs only in this phase).
	go func() {
		if err := config.Watch(ctx, *configPath, func(updated *config.Config) {
			slog.Info("config hot-reloaded", "max_count", updated.Store.MaxCount)
		}); err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	// WebSocket hub — broadcasts store status to clients every 5 seconds.
	hub := ws.New(st, up, cfg.Store.MaxCount, 5*time.Second)
	go hub.Run(ctx)

	// Combined HTTP server: REST API + metrics + WebSocket hub on HTTPPort.
	apiHandler := auth.APIKey(
		cfg.Server.Auth.Mode,
		cfg.Server.Auth.EffectiveHeader(),
		cfg.Server.Auth.Key(),
		api.New(st, up, cfg.Store.MaxCount),
	)
	httpMux := http.NewServeMux()
	httpMux.Handle("/api/", apiHandler)
	httpMux.Handle("/metrics", apiHandler)
	httpMux.Handle("/ws/status", hub)

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler: httpMux,
	}
	go func() {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", "err", err)
		}
	}()

	<-ctx.Done()
	slog.Info("pingvault shutting down")
	httpSrv.Shutdown(context.Background()) //nolint:errcheck
}
