package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/JonMunkholm/catalogimport/internal/catalog"
	"github.com/JonMunkholm/catalogimport/internal/config"
	"github.com/JonMunkholm/catalogimport/internal/core"
	"github.com/JonMunkholm/catalogimport/internal/database"
	"github.com/JonMunkholm/catalogimport/internal/logging"
	"github.com/JonMunkholm/catalogimport/internal/sessionstore"
	"github.com/JonMunkholm/catalogimport/internal/web"
	"github.com/JonMunkholm/catalogimport/internal/web/middleware"
)

func main() {
	// Overload so .env wins over the inherited environment
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"db_max_conns", cfg.Database.MaxConns,
		"max_file_size", humanize.Bytes(uint64(cfg.Import.MaxFileSize)),
		"max_concurrent_stages", cfg.Import.MaxConcurrent,
		"session_ttl", cfg.Import.SessionTTL.String(),
		"redis_enabled", cfg.Redis.Enabled(),
		"rate_limit_enabled", cfg.Rate.Enabled,
	)

	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	pg := catalog.NewPostgres(pool)
	if err := pg.EnsureSchema(ctx); err != nil {
		slog.Error("failed to prepare catalog schema", "error", err)
		os.Exit(1)
	}

	health := map[string]web.HealthCheck{"database": pool.Ping}
	storeOpts := core.StoreOptions{TTL: cfg.Import.SessionTTL, LockTTL: cfg.Import.LockTTL, Workers: cfg.Import.Workers}
	serverOpts := web.Options{Health: health}

	var rdb *redis.Client
	if cfg.Redis.Enabled() {
		rdb, err = sessionstore.Connect(ctx, cfg.Redis.URL)
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer rdb.Close()

		snapshots := sessionstore.NewRedis(rdb, cfg.Redis.KeyPrefix)
		storeOpts.Snapshots = snapshots
		health["redis"] = snapshots.Ping

		if serverOpts.RateStore, err = middleware.NewRedisStore(rdb, cfg.Redis.KeyPrefix); err != nil {
			slog.Warn("redis rate limit store unavailable, falling back to memory", "error", err)
			serverOpts.RateStore = middleware.NewMemoryStore()
		}
		slog.Info("redis session storage enabled", "prefix", cfg.Redis.KeyPrefix)
	}

	schema := core.CatalogItemSchema()
	store := core.NewSessionStore(schema, storeOpts)
	engine := core.NewCommitEngine(schema, pg, pg)
	service := core.NewService(schema, store, engine, core.ServiceConfig{
		Limits:          core.ParseLimits{MaxRows: cfg.Import.MaxRows, MaxBytes: cfg.Import.MaxFileSize},
		PreviewRows:     cfg.Import.PreviewRows,
		DefaultPageSize: cfg.Import.DefaultPageSize,
		MaxPageSize:     cfg.Import.MaxPageSize,
		Workers:         cfg.Import.Workers,
		MaxStages:       cfg.Import.MaxConcurrent,
		StageWaitTime:   cfg.Import.MaxWaitTime,
	})

	server := web.NewServer(service, cfg, serverOpts)

	jobCtx, cancelJobs := context.WithCancel(context.Background())
	go service.StartSessionSweeper(jobCtx, cfg.Import.SweepInterval)

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")
		cancelJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if status := service.StageLimiterStatus(); status.Active > 0 {
			slog.Info("waiting for stages to complete", "active", status.Active)
			if err := service.WaitForStages(shutdownCtx); err != nil {
				slog.Warn("stages did not complete in time", "error", err)
			} else {
				slog.Info("all stages completed")
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}
