package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/koopa0/shortlink/internal/config"
	"github.com/koopa0/shortlink/internal/handler"
	"github.com/koopa0/shortlink/internal/migrations"
	"github.com/koopa0/shortlink/internal/shortlink"
	"github.com/koopa0/shortlink/internal/storage"
)

func main() {
	configPath := "config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 設定日誌
	var logger *slog.Logger
	if cfg.Log.Format == "json" {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: parseLogLevel(cfg.Log.Level),
		}))
	} else {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: parseLogLevel(cfg.Log.Level),
		}))
	}
	slog.SetDefault(logger)

	// 連接 Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		MaxRetries:   cfg.Redis.MaxRetries,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})

	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		// Redis 掛著也能起服務：計數盡力而為，重定向靠 Postgres
		logger.Warn("redis unreachable at startup, visit counting degraded", "error", err)
	}
	defer redisClient.Close()

	// 連接 PostgreSQL
	pgConfig, err := pgxpool.ParseConfig(cfg.PostgresDSN())
	if err != nil {
		logger.Error("failed to parse postgres config", "error", err)
		os.Exit(1)
	}

	pgConfig.MaxConns = cfg.Postgres.MaxConns
	pgConfig.MinConns = cfg.Postgres.MinConns

	pgPool, err := pgxpool.NewWithConfig(ctx, pgConfig)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	// 執行資料庫遷移
	migrator, err := migrations.New(cfg.PostgresURL(), logger)
	if err != nil {
		logger.Error("failed to create migrator", "error", err)
		os.Exit(1)
	}
	if err := migrator.Up(); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	if err := migrator.Close(); err != nil {
		logger.Warn("failed to close migrator", "error", err)
	}

	// 組裝核心
	links := storage.NewPostgresLinks(pgPool)
	counters := storage.NewRedisCounters(redisClient)
	visits := storage.NewPostgresVisits(pgPool)
	lease := storage.NewRedisLease(redisClient, cfg.Reconciler.LeaseKey, cfg.Reconciler.LeaseTTL)

	service := shortlink.New(links, counters, visits, logger, shortlink.Options{
		CacheCapacity:  cfg.Resolver.CacheCapacity,
		CounterTimeout: cfg.Resolver.CounterTimeout,
	})

	reconciler := shortlink.NewReconciler(links, counters, lease, logger, shortlink.ReconcilerOptions{
		Interval:     cfg.Reconciler.Interval,
		ApplyTimeout: cfg.Reconciler.ApplyTimeout,
		RenewEvery:   cfg.Reconciler.LeaseTTL / 3,
	})
	reconciler.Start()

	// 設定 HTTP 伺服器
	h := handler.NewHandler(service, logger)
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("starting server", "port", cfg.Server.Port)
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}

	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		// 先停對帳任務：正在執行的合併單元會完整結束
		reconciler.Stop()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("failed to shutdown server", "error", err)
			if closeErr := srv.Close(); closeErr != nil {
				logger.Error("failed to force close server", "error", closeErr)
			}
		}
	}

	logger.Info("server stopped")
}

// parseLogLevel 解析日誌級別
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
