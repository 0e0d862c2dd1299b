package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JenilSavalia/vercel-octo-sniffle/internal/app/migrate"
	httpx "github.com/JenilSavalia/vercel-octo-sniffle/internal/http"
	"github.com/JenilSavalia/vercel-octo-sniffle/internal/queue"
	"github.com/JenilSavalia/vercel-octo-sniffle/internal/repository/postgres"
	"github.com/JenilSavalia/vercel-octo-sniffle/internal/service/intake"
	"github.com/JenilSavalia/vercel-octo-sniffle/internal/service/logs"
	"github.com/JenilSavalia/vercel-octo-sniffle/internal/storage"
	"github.com/JenilSavalia/vercel-octo-sniffle/internal/workspace"
	"github.com/JenilSavalia/vercel-octo-sniffle/internal/ws"
	"github.com/JenilSavalia/vercel-octo-sniffle/pkg/config"
	"github.com/JenilSavalia/vercel-octo-sniffle/pkg/logger"
)

func main() {
	cfg := config.LoadAPIConfig()
	log := logger.New("api", logger.ParseLevel(config.GetString("LOG_LEVEL", "info")))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	defer runner.Close()
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	broker, err := queue.NewRedisBroker(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, 0, log)
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer broker.Close()

	store, err := storage.NewS3Store(ctx, cfg.S3Bucket, cfg.S3Region, cfg.S3Endpoint, log)
	if err != nil {
		log.Error("failed to configure object storage", "error", err)
		os.Exit(1)
	}

	workspaceManager, err := workspace.New(cfg.CloneRoot)
	if err != nil {
		log.Error("workspace init failed", "error", err, "root", cfg.CloneRoot)
		os.Exit(1)
	}

	repo := postgres.New(pool)
	logSvc := logs.New(repo, broker, log)
	intakeSvc := intake.New(repo, store, broker, workspaceManager, logSvc, nil, log, cfg)
	logHub := ws.NewHub(ctx, broker, log)

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, intakeSvc, logSvc, logHub, limiter, cfg.JWTSecret, cfg.WebhookSecret, pool.Ping, broker.Ping)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
