package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JenilSavalia/vercel-octo-sniffle/internal/queue"
	"github.com/JenilSavalia/vercel-octo-sniffle/internal/repository/postgres"
	"github.com/JenilSavalia/vercel-octo-sniffle/internal/service/logs"
	"github.com/JenilSavalia/vercel-octo-sniffle/internal/service/worker"
	"github.com/JenilSavalia/vercel-octo-sniffle/internal/storage"
	"github.com/JenilSavalia/vercel-octo-sniffle/internal/workspace"
	"github.com/JenilSavalia/vercel-octo-sniffle/pkg/config"
	"github.com/JenilSavalia/vercel-octo-sniffle/pkg/logger"
)

func main() {
	cfg := config.LoadWorkerConfig()
	log := logger.New("worker", logger.ParseLevel(config.GetString("LOG_LEVEL", "info")))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	broker, err := queue.NewRedisBroker(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.DequeuePoll, log)
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

	cdn, err := storage.NewCDNClient(cfg.CDNBaseURL, 30*time.Second, log)
	if err != nil {
		log.Error("failed to configure cdn reader", "error", err)
		os.Exit(1)
	}

	workspaceManager, err := workspace.New(cfg.Workdir)
	if err != nil {
		log.Error("workspace init failed", "error", err, "workdir", cfg.Workdir)
		os.Exit(1)
	}

	repo := postgres.New(pool)
	logSvc := logs.New(repo, broker, log)
	svc := worker.New(broker, broker, repo, store, cdn, workspaceManager, logSvc, nil, log, cfg, worker.NewMetrics())

	// Health and metrics only; builds arrive over the queue, not HTTP.
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		probeCtx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer cancel()
		if err := broker.Ping(probeCtx); err != nil {
			http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
			return
		}
		if err := pool.Ping(probeCtx); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("worker admin server starting", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("admin server error", "error", err)
		}
	}()

	log.Info("build worker starting", "queue", queue.BuildQueueKey)
	if err := svc.Run(ctx); err != nil {
		log.Error("worker loop stopped", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
	log.Info("worker stopped")
}
