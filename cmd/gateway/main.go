package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/JenilSavalia/vercel-octo-sniffle/internal/gateway"
	"github.com/JenilSavalia/vercel-octo-sniffle/internal/storage"
	"github.com/JenilSavalia/vercel-octo-sniffle/pkg/config"
	"github.com/JenilSavalia/vercel-octo-sniffle/pkg/logger"
)

func main() {
	cfg := config.LoadGatewayConfig()
	log := logger.New("gateway", logger.ParseLevel(config.GetString("LOG_LEVEL", "info")))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cdn, err := storage.NewCDNClient(cfg.CDNBaseURL, cfg.UpstreamTimeout, log)
	if err != nil {
		log.Error("failed to configure cdn reader", "error", err)
		os.Exit(1)
	}

	server := gateway.New(cdn, cfg, log, gateway.NewMetrics())

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("gateway starting", "addr", cfg.Addr)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("gateway stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
