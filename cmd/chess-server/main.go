package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	appcfg "github.com/park285/cheese-coach/internal/config"
	"github.com/park285/cheese-coach/internal/chessbuilder"
	"github.com/park285/cheese-coach/internal/obslog"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger, err := obslog.Init(cfg.Log)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	initCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	deps, err := chessbuilder.New(initCtx, cfg, logger)
	cancel()
	if err != nil {
		logger.Fatal("chess init error", zap.Error(err))
	}
	defer func() { _ = deps.Close() }()

	errCh := make(chan error, 2)
	go func() { errCh <- deps.API.ListenAndServe(cfg.HTTPAddr) }()

	var feed *http.Server
	if cfg.WSAddr != "" {
		feed = &http.Server{
			Addr:              cfg.WSAddr,
			Handler:           deps.Feed.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("live feed listening", zap.String("addr", cfg.WSAddr))
			if err := feed.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	} else {
		logger.Info("WS_ADDR not set; live feed disabled")
	}

	// Wait for termination signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		logger.Error("listener stopped", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if feed != nil {
		_ = feed.Shutdown(shutdownCtx)
	}
	if err := deps.API.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
}
