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

	"tzlogs/fetcher/handlers"
	"tzlogs/fetcher/requests"
	"tzlogs/fetcher/session"
	"tzlogs/fetcher/worker"
	"tzlogs/pkg/apierror"
	"tzlogs/pkg/config"
	"tzlogs/pkg/failures"
	"tzlogs/pkg/logger"
	"tzlogs/pkg/storage"

	"github.com/gin-gonic/gin"
	_ "go.uber.org/automaxprocs"
)

const (
	uploadTimeout   = 60 * time.Second
	shutdownTimeout = 30 * time.Second
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		log.Printf("Couldn't load the configuration: %v", err)
		return failures.ExitCode(err)
	}
	if err := cfg.RequireWorker(); err != nil {
		log.Printf("Couldn't start the worker: %v", err)
		return failures.ExitCode(err)
	}

	logger, err := logger.CreateLogger(cfg, "fetcher")
	if err != nil {
		log.Printf("Couldn't create the logger: %v", err)
		return 1
	}
	defer logger.Sync()
	logger = logger.With("worker_id", cfg.Worker.ID, "login", cfg.Upstream.Login)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// One worker binds one identity, every batch opens its own session.
	service := worker.NewBatchService(worker.BatchServiceDeps{
		Open:         worker.SessionOpener(session.ConfigFrom(cfg.Upstream), logger),
		Layout:       storage.Layout{RawRoot: cfg.Storage.RawRoot, GzRoot: cfg.Storage.GzRoot},
		Uploader:     requests.NewUploader(cfg.Worker.MotherURL, uploadTimeout),
		Limiter:      requests.NewRateLimiter(cfg.Upstream.LimitPerMinute, 0),
		Logger:       logger,
		DefaultDelay: cfg.Worker.PerIDDelay,
	})
	if err := service.Validate(); err != nil {
		logger.Errorf("Invalid worker setup: %v", err)
		return failures.ExitCode(err)
	}

	engine := gin.Default()
	engine.Use(apierror.RequestID())
	handlers.NewBatchHandler(service, cfg.Worker.ID, cfg.Upstream.Login).Register(engine)

	server := &http.Server{
		Addr:              cfg.Worker.ListenAddr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Worker listening on %s", cfg.Worker.ListenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		logger.Errorf("Worker server failed: %v", err)
		return 1
	case <-ctx.Done():
	}

	return handleShutdown(server, logger)
}

// Handle the shutdown of the server, letting the running batch finish.
func handleShutdown(server *http.Server, logger *logger.NewLogger) int {
	logger.Info("Shutting down the worker")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Errorf("Couldn't shutdown gracefully: %v", err)
		return 1
	}
	return failures.ExitInterrupted
}
