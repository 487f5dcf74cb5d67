package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"tzlogs/coordinator/fleet"
	"tzlogs/coordinator/handlers"
	"tzlogs/coordinator/repositories"
	"tzlogs/coordinator/routes"
	syncservice "tzlogs/coordinator/services/sync"
	"tzlogs/pkg/config"
	"tzlogs/pkg/database"
	"tzlogs/pkg/failures"
	"tzlogs/pkg/logger"
	"tzlogs/pkg/rpc"

	"github.com/gin-gonic/gin"
	_ "go.uber.org/automaxprocs"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

const shutdownTimeout = 30 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		log.Printf("Couldn't load the configuration: %v", err)
		return failures.ExitCode(err)
	}
	if err := cfg.RequireCoordinator(); err != nil {
		log.Printf("Couldn't start the coordinator: %v", err)
		return failures.ExitCode(err)
	}

	logger, err := logger.CreateLogger(cfg, "coordinator")
	if err != nil {
		log.Printf("Couldn't create the logger: %v", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewConnection(cfg.Database.DSN)
	if err != nil {
		logger.Errorf("Couldn't connect to the database: %v", err)
		return 1
	}
	defer database.Close(db)

	sqlDB, err := db.DB()
	if err != nil {
		logger.Errorf("Couldn't get the sql connection: %v", err)
		return 1
	}
	if err := database.RunMigrations(sqlDB, cfg.Database.MigrationsPath, cfg.Database.Database); err != nil {
		logger.Errorf("Couldn't run the migrations: %v", err)
		return 1
	}

	registry, err := fleet.NewRegistry(cfg.Sync.WorkerURLs, cfg.Sync.BatchTimeout)
	if err != nil {
		logger.Errorf("Invalid worker fleet: %v", err)
		return failures.ExitCode(err)
	}

	attempts := repositories.NewAttemptRepository(db)
	service := syncservice.NewSyncService(syncservice.SyncServiceDeps{
		Fleet:          registry,
		Attempts:       attempts,
		Logger:         logger.With("service", "sync"),
		BatchSize:      cfg.Sync.BatchSize,
		Concurrency:    cfg.Sync.ConcurrencyLimit,
		PerIDDelay:     cfg.Sync.PerIDDelay,
		MaxBattleID:    cfg.Sync.MaxBattleID,
		AutoCount:      int64(cfg.Sync.AutoBatchSize),
		UploadToMother: cfg.Worker.UploadMother,
	})

	router := routes.NewRouter(gin.Default(), cfg.Admin.Token)
	router.SetupRoutes(handlers.NewSyncHandler(service, attempts, registry))

	httpServer := &http.Server{
		Addr:              cfg.Sync.HTTPAddr,
		Handler:           router.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Infof("Coordinator http listening on %s", cfg.Sync.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	grpcServer, healthServer, err := startGRPCServer(cfg.Sync.GRPCAddr, service, logger, errCh)
	if err != nil {
		logger.Errorf("Couldn't start the tcp server: %v", err)
		return 1
	}

	select {
	case err := <-errCh:
		logger.Errorf("Coordinator server failed: %v", err)
		return 1
	case <-ctx.Done():
	}

	handleShutdown(httpServer, grpcServer, healthServer, service, logger)
	return failures.ExitInterrupted
}

// Start the grpc server used by the scheduler and the api.
func startGRPCServer(addr string, service *syncservice.SyncService, logger *logger.NewLogger, errCh chan<- error) (*grpc.Server, *health.Server, error) {
	// Start a TCP listener.
	list, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, err
	}

	// Create the server, register it and serve.
	grpcServer := grpc.NewServer()
	rpc.RegisterSyncControlServer(grpcServer, &server{sync: service})

	// Register the health check.
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)

	// Set the serving status as serving.
	healthServer.SetServingStatus(rpc.SyncControlService, grpc_health_v1.HealthCheckResponse_SERVING)

	go func() {
		logger.Infof("Coordinator gRPC listening on %s", addr)
		if err := grpcServer.Serve(list); err != nil {
			errCh <- err
		}
	}()

	return grpcServer, healthServer, nil
}

// Handle the shutdown of the whole server.
func handleShutdown(httpServer *http.Server, grpcServer *grpc.Server, healthServer *health.Server, service *syncservice.SyncService, logger *logger.NewLogger) {
	logger.Info("Shutting down the coordinator")

	// Set it to not serving.
	healthServer.SetServingStatus(rpc.SyncControlService, grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	// Stop dispatching, the batches in flight still complete and get recorded.
	service.Abort()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		grpcServer.GracefulStop()
	}()

	go func() {
		defer wg.Done()
		if err := httpServer.Shutdown(ctx); err != nil {
			logger.Errorf("Couldn't shutdown the http server: %v", err)
		}
	}()

	wg.Wait()
	service.Wait()
}
