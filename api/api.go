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

	"tzlogs/api/cache"
	"tzlogs/api/modules"
	"tzlogs/api/routes"
	"tzlogs/pkg/botdetect"
	"tzlogs/pkg/config"
	"tzlogs/pkg/database"
	"tzlogs/pkg/failures"
	"tzlogs/pkg/logger"
	"tzlogs/pkg/objectstore"
	"tzlogs/pkg/redis"
	"tzlogs/pkg/storage"

	"github.com/gin-gonic/gin"
	_ "go.uber.org/automaxprocs"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
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
	if err := cfg.RequireDatabase(); err != nil {
		log.Printf("Couldn't start the api: %v", err)
		return failures.ExitCode(err)
	}

	logger, err := logger.CreateLogger(cfg, "api")
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

	// Redis is optional, the memory cache still works alone.
	var redisClient *redis.RedisClient
	if cfg.Redis.Host != "" {
		redisClient = redis.NewRedisClient(cfg.Redis)
		defer redisClient.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := redisClient.Ping(pingCtx); err != nil {
			logger.Warnf("Redis unreachable, caching in memory only: %v", err)
			redisClient.Close()
			redisClient = nil
		}
		cancel()
	}

	layout := storage.Layout{RawRoot: cfg.Storage.RawRoot, GzRoot: cfg.Storage.GzRoot}

	var archiver *storage.Archiver
	if cfg.Bucket.ArchiveBucket != "" {
		archiver = storage.NewArchiver(layout, objectstore.NewClient(cfg.Bucket), cfg.Bucket.ArchiveBucket)
	} else {
		archiver = storage.NewArchiver(layout, nil, "")
	}

	// Connect to the coordinator grpc, the connection is lazy.
	grpcConn, err := grpc.NewClient(cfg.Analytics.CoordinatorAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		logger.Errorf("Error to connect to the gRPC server: %v", err)
		return 1
	}
	defer grpcConn.Close()

	memCache := cache.NewMemCache()
	defer memCache.Close()

	// Create a module with all necessary handlers.
	module := modules.NewModule(&modules.ModuleDependencies{
		DB:       db,
		Redis:    redisClient,
		MemCache: memCache,
		Layout:   layout,
		Archiver: archiver,
		Models:   botdetect.NewStore(cfg.Analytics.ModelPath),
		GrpcConn: grpcConn,
		Logger:   logger,
		Config:   cfg,
	})

	router := routes.NewRouter(gin.Default(), cfg.Admin.Token)
	router.SetupRoutes(module.Handlers()...)

	httpServer := &http.Server{
		Addr:              cfg.Analytics.HTTPAddr,
		Handler:           router.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Api listening on %s", cfg.Analytics.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		logger.Errorf("Api server failed: %v", err)
		return 1
	case <-ctx.Done():
	}

	logger.Info("Shutting down the api")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Couldn't shutdown the http server: %v", err)
	}
	return failures.ExitInterrupted
}
