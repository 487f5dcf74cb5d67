package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	grpcclient "tzlogs/api/grpc"
	"tzlogs/pkg/config"
	"tzlogs/pkg/failures"
	"tzlogs/pkg/logger"
	"tzlogs/scheduler/jobs"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	_ "go.uber.org/automaxprocs"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

type scheduledJob struct {
	name       string
	tag        string
	definition gocron.JobDefinition
	task       func() error
	immediate  bool
}

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		log.Printf("Couldn't initialize the configuration: %v", err)
		return failures.ExitCode(err)
	}
	if err := cfg.RequireScheduler(); err != nil {
		log.Printf("Couldn't start the scheduler: %v", err)
		return failures.ExitCode(err)
	}

	logger, err := logger.CreateLogger(cfg, "scheduler")
	if err != nil {
		log.Printf("Couldn't create the logger: %v", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The connection is lazy, an offline coordinator only fails the sync jobs.
	grpcConn, err := grpc.NewClient(cfg.Analytics.CoordinatorAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		logger.Errorf("Error to connect to the gRPC server: %v", err)
		return 1
	}
	defer grpcConn.Close()

	runner := jobs.NewRunner(jobs.RunnerDeps{
		Context:    ctx,
		Sync:       grpcclient.NewSyncGRPCClient(grpcConn),
		APIURL:     cfg.Scheduler.APIURL,
		AdminToken: cfg.Admin.Token,
		DrainLimit: cfg.Scheduler.DrainLimit,
		Logger:     logger.With("component", "jobs"),
	})

	logger.Info("Starting scheduler")

	// Create a new scheduler with options.
	s, err := gocron.NewScheduler(
		gocron.WithLocation(time.UTC),
	)
	if err != nil {
		logger.Errorf("Failed to create scheduler: %v", err)
		return 1
	}

	definitions := []scheduledJob{
		{
			name:       "raw-log-drain",
			tag:        "ingest",
			definition: gocron.DurationJob(cfg.Scheduler.DrainInterval),
			task:       runner.DrainRawLogs,
			immediate:  true,
		},
		{
			name:       "sync-auto-continue",
			tag:        "sync",
			definition: gocron.DurationJob(cfg.Scheduler.SyncInterval),
			task:       runner.ContinueSync,
		},
		// Failed ids are retried once a day.
		{
			name: "sync-missing",
			tag:  "sync",
			definition: gocron.DailyJob(
				1,
				gocron.NewAtTimes(
					gocron.NewAtTime(cfg.Scheduler.MissingHour, 0, 0),
				),
			),
			task: runner.RetryMissing,
		},
		{
			name: "bot-model-training",
			tag:  "analytics",
			definition: gocron.DailyJob(
				1,
				gocron.NewAtTimes(
					gocron.NewAtTime(cfg.Scheduler.TrainHour, 0, 0),
				),
			),
			task: runner.TrainBotModel,
		},
	}

	// Ship the logs only when there is somewhere to ship them.
	if cfg.Bucket.LogBucket != "" {
		definitions = append(definitions, scheduledJob{
			name: "log-shipping",
			tag:  "logs",
			definition: gocron.DailyJob(
				1,
				gocron.NewAtTimes(
					gocron.NewAtTime(0, 0, 0),
				),
			),
			task: runner.ShipLogs,
		})
	}

	for _, d := range definitions {
		options := []gocron.JobOption{
			gocron.WithName(d.name),
			gocron.WithTags(d.tag),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
			gocron.WithEventListeners(
				gocron.AfterJobRunsWithError(func(_ uuid.UUID, jobName string, err error) {
					logger.Error("Job failed", "job", jobName, "error", err)
				}),
			),
		}
		if d.immediate {
			options = append(options, gocron.WithStartAt(gocron.WithStartImmediately()))
		}

		if _, err := s.NewJob(d.definition, gocron.NewTask(d.task), options...); err != nil {
			logger.Errorf("Failed to create the %s job: %v", d.name, err)
			return 1
		}
	}

	// Start the scheduler.
	s.Start()

	// Wait for termination signal.
	<-ctx.Done()
	logger.Info("Shutting down scheduler...")

	if err := s.Shutdown(); err != nil {
		logger.Errorf("Error shutting down scheduler: %v", err)
	}
	return failures.ExitInterrupted
}
