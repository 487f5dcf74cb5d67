package modules

import (
	grpcclient "tzlogs/api/grpc"
	"tzlogs/api/handlers"
	analyticsrepository "tzlogs/api/repositories/analytics"
	analyticsservice "tzlogs/api/services/analytics"
	"tzlogs/pkg/botdetect"
)

func initializeAnalyticsService(deps *ModuleDependencies) *analyticsservice.AnalyticsService {
	repo := analyticsrepository.NewAnalyticsRepository(deps.DB)

	trainer := botdetect.NewTrainer(botdetect.TrainerDeps{
		Source: repo,
		Store:  deps.Models,
	})

	return analyticsservice.NewAnalyticsService(analyticsservice.AnalyticsServiceDeps{
		Repository:    repo,
		Models:        deps.Models,
		Trainer:       trainer,
		Cache:         deps.Cache,
		Logger:        deps.Logger.With("service", "analytics"),
		DefaultWindow: deps.Config.Analytics.DefaultWindowDays,
	})
}

func initializeAdminHandler(deps *ModuleDependencies, analyticsService *analyticsservice.AnalyticsService) *handlers.AdminHandler {
	return handlers.NewAdminHandler(&handlers.AdminHandlerDependencies{
		AnalyticsService: analyticsService,
		SyncClient:       grpcclient.NewSyncGRPCClient(deps.GrpcConn),
	})
}
