package modules

import (
	"tzlogs/api/cache"
	"tzlogs/api/handlers"
	"tzlogs/pkg/botdetect"
	"tzlogs/pkg/config"
	"tzlogs/pkg/logger"
	"tzlogs/pkg/redis"
	"tzlogs/pkg/storage"

	"google.golang.org/grpc"
	"gorm.io/gorm"
)

// ModuleDependencies are the shared clients every handler is built from.
type ModuleDependencies struct {
	DB       *gorm.DB
	Redis    *redis.RedisClient
	MemCache *cache.MemCache
	Cache    *cache.Tiered
	Layout   storage.Layout
	Archiver *storage.Archiver
	Models   *botdetect.Store
	GrpcConn grpc.ClientConnInterface
	Logger   *logger.NewLogger
	Config   *config.Config
}

// Module containing the necessary handlers.
type Module struct {
	IngestHandler    *handlers.IngestHandler
	BattleHandler    *handlers.BattleHandler
	AnalyticsHandler *handlers.AnalyticsHandler
	AdminHandler     *handlers.AdminHandler
}

// NewModule creates a new module with all the necessary handlers initialized.
func NewModule(deps *ModuleDependencies) *Module {
	if deps.Cache == nil {
		var redisClient cache.RedisClient
		if deps.Redis != nil {
			redisClient = deps.Redis
		}
		deps.Cache = cache.NewTiered(deps.MemCache, redisClient, deps.Config.Analytics.CacheTTL)
	}

	analyticsService := initializeAnalyticsService(deps)

	return &Module{
		IngestHandler:    initializeIngestHandler(deps),
		BattleHandler:    initializeBattleHandler(deps),
		AnalyticsHandler: handlers.NewAnalyticsHandler(&handlers.AnalyticsHandlerDependencies{AnalyticsService: analyticsService}),
		AdminHandler:     initializeAdminHandler(deps, analyticsService),
	}
}

// Handlers lists the handlers for the router setup.
func (m *Module) Handlers() []any {
	return []any{m.IngestHandler, m.BattleHandler, m.AnalyticsHandler, m.AdminHandler}
}
