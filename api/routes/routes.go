package routes

import (
	"net/http"

	"tzlogs/api/handlers"
	"tzlogs/pkg/apierror"

	"github.com/gin-gonic/gin"
)

type Router struct {
	engine     *gin.Engine
	api        *gin.RouterGroup
	adminToken string
}

func NewRouter(engine *gin.Engine, adminToken string) *Router {
	engine.Use(apierror.RequestID())
	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return &Router{
		api:        engine.Group("/api/v1"),
		engine:     engine,
		adminToken: adminToken,
	}
}

func (r *Router) SetupRoutes(handlerList ...any) {
	for _, h := range handlerList {
		switch handler := h.(type) {
		case *handlers.IngestHandler:
			r.registerIngestHandler(handler)
		case *handlers.BattleHandler:
			r.registerBattleHandler(handler)
		case *handlers.AnalyticsHandler:
			r.registerAnalyticsHandler(handler)
		case *handlers.AdminHandler:
			r.registerAdminHandler(handler)
		}
	}
}

// Register the aggregator endpoints, outside the versioned group the workers post to.
func (r *Router) registerIngestHandler(handler *handlers.IngestHandler) {
	r.engine.POST("/upload/:battle_id", handler.Upload)
	r.engine.GET("/gz/:name", handler.Gz)
	r.engine.POST("/process-batch", handler.ProcessBatch)
}

// Register the battle handler.
func (r *Router) registerBattleHandler(handler *handlers.BattleHandler) {
	battles := r.api.Group("/battles")
	{
		battles.GET("", handler.ListBattles)
		battles.GET("/:battle_id", handler.GetBattle)
	}
}

// Register the analytics handler.
func (r *Router) registerAnalyticsHandler(handler *handlers.AnalyticsHandler) {
	analytics := r.api.Group("/analytics")
	{
		analytics.GET("/players", handler.GetLeaderboard)
		analytics.GET("/players/:login", handler.GetPlayer)
		analytics.GET("/players/:login/social", handler.GetPlayerSocial)
		analytics.GET("/clans", handler.GetClans)
		analytics.GET("/clans/matrix", handler.GetClanMatrix)
		analytics.GET("/monsters", handler.GetMonsters)
		analytics.GET("/economy/resources", handler.GetResourceEconomy)
		analytics.GET("/economy/miners", handler.GetTopMiners)
		analytics.GET("/map/heatmap", handler.GetHeatmap)
		analytics.GET("/map/hotspots", handler.GetHotspots)
		analytics.GET("/map/control", handler.GetClanControl)
		analytics.GET("/elo", handler.GetElo)
		analytics.GET("/churn", handler.GetChurn)
		analytics.GET("/bots", handler.GetBots)
	}
}

// Register the admin handler. Every endpoint needs the admin token.
func (r *Router) registerAdminHandler(handler *handlers.AdminHandler) {
	admin := r.api.Group("/admin", apierror.AdminToken(r.adminToken))
	{
		admin.POST("/models/train", handler.TrainModel)
		admin.GET("/sync/progress", handler.SyncProgress)
		admin.POST("/sync/range", handler.SyncRange)
		admin.POST("/sync/missing", handler.SyncMissing)
		admin.POST("/sync/abort", handler.SyncAbort)
	}
}

// Engine exposes the handler for the http server.
func (r *Router) Engine() http.Handler {
	return r.engine
}

// Start the router.
func (r *Router) Run(addr string) error {
	return r.engine.Run(addr)
}
