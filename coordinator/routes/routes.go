package routes

import (
	"net/http"

	"tzlogs/coordinator/handlers"
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
		case *handlers.SyncHandler:
			r.registerSyncHandler(handler)
		}
	}
}

// Register the sync handler. Mutating endpoints need the admin token.
func (r *Router) registerSyncHandler(handler *handlers.SyncHandler) {
	sync := r.api.Group("/sync")
	{
		sync.GET("/progress", handler.Progress)
		sync.GET("/stats", handler.Stats)
	}

	admin := sync.Group("", apierror.AdminToken(r.adminToken))
	{
		admin.POST("/range", handler.SyncRange)
		admin.POST("/missing", handler.SyncMissing)
		admin.POST("/auto", handler.SyncAuto)
		admin.POST("/abort", handler.Abort)
	}

	r.api.GET("/workers", handler.Workers)
}

// Engine exposes the handler for the http server.
func (r *Router) Engine() http.Handler {
	return r.engine
}

// Start the router.
func (r *Router) Run(addr string) error {
	return r.engine.Run(addr)
}
