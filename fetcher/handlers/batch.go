package handlers

import (
	"context"
	"net/http"

	"tzlogs/pkg/apierror"
	"tzlogs/pkg/fetchapi"

	"github.com/gin-gonic/gin"
)

// BatchFetcher is the worker logic behind the handler.
type BatchFetcher interface {
	FetchBatch(ctx context.Context, req fetchapi.BatchRequest) fetchapi.BatchResponse
}

// BatchHandler serves the worker endpoints.
type BatchHandler struct {
	service  BatchFetcher
	workerID string
	login    string
}

// NewBatchHandler creates the handler of one worker identity.
func NewBatchHandler(service BatchFetcher, workerID, login string) *BatchHandler {
	return &BatchHandler{
		service:  service,
		workerID: workerID,
		login:    login,
	}
}

// Health is a liveness probe.
func (h *BatchHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, fetchapi.Health{
		Status:   "ok",
		WorkerID: h.workerID,
		Login:    h.login,
	})
}

// FetchBatch fetches the requested ids in order.
func (h *BatchHandler) FetchBatch(c *gin.Context) {
	var req fetchapi.BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierror.BindFailed(c, err)
		return
	}

	c.JSON(http.StatusOK, h.service.FetchBatch(c.Request.Context(), req))
}

// Register mounts the worker routes.
func (h *BatchHandler) Register(engine *gin.Engine) {
	engine.GET("/health", h.Health)
	engine.POST("/fetch_batch", h.FetchBatch)
}
