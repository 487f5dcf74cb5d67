package handlers

import (
	"net/http"

	"tzlogs/api/filters"
	grpcclient "tzlogs/api/grpc"
	analyticsservice "tzlogs/api/services/analytics"
	"tzlogs/pkg/apierror"
	"tzlogs/pkg/fetchapi"

	"github.com/gin-gonic/gin"
)

// AdminHandler is the handler for the token guarded endpoints.
type AdminHandler struct {
	AnalyticsService *analyticsservice.AnalyticsService
	SyncClient       grpcclient.SyncGRPCClient
}

type AdminHandlerDependencies struct {
	AnalyticsService *analyticsservice.AnalyticsService
	SyncClient       grpcclient.SyncGRPCClient
}

// NewAdminHandler creates a new instance of the admin handler.
func NewAdminHandler(deps *AdminHandlerDependencies) *AdminHandler {
	return &AdminHandler{
		AnalyticsService: deps.AnalyticsService,
		SyncClient:       deps.SyncClient,
	}
}

// TrainModel fits a new bot model and swaps it in. The body is optional.
func (h *AdminHandler) TrainModel(c *gin.Context) {
	var body filters.TrainParams
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			apierror.BindFailed(c, err)
			return
		}
	}

	result, err := h.AnalyticsService.TrainModel(c.Request.Context(), body.WindowDays)
	if err != nil {
		apierror.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "result": result})
}

// SyncProgress forwards the coordinator progress.
func (h *AdminHandler) SyncProgress(c *gin.Context) {
	progress, err := h.SyncClient.Progress(c.Request.Context())
	if err != nil {
		apierror.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, progress)
}

// SyncRange starts a range sync on the coordinator.
func (h *AdminHandler) SyncRange(c *gin.Context) {
	var req fetchapi.RangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierror.BindFailed(c, err)
		return
	}

	reply, err := h.SyncClient.SyncRange(c.Request.Context(), &req)
	if err != nil {
		apierror.Respond(c, err)
		return
	}
	c.JSON(http.StatusAccepted, reply)
}

// SyncMissing retries the failed ids on the coordinator.
func (h *AdminHandler) SyncMissing(c *gin.Context) {
	var req fetchapi.MissingRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			apierror.BindFailed(c, err)
			return
		}
	}

	reply, err := h.SyncClient.SyncMissing(c.Request.Context(), &req)
	if err != nil {
		apierror.Respond(c, err)
		return
	}
	c.JSON(http.StatusAccepted, reply)
}

// SyncAbort asks the coordinator to stop dispatching.
func (h *AdminHandler) SyncAbort(c *gin.Context) {
	reply, err := h.SyncClient.Abort(c.Request.Context())
	if err != nil {
		apierror.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, reply)
}
