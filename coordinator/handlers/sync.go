package handlers

import (
	"context"
	"net/http"

	"tzlogs/coordinator/fleet"
	"tzlogs/pkg/apierror"
	"tzlogs/pkg/fetchapi"

	"github.com/gin-gonic/gin"
)

// SyncController starts and observes sync operations.
type SyncController interface {
	StartRange(ctx context.Context, req fetchapi.RangeRequest) (*fetchapi.StartReply, error)
	StartMissing(ctx context.Context, req fetchapi.MissingRequest) (*fetchapi.StartReply, error)
	StartAutoContinue(ctx context.Context, req fetchapi.AutoRequest) (*fetchapi.StartReply, error)
	Abort() bool
	Progress() fetchapi.Progress
}

// StatsProvider aggregates the sync state.
type StatsProvider interface {
	Stats(ctx context.Context) (*fetchapi.AttemptStats, error)
}

// FleetProber checks the workers.
type FleetProber interface {
	Probe(ctx context.Context) []fleet.WorkerHealth
}

// SyncHandler is the handler for the coordinator endpoints.
type SyncHandler struct {
	sync  SyncController
	stats StatsProvider
	fleet FleetProber
}

// NewSyncHandler creates a new instance of the sync handler.
func NewSyncHandler(sync SyncController, stats StatsProvider, fleet FleetProber) *SyncHandler {
	return &SyncHandler{
		sync:  sync,
		stats: stats,
		fleet: fleet,
	}
}

// SyncRange starts fetching an id range.
func (h *SyncHandler) SyncRange(c *gin.Context) {
	var req fetchapi.RangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierror.BindFailed(c, err)
		return
	}

	reply, err := h.sync.StartRange(c.Request.Context(), req)
	if err != nil {
		apierror.Respond(c, err)
		return
	}
	c.JSON(http.StatusAccepted, reply)
}

// SyncMissing retries the failed ids.
func (h *SyncHandler) SyncMissing(c *gin.Context) {
	var req fetchapi.MissingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierror.BindFailed(c, err)
		return
	}

	reply, err := h.sync.StartMissing(c.Request.Context(), req)
	if err != nil {
		apierror.Respond(c, err)
		return
	}
	c.JSON(http.StatusAccepted, reply)
}

// SyncAuto continues after the highest fetched id.
func (h *SyncHandler) SyncAuto(c *gin.Context) {
	var req fetchapi.AutoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierror.BindFailed(c, err)
		return
	}

	reply, err := h.sync.StartAutoContinue(c.Request.Context(), req)
	if err != nil {
		apierror.Respond(c, err)
		return
	}
	c.JSON(http.StatusAccepted, reply)
}

// Abort stops dispatching new batches.
func (h *SyncHandler) Abort(c *gin.Context) {
	if !h.sync.Abort() {
		c.JSON(http.StatusOK, fetchapi.StartReply{Accepted: false, Message: "no operation running"})
		return
	}
	c.JSON(http.StatusOK, fetchapi.StartReply{Accepted: true, Message: "abort requested"})
}

// Progress returns the live state.
func (h *SyncHandler) Progress(c *gin.Context) {
	c.JSON(http.StatusOK, h.sync.Progress())
}

// Stats returns the sync state aggregate.
func (h *SyncHandler) Stats(c *gin.Context) {
	stats, err := h.stats.Stats(c.Request.Context())
	if err != nil {
		apierror.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// Workers probes every worker.
func (h *SyncHandler) Workers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"workers": h.fleet.Probe(c.Request.Context())})
}
