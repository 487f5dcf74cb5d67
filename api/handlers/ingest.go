package handlers

import (
	"io"
	"net/http"

	"tzlogs/api/filters"
	ingestservice "tzlogs/api/services/ingest"
	"tzlogs/pkg/apierror"
	"tzlogs/pkg/failures"
	"tzlogs/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Largest raw log accepted by the upload endpoint.
const maxUploadBytes = 64 << 20

// IngestHandler is the handler for the aggregator endpoints.
type IngestHandler struct {
	IngestService *ingestservice.IngestService
	Logger        *logger.NewLogger
}

type IngestHandlerDependencies struct {
	IngestService *ingestservice.IngestService
	Logger        *logger.NewLogger
}

// NewIngestHandler creates a new instance of the ingest handler.
func NewIngestHandler(deps *IngestHandlerDependencies) *IngestHandler {
	log := deps.Logger
	if log == nil {
		log = logger.NewNop()
	}
	return &IngestHandler{IngestService: deps.IngestService, Logger: log}
}

// Upload stores the raw XML body of a battle.
func (h *IngestHandler) Upload(c *gin.Context) {
	var up filters.BattleURIParams
	if err := c.ShouldBindUri(&up); err != nil {
		apierror.BindFailed(c, err)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes))
	if err != nil {
		apierror.Respond(c, failures.Wrap(failures.KindValidation, "ingest.Upload", err))
		return
	}

	reply, err := h.IngestService.Upload(up.BattleID, body)
	if err != nil {
		apierror.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, reply)
}

// gzResponse sets the archive headers on the first write, so errors found before
// streaming starts can still be answered as JSON.
type gzResponse struct {
	c       *gin.Context
	started bool
}

func (w *gzResponse) Write(p []byte) (int, error) {
	if !w.started {
		w.started = true
		w.c.Header("Content-Type", "application/gzip")
		w.c.Status(http.StatusOK)
	}
	return w.c.Writer.Write(p)
}

// Gz streams the compressed log of a battle.
func (h *IngestHandler) Gz(c *gin.Context) {
	var up filters.GzURIParams
	if err := c.ShouldBindUri(&up); err != nil {
		apierror.BindFailed(c, err)
		return
	}

	w := &gzResponse{c: c}
	if err := h.IngestService.StreamGz(up.Name, w); err != nil {
		if !w.started {
			apierror.Respond(c, err)
			return
		}
		h.Logger.Warn("Couldn't finish streaming archive", "name", up.Name, "error", err)
		c.Abort()
	}
}

// ProcessBatch drains the raw directory into the battle store.
func (h *IngestHandler) ProcessBatch(c *gin.Context) {
	var qp filters.ProcessBatchParams
	if err := c.ShouldBindQuery(&qp); err != nil {
		apierror.BindFailed(c, err)
		return
	}

	summary, err := h.IngestService.ProcessBatch(c.Request.Context(), qp.Limit, qp.MaxParallel)
	if err != nil {
		apierror.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, summary)
}
