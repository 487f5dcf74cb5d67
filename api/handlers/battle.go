package handlers

import (
	"net/http"

	"tzlogs/api/filters"
	battleservice "tzlogs/api/services/battle"
	"tzlogs/pkg/apierror"

	"github.com/gin-gonic/gin"
)

// BattleHandler is the handler for the stored battle endpoints.
type BattleHandler struct {
	BattleService *battleservice.BattleService
}

type BattleHandlerDependencies struct {
	BattleService *battleservice.BattleService
}

// NewBattleHandler creates a new instance of the battle handler.
func NewBattleHandler(deps *BattleHandlerDependencies) *BattleHandler {
	return &BattleHandler{BattleService: deps.BattleService}
}

// ListBattles returns a page of battles, newest first.
func (h *BattleHandler) ListBattles(c *gin.Context) {
	var qp filters.BattleListParams
	if err := c.ShouldBindQuery(&qp); err != nil {
		apierror.BindFailed(c, err)
		return
	}

	list, err := h.BattleService.ListBattles(c.Request.Context(), filters.NewBattleListFilter(qp))
	if err != nil {
		apierror.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"result": list})
}

// GetBattle returns one battle with everything parsed from its log.
func (h *BattleHandler) GetBattle(c *gin.Context) {
	var up filters.BattleURIParams
	if err := c.ShouldBindUri(&up); err != nil {
		apierror.BindFailed(c, err)
		return
	}

	battle, err := h.BattleService.GetBattle(c.Request.Context(), up.BattleID)
	if err != nil {
		apierror.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"result": battle})
}
