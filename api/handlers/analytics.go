package handlers

import (
	"context"
	"net/http"

	"tzlogs/api/filters"
	analyticsservice "tzlogs/api/services/analytics"
	"tzlogs/pkg/apierror"

	"github.com/gin-gonic/gin"
)

// AnalyticsHandler is the handler for the windowed analytics endpoints.
type AnalyticsHandler struct {
	AnalyticsService *analyticsservice.AnalyticsService
}

type AnalyticsHandlerDependencies struct {
	AnalyticsService *analyticsservice.AnalyticsService
}

// NewAnalyticsHandler creates a new instance of the analytics handler.
func NewAnalyticsHandler(deps *AnalyticsHandlerDependencies) *AnalyticsHandler {
	return &AnalyticsHandler{AnalyticsService: deps.AnalyticsService}
}

// bindFilter resolves the query parameters of the request into a window filter.
func (h *AnalyticsHandler) bindFilter(c *gin.Context, withLogin bool) (*filters.AnalyticsFilter, bool) {
	var qp filters.AnalyticsParams
	if err := c.ShouldBindQuery(&qp); err != nil {
		apierror.BindFailed(c, err)
		return nil, false
	}
	f := h.AnalyticsService.Filter(qp)

	if withLogin {
		var up filters.PlayerURIParams
		if err := c.ShouldBindUri(&up); err != nil {
			apierror.BindFailed(c, err)
			return nil, false
		}
		login, err := analyticsservice.NormalizeLogin(up.Login)
		if err != nil {
			apierror.Respond(c, err)
			return nil, false
		}
		f.Login = login
	}
	return f, true
}

// serve runs one analytics query and writes its result.
func serve[T any](c *gin.Context, h *AnalyticsHandler, withLogin bool, query func(context.Context, *filters.AnalyticsFilter) (T, error)) {
	f, ok := h.bindFilter(c, withLogin)
	if !ok {
		return
	}

	result, err := query(c.Request.Context(), f)
	if err != nil {
		apierror.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"result": result})
}

func (h *AnalyticsHandler) GetLeaderboard(c *gin.Context) {
	serve(c, h, false, h.AnalyticsService.Leaderboard)
}

// GetPlayer returns the profile of a player with its bot verdict.
func (h *AnalyticsHandler) GetPlayer(c *gin.Context) {
	serve(c, h, true, h.AnalyticsService.PlayerProfile)
}

func (h *AnalyticsHandler) GetPlayerSocial(c *gin.Context) {
	serve(c, h, true, h.AnalyticsService.Social)
}

func (h *AnalyticsHandler) GetClans(c *gin.Context) {
	serve(c, h, false, h.AnalyticsService.Clans)
}

func (h *AnalyticsHandler) GetClanMatrix(c *gin.Context) {
	serve(c, h, false, h.AnalyticsService.ClanMatrix)
}

func (h *AnalyticsHandler) GetMonsters(c *gin.Context) {
	serve(c, h, false, h.AnalyticsService.Monsters)
}

func (h *AnalyticsHandler) GetResourceEconomy(c *gin.Context) {
	serve(c, h, false, h.AnalyticsService.ResourceEconomy)
}

func (h *AnalyticsHandler) GetTopMiners(c *gin.Context) {
	serve(c, h, false, h.AnalyticsService.TopMiners)
}

func (h *AnalyticsHandler) GetHeatmap(c *gin.Context) {
	serve(c, h, false, h.AnalyticsService.Heatmap)
}

func (h *AnalyticsHandler) GetHotspots(c *gin.Context) {
	serve(c, h, false, h.AnalyticsService.Hotspots)
}

func (h *AnalyticsHandler) GetClanControl(c *gin.Context) {
	serve(c, h, false, h.AnalyticsService.ClanControl)
}

func (h *AnalyticsHandler) GetElo(c *gin.Context) {
	serve(c, h, false, h.AnalyticsService.Elo)
}

func (h *AnalyticsHandler) GetChurn(c *gin.Context) {
	serve(c, h, false, h.AnalyticsService.Churn)
}

// GetBots ranks the players of the window by bot probability.
func (h *AnalyticsHandler) GetBots(c *gin.Context) {
	serve(c, h, false, h.AnalyticsService.BotScan)
}
