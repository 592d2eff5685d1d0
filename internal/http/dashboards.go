package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"cityeye-service/internal/http/middleware"
	"cityeye-service/internal/model"
)

type createDashboardRequest struct {
	SolutionID string    `json:"solution_id" binding:"required"`
	Tab        model.Tab `json:"tab"`
}

type tabRequest struct {
	Tab model.Tab `json:"tab" binding:"required"`
}

type comparisonRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

type metricsRequest struct {
	Metrics []model.Metric `json:"metrics"`
}

func (h *Handler) createDashboard(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("missing principal"))
		return
	}

	var req createDashboardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	view, err := h.analytics.CreateDashboard(c.Request.Context(), principal, strings.TrimSpace(req.SolutionID), req.Tab)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, successResponse(view))
}

func (h *Handler) getDashboard(c *gin.Context) {
	principal, id, ok := h.dashboardTarget(c)
	if !ok {
		return
	}

	view, err := h.analytics.View(principal, id)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(view))
}

func (h *Handler) updateFilters(c *gin.Context) {
	principal, id, ok := h.dashboardTarget(c)
	if !ok {
		return
	}

	var filters model.AnalyticsFilters
	if err := c.ShouldBindJSON(&filters); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	view, err := h.analytics.UpdateFilters(principal, id, filters)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(view))
}

func (h *Handler) setTab(c *gin.Context) {
	principal, id, ok := h.dashboardTarget(c)
	if !ok {
		return
	}

	var req tabRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	view, err := h.analytics.SetTab(principal, id, req.Tab)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(view))
}

func (h *Handler) setComparison(c *gin.Context) {
	principal, id, ok := h.dashboardTarget(c)
	if !ok {
		return
	}

	var req comparisonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	view, err := h.analytics.SetComparison(principal, id, *req.Enabled)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(view))
}

func (h *Handler) setMetrics(c *gin.Context) {
	principal, id, ok := h.dashboardTarget(c)
	if !ok {
		return
	}

	var req metricsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	view, err := h.analytics.SetMetrics(principal, id, req.Metrics)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(view))
}

func (h *Handler) applyDashboard(c *gin.Context) {
	principal, id, ok := h.dashboardTarget(c)
	if !ok {
		return
	}

	view, err := h.analytics.Apply(c.Request.Context(), principal, id)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(view))
}

func (h *Handler) deleteDashboard(c *gin.Context) {
	principal, id, ok := h.dashboardTarget(c)
	if !ok {
		return
	}

	if err := h.analytics.DeleteDashboard(principal, id); err != nil {
		h.handleError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) dashboardTarget(c *gin.Context) (model.Principal, uuid.UUID, bool) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("missing principal"))
		return model.Principal{}, uuid.Nil, false
	}

	id, err := uuid.Parse(strings.TrimSpace(c.Param("id")))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid dashboard id"))
		return model.Principal{}, uuid.Nil, false
	}

	return principal, id, true
}
