package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"cityeye-service/internal/platform"
	"cityeye-service/internal/service"
	"cityeye-service/internal/zone"
)

type Handler struct {
	zones     *service.ZoneService
	analytics *service.AnalyticsService
	log       zerolog.Logger
}

func NewHandler(zones *service.ZoneService, analytics *service.AnalyticsService, log zerolog.Logger) *Handler {
	return &Handler{zones: zones, analytics: analytics, log: log}
}

func (h *Handler) Register(r *gin.Engine, authMiddleware gin.HandlerFunc) {
	protected := r.Group("/cityeye")
	protected.Use(authMiddleware)

	dashboards := protected.Group("/dashboards")
	dashboards.POST("", h.createDashboard)
	dashboards.GET("/:id", h.getDashboard)
	dashboards.PUT("/:id/filters", h.updateFilters)
	dashboards.PUT("/:id/tab", h.setTab)
	dashboards.PUT("/:id/comparison", h.setComparison)
	dashboards.PUT("/:id/metrics", h.setMetrics)
	dashboards.POST("/:id/apply", h.applyDashboard)
	dashboards.DELETE("/:id", h.deleteDashboard)

	sessions := protected.Group("/zone-editor/sessions")
	sessions.POST("", h.openSession)
	sessions.GET("/:id", h.getSession)
	sessions.DELETE("/:id", h.closeSession)
	sessions.POST("/:id/zones", h.addZone)
	sessions.DELETE("/:id/zones/:zone", h.removeZone)
	sessions.PATCH("/:id/zones/:zone", h.renameZone)
	sessions.POST("/:id/zones/:zone/visibility", h.toggleVisibility)
	sessions.POST("/:id/zones/:zone/active", h.toggleActive)
	sessions.PUT("/:id/zones/:zone/route/:marker", h.moveRouteMarker)
	sessions.POST("/:id/vertices/:vertex/drag", h.dragVertex)
	sessions.POST("/:id/submit", h.submitZones)
	sessions.POST("/:id/capture", h.requestCapture)
	sessions.GET("/:id/capture/events", h.captureEvents)
	sessions.GET("/:id/image", h.getImage)
}

func (h *Handler) handleError(c *gin.Context, err error) {
	var apiErr *platform.APIError

	switch {
	case errors.Is(err, service.ErrPermissionDenied):
		c.JSON(http.StatusForbidden, errorResponse(err.Error()))
	case errors.Is(err, service.ErrNotFound),
		errors.Is(err, zone.ErrSessionClosed),
		errors.Is(err, zone.ErrZoneNotFound),
		errors.Is(err, zone.ErrVertexNotFound):
		c.JSON(http.StatusNotFound, errorResponse(err.Error()))
	case errors.Is(err, service.ErrInvalidFilters):
		c.JSON(http.StatusUnprocessableEntity, errorResponse(err.Error()))
	case errors.Is(err, service.ErrInvalidRequest),
		errors.Is(err, zone.ErrNameTooLong),
		errors.Is(err, zone.ErrInvalidMarker):
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
	case errors.Is(err, zone.ErrZoneLimit):
		c.JSON(http.StatusConflict, errorResponse(err.Error()))
	case errors.Is(err, platform.ErrUnavailable):
		c.JSON(http.StatusServiceUnavailable, errorResponse("platform unavailable"))
	case errors.As(err, &apiErr):
		switch {
		case apiErr.Unauthorized():
			c.JSON(http.StatusForbidden, gin.H{"error": "platform access denied", "sign_out": true})
		case apiErr.NotFound():
			c.JSON(http.StatusNotFound, errorResponse("not found"))
		default:
			message := apiErr.Detail()
			if message == "" {
				message = "platform request failed"
			}
			c.JSON(http.StatusBadGateway, errorResponse(message))
		}
	default:
		h.log.Error().Err(err).Str("route", c.FullPath()).Msg("request failed")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
	}
}

func successResponse(data interface{}) gin.H {
	return gin.H{"data": data}
}

func errorResponse(message string) gin.H {
	return gin.H{"error": message}
}
