package http

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"cityeye-service/internal/auth"
	"cityeye-service/internal/http/middleware"
	"cityeye-service/internal/model"
	"cityeye-service/internal/zone"
)

var sessionExpiredEvent = gin.H{"error": "session expired", "sign_out": true}

type openSessionRequest struct {
	DeviceID  string        `json:"device_id" binding:"required"`
	MapCenter *model.LatLng `json:"map_center"`
}

type renameRequest struct {
	Name string `json:"name"`
}

type dragRequest struct {
	DX float64 `json:"dx"`
	DY float64 `json:"dy"`
}

type submitRequest struct {
	NativeWidth  int `json:"native_width" binding:"required,min=1"`
	NativeHeight int `json:"native_height" binding:"required,min=1"`
}

func (h *Handler) openSession(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("missing principal"))
		return
	}

	var req openSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	view, err := h.zones.OpenSession(c.Request.Context(), principal, strings.TrimSpace(req.DeviceID), req.MapCenter)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, successResponse(view))
}

func (h *Handler) getSession(c *gin.Context) {
	principal, id, ok := h.sessionTarget(c)
	if !ok {
		return
	}

	view, err := h.zones.View(principal, id)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(view))
}

func (h *Handler) closeSession(c *gin.Context) {
	principal, id, ok := h.sessionTarget(c)
	if !ok {
		return
	}

	if err := h.zones.CloseSession(principal, id); err != nil {
		h.handleError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) addZone(c *gin.Context) {
	principal, id, ok := h.sessionTarget(c)
	if !ok {
		return
	}

	view, err := h.zones.AddZone(principal, id)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, successResponse(view))
}

func (h *Handler) removeZone(c *gin.Context) {
	principal, id, zoneID, ok := h.zoneTarget(c)
	if !ok {
		return
	}

	view, err := h.zones.RemoveZone(principal, id, zoneID)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(view))
}

func (h *Handler) renameZone(c *gin.Context) {
	principal, id, zoneID, ok := h.zoneTarget(c)
	if !ok {
		return
	}

	var req renameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	view, err := h.zones.RenameZone(principal, id, zoneID, req.Name)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(view))
}

func (h *Handler) toggleVisibility(c *gin.Context) {
	principal, id, zoneID, ok := h.zoneTarget(c)
	if !ok {
		return
	}

	view, err := h.zones.ToggleVisibility(principal, id, zoneID)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(view))
}

func (h *Handler) toggleActive(c *gin.Context) {
	principal, id, zoneID, ok := h.zoneTarget(c)
	if !ok {
		return
	}

	view, err := h.zones.ToggleActive(principal, id, zoneID)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(view))
}

func (h *Handler) moveRouteMarker(c *gin.Context) {
	principal, id, zoneID, ok := h.zoneTarget(c)
	if !ok {
		return
	}

	var req model.LatLng
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	marker := model.RouteMarker(c.Param("marker"))
	view, err := h.zones.MoveRouteMarker(principal, id, zoneID, marker, req)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(view))
}

func (h *Handler) dragVertex(c *gin.Context) {
	principal, id, ok := h.sessionTarget(c)
	if !ok {
		return
	}

	var req dragRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	view, err := h.zones.DragVertex(principal, id, c.Param("vertex"), req.DX, req.DY)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(view))
}

func (h *Handler) submitZones(c *gin.Context) {
	principal, id, ok := h.sessionTarget(c)
	if !ok {
		return
	}

	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	native := model.Size{Width: req.NativeWidth, Height: req.NativeHeight}
	result, err := h.zones.Submit(c.Request.Context(), principal, id, native)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(result))
}

func (h *Handler) requestCapture(c *gin.Context) {
	principal, id, ok := h.sessionTarget(c)
	if !ok {
		return
	}

	status, err := h.zones.RequestCapture(principal, id)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, successResponse(status))
}

// captureEvents relays capture status changes as server-sent events. The
// stream ends once the capture is no longer loading.
func (h *Handler) captureEvents(c *gin.Context) {
	principal, id, ok := h.sessionTarget(c)
	if !ok {
		return
	}

	updates, cancel, err := h.zones.SubscribeCapture(principal, id)
	if err != nil {
		h.handleError(c, err)
		return
	}
	defer cancel()

	// the stream outlives the request check in Auth, so the token expiry is
	// enforced for as long as it stays open
	claims, _ := middleware.TokenClaims(c)
	var expiry <-chan time.Time
	if claims != nil && claims.ExpiresAt != nil {
		timer := time.NewTimer(time.Until(claims.ExpiresAt.Time))
		defer timer.Stop()
		expiry = timer.C
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")

	c.Stream(func(w io.Writer) bool {
		select {
		case status, open := <-updates:
			if !open {
				return false
			}
			if claims != nil && claims.State(time.Now()) == auth.SessionExpired {
				c.SSEvent("session", sessionExpiredEvent)
				return false
			}
			c.SSEvent("capture", status)
			return status.State == zone.CaptureLoading
		case <-expiry:
			c.SSEvent("session", sessionExpiredEvent)
			return false
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func (h *Handler) getImage(c *gin.Context) {
	principal, id, ok := h.sessionTarget(c)
	if !ok {
		return
	}

	img, err := h.zones.Image(principal, id)
	if err != nil {
		h.handleError(c, err)
		return
	}

	data, contentType, ok := img.Bytes()
	if !ok {
		c.JSON(http.StatusNotFound, errorResponse("image released"))
		return
	}

	c.Header("Cache-Control", "no-store")
	c.Header("Last-Modified", img.CapturedAt().UTC().Format(http.TimeFormat))
	c.Data(http.StatusOK, contentType, data)
}

func (h *Handler) sessionTarget(c *gin.Context) (model.Principal, uuid.UUID, bool) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("missing principal"))
		return model.Principal{}, uuid.Nil, false
	}

	id, err := uuid.Parse(strings.TrimSpace(c.Param("id")))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid session id"))
		return model.Principal{}, uuid.Nil, false
	}

	return principal, id, true
}

func (h *Handler) zoneTarget(c *gin.Context) (model.Principal, uuid.UUID, int, bool) {
	principal, id, ok := h.sessionTarget(c)
	if !ok {
		return model.Principal{}, uuid.Nil, 0, false
	}

	zoneID, err := strconv.Atoi(c.Param("zone"))
	if err != nil || zoneID <= 0 {
		c.JSON(http.StatusBadRequest, errorResponse("invalid zone id"))
		return model.Principal{}, uuid.Nil, 0, false
	}

	return principal, id, zoneID, true
}
