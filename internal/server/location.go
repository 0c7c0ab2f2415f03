package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/waypoint/internal/location"
	"github.com/MarcoPoloResearchLab/waypoint/internal/monitor"
	"github.com/MarcoPoloResearchLab/waypoint/internal/theme"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type fixRequestPayload struct {
	Latitude  *float64   `json:"latitude"`
	Longitude *float64   `json:"longitude"`
	Timestamp *time.Time `json:"timestamp"`
}

type permissionRequestPayload struct {
	Granted *bool `json:"granted"`
}

type fixPayload struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
}

type monitorStatusPayload struct {
	State      string      `json:"state"`
	Owner      string      `json:"owner,omitempty"`
	TargetIDs  []string    `json:"target_ids"`
	Subscribed bool        `json:"subscribed"`
	LastFix    *fixPayload `json:"last_fix,omitempty"`
}

type ambientLightRequestPayload struct {
	Lux *float64 `json:"lux"`
}

func (h *httpHandler) handleLocationFix(c *gin.Context) {
	var request fixRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Latitude == nil || request.Longitude == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	fix := location.Fix{Latitude: *request.Latitude, Longitude: *request.Longitude}
	if request.Timestamp != nil {
		fix.Timestamp = *request.Timestamp
	}

	err := h.feed.Publish(fix)
	switch {
	case err == nil:
		c.Status(http.StatusAccepted)
	case errors.Is(err, location.ErrInvalidFix):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_fix"})
	case errors.Is(err, location.ErrPermissionDenied):
		c.JSON(http.StatusForbidden, gin.H{"error": "location_permission_denied"})
	default:
		h.logger.Error("failed to publish location fix", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "location_unavailable"})
	}
}

func (h *httpHandler) handleLocationPermission(c *gin.Context) {
	var request permissionRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Granted == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	granted := *request.Granted
	h.feed.SetPermission(granted)
	if err := h.monitor.PermissionChanged(c.Request.Context(), granted); err != nil && !errors.Is(err, monitor.ErrStopped) {
		h.logger.Warn("failed to forward permission change", zap.Bool("granted", granted), zap.Error(err))
	}
	c.JSON(http.StatusOK, gin.H{"granted": granted})
}

func (h *httpHandler) handleMonitorStatus(c *gin.Context) {
	status, err := h.monitor.Status(c.Request.Context())
	if err != nil {
		if errors.Is(err, monitor.ErrStopped) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "monitor_stopped"})
			return
		}
		h.logger.Error("failed to read monitor status", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "monitor_unavailable"})
		return
	}

	response := monitorStatusPayload{
		State:      status.State.String(),
		Owner:      status.Owner,
		TargetIDs:  status.TargetIDs,
		Subscribed: status.Subscribed,
	}
	if response.TargetIDs == nil {
		response.TargetIDs = []string{}
	}
	if status.LastFix != nil {
		response.LastFix = &fixPayload{
			Latitude:  status.LastFix.Latitude,
			Longitude: status.LastFix.Longitude,
			Timestamp: status.LastFix.Timestamp,
		}
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleAmbientLight(c *gin.Context) {
	if h.theme == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "theme_disabled"})
		return
	}
	var request ambientLightRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Lux == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	current, changed, err := h.theme.Observe(*request.Lux)
	if err != nil {
		if errors.Is(err, theme.ErrInvalidReading) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_reading"})
			return
		}
		h.logger.Error("failed to apply light reading", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "theme_unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"theme": current, "changed": changed})
}

func (h *httpHandler) handleTheme(c *gin.Context) {
	current := theme.Light
	if h.theme != nil {
		current = h.theme.Current()
	}
	c.JSON(http.StatusOK, gin.H{"theme": current})
}
