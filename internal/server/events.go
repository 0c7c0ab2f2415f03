package server

import (
	"io"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/waypoint/internal/notify"
	"github.com/gin-gonic/gin"
)

const (
	EventProximityAlert  = "proximity-alert"
	streamEventHeartbeat = "heartbeat"
	streamEventSource    = "waypoint-agent"
	streamEventSignedOut = "signed-out"
)

type alertEventPayload struct {
	WatchID        string  `json:"watchId"`
	Title          string  `json:"title"`
	Body           string  `json:"body"`
	DistanceMeters float64 `json:"distanceMeters"`
	Timestamp      string  `json:"timestamp"`
}

type heartbeatPayload struct {
	Source    string `json:"source"`
	Timestamp string `json:"timestamp"`
}

// handleEvents streams the signed-in owner's proximity alerts as server-sent events.
// The stream ends when the client disconnects or the owner signs out.
func (h *httpHandler) handleEvents(c *gin.Context) {
	owner := c.GetString(ownerContextKey)
	ctx := c.Request.Context()
	alerts, release := h.alerts.Subscribe(ctx, owner)
	defer release()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case alert, ok := <-alerts:
			if !ok {
				c.SSEvent(streamEventSignedOut, heartbeatPayload{Source: streamEventSource, Timestamp: time.Now().UTC().Format(time.RFC3339Nano)})
				return false
			}
			c.SSEvent(EventProximityAlert, newAlertEventPayload(alert))
			return true
		case now := <-heartbeat.C:
			if current, signedIn := h.sessions.CurrentOwner(); !signedIn || current != owner {
				c.SSEvent(streamEventSignedOut, heartbeatPayload{Source: streamEventSource, Timestamp: now.UTC().Format(time.RFC3339Nano)})
				return false
			}
			c.SSEvent(streamEventHeartbeat, heartbeatPayload{Source: streamEventSource, Timestamp: now.UTC().Format(time.RFC3339Nano)})
			return true
		}
	})
}

func newAlertEventPayload(alert notify.Alert) alertEventPayload {
	return alertEventPayload{
		WatchID:        alert.WatchID,
		Title:          alert.Title,
		Body:           alert.Body,
		DistanceMeters: alert.DistanceMeters,
		Timestamp:      alert.Timestamp.UTC().Format(time.RFC3339Nano),
	}
}
