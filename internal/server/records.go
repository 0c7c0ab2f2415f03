package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/waypoint/internal/monitor"
	"github.com/MarcoPoloResearchLab/waypoint/internal/proximity"
	"github.com/MarcoPoloResearchLab/waypoint/internal/records"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type taskRequestPayload struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	DueAt       *time.Time `json:"due_at"`
	Completed   bool       `json:"completed"`
}

func (p taskRequestPayload) input() records.TaskInput {
	return records.TaskInput{
		Title:       p.Title,
		Description: p.Description,
		DueAt:       p.DueAt,
		Completed:   p.Completed,
	}
}

type completionRequestPayload struct {
	Completed *bool `json:"completed"`
}

type noteRequestPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type watchRequestPayload struct {
	Title                string   `json:"title"`
	Description          string   `json:"description"`
	Address              string   `json:"address"`
	Latitude             *float64 `json:"latitude"`
	Longitude            *float64 `json:"longitude"`
	RadiusMeters         int      `json:"radius_m"`
	NotificationsEnabled bool     `json:"notifications_enabled"`
}

func (p watchRequestPayload) input() (records.WatchInput, bool) {
	if p.Latitude == nil || p.Longitude == nil {
		return records.WatchInput{}, false
	}
	return records.WatchInput{
		Title:                p.Title,
		Description:          p.Description,
		Address:              p.Address,
		Latitude:             *p.Latitude,
		Longitude:            *p.Longitude,
		RadiusMeters:         p.RadiusMeters,
		NotificationsEnabled: p.NotificationsEnabled,
	}, true
}

// watchView is a stored watch plus its distance from the last known position.
type watchView struct {
	records.LocationWatch
	DistanceLabel string `json:"distance_label"`
}

func (h *httpHandler) handleListTasks(c *gin.Context) {
	tasks, err := h.records.ListTasks(c.Request.Context(), c.GetString(ownerContextKey))
	if err != nil {
		h.respondRecordError(c, "list_tasks", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

func (h *httpHandler) handleCreateTask(c *gin.Context) {
	var request taskRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	task, err := h.records.CreateTask(c.Request.Context(), c.GetString(ownerContextKey), request.input())
	if err != nil {
		h.respondRecordError(c, "create_task", err)
		return
	}
	c.JSON(http.StatusCreated, task)
}

func (h *httpHandler) handleGetTask(c *gin.Context) {
	task, err := h.records.GetTask(c.Request.Context(), c.GetString(ownerContextKey), c.Param("id"))
	if err != nil {
		h.respondRecordError(c, "get_task", err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *httpHandler) handleUpdateTask(c *gin.Context) {
	var request taskRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	ctx := c.Request.Context()
	owner := c.GetString(ownerContextKey)
	rows, err := h.records.UpdateTask(ctx, owner, c.Param("id"), request.input())
	if err != nil {
		h.respondRecordError(c, "update_task", err)
		return
	}
	if rows == 0 {
		respondNotFound(c)
		return
	}
	h.handleGetTask(c)
}

func (h *httpHandler) handleSetTaskCompletion(c *gin.Context) {
	var request completionRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Completed == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	rows, err := h.records.SetTaskCompletion(c.Request.Context(), c.GetString(ownerContextKey), c.Param("id"), *request.Completed)
	if err != nil {
		h.respondRecordError(c, "set_task_completion", err)
		return
	}
	if rows == 0 {
		respondNotFound(c)
		return
	}
	h.handleGetTask(c)
}

func (h *httpHandler) handleDeleteTask(c *gin.Context) {
	rows, err := h.records.DeleteTask(c.Request.Context(), c.GetString(ownerContextKey), c.Param("id"))
	if err != nil {
		h.respondRecordError(c, "delete_task", err)
		return
	}
	if rows == 0 {
		respondNotFound(c)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleListNotes(c *gin.Context) {
	notes, err := h.records.ListNotes(c.Request.Context(), c.GetString(ownerContextKey))
	if err != nil {
		h.respondRecordError(c, "list_notes", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notes": notes})
}

func (h *httpHandler) handleCreateNote(c *gin.Context) {
	var request noteRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	note, err := h.records.CreateNote(c.Request.Context(), c.GetString(ownerContextKey), records.NoteInput{
		Title: request.Title,
		Body:  request.Body,
	})
	if err != nil {
		h.respondRecordError(c, "create_note", err)
		return
	}
	c.JSON(http.StatusCreated, note)
}

func (h *httpHandler) handleGetNote(c *gin.Context) {
	note, err := h.records.GetNote(c.Request.Context(), c.GetString(ownerContextKey), c.Param("id"))
	if err != nil {
		h.respondRecordError(c, "get_note", err)
		return
	}
	c.JSON(http.StatusOK, note)
}

func (h *httpHandler) handleUpdateNote(c *gin.Context) {
	var request noteRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	rows, err := h.records.UpdateNote(c.Request.Context(), c.GetString(ownerContextKey), c.Param("id"), records.NoteInput{
		Title: request.Title,
		Body:  request.Body,
	})
	if err != nil {
		h.respondRecordError(c, "update_note", err)
		return
	}
	if rows == 0 {
		respondNotFound(c)
		return
	}
	h.handleGetNote(c)
}

func (h *httpHandler) handleDeleteNote(c *gin.Context) {
	rows, err := h.records.DeleteNote(c.Request.Context(), c.GetString(ownerContextKey), c.Param("id"))
	if err != nil {
		h.respondRecordError(c, "delete_note", err)
		return
	}
	if rows == 0 {
		respondNotFound(c)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleListWatches(c *gin.Context) {
	watches, err := h.records.ListWatches(c.Request.Context(), c.GetString(ownerContextKey))
	if err != nil {
		h.respondRecordError(c, "list_watches", err)
		return
	}
	views := make([]watchView, 0, len(watches))
	for _, watch := range watches {
		views = append(views, h.viewWatch(watch))
	}
	c.JSON(http.StatusOK, gin.H{"watches": views})
}

func (h *httpHandler) handleCreateWatch(c *gin.Context) {
	var request watchRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	input, ok := request.input()
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_record"})
		return
	}
	watch, err := h.records.CreateWatch(c.Request.Context(), c.GetString(ownerContextKey), input)
	if err != nil {
		h.respondRecordError(c, "create_watch", err)
		return
	}
	h.syncMonitor(c, watch)
	c.JSON(http.StatusCreated, h.viewWatch(watch))
}

func (h *httpHandler) handleGetWatch(c *gin.Context) {
	watch, err := h.records.GetWatch(c.Request.Context(), c.GetString(ownerContextKey), c.Param("id"))
	if err != nil {
		h.respondRecordError(c, "get_watch", err)
		return
	}
	c.JSON(http.StatusOK, h.viewWatch(watch))
}

func (h *httpHandler) handleUpdateWatch(c *gin.Context) {
	var request watchRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	input, ok := request.input()
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_record"})
		return
	}
	ctx := c.Request.Context()
	owner := c.GetString(ownerContextKey)
	id := c.Param("id")
	rows, err := h.records.UpdateWatch(ctx, owner, id, input)
	if err != nil {
		h.respondRecordError(c, "update_watch", err)
		return
	}
	if rows == 0 {
		respondNotFound(c)
		return
	}
	watch, err := h.records.GetWatch(ctx, owner, id)
	if err != nil {
		h.respondRecordError(c, "get_watch", err)
		return
	}
	h.syncMonitor(c, watch)
	c.JSON(http.StatusOK, h.viewWatch(watch))
}

func (h *httpHandler) handleDeleteWatch(c *gin.Context) {
	id := c.Param("id")
	rows, err := h.records.DeleteWatch(c.Request.Context(), c.GetString(ownerContextKey), id)
	if err != nil {
		h.respondRecordError(c, "delete_watch", err)
		return
	}
	if rows == 0 {
		respondNotFound(c)
		return
	}
	h.unwatch(c, id)
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleStats(c *gin.Context) {
	stats, err := h.records.Stats(c.Request.Context(), c.GetString(ownerContextKey))
	if err != nil {
		h.respondRecordError(c, "stats", err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// syncMonitor registers an enabled watch and drops a disabled one.
func (h *httpHandler) syncMonitor(c *gin.Context, watch records.LocationWatch) {
	target, ok := watch.Target()
	if !ok {
		h.unwatch(c, watch.ID)
		return
	}
	if err := h.monitor.Watch(c.Request.Context(), target); err != nil {
		h.logger.Warn("failed to register watch with monitor", zap.String("watch_id", watch.ID), zap.Error(err))
	}
}

func (h *httpHandler) unwatch(c *gin.Context, id string) {
	if err := h.monitor.Unwatch(c.Request.Context(), id); err != nil && !errors.Is(err, monitor.ErrStopped) {
		h.logger.Warn("failed to unregister watch from monitor", zap.String("watch_id", id), zap.Error(err))
	}
}

func (h *httpHandler) viewWatch(watch records.LocationWatch) watchView {
	label := proximity.FormatDistance(-1)
	if fix, ok := h.feed.LastFix(); ok {
		label = proximity.FormatDistance(proximity.Distance(
			proximity.Position{Latitude: fix.Latitude, Longitude: fix.Longitude},
			proximity.Position{Latitude: watch.Latitude, Longitude: watch.Longitude},
		))
	}
	return watchView{LocationWatch: watch, DistanceLabel: label}
}
