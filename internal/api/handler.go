package api

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vost-pt/meios-dashboard/internal/broadcast"
	"github.com/vost-pt/meios-dashboard/internal/models"
	"github.com/vost-pt/meios-dashboard/internal/pipeline"
	"github.com/vost-pt/meios-dashboard/internal/views"
)

type SnapshotSource interface {
	Current() *pipeline.Snapshot
}

type RefreshTrigger interface {
	Trigger(filter models.Filter)
}

type Handler struct {
	snapshots   SnapshotSource
	trigger     RefreshTrigger
	broadcaster *broadcast.Broadcaster[*pipeline.Snapshot]
	recentN     int
}

func NewHandler(snapshots SnapshotSource, trigger RefreshTrigger, broadcaster *broadcast.Broadcaster[*pipeline.Snapshot], recentN int) *Handler {
	return &Handler{
		snapshots:   snapshots,
		trigger:     trigger,
		broadcaster: broadcaster,
		recentN:     recentN,
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.GET("/dashboard", h.getDashboard)
	api.GET("/recent", h.getRecent)
	api.GET("/table", h.getTable)
	api.GET("/timeseries", h.getTimeSeries)
	api.GET("/totals/:field", h.getTotals)
	api.POST("/refresh", h.refresh)
	if h.broadcaster != nil {
		api.GET("/stream", h.stream)
	}
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// snapshot writes 503 and returns nil when no snapshot exists yet.
func (h *Handler) snapshot(c *gin.Context) *pipeline.Snapshot {
	s := h.snapshots.Current()
	if s == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no data yet"})
		return nil
	}
	setFreshnessHeaders(c, s)
	return s
}

// Clients tell "stale, last-known-good" apart from "fresh, zero incidents".
func setFreshnessHeaders(c *gin.Context, s *pipeline.Snapshot) {
	state := "fresh"
	switch {
	case s.Stale:
		state = "stale"
	case s.Empty:
		state = "empty"
	}
	c.Header("X-Data-State", state)
	if !s.RefreshedAt.IsZero() {
		c.Header("Last-Modified", s.RefreshedAt.UTC().Format(http.TimeFormat))
	}
}

func (h *Handler) getDashboard(c *gin.Context) {
	s := h.snapshot(c)
	if s == nil {
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h *Handler) getRecent(c *gin.Context) {
	s := h.snapshot(c)
	if s == nil {
		return
	}
	c.JSON(http.StatusOK, gin.H{"incidents": s.Dashboard.Recent})
}

func (h *Handler) getTable(c *gin.Context) {
	s := h.snapshot(c)
	if s == nil {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"columns": models.TableColumns,
		"rows":    s.Dashboard.Table,
	})
}

func (h *Handler) getTimeSeries(c *gin.Context) {
	s := h.snapshot(c)
	if s == nil {
		return
	}
	c.JSON(http.StatusOK, gin.H{"points": s.Dashboard.Timeline})
}

func (h *Handler) getTotals(c *gin.Context) {
	scope, err := views.ParseScope(c.Query("scope"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	field := c.Param("field")
	if field != "district" && field != "concelho" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "field must be district or concelho"})
		return
	}

	s := h.snapshot(c)
	if s == nil {
		return
	}
	totals, err := views.GroupTotalsBy(s.Dataset, field, scope, h.recentN)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"field":  field,
		"scope":  scope,
		"totals": totals,
	})
}

func (h *Handler) refresh(c *gin.Context) {
	var filter models.Filter
	if d := strings.TrimSpace(c.Query("day")); d != "" {
		day, err := parseDay(d)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "day must be YYYY-MM-DD or DD-MM-YYYY"})
			return
		}
		filter.Day = day
	}

	h.trigger.Trigger(filter)
	c.JSON(http.StatusAccepted, gin.H{
		"status": "queued",
		"day":    filter.DayString(),
	})
}

func parseDay(s string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", s)
	if err == nil {
		return t, nil
	}
	return time.Parse(models.DateLayout, s)
}

func (h *Handler) stream(c *gin.Context) {
	id, ch := h.broadcaster.Subscribe()
	defer h.broadcaster.Unsubscribe(id)

	if s := h.snapshots.Current(); s != nil {
		c.SSEvent("snapshot", s)
		c.Writer.Flush()
	}

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case s, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent("snapshot", s)
			return true
		}
	})
}
