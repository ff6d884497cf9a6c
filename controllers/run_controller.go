package controllers

import (
	"net/http"
	"strconv"

	"stockwatch_backend/services/history"
	"stockwatch_backend/services/stream"

	"github.com/gin-gonic/gin"
)

// RunController exposes run history, scheduler health and the run stream
type RunController struct {
	history *history.Service
	hub     *stream.Hub
}

// NewRunController creates a new run controller
func NewRunController(historySvc *history.Service, hub *stream.Hub) *RunController {
	return &RunController{history: historySvc, hub: hub}
}

// GetRuns returns recent run records, newest first
// GET /api/v1/runs
func (rc *RunController) GetRuns(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	rows, err := rc.history.List(history.Filter{
		AgentName:     c.Query("agent"),
		InstrumentKey: c.Query("instrument"),
		Status:        c.Query("status"),
		Limit:         limit,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch runs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rows})
}

// GetHealth returns the scheduler health snapshot
// GET /api/v1/runs/health
func (rc *RunController) GetHealth(c *gin.Context) {
	snap, err := rc.history.Health()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compute health"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": snap})
}

// StreamRuns upgrades to a websocket pushing finalized runs
// GET /ws/runs
func (rc *RunController) StreamRuns(c *gin.Context) {
	rc.hub.ServeWS(c.Writer, c.Request)
}
