package controllers

import (
	"net/http"
	"strconv"
	"time"

	"stockwatch_backend/models"
	"stockwatch_backend/scheduler"
	"stockwatch_backend/services/executor"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// AgentController handles agent configuration and manual triggering
type AgentController struct {
	db       *gorm.DB
	sched    *scheduler.Scheduler
	resolver *scheduler.Resolver
}

// NewAgentController creates a new agent controller
func NewAgentController(db *gorm.DB, sched *scheduler.Scheduler, resolver *scheduler.Resolver) *AgentController {
	return &AgentController{db: db, sched: sched, resolver: resolver}
}

// GetAgents returns all agent definitions
// GET /api/v1/agents
func (ac *AgentController) GetAgents(c *gin.Context) {
	var agents []models.AgentDefinition
	if err := ac.db.Order("id ASC").Find(&agents).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch agents"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": agents})
}

// GetAgent returns one agent by name
// GET /api/v1/agents/:name
func (ac *AgentController) GetAgent(c *gin.Context) {
	var agent models.AgentDefinition
	if err := ac.db.Where("name = ?", c.Param("name")).First(&agent).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Agent not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": agent})
}

type agentUpdateRequest struct {
	DisplayName      *string `json:"display_name"`
	Description      *string `json:"description"`
	Enabled          *bool   `json:"enabled"`
	Schedule         *string `json:"schedule"`
	AIModel          *string `json:"ai_model"`
	NotifyChannelIDs *[]uint `json:"notify_channel_ids"`
	Options          *string `json:"options"`
}

// UpdateAgent updates an agent's configuration. The schedule expression is
// validated before it is accepted.
// PUT /api/v1/agents/:name
func (ac *AgentController) UpdateAgent(c *gin.Context) {
	var agent models.AgentDefinition
	if err := ac.db.Where("name = ?", c.Param("name")).First(&agent).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Agent not found"})
		return
	}

	var req agentUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if req.Schedule != nil && *req.Schedule != "" {
		if err := ac.resolver.Validate(*req.Schedule); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid schedule expression", "detail": err.Error()})
			return
		}
	}

	if req.DisplayName != nil {
		agent.DisplayName = *req.DisplayName
	}
	if req.Description != nil {
		agent.Description = *req.Description
	}
	if req.Enabled != nil {
		agent.Enabled = *req.Enabled
	}
	if req.Schedule != nil {
		agent.Schedule = *req.Schedule
	}
	if req.AIModel != nil {
		agent.AIModel = *req.AIModel
	}
	if req.NotifyChannelIDs != nil {
		agent.NotifyChannelIDs = models.EncodeIDList(*req.NotifyChannelIDs)
	}
	if req.Options != nil {
		agent.Options = *req.Options
	}

	if err := ac.db.Save(&agent).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update agent"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": agent})
}

type triggerRequest struct {
	InstrumentKey     string `json:"instrument_key"`
	BypassThrottle    bool   `json:"bypass_throttle"`
	BypassMarketHours bool   `json:"bypass_market_hours"`
	Analyze           bool   `json:"analyze"`
}

// TriggerAgent runs an agent immediately, outside its schedule, and blocks
// until the run finalizes. The response carries the finished run records
// with any suggestions they produced.
// POST /api/v1/agents/:name/trigger
func (ac *AgentController) TriggerAgent(c *gin.Context) {
	var req triggerRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	outcomes, err := ac.sched.TriggerAgent(c.Param("name"), req.InstrumentKey, executor.Options{
		BypassThrottle:    req.BypassThrottle,
		BypassMarketHours: req.BypassMarketHours,
		Analyze:           req.Analyze,
	})
	if err == scheduler.ErrBusy {
		c.JSON(http.StatusConflict, gin.H{"error": "run already in flight"})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": outcomes})
}

// PreviewAgentSchedule returns the agent's next fire times
// GET /api/v1/agents/:name/schedule/preview
func (ac *AgentController) PreviewAgentSchedule(c *gin.Context) {
	var agent models.AgentDefinition
	if err := ac.db.Where("name = ?", c.Param("name")).First(&agent).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Agent not found"})
		return
	}

	n, _ := strconv.Atoi(c.DefaultQuery("count", "5"))
	if n <= 0 || n > 50 {
		n = 5
	}

	expr, source := scheduler.EffectiveSchedule(&agent, nil)
	runs, err := ac.resolver.NextRuns(expr, time.Now(), n)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"schedule":  expr,
		"source":    source,
		"timezone":  ac.resolver.Location().String(),
		"next_runs": runs,
	})
}

// PreviewSchedule validates an ad-hoc expression and returns its fire times
// POST /api/v1/schedules/preview
func (ac *AgentController) PreviewSchedule(c *gin.Context) {
	var req struct {
		Schedule string `json:"schedule" binding:"required"`
		Count    int    `json:"count"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "schedule is required"})
		return
	}
	if req.Count <= 0 || req.Count > 50 {
		req.Count = 5
	}

	runs, err := ac.resolver.NextRuns(req.Schedule, time.Now(), req.Count)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"schedule":  req.Schedule,
		"timezone":  ac.resolver.Location().String(),
		"next_runs": runs,
	})
}
