package controllers

import (
	"net/http"
	"strconv"

	"stockwatch_backend/models"
	"stockwatch_backend/scheduler"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// InstrumentController handles the watchlist, per-instrument agent
// overrides and position records
type InstrumentController struct {
	db       *gorm.DB
	resolver *scheduler.Resolver
}

// NewInstrumentController creates a new instrument controller
func NewInstrumentController(db *gorm.DB, resolver *scheduler.Resolver) *InstrumentController {
	return &InstrumentController{db: db, resolver: resolver}
}

// GetInstruments returns the watchlist with overrides preloaded
// GET /api/v1/instruments
func (ic *InstrumentController) GetInstruments(c *gin.Context) {
	var instruments []models.Instrument
	if err := ic.db.Preload("Overrides").Order("id ASC").Find(&instruments).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch instruments"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": instruments})
}

type instrumentRequest struct {
	Symbol  string        `json:"symbol" binding:"required"`
	Market  models.Market `json:"market" binding:"required"`
	Name    string        `json:"name"`
	Enabled *bool         `json:"enabled"`
}

// CreateInstrument adds a symbol to the watchlist
// POST /api/v1/instruments
func (ic *InstrumentController) CreateInstrument(c *gin.Context) {
	var req instrumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol and market are required"})
		return
	}

	switch req.Market {
	case models.MarketCN, models.MarketHK, models.MarketUS:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "market must be one of CN, HK, US"})
		return
	}

	inst := models.Instrument{
		Symbol:  req.Symbol,
		Market:  req.Market,
		Name:    req.Name,
		Enabled: true,
	}
	if req.Enabled != nil {
		inst.Enabled = *req.Enabled
	}

	if err := ic.db.Create(&inst).Error; err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "Instrument already exists"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": inst})
}

// UpdateInstrument updates name/enabled
// PUT /api/v1/instruments/:id
func (ic *InstrumentController) UpdateInstrument(c *gin.Context) {
	inst, ok := ic.find(c)
	if !ok {
		return
	}

	var req struct {
		Name    *string `json:"name"`
		Enabled *bool   `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Name != nil {
		inst.Name = *req.Name
	}
	if req.Enabled != nil {
		inst.Enabled = *req.Enabled
	}

	if err := ic.db.Save(inst).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update instrument"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": inst})
}

// DeleteInstrument removes a symbol and its overrides
// DELETE /api/v1/instruments/:id
func (ic *InstrumentController) DeleteInstrument(c *gin.Context) {
	inst, ok := ic.find(c)
	if !ok {
		return
	}
	if err := ic.db.Select("Overrides").Delete(inst).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete instrument"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "deleted"})
}

type overrideRequest struct {
	AgentName        string  `json:"agent_name" binding:"required"`
	Schedule         *string `json:"schedule"`
	AIModel          *string `json:"ai_model"`
	NotifyChannelIDs *[]uint `json:"notify_channel_ids"`
}

// PutOverride creates or updates one agent override for an instrument.
// Empty fields inherit the agent default.
// PUT /api/v1/instruments/:id/overrides
func (ic *InstrumentController) PutOverride(c *gin.Context) {
	inst, ok := ic.find(c)
	if !ok {
		return
	}

	var req overrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "agent_name is required"})
		return
	}

	var count int64
	ic.db.Model(&models.AgentDefinition{}).Where("name = ?", req.AgentName).Count(&count)
	if count == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown agent"})
		return
	}

	if req.Schedule != nil && *req.Schedule != "" {
		if err := ic.resolver.Validate(*req.Schedule); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid schedule expression", "detail": err.Error()})
			return
		}
	}

	var override models.InstrumentAgent
	err := ic.db.Where("instrument_id = ? AND agent_name = ?", inst.ID, req.AgentName).
		First(&override).Error
	if err != nil {
		override = models.InstrumentAgent{InstrumentID: inst.ID, AgentName: req.AgentName}
	}

	if req.Schedule != nil {
		override.Schedule = *req.Schedule
	}
	if req.AIModel != nil {
		override.AIModel = *req.AIModel
	}
	if req.NotifyChannelIDs != nil {
		override.NotifyChannelIDs = models.EncodeIDList(*req.NotifyChannelIDs)
	}

	if err := ic.db.Save(&override).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save override"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": override})
}

// DeleteOverride removes one agent override
// DELETE /api/v1/instruments/:id/overrides/:agent
func (ic *InstrumentController) DeleteOverride(c *gin.Context) {
	inst, ok := ic.find(c)
	if !ok {
		return
	}
	res := ic.db.Where("instrument_id = ? AND agent_name = ?", inst.ID, c.Param("agent")).
		Delete(&models.InstrumentAgent{})
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Override not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "deleted"})
}

type positionRequest struct {
	CostPrice    decimal.Decimal `json:"cost_price"`
	Quantity     decimal.Decimal `json:"quantity"`
	TradingStyle string          `json:"trading_style"`
	Note         string          `json:"note"`
}

// PutPosition creates or updates the holding record for an instrument
// PUT /api/v1/instruments/:id/position
func (ic *InstrumentController) PutPosition(c *gin.Context) {
	inst, ok := ic.find(c)
	if !ok {
		return
	}

	var req positionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	var pos models.Position
	if err := ic.db.Where("instrument_id = ?", inst.ID).First(&pos).Error; err != nil {
		pos = models.Position{InstrumentID: inst.ID}
	}
	pos.CostPrice = req.CostPrice
	pos.Quantity = req.Quantity
	pos.TradingStyle = req.TradingStyle
	pos.Note = req.Note

	if err := ic.db.Save(&pos).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save position"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": pos})
}

func (ic *InstrumentController) find(c *gin.Context) (*models.Instrument, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid instrument id"})
		return nil, false
	}
	var inst models.Instrument
	if err := ic.db.First(&inst, id).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Instrument not found"})
		return nil, false
	}
	return &inst, true
}
