package controllers

import (
	"net/http"
	"strconv"
	"time"

	"stockwatch_backend/models"
	"stockwatch_backend/services/notify"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// ChannelController handles notification channel configuration
type ChannelController struct {
	db     *gorm.DB
	sender notify.Sender
}

// NewChannelController creates a new channel controller
func NewChannelController(db *gorm.DB, sender notify.Sender) *ChannelController {
	return &ChannelController{db: db, sender: sender}
}

// GetChannels returns all configured channels
// GET /api/v1/channels
func (cc *ChannelController) GetChannels(c *gin.Context) {
	var channels []models.NotifyChannel
	if err := cc.db.Order("id ASC").Find(&channels).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch channels"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": channels})
}

type channelRequest struct {
	Name      string             `json:"name" binding:"required"`
	Type      models.ChannelType `json:"type" binding:"required"`
	Config    string             `json:"config"`
	Enabled   *bool              `json:"enabled"`
	IsDefault *bool              `json:"is_default"`
}

// CreateChannel registers a new channel
// POST /api/v1/channels
func (cc *ChannelController) CreateChannel(c *gin.Context) {
	var req channelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name and type are required"})
		return
	}
	if !models.KnownChannelTypes[req.Type] {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown channel type"})
		return
	}

	ch := models.NotifyChannel{
		Name:    req.Name,
		Type:    req.Type,
		Config:  req.Config,
		Enabled: true,
	}
	if req.Enabled != nil {
		ch.Enabled = *req.Enabled
	}
	if req.IsDefault != nil {
		ch.IsDefault = *req.IsDefault
	}

	if err := cc.db.Create(&ch).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create channel"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": ch})
}

// UpdateChannel updates a channel's configuration
// PUT /api/v1/channels/:id
func (cc *ChannelController) UpdateChannel(c *gin.Context) {
	ch, ok := cc.find(c)
	if !ok {
		return
	}

	var req struct {
		Name      *string `json:"name"`
		Config    *string `json:"config"`
		Enabled   *bool   `json:"enabled"`
		IsDefault *bool   `json:"is_default"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Name != nil {
		ch.Name = *req.Name
	}
	if req.Config != nil {
		ch.Config = *req.Config
	}
	if req.Enabled != nil {
		ch.Enabled = *req.Enabled
	}
	if req.IsDefault != nil {
		ch.IsDefault = *req.IsDefault
	}

	if err := cc.db.Save(ch).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update channel"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": ch})
}

// DeleteChannel removes a channel. Agent configs referencing it keep the
// dangling id; channel resolution drops it silently.
// DELETE /api/v1/channels/:id
func (cc *ChannelController) DeleteChannel(c *gin.Context) {
	ch, ok := cc.find(c)
	if !ok {
		return
	}
	if err := cc.db.Delete(ch).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete channel"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "deleted"})
}

// TestChannel sends a test message through the channel's transport
// POST /api/v1/channels/:id/test
func (cc *ChannelController) TestChannel(c *gin.Context) {
	ch, ok := cc.find(c)
	if !ok {
		return
	}

	now := time.Now().Format("2006-01-02 15:04:05")
	if err := cc.sender.Send(c.Request.Context(), ch, "Test Notification", "Channel test at "+now); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "send failed", "detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "sent"})
}

func (cc *ChannelController) find(c *gin.Context) (*models.NotifyChannel, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid channel id"})
		return nil, false
	}
	var ch models.NotifyChannel
	if err := cc.db.First(&ch, id).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Channel not found"})
		return nil, false
	}
	return &ch, true
}
