package controllers

import (
	"net/http"

	"stockwatch_backend/models"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// SettingController handles the small runtime-tunable settings
type SettingController struct {
	db *gorm.DB
}

// NewSettingController creates a new setting controller
func NewSettingController(db *gorm.DB) *SettingController {
	return &SettingController{db: db}
}

// GetSettings returns all settings
// GET /api/v1/settings
func (sc *SettingController) GetSettings(c *gin.Context) {
	var rows []models.AppSetting
	if err := sc.db.Order("key ASC").Find(&rows).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch settings"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rows})
}

// PutSetting upserts one setting
// PUT /api/v1/settings/:key
func (sc *SettingController) PutSetting(c *gin.Context) {
	var req struct {
		Value string `json:"value"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	key := c.Param("key")
	if err := models.PutSetting(sc.db, key, req.Value); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save setting"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key, "value": req.Value})
}
