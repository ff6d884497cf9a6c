package controllers

import (
	"net/http"
	"strconv"

	"stockwatch_backend/services/suggestions"

	"github.com/gin-gonic/gin"
)

// SuggestionController exposes the suggestion pool
type SuggestionController struct {
	pool *suggestions.Pool
}

// NewSuggestionController creates a new suggestion controller
func NewSuggestionController(pool *suggestions.Pool) *SuggestionController {
	return &SuggestionController{pool: pool}
}

// GetLatest returns the newest live suggestion per instrument
// GET /api/v1/suggestions/latest
func (sc *SuggestionController) GetLatest(c *gin.Context) {
	includeExpired := c.Query("include_expired") == "true"
	latest, err := sc.pool.Latest(includeExpired)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch suggestions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": latest})
}

// GetForInstrument returns recent suggestions for one instrument
// GET /api/v1/suggestions/:key
func (sc *SuggestionController) GetForInstrument(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))
	includeExpired := c.Query("include_expired") == "true"

	rows, err := sc.pool.ListForInstrument(c.Param("key"), includeExpired, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch suggestions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rows})
}
