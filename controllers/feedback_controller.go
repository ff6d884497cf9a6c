package controllers

import (
	"net/http"
	"strconv"

	"stockwatch_backend/services/feedback"

	"github.com/gin-gonic/gin"
)

// FeedbackController records and aggregates suggestion feedback
type FeedbackController struct {
	svc *feedback.Service
}

// NewFeedbackController creates a new feedback controller
func NewFeedbackController(svc *feedback.Service) *FeedbackController {
	return &FeedbackController{svc: svc}
}

type feedbackRequest struct {
	Token  string `json:"token" binding:"required"`
	Useful *bool  `json:"useful" binding:"required"`
}

// PostFeedback records one usefulness vote for a suggestion
// POST /api/v1/feedback
func (fc *FeedbackController) PostFeedback(c *gin.Context) {
	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token and useful are required"})
		return
	}

	rec, err := fc.svc.Record(req.Token, *req.Useful)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rec})
}

// GetStats returns feedback aggregates over a trailing window
// GET /api/v1/feedback/stats
func (fc *FeedbackController) GetStats(c *gin.Context) {
	days, _ := strconv.Atoi(c.DefaultQuery("days", "30"))
	stats, err := fc.svc.Aggregate(days)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to aggregate feedback"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": stats})
}
