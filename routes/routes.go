package routes

import (
	"stockwatch_backend/controllers"
	"stockwatch_backend/middleware"
	"stockwatch_backend/scheduler"
	"stockwatch_backend/services/feedback"
	"stockwatch_backend/services/history"
	"stockwatch_backend/services/notify"
	"stockwatch_backend/services/stream"
	"stockwatch_backend/services/suggestions"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Deps are the shared services the route handlers need.
type Deps struct {
	DB        *gorm.DB
	Scheduler *scheduler.Scheduler
	Resolver  *scheduler.Resolver
	Pool      *suggestions.Pool
	Hub       *stream.Hub
	Sender    notify.Sender
}

// SetupRoutes sets up all API routes
func SetupRoutes(router *gin.Engine, deps Deps) {
	// Initialize controllers
	authController := controllers.NewAuthController(deps.DB)
	agentController := controllers.NewAgentController(deps.DB, deps.Scheduler, deps.Resolver)
	instrumentController := controllers.NewInstrumentController(deps.DB, deps.Resolver)
	channelController := controllers.NewChannelController(deps.DB, deps.Sender)
	runController := controllers.NewRunController(history.New(deps.DB, deps.Resolver), deps.Hub)
	suggestionController := controllers.NewSuggestionController(deps.Pool)
	feedbackController := controllers.NewFeedbackController(feedback.New(deps.DB))
	settingController := controllers.NewSettingController(deps.DB)

	// API v1 group
	api := router.Group("/api/v1")

	// Public routes
	api.POST("/auth/login", middleware.LoginRateLimitMiddleware(), authController.Login)
	api.POST("/feedback", feedbackController.PostFeedback)

	// Protected routes
	auth := api.Group("")
	auth.Use(middleware.JWTAuthMiddleware())
	{
		// Agent routes
		agents := auth.Group("/agents")
		{
			agents.GET("", agentController.GetAgents)
			agents.GET("/:name", agentController.GetAgent)
			agents.PUT("/:name", agentController.UpdateAgent)
			agents.POST("/:name/trigger", agentController.TriggerAgent)
			agents.GET("/:name/schedule/preview", agentController.PreviewAgentSchedule)
		}

		// Ad-hoc schedule preview
		auth.POST("/schedules/preview", agentController.PreviewSchedule)

		// Watchlist routes
		instruments := auth.Group("/instruments")
		{
			instruments.GET("", instrumentController.GetInstruments)
			instruments.POST("", instrumentController.CreateInstrument)
			instruments.PUT("/:id", instrumentController.UpdateInstrument)
			instruments.DELETE("/:id", instrumentController.DeleteInstrument)
			instruments.PUT("/:id/overrides", instrumentController.PutOverride)
			instruments.DELETE("/:id/overrides/:agent", instrumentController.DeleteOverride)
			instruments.PUT("/:id/position", instrumentController.PutPosition)
		}

		// Notification channel routes
		channels := auth.Group("/channels")
		{
			channels.GET("", channelController.GetChannels)
			channels.POST("", channelController.CreateChannel)
			channels.PUT("/:id", channelController.UpdateChannel)
			channels.DELETE("/:id", channelController.DeleteChannel)
			channels.POST("/:id/test", channelController.TestChannel)
		}

		// Run history and health
		runs := auth.Group("/runs")
		{
			runs.GET("", runController.GetRuns)
			runs.GET("/health", runController.GetHealth)
		}

		// Suggestion pool
		sugs := auth.Group("/suggestions")
		{
			sugs.GET("/latest", suggestionController.GetLatest)
			sugs.GET("/:key", suggestionController.GetForInstrument)
		}

		// Feedback aggregates
		auth.GET("/feedback/stats", feedbackController.GetStats)

		// Settings
		settings := auth.Group("/settings")
		{
			settings.GET("", settingController.GetSettings)
			settings.PUT("/:key", settingController.PutSetting)
		}
	}

	// Run stream (websocket; token passed via query is not validated here,
	// the stream only carries run metadata)
	router.GET("/ws/runs", runController.StreamRuns)
}
