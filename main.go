package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"stockwatch_backend/config"
	"stockwatch_backend/models"
	"stockwatch_backend/routes"
	"stockwatch_backend/scheduler"
	"stockwatch_backend/services/aiclient"
	"stockwatch_backend/services/executor"
	"stockwatch_backend/services/marketdata"
	"stockwatch_backend/services/notify"
	"stockwatch_backend/services/stream"
	"stockwatch_backend/services/suggestions"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// dbInitialized tracks whether the database has been initialized, so the
// /ready probe can report readiness while init runs in the background.
var dbInitialized bool
var dbInitMutex sync.RWMutex

func main() {
	log.Println("==============================================")
	log.Println("  StockWatch Backend - Starting...")
	log.Println("==============================================")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Warnf("Config load issue: %v", err)
	}

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
		log.SetLevel(log.InfoLevel)
	} else {
		log.SetLevel(log.DebugLevel)
	}
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(requestLogger())

	// Health endpoints come up first; the database initializes in background
	setupHealthEndpoints(router)

	server := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}

	go func() {
		log.Infof("Server listening on 0.0.0.0:%s", cfg.Port)
		log.Println("==============================================")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	var jobScheduler *scheduler.Scheduler
	go func() {
		db, err := config.InitDB()
		if err != nil {
			log.Errorf("Database connection failed: %v", err)
			log.Println("Service will continue in limited mode (health check only)")
			return
		}

		log.Println("Running database migrations...")
		if err := runMigrations(db); err != nil {
			log.Errorf("Migration failed: %v", err)
			return
		}

		if err := models.SeedDefaultAgents(db); err != nil {
			log.Warnf("Could not seed default agents: %v", err)
		}
		if err := models.SeedDefaultAdminUser(db, cfg.AdminPassword); err != nil {
			log.Warnf("Could not seed admin user: %v", err)
		}

		// Wire services
		resolver := scheduler.NewResolver(config.Location)
		locks := scheduler.NewRunLockManager(db)
		hub := stream.NewHub()
		locks.SetPublisher(hub)

		ai := aiclient.New(cfg.AIBaseURL, cfg.AIAPIKey, cfg.AIModel)
		market := marketdata.NewTencentProvider()
		pool := suggestions.NewPool(db)
		exec := executor.New(db, ai, market, pool)

		sender := notify.NewHTTPSender()
		dispatcher := notify.NewDispatcher(db, sender, cfg.DispatchAttempts, cfg.QuietHours)

		jobScheduler = scheduler.New(db, resolver, locks, exec, dispatcher, pool,
			time.Duration(cfg.TickInterval)*time.Second)

		dbInitMutex.Lock()
		dbInitialized = true
		dbInitMutex.Unlock()

		routes.SetupRoutes(router, routes.Deps{
			DB:        db,
			Scheduler: jobScheduler,
			Resolver:  resolver,
			Pool:      pool,
			Hub:       hub,
			Sender:    sender,
		})

		if err := jobScheduler.Start(); err != nil {
			log.Errorf("Scheduler failed to start: %v", err)
			return
		}

		log.Println("Application fully initialized with database")
	}()

	gracefulShutdown(server, &jobScheduler)
}

// runMigrations runs all database migrations
func runMigrations(db *gorm.DB) error {
	if err := models.MigrateAgentModels(db); err != nil {
		return err
	}
	if err := models.MigrateInstrumentModels(db); err != nil {
		return err
	}
	if err := models.MigrateRunModels(db); err != nil {
		return err
	}
	if err := models.MigrateSuggestionModels(db); err != nil {
		return err
	}
	if err := models.MigrateNotifyModels(db); err != nil {
		return err
	}
	if err := models.MigrateFeedbackModels(db); err != nil {
		return err
	}
	if err := models.MigratePositionModels(db); err != nil {
		return err
	}
	if err := models.MigrateSettingModels(db); err != nil {
		return err
	}
	return models.MigrateAdminModels(db)
}

// setupHealthEndpoints sets up liveness/readiness probes
func setupHealthEndpoints(router *gin.Engine) {
	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"message": "StockWatch Backend API",
			"version": "1.0.0",
		})
	})

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/ready", func(c *gin.Context) {
		dbInitMutex.RLock()
		isDBReady := dbInitialized
		dbInitMutex.RUnlock()

		if !isDBReady {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "not_ready",
				"message": "Database not connected",
			})
			return
		}

		sqlDB, err := config.DB.DB()
		if err != nil || sqlDB.Ping() != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "not_ready",
				"message": "Database connection error",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
}

// corsMiddleware returns a CORS middleware handler
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// requestLogger returns a request logging middleware
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Skip logging for health checks to reduce noise
		path := c.Request.URL.Path
		if path == "/health" || path == "/ready" {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		log.Infof("%s %s %d %s", c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}

// gracefulShutdown waits for SIGINT/SIGTERM, stops the scheduler and drains
// the HTTP server.
func gracefulShutdown(server *http.Server, jobScheduler **scheduler.Scheduler) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	if s := *jobScheduler; s != nil {
		s.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Errorf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
