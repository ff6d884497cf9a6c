package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Config struct {
	Port        string
	Environment string

	// Database: sqlite by default, postgres when DB_DRIVER=postgres
	DBDriver   string
	DBPath     string
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	JWTSecret     string
	AdminPassword string

	// AI inference provider (OpenAI protocol compatible)
	AIBaseURL string
	AIAPIKey  string
	AIModel   string

	// Scheduling
	Timezone     string
	TickInterval int // seconds between scheduler ticks

	// Notification dispatch
	QuietHours       string // "23:00-07:00", empty disables
	DispatchAttempts int
}

var AppConfig *Config
var DB *gorm.DB

// Location is the process-wide timezone used for all schedule computation.
var Location *time.Location

// LoadConfig loads environment variables
func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Info("No .env file found, using environment variables")
	}

	config := &Config{
		Port:             getEnv("PORT", "8080"),
		Environment:      getEnv("ENVIRONMENT", "development"),
		DBDriver:         getEnv("DB_DRIVER", "sqlite"),
		DBPath:           getEnv("DB_PATH", "data/stockwatch.db"),
		DBHost:           getEnv("DB_HOST", "localhost"),
		DBPort:           getEnv("DB_PORT", "5432"),
		DBUser:           getEnv("DB_USER", "postgres"),
		DBPassword:       getEnv("DB_PASSWORD", ""),
		DBName:           getEnv("DB_NAME", "stockwatch"),
		JWTSecret:        getEnv("JWT_SECRET", "change-me"),
		AdminPassword:    getEnv("ADMIN_PASSWORD", ""),
		AIBaseURL:        getEnv("AI_BASE_URL", "https://open.bigmodel.cn/api/paas/v4"),
		AIAPIKey:         getEnv("AI_API_KEY", ""),
		AIModel:          getEnv("AI_MODEL", "glm-4"),
		Timezone:         getEnv("APP_TIMEZONE", "Asia/Shanghai"),
		TickInterval:     getEnvInt("TICK_INTERVAL", 60),
		QuietHours:       getEnv("QUIET_HOURS", "23:00-07:00"),
		DispatchAttempts: getEnvInt("DISPATCH_ATTEMPTS", 3),
	}

	loc, err := time.LoadLocation(config.Timezone)
	if err != nil {
		log.Warnf("Invalid APP_TIMEZONE %q, falling back to UTC: %v", config.Timezone, err)
		loc = time.UTC
		config.Timezone = "UTC"
	}
	Location = loc

	AppConfig = config
	return config, nil
}

// InitDB initializes the database connection
func InitDB() (*gorm.DB, error) {
	var logLevel logger.LogLevel
	if AppConfig.Environment == "production" {
		logLevel = logger.Error
	} else {
		logLevel = logger.Warn
	}
	gormCfg := &gorm.Config{Logger: logger.Default.LogMode(logLevel)}

	var db *gorm.DB
	var err error

	switch AppConfig.DBDriver {
	case "postgres":
		dsn := fmt.Sprintf(
			"host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=%s",
			AppConfig.DBHost,
			AppConfig.DBUser,
			AppConfig.DBPassword,
			AppConfig.DBName,
			AppConfig.DBPort,
			AppConfig.Timezone,
		)
		log.Infof("Connecting to postgres: host=%s dbname=%s", AppConfig.DBHost, AppConfig.DBName)
		db, err = gorm.Open(postgres.Open(dsn), gormCfg)
	default:
		log.Infof("Opening sqlite database: %s", AppConfig.DBPath)
		db, err = gorm.Open(sqlite.Open(AppConfig.DBPath), gormCfg)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	DB = db
	return db, nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}
