package models

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

// ExecutionMode controls how an agent processes its instrument set
type ExecutionMode string

const (
	ModeBatch  ExecutionMode = "batch"  // one invocation for all instruments
	ModeSingle ExecutionMode = "single" // one invocation per instrument
)

// AgentDefinition is a named, independently schedulable analysis routine.
// Created at bootstrap via SeedDefaultAgents, mutated through the API.
type AgentDefinition struct {
	ID               uint          `gorm:"primaryKey" json:"id"`
	Name             string        `gorm:"uniqueIndex;not null" json:"name"`
	DisplayName      string        `gorm:"not null" json:"display_name"`
	Description      string        `json:"description"`
	Enabled          bool          `gorm:"default:true" json:"enabled"`
	Schedule         string        `json:"schedule"` // cron expression or "interval:5m"
	ExecutionMode    ExecutionMode `gorm:"type:varchar(10);default:'batch'" json:"execution_mode"`
	AIModel          string        `json:"ai_model"`           // empty = system default
	NotifyChannelIDs string        `json:"notify_channel_ids"` // JSON array of channel ids
	Options          string        `json:"options"`            // JSON map of agent-specific options
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// AgentOptions are the agent-specific knobs interpreted by the executor.
type AgentOptions struct {
	ThrottleMinutes     int     `json:"throttle_minutes"`
	PriceAlertThreshold float64 `json:"price_alert_threshold"`
	VolumeAlertRatio    float64 `json:"volume_alert_ratio"`
	StopLossWarning     float64 `json:"stop_loss_warning"`
	TakeProfitWarning   float64 `json:"take_profit_warning"`
	ExpiresHours        int     `json:"expires_hours"`
	Critical            bool    `json:"critical"` // exempt from quiet hours
}

// DefaultAgentOptions mirror the thresholds the seeded agents start with.
func DefaultAgentOptions() AgentOptions {
	return AgentOptions{
		ThrottleMinutes:     30,
		PriceAlertThreshold: 3.0,
		VolumeAlertRatio:    2.0,
		StopLossWarning:     -5.0,
		TakeProfitWarning:   10.0,
		ExpiresHours:        8,
	}
}

// ParsedOptions decodes the Options JSON, filling defaults for zero values.
func (a *AgentDefinition) ParsedOptions() AgentOptions {
	opts := DefaultAgentOptions()
	if a.Options != "" {
		_ = json.Unmarshal([]byte(a.Options), &opts)
	}
	if opts.ThrottleMinutes <= 0 {
		opts.ThrottleMinutes = 30
	}
	if opts.ExpiresHours <= 0 {
		opts.ExpiresHours = 8
	}
	return opts
}

// ChannelIDs decodes the notify channel id list. Empty means "use default".
func (a *AgentDefinition) ChannelIDs() []uint {
	return decodeIDList(a.NotifyChannelIDs)
}

func decodeIDList(raw string) []uint {
	if raw == "" {
		return nil
	}
	var ids []uint
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil
	}
	return ids
}

// EncodeIDList serializes a channel id list for storage.
func EncodeIDList(ids []uint) string {
	if ids == nil {
		return ""
	}
	b, _ := json.Marshal(ids)
	return string(b)
}

// MigrateAgentModels runs database migrations for agent models
func MigrateAgentModels(db *gorm.DB) error {
	return db.AutoMigrate(&AgentDefinition{})
}

// SeedDefaultAgents registers the built-in agents if they do not exist yet.
// Existing rows are left untouched so user edits survive restarts.
func SeedDefaultAgents(db *gorm.DB) error {
	defaults := []AgentDefinition{
		{
			Name:          "daily_report",
			DisplayName:   "Daily Report",
			Description:   "Post-close portfolio review for all watched instruments",
			Enabled:       true,
			Schedule:      "30 15 * * 1-5",
			ExecutionMode: ModeBatch,
		},
		{
			Name:          "premarket_outlook",
			DisplayName:   "Premarket Outlook",
			Description:   "Pre-open briefing with overnight context",
			Enabled:       true,
			Schedule:      "0 9 * * 1-5",
			ExecutionMode: ModeBatch,
		},
		{
			Name:          "intraday_monitor",
			DisplayName:   "Intraday Monitor",
			Description:   "Trading-hours monitor, alerts on notable signals per instrument",
			Enabled:       true,
			Schedule:      "*/5 9-15 * * 1-5",
			ExecutionMode: ModeSingle,
		},
		{
			Name:          "news_digest",
			DisplayName:   "News Digest",
			Description:   "Periodic digest of recent news for watched instruments",
			Enabled:       true,
			Schedule:      "0 8,12,19 * * *",
			ExecutionMode: ModeBatch,
		},
	}

	for _, agent := range defaults {
		var count int64
		if err := db.Model(&AgentDefinition{}).Where("name = ?", agent.Name).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			continue
		}
		if err := db.Create(&agent).Error; err != nil {
			return err
		}
	}
	return nil
}
