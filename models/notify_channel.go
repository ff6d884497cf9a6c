package models

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

// ChannelType is the fixed set of supported notification transports
type ChannelType string

const (
	ChannelTelegram   ChannelType = "telegram"   // bot_token + chat_id
	ChannelWecom      ChannelType = "wecom"      // webhook_key
	ChannelBark       ChannelType = "bark"       // device_key + server_url
	ChannelServerChan ChannelType = "serverchan" // sendkey
)

// KnownChannelTypes lists the accepted channel types for validation.
var KnownChannelTypes = map[ChannelType]bool{
	ChannelTelegram:   true,
	ChannelWecom:      true,
	ChannelBark:       true,
	ChannelServerChan: true,
}

// NotifyChannel is a configured notification endpoint. Agents reference
// channels by id; a dangling reference falls back to the default channel
// set rather than failing.
type NotifyChannel struct {
	ID        uint        `gorm:"primaryKey" json:"id"`
	Name      string      `gorm:"not null" json:"name"`
	Type      ChannelType `gorm:"type:varchar(20);not null" json:"type"`
	Config    string      `json:"config"` // JSON: secrets + addressing, never echoed into suggestions
	Enabled   bool        `gorm:"default:true" json:"enabled"`
	IsDefault bool        `gorm:"default:false" json:"is_default"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// ParsedConfig decodes the per-type transport configuration.
func (c *NotifyChannel) ParsedConfig() map[string]string {
	cfg := map[string]string{}
	if c.Config != "" {
		_ = json.Unmarshal([]byte(c.Config), &cfg)
	}
	return cfg
}

// ThrottleRecord tracks the last emitted alert per (agent, instrument).
// Races on the read-then-write path are resolved last-writer-wins.
type ThrottleRecord struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	AgentName     string    `gorm:"index:idx_throttle_key,unique;not null" json:"agent_name"`
	InstrumentKey string    `gorm:"index:idx_throttle_key,unique;not null" json:"instrument_key"`
	LastNotifyAt  time.Time `gorm:"not null" json:"last_notify_at"`
	NotifyCount   int       `gorm:"default:1" json:"notify_count"` // per-day counter
}

// MigrateNotifyModels runs database migrations for notification models
func MigrateNotifyModels(db *gorm.DB) error {
	return db.AutoMigrate(&NotifyChannel{}, &ThrottleRecord{})
}
