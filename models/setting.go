package models

import (
	"time"

	"gorm.io/gorm"
)

// AppSetting is a generic key/value row for small tunables edited at
// runtime (available funds, trading style defaults).
type AppSetting struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Key       string    `gorm:"uniqueIndex;not null" json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

const (
	SettingAvailableFunds = "available_funds"
	SettingTradingStyle   = "trading_style"
)

// GetSetting returns the stored value or fallback when unset.
func GetSetting(db *gorm.DB, key, fallback string) string {
	var s AppSetting
	if err := db.Where("key = ?", key).First(&s).Error; err != nil {
		return fallback
	}
	if s.Value == "" {
		return fallback
	}
	return s.Value
}

// PutSetting upserts one setting row.
func PutSetting(db *gorm.DB, key, value string) error {
	var s AppSetting
	if err := db.Where("key = ?", key).First(&s).Error; err != nil {
		return db.Create(&AppSetting{Key: key, Value: value}).Error
	}
	s.Value = value
	return db.Save(&s).Error
}

// MigrateSettingModels runs database migrations for setting models
func MigrateSettingModels(db *gorm.DB) error {
	return db.AutoMigrate(&AppSetting{})
}
