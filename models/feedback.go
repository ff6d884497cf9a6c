package models

import (
	"time"

	"gorm.io/gorm"
)

// FeedbackRecord is one usefulness judgment on a suggestion. A repeat vote
// on the same token updates the row instead of stacking. AgentName is
// denormalized at write time so per-agent aggregation does not need a join
// against the suggestion table.
type FeedbackRecord struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	SuggestionToken string    `gorm:"index;type:varchar(36);not null" json:"suggestion_token"`
	AgentName       string    `gorm:"index" json:"agent_name"`
	Useful          bool      `json:"useful"`
	CreatedAt       time.Time `gorm:"index" json:"created_at"`
}

// MigrateFeedbackModels runs database migrations for feedback
func MigrateFeedbackModels(db *gorm.DB) error {
	return db.AutoMigrate(&FeedbackRecord{})
}
