package models

import (
	"time"

	"gorm.io/gorm"
)

// SuggestionAction is the normalized action an agent can recommend
type SuggestionAction string

const (
	ActionBuy    SuggestionAction = "buy"
	ActionAdd    SuggestionAction = "add"
	ActionReduce SuggestionAction = "reduce"
	ActionSell   SuggestionAction = "sell"
	ActionHold   SuggestionAction = "hold"
	ActionWatch  SuggestionAction = "watch"
	ActionAlert  SuggestionAction = "alert"
	ActionAvoid  SuggestionAction = "avoid"
)

// AlertActions are the actions that set ShouldAlert on a parsed suggestion.
var AlertActions = map[SuggestionAction]bool{
	ActionBuy:    true,
	ActionAdd:    true,
	ActionReduce: true,
	ActionSell:   true,
	ActionAlert:  true,
	ActionAvoid:  true,
}

// Suggestion is an actionable recommendation produced by a successful run.
// Read-only after creation; expiry is computed at read time via IsExpired.
type Suggestion struct {
	ID            uint             `gorm:"primaryKey" json:"id"`
	Token         string           `gorm:"uniqueIndex;type:varchar(36)" json:"token"` // uuid, referenced by feedback
	InstrumentKey string           `gorm:"index:idx_sugg_instr" json:"instrument_key"`
	Name          string           `json:"name"` // instrument display name
	Action        SuggestionAction `gorm:"type:varchar(10)" json:"action"`
	ActionLabel   string           `json:"action_label"`
	Signal        string           `json:"signal"`
	Reason        string           `json:"reason"`
	ShouldAlert   bool             `json:"should_alert"`
	AgentName     string           `gorm:"index:idx_sugg_instr" json:"agent_name"`
	AgentLabel    string           `json:"agent_label"`
	ExpiresAt     *time.Time       `json:"expires_at"`
	PromptContext string           `json:"prompt_context,omitempty"`
	AIResponse    string           `json:"ai_response,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
}

// IsExpired reports whether the suggestion's expiry condition has been met.
func (s *Suggestion) IsExpired(now time.Time) bool {
	return s.ExpiresAt != nil && s.ExpiresAt.Before(now)
}

// MigrateSuggestionModels runs database migrations for suggestions
func MigrateSuggestionModels(db *gorm.DB) error {
	return db.AutoMigrate(&Suggestion{})
}
