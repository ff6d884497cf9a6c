package models

import (
	"time"

	"gorm.io/gorm"
)

// RunStatus is the lifecycle of a run attempt
type RunStatus string

const (
	RunPending RunStatus = "pending"
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunFailed  RunStatus = "failed"
)

// RunRecord is one run attempt of an agent, optionally scoped to a single
// instrument. Batch-wide runs leave InstrumentKey empty. The record is
// created when execution starts and finalized exactly once; it is never
// mutated after finalization. The run lock manager is the only writer.
type RunRecord struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	AgentName     string    `gorm:"index:idx_run_agent;not null" json:"agent_name"`
	InstrumentKey string    `gorm:"index:idx_run_instrument" json:"instrument_key"` // "SYMBOL.MARKET", empty for batch-wide
	Status        RunStatus `gorm:"type:varchar(10);index" json:"status"`
	Trigger       string    `gorm:"type:varchar(10)" json:"trigger"` // "schedule" or "manual"
	StartedAt     time.Time `json:"started_at"`
	DurationMs    int64     `json:"duration_ms"`
	Result        string    `json:"result"`
	Error         string    `json:"error"`
	CreatedAt     time.Time `json:"created_at"`
}

// MigrateRunModels runs database migrations for run history
func MigrateRunModels(db *gorm.DB) error {
	return db.AutoMigrate(&RunRecord{})
}
