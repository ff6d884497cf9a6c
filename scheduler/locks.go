package scheduler

import (
	"errors"
	"sync"
	"time"

	"stockwatch_backend/models"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ErrBusy is returned when a claim is attempted while a run for the same
// (agent, instrument) key is in flight. Callers skip the tick or surface
// the busy signal; nothing is queued.
var ErrBusy = errors.New("run already in flight for this agent/instrument")

// RunPublisher receives finalized run records (websocket hub). Optional.
type RunPublisher interface {
	PublishRun(rec *models.RunRecord)
}

// RunLockManager guarantees at most one in-flight execution per
// (agent, instrument) key. Scheduled ticks and manual triggers go through
// the same claim/release path, so they cannot race on the same key.
type RunLockManager struct {
	db        *gorm.DB
	publisher RunPublisher

	mu      sync.Mutex
	running map[string]uint // lock key -> run record id
}

// NewRunLockManager creates a lock manager writing run records to db.
func NewRunLockManager(db *gorm.DB) *RunLockManager {
	return &RunLockManager{
		db:      db,
		running: make(map[string]uint),
	}
}

// SetPublisher attaches a publisher notified on every finalized run.
func (m *RunLockManager) SetPublisher(p RunPublisher) {
	m.publisher = p
}

func lockKey(agentName, instrumentKey string) string {
	return agentName + "|" + instrumentKey
}

// TryClaim marks the (agent, instrument) pair running and creates its
// RunRecord. Returns ErrBusy without side effects when the pair is already
// in flight. instrumentKey is empty for batch-wide runs.
func (m *RunLockManager) TryClaim(agentName, instrumentKey, trigger string) (*models.RunRecord, error) {
	key := lockKey(agentName, instrumentKey)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, inFlight := m.running[key]; inFlight {
		return nil, ErrBusy
	}

	rec := &models.RunRecord{
		AgentName:     agentName,
		InstrumentKey: instrumentKey,
		Status:        models.RunRunning,
		Trigger:       trigger,
		StartedAt:     time.Now(),
	}
	if err := m.db.Create(rec).Error; err != nil {
		return nil, err
	}
	m.running[key] = rec.ID
	return rec, nil
}

// Running reports whether the pair is currently claimed.
func (m *RunLockManager) Running(agentName, instrumentKey string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.running[lockKey(agentName, instrumentKey)]
	return ok
}

// UpdateResult replaces the in-flight record's result text. Used by the
// enrichment pass to overwrite the cheap pass's result before finalization.
// A no-op once the record has been finalized.
func (m *RunLockManager) UpdateResult(rec *models.RunRecord, result string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.running[lockKey(rec.AgentName, rec.InstrumentKey)]; !ok || id != rec.ID {
		return
	}
	rec.Result = result
	m.db.Model(&models.RunRecord{}).
		Where("id = ? AND status = ?", rec.ID, models.RunRunning).
		Update("result", result)
}

// Release finalizes the claimed run exactly once and frees the key.
// errText empty finalizes to success, otherwise failed.
func (m *RunLockManager) Release(rec *models.RunRecord, result, errText string) {
	m.mu.Lock()
	key := lockKey(rec.AgentName, rec.InstrumentKey)
	id, claimed := m.running[key]
	if claimed && id == rec.ID {
		delete(m.running, key)
	}
	m.mu.Unlock()

	if !claimed || id != rec.ID {
		log.Warnf("release without claim: %s", key)
		return
	}

	status := models.RunSuccess
	if errText != "" {
		status = models.RunFailed
	}
	rec.Status = status
	if result != "" {
		rec.Result = result
	}
	rec.Error = errText
	rec.DurationMs = time.Since(rec.StartedAt).Milliseconds()

	if err := m.db.Model(&models.RunRecord{}).
		Where("id = ? AND status = ?", rec.ID, models.RunRunning).
		Updates(map[string]interface{}{
			"status":      rec.Status,
			"result":      rec.Result,
			"error":       rec.Error,
			"duration_ms": rec.DurationMs,
		}).Error; err != nil {
		log.Errorf("failed to finalize run %d: %v", rec.ID, err)
	}

	if m.publisher != nil {
		m.publisher.PublishRun(rec)
	}
}
