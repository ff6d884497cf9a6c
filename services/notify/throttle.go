package notify

import (
	"time"

	"stockwatch_backend/models"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Throttle suppresses re-notification of a conceptually-unchanged alert
// within a cooldown window per (agent, instrument). The key is intentionally
// insensitive to suggestion content: rapid oscillation between similar
// suggestions is exactly the noise it suppresses.
type Throttle struct {
	db  *gorm.DB
	now func() time.Time
}

// NewThrottle creates a throttle backed by db.
func NewThrottle(db *gorm.DB) *Throttle {
	return &Throttle{db: db, now: time.Now}
}

// SetClock overrides the clock, for tests.
func (t *Throttle) SetClock(now func() time.Time) {
	t.now = now
}

// ShouldEmit reports whether an alert for the pair may be emitted: true when
// no prior emission exists or the cooldown has elapsed. Read-then-write
// races resolve last-writer-wins; an occasional duplicate is acceptable.
func (t *Throttle) ShouldEmit(agentName, instrumentKey string, cooldown time.Duration) bool {
	var rec models.ThrottleRecord
	err := t.db.Where("agent_name = ? AND instrument_key = ?", agentName, instrumentKey).
		First(&rec).Error
	if err != nil {
		return true
	}
	if t.now().Sub(rec.LastNotifyAt) < cooldown {
		log.Infof("throttled: %s/%s notified within %v", agentName, instrumentKey, cooldown)
		return false
	}
	return true
}

// MarkEmitted records an emission for the pair. The per-day counter resets
// when the calendar day rolls over.
func (t *Throttle) MarkEmitted(agentName, instrumentKey string) error {
	now := t.now()

	var rec models.ThrottleRecord
	err := t.db.Where("agent_name = ? AND instrument_key = ?", agentName, instrumentKey).
		First(&rec).Error
	if err != nil {
		rec = models.ThrottleRecord{
			AgentName:     agentName,
			InstrumentKey: instrumentKey,
			LastNotifyAt:  now,
			NotifyCount:   1,
		}
		return t.db.Create(&rec).Error
	}

	if rec.LastNotifyAt.YearDay() != now.YearDay() || rec.LastNotifyAt.Year() != now.Year() {
		rec.NotifyCount = 1
	} else {
		rec.NotifyCount++
	}
	rec.LastNotifyAt = now
	return t.db.Save(&rec).Error
}
