package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"stockwatch_backend/models"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// DispatchStatus is the per-channel outcome of one dispatch.
type DispatchStatus string

const (
	StatusSent       DispatchStatus = "sent"
	StatusFailed     DispatchStatus = "failed"
	StatusSkipped    DispatchStatus = "skipped"    // channel disabled
	StatusSuppressed DispatchStatus = "suppressed" // quiet hours
)

// DispatchResult records the outcome of delivering to one channel.
type DispatchResult struct {
	ChannelID   uint           `json:"channel_id"`
	ChannelName string         `json:"channel_name"`
	Status      DispatchStatus `json:"status"`
	Attempts    int            `json:"attempts"`
	Error       string         `json:"error,omitempty"`
}

// Dispatcher resolves target channels and delivers messages with retry.
// Delivery failures are recorded, never propagated to the caller's run
// status.
type Dispatcher struct {
	db       *gorm.DB
	sender   Sender
	throttle *Throttle

	attempts    int
	backoffBase time.Duration
	quietHours  string
	now         func() time.Time
}

// NewDispatcher creates a dispatcher. quietHours is "HH:MM-HH:MM" in the
// process timezone, empty disables suppression.
func NewDispatcher(db *gorm.DB, sender Sender, attempts int, quietHours string) *Dispatcher {
	if attempts <= 0 {
		attempts = 3
	}
	return &Dispatcher{
		db:          db,
		sender:      sender,
		throttle:    NewThrottle(db),
		attempts:    attempts,
		backoffBase: time.Second,
		quietHours:  quietHours,
		now:         time.Now,
	}
}

// Throttle exposes the dispatcher's throttle for pre-dispatch checks.
func (d *Dispatcher) Throttle() *Throttle {
	return d.throttle
}

// SetBackoffBase overrides the retry backoff base, for tests.
func (d *Dispatcher) SetBackoffBase(base time.Duration) {
	d.backoffBase = base
}

// SetClock overrides the clock, for tests.
func (d *Dispatcher) SetClock(now func() time.Time) {
	d.now = now
	d.throttle.SetClock(now)
}

// ResolveChannels returns the channels an alert for this (agent, override)
// pair targets: the instrument override's list if non-empty, else the
// agent's list, else all channels flagged default. IDs that point at
// deleted channels are dropped silently.
func (d *Dispatcher) ResolveChannels(agent *models.AgentDefinition, override *models.InstrumentAgent) ([]models.NotifyChannel, error) {
	var ids []uint
	if override != nil {
		ids = override.ChannelIDs()
	}
	if len(ids) == 0 && agent != nil {
		ids = agent.ChannelIDs()
	}

	var channels []models.NotifyChannel
	if len(ids) > 0 {
		if err := d.db.Where("id IN ?", ids).Find(&channels).Error; err != nil {
			return nil, err
		}
		// preserve the configured order
		byID := make(map[uint]models.NotifyChannel, len(channels))
		for _, ch := range channels {
			byID[ch.ID] = ch
		}
		ordered := make([]models.NotifyChannel, 0, len(ids))
		for _, id := range ids {
			if ch, ok := byID[id]; ok {
				ordered = append(ordered, ch)
			}
		}
		return ordered, nil
	}

	err := d.db.Where("is_default = ?", true).Order("id ASC").Find(&channels).Error
	return channels, err
}

// Dispatch delivers title/body to every resolved channel in parallel.
// critical bypasses quiet-hours suppression. Returns one result per
// channel; the call itself only errors on channel resolution failure.
func (d *Dispatcher) Dispatch(ctx context.Context, agent *models.AgentDefinition, override *models.InstrumentAgent, title, body string, critical bool) ([]DispatchResult, error) {
	channels, err := d.ResolveChannels(agent, override)
	if err != nil {
		return nil, fmt.Errorf("channel resolution failed: %w", err)
	}
	if len(channels) == 0 {
		log.Warnf("no notify channels resolved for agent %s", agentName(agent))
		return nil, nil
	}

	if !critical && d.inQuietHours() {
		results := make([]DispatchResult, len(channels))
		for i, ch := range channels {
			results[i] = DispatchResult{
				ChannelID:   ch.ID,
				ChannelName: ch.Name,
				Status:      StatusSuppressed,
			}
		}
		log.Infof("quiet hours: suppressed %d channel(s) for agent %s", len(channels), agentName(agent))
		return results, nil
	}

	results := make([]DispatchResult, len(channels))
	var wg sync.WaitGroup
	for i := range channels {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = d.deliver(ctx, &channels[i], title, body)
		}(i)
	}
	wg.Wait()
	return results, nil
}

// deliver sends to one channel, retrying transient failures with
// exponential backoff.
func (d *Dispatcher) deliver(ctx context.Context, ch *models.NotifyChannel, title, body string) DispatchResult {
	res := DispatchResult{ChannelID: ch.ID, ChannelName: ch.Name}
	if !ch.Enabled {
		res.Status = StatusSkipped
		return res
	}

	var lastErr error
	for attempt := 1; attempt <= d.attempts; attempt++ {
		res.Attempts = attempt
		lastErr = d.sender.Send(ctx, ch, title, body)
		if lastErr == nil {
			res.Status = StatusSent
			return res
		}
		log.Warnf("send attempt %d/%d to %s failed: %v", attempt, d.attempts, ch.Name, lastErr)
		if attempt < d.attempts {
			select {
			case <-time.After(d.backoffBase << (attempt - 1)):
			case <-ctx.Done():
				res.Status = StatusFailed
				res.Error = ctx.Err().Error()
				return res
			}
		}
	}

	res.Status = StatusFailed
	res.Error = lastErr.Error()
	log.Errorf("delivery to %s failed after %d attempts: %v", ch.Name, d.attempts, lastErr)
	return res
}

// inQuietHours reports whether the current local time falls inside the
// configured window. Windows may wrap midnight ("23:00-07:00").
func (d *Dispatcher) inQuietHours() bool {
	start, end, ok := parseQuietHours(d.quietHours)
	if !ok {
		return false
	}
	now := d.now()
	cur := now.Hour()*60 + now.Minute()
	if start <= end {
		return cur >= start && cur < end
	}
	return cur >= start || cur < end
}

// parseQuietHours parses "HH:MM-HH:MM" into minutes-of-day. A malformed or
// empty window disables suppression.
func parseQuietHours(window string) (start, end int, ok bool) {
	parts := strings.SplitN(strings.TrimSpace(window), "-", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	start, ok = parseMinuteOfDay(parts[0])
	if !ok {
		return 0, 0, false
	}
	end, ok = parseMinuteOfDay(parts[1])
	if !ok {
		return 0, 0, false
	}
	if start == end {
		return 0, 0, false
	}
	return start, end, true
}

func parseMinuteOfDay(s string) (int, bool) {
	var h, m int
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d:%d", &h, &m); err != nil {
		return 0, false
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}

func agentName(agent *models.AgentDefinition) string {
	if agent == nil {
		return "?"
	}
	return agent.Name
}
