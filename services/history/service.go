package history

import (
	"time"

	"stockwatch_backend/models"
	"stockwatch_backend/scheduler"

	"gorm.io/gorm"
)

// Service queries run records and computes the scheduling health snapshot.
type Service struct {
	db       *gorm.DB
	resolver *scheduler.Resolver
}

// New creates a history service.
func New(db *gorm.DB, resolver *scheduler.Resolver) *Service {
	return &Service{db: db, resolver: resolver}
}

// Filter narrows a run history query.
type Filter struct {
	AgentName     string
	InstrumentKey string
	Status        string
	Limit         int
}

// List returns run records matching the filter, newest first.
func (s *Service) List(f Filter) ([]models.RunRecord, error) {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 50
	}
	q := s.db.Model(&models.RunRecord{})
	if f.AgentName != "" {
		q = q.Where("agent_name = ?", f.AgentName)
	}
	if f.InstrumentKey != "" {
		q = q.Where("instrument_key = ?", f.InstrumentKey)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	var rows []models.RunRecord
	err := q.Order("started_at DESC").Limit(f.Limit).Find(&rows).Error
	return rows, err
}

// AgentHealth summarizes one agent's recent behavior.
type AgentHealth struct {
	AgentName    string     `json:"agent_name"`
	Enabled      bool       `json:"enabled"`
	Schedule     string     `json:"schedule"`
	LastRunAt    *time.Time `json:"last_run_at,omitempty"`
	LastStatus   string     `json:"last_status,omitempty"`
	RunsNext24h  int        `json:"runs_next_24h"`
	Failures24h  int64      `json:"failures_24h"`
	Successes24h int64      `json:"successes_24h"`
}

// Snapshot is the scheduler-wide health view.
type Snapshot struct {
	Timezone    string        `json:"timezone"`
	Now         time.Time     `json:"now"`
	Agents      []AgentHealth `json:"agents"`
	RunsNext24h int           `json:"runs_next_24h"`
	Failures24h int64         `json:"failures_24h"`
}

// Health computes the snapshot: per-agent last run, expected fire count in
// the next 24h (counting per-instrument overrides for single-mode agents),
// and failure counts over the trailing 24h.
func (s *Service) Health() (*Snapshot, error) {
	now := time.Now().In(s.resolver.Location())
	dayAgo := now.Add(-24 * time.Hour)

	var agents []models.AgentDefinition
	if err := s.db.Order("id ASC").Find(&agents).Error; err != nil {
		return nil, err
	}

	snap := &Snapshot{
		Timezone: s.resolver.Location().String(),
		Now:      now,
	}

	for i := range agents {
		agent := &agents[i]
		h := AgentHealth{
			AgentName: agent.Name,
			Enabled:   agent.Enabled,
			Schedule:  agent.Schedule,
		}

		var last models.RunRecord
		if err := s.db.Where("agent_name = ?", agent.Name).
			Order("started_at DESC").First(&last).Error; err == nil {
			h.LastRunAt = &last.StartedAt
			h.LastStatus = string(last.Status)
		}

		s.db.Model(&models.RunRecord{}).
			Where("agent_name = ? AND status = ? AND started_at > ?", agent.Name, models.RunFailed, dayAgo).
			Count(&h.Failures24h)
		s.db.Model(&models.RunRecord{}).
			Where("agent_name = ? AND status = ? AND started_at > ?", agent.Name, models.RunSuccess, dayAgo).
			Count(&h.Successes24h)

		if agent.Enabled {
			h.RunsNext24h = s.expectedRuns(agent, now)
		}

		snap.Agents = append(snap.Agents, h)
		snap.RunsNext24h += h.RunsNext24h
		snap.Failures24h += h.Failures24h
	}
	return snap, nil
}

// expectedRuns counts the agent's fire times over the next 24 hours. For
// single-mode agents each instrument fires on its own effective schedule,
// so override schedules are counted separately from the default group.
func (s *Service) expectedRuns(agent *models.AgentDefinition, now time.Time) int {
	const window = 24 * time.Hour

	if agent.ExecutionMode == models.ModeBatch {
		expr, _ := scheduler.EffectiveSchedule(agent, nil)
		return s.resolver.CountRunsWithin(expr, now, window)
	}

	var instruments []models.Instrument
	if err := s.db.Where("enabled = ?", true).Find(&instruments).Error; err != nil {
		return 0
	}

	var overrides []models.InstrumentAgent
	s.db.Where("agent_name = ?", agent.Name).Find(&overrides)
	overrideByInst := make(map[uint]*models.InstrumentAgent, len(overrides))
	for i := range overrides {
		overrideByInst[overrides[i].InstrumentID] = &overrides[i]
	}

	total := 0
	for i := range instruments {
		expr, _ := scheduler.EffectiveSchedule(agent, overrideByInst[instruments[i].ID])
		total += s.resolver.CountRunsWithin(expr, now, window)
	}
	return total
}
