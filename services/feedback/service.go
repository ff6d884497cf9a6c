package feedback

import (
	"fmt"
	"time"

	"stockwatch_backend/models"

	"gorm.io/gorm"
)

// Service records and aggregates per-suggestion usefulness feedback.
type Service struct {
	db *gorm.DB
}

// New creates a feedback service.
func New(db *gorm.DB) *Service {
	return &Service{db: db}
}

// Record stores one feedback vote for the suggestion behind token. The
// agent name is denormalized onto the record so aggregation survives
// suggestion cleanup. Repeat votes on the same token update the existing
// record instead of stacking.
func (s *Service) Record(token string, useful bool) (*models.FeedbackRecord, error) {
	var sug models.Suggestion
	if err := s.db.Where("token = ?", token).First(&sug).Error; err != nil {
		return nil, fmt.Errorf("unknown suggestion token")
	}

	var rec models.FeedbackRecord
	err := s.db.Where("suggestion_token = ?", token).First(&rec).Error
	if err != nil {
		rec = models.FeedbackRecord{
			SuggestionToken: token,
			AgentName:       sug.AgentName,
			Useful:          useful,
		}
		if err := s.db.Create(&rec).Error; err != nil {
			return nil, err
		}
		return &rec, nil
	}

	rec.Useful = useful
	if err := s.db.Save(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

// AgentStats aggregates feedback for one agent.
type AgentStats struct {
	AgentName  string  `json:"agent_name"`
	Total      int     `json:"total"`
	Useful     int     `json:"useful"`
	Useless    int     `json:"useless"`
	UsefulRate float64 `json:"useful_rate"`
}

// DayStats aggregates feedback for one calendar day.
type DayStats struct {
	Date   string `json:"date"`
	Total  int    `json:"total"`
	Useful int    `json:"useful"`
}

// Stats is the aggregated feedback view over a trailing window.
type Stats struct {
	Days       int          `json:"days"`
	Total      int          `json:"total"`
	Useful     int          `json:"useful"`
	Useless    int          `json:"useless"`
	UsefulRate float64      `json:"useful_rate"`
	ByAgent    []AgentStats `json:"by_agent"`
	ByDay      []DayStats   `json:"by_day"`
}

// Aggregate computes feedback stats over the last days calendar days.
func (s *Service) Aggregate(days int) (*Stats, error) {
	if days <= 0 || days > 365 {
		days = 30
	}
	cutoff := time.Now().AddDate(0, 0, -days)

	var rows []models.FeedbackRecord
	if err := s.db.Where("created_at > ?", cutoff).
		Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, err
	}

	stats := &Stats{Days: days}
	byAgent := make(map[string]*AgentStats)
	byDay := make(map[string]*DayStats)
	var agentOrder, dayOrder []string

	for _, r := range rows {
		stats.Total++
		if r.Useful {
			stats.Useful++
		} else {
			stats.Useless++
		}

		a, ok := byAgent[r.AgentName]
		if !ok {
			a = &AgentStats{AgentName: r.AgentName}
			byAgent[r.AgentName] = a
			agentOrder = append(agentOrder, r.AgentName)
		}
		a.Total++
		if r.Useful {
			a.Useful++
		} else {
			a.Useless++
		}

		day := r.CreatedAt.Format("2006-01-02")
		d, ok := byDay[day]
		if !ok {
			d = &DayStats{Date: day}
			byDay[day] = d
			dayOrder = append(dayOrder, day)
		}
		d.Total++
		if r.Useful {
			d.Useful++
		}
	}

	if stats.Total > 0 {
		stats.UsefulRate = float64(stats.Useful) / float64(stats.Total)
	}
	for _, name := range agentOrder {
		a := byAgent[name]
		if a.Total > 0 {
			a.UsefulRate = float64(a.Useful) / float64(a.Total)
		}
		stats.ByAgent = append(stats.ByAgent, *a)
	}
	for _, day := range dayOrder {
		stats.ByDay = append(stats.ByDay, *byDay[day])
	}
	return stats, nil
}
