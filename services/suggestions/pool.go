package suggestions

import (
	"strings"
	"time"

	"stockwatch_backend/models"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Pool stores and queries agent suggestions.
type Pool struct {
	db *gorm.DB
}

// NewPool creates a suggestion pool backed by db.
func NewPool(db *gorm.DB) *Pool {
	return &Pool{db: db}
}

// dedupeWindow returns how long an unchanged suggestion from the same agent
// suppresses a new row. Intraday runs frequently; the rest a few times a day.
func dedupeWindow(agentName string) time.Duration {
	switch agentName {
	case "intraday_monitor":
		return 30 * time.Minute
	case "news_digest":
		return 60 * time.Minute
	default:
		return 180 * time.Minute
	}
}

func normText(s string) string {
	return strings.Join(strings.Fields(strings.TrimSpace(s)), " ")
}

// truncateRunes cuts at a rune boundary so multibyte text is never split
// mid code point.
func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// Save persists a suggestion. If the latest suggestion for the same
// (instrument, agent) carries the same action/label/signal and is within
// the dedupe window, the existing row's expiry is extended instead of
// inserting a near-duplicate. Returns the stored row.
func (p *Pool) Save(s *models.Suggestion) (*models.Suggestion, error) {
	now := time.Now()
	if s.Token == "" {
		s.Token = uuid.NewString()
	}
	s.PromptContext = truncateRunes(s.PromptContext, 2000)
	s.AIResponse = truncateRunes(s.AIResponse, 2000)

	var latest models.Suggestion
	err := p.db.Where("instrument_key = ? AND agent_name = ?", s.InstrumentKey, s.AgentName).
		Order("created_at DESC, id DESC").
		First(&latest).Error
	if err == nil {
		sameKey := latest.Action == s.Action &&
			normText(latest.ActionLabel) == normText(s.ActionLabel) &&
			normText(latest.Signal) == normText(s.Signal)
		if sameKey && now.Sub(latest.CreatedAt) <= dedupeWindow(s.AgentName) {
			if latest.ExpiresAt == nil || (s.ExpiresAt != nil && latest.ExpiresAt.Before(*s.ExpiresAt)) {
				latest.ExpiresAt = s.ExpiresAt
			}
			if latest.Name == "" && s.Name != "" {
				latest.Name = s.Name
			}
			if err := p.db.Save(&latest).Error; err != nil {
				return nil, err
			}
			log.Infof("suggestion deduped: %s %s (%s)", s.InstrumentKey, s.ActionLabel, s.AgentName)
			return &latest, nil
		}
	}

	if err := p.db.Create(s).Error; err != nil {
		return nil, err
	}
	log.Infof("suggestion saved: %s %s (%s)", s.InstrumentKey, s.ActionLabel, s.AgentName)
	return s, nil
}

// ListForInstrument returns suggestions for one instrument, newest first.
// Expired rows are filtered unless includeExpired is set; expiry is
// computed against now, never by mutation.
func (p *Pool) ListForInstrument(instrumentKey string, includeExpired bool, limit int) ([]models.Suggestion, error) {
	if limit <= 0 {
		limit = 10
	}
	q := p.db.Where("instrument_key = ?", instrumentKey)
	if !includeExpired {
		q = q.Where("expires_at IS NULL OR expires_at > ?", time.Now())
	}
	var rows []models.Suggestion
	err := q.Order("created_at DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

// Latest returns the newest non-expired suggestion per instrument.
func (p *Pool) Latest(includeExpired bool) (map[string]models.Suggestion, error) {
	var rows []models.Suggestion
	q := p.db.Order("id ASC")
	if !includeExpired {
		q = q.Where("expires_at IS NULL OR expires_at > ?", time.Now())
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	latest := make(map[string]models.Suggestion)
	for _, s := range rows {
		latest[s.InstrumentKey] = s // ascending id, last wins
	}
	return latest, nil
}

// GetByToken looks a suggestion up by its feedback token.
func (p *Pool) GetByToken(token string) (*models.Suggestion, error) {
	var s models.Suggestion
	if err := p.db.Where("token = ?", token).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// CleanupOld removes suggestions created before the retention cutoff.
func (p *Pool) CleanupOld(retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)
	res := p.db.Where("created_at < ?", cutoff).Delete(&models.Suggestion{})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		log.Infof("cleaned up %d old suggestions", res.RowsAffected)
	}
	return res.RowsAffected, nil
}
