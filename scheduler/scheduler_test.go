package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"stockwatch_backend/models"
	"stockwatch_backend/services/aiclient"
	"stockwatch_backend/services/executor"
	"stockwatch_backend/services/marketdata"
	"stockwatch_backend/services/notify"
	"stockwatch_backend/services/suggestions"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type stubProvider struct{}

func (stubProvider) GetQuote(_ context.Context, symbol string, market models.Market) (*marketdata.Quote, error) {
	return &marketdata.Quote{
		Symbol:    symbol,
		Market:    market,
		Name:      "测试股",
		Price:     decimal.NewFromFloat(10.5),
		PrevClose: decimal.NewFromFloat(10.0),
		ChangePct: decimal.NewFromFloat(5.0), // always trips the 3% threshold
		Volume:    100000,
		AsOf:      time.Now(),
	}, nil
}

func (stubProvider) GetTechnicalSummary(_ context.Context, _ string, _ models.Market) (*marketdata.IndicatorSummary, error) {
	return nil, fmt.Errorf("unavailable")
}

func (stubProvider) GetRecentNews(_ context.Context, _ string, _ models.Market, _ int) ([]marketdata.NewsItem, error) {
	return nil, fmt.Errorf("unavailable")
}

type countingSender struct {
	mu   sync.Mutex
	sent int
}

func (c *countingSender) Send(_ context.Context, _ *models.NotifyChannel, _, _ string) error {
	c.mu.Lock()
	c.sent++
	c.mu.Unlock()
	return nil
}

func (c *countingSender) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sent
}

func pipelineDB(t *testing.T) *gorm.DB {
	t.Helper()
	db := testDB(t)
	require.NoError(t, models.MigrateAgentModels(db))
	require.NoError(t, models.MigrateInstrumentModels(db))
	require.NoError(t, models.MigrateSuggestionModels(db))
	require.NoError(t, models.MigrateNotifyModels(db))
	require.NoError(t, models.MigratePositionModels(db))
	require.NoError(t, models.MigrateSettingModels(db))
	return db
}

func buyServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": `{"action":"buy","action_label":"买入","signal":"放量上行","reason":"突破压力位"}`}},
			},
		})
	}))
}

func testScheduler(t *testing.T, db *gorm.DB, aiURL string) (*Scheduler, *countingSender) {
	t.Helper()
	resolver := NewResolver(time.UTC)
	locks := NewRunLockManager(db)
	pool := suggestions.NewPool(db)
	exec := executor.New(db, aiclient.New(aiURL, "k", "glm-4"), stubProvider{}, pool)

	sender := &countingSender{}
	dispatcher := notify.NewDispatcher(db, sender, 1, "")
	noon := time.Date(2024, 1, 8, 12, 0, 0, 0, time.UTC)
	dispatcher.SetClock(func() time.Time { return noon })

	return New(db, resolver, locks, exec, dispatcher, pool, time.Minute), sender
}

func seedPipeline(t *testing.T, db *gorm.DB) {
	t.Helper()
	require.NoError(t, db.Create(&models.AgentDefinition{
		Name:          "intraday_monitor",
		DisplayName:   "Intraday Monitor",
		Enabled:       true,
		Schedule:      "*/5 * * * *",
		ExecutionMode: models.ModeSingle,
	}).Error)
	require.NoError(t, db.Create(&models.Instrument{
		Symbol: "600000", Market: models.MarketCN, Name: "浦发银行", Enabled: true,
	}).Error)
	require.NoError(t, db.Create(&models.NotifyChannel{
		Name: "tg-main", Type: models.ChannelTelegram, Enabled: true, IsDefault: true,
	}).Error)
}

func TestTriggerAgentFullPipeline(t *testing.T) {
	srv := buyServer(t)
	defer srv.Close()

	db := pipelineDB(t)
	seedPipeline(t, db)
	s, sender := testScheduler(t, db, srv.URL)

	outcomes, err := s.TriggerAgent("intraday_monitor", "600000.CN",
		executor.Options{BypassMarketHours: true, Analyze: true})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)

	// the run is finalized by the time the call returns
	rec := outcomes[0].Run
	assert.Equal(t, models.RunSuccess, rec.Status)
	assert.Equal(t, TriggerManual, rec.Trigger)
	assert.Contains(t, rec.Result, "price moved 5.00%")
	assert.Contains(t, rec.Result, "alerts: 1 sent")
	assert.Equal(t, 1, sender.count())

	// the outcome carries the stored, alerting suggestion
	require.Len(t, outcomes[0].Suggestions, 1)
	sug := outcomes[0].Suggestions[0]
	assert.Equal(t, models.ActionBuy, sug.Action)
	assert.True(t, sug.ShouldAlert)
	assert.Equal(t, "600000.CN", sug.InstrumentKey)

	// and marked the throttle
	var throttle models.ThrottleRecord
	require.NoError(t, db.Where("agent_name = ?", "intraday_monitor").First(&throttle).Error)
	assert.Equal(t, 1, throttle.NotifyCount)
}

func TestTriggerAgentReturnsFailureSynchronously(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	db := pipelineDB(t)
	seedPipeline(t, db)
	s, _ := testScheduler(t, db, srv.URL)

	outcomes, err := s.TriggerAgent("intraday_monitor", "600000.CN",
		executor.Options{BypassMarketHours: true, Analyze: true})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)

	rec := outcomes[0].Run
	assert.Equal(t, models.RunFailed, rec.Status)
	assert.NotEmpty(t, rec.Error)
	// the cheap result survives on the record
	assert.Contains(t, rec.Result, "price moved")
	assert.Empty(t, outcomes[0].Suggestions)
}

func TestTriggerAgentRuleOnlyWithoutAnalyze(t *testing.T) {
	var aiCalls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&aiCalls, 1)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": `{"action":"buy","action_label":"买入","signal":"放量上行","reason":"突破压力位"}`}},
			},
		})
	}))
	defer srv.Close()

	db := pipelineDB(t)
	seedPipeline(t, db)
	s, sender := testScheduler(t, db, srv.URL)

	outcomes, err := s.TriggerAgent("intraday_monitor", "600000.CN",
		executor.Options{BypassMarketHours: true})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)

	// the threshold trips but the model is never consulted
	rec := outcomes[0].Run
	assert.Equal(t, models.RunSuccess, rec.Status)
	assert.Contains(t, rec.Result, "signals: price moved 5.00%")
	assert.Empty(t, outcomes[0].Suggestions)
	assert.Equal(t, int32(0), atomic.LoadInt32(&aiCalls))
	assert.Equal(t, 0, sender.count())
}

func TestWantsEnrichment(t *testing.T) {
	assert.True(t, wantsEnrichment(TriggerSchedule, executor.Options{}))
	assert.True(t, wantsEnrichment(TriggerManual, executor.Options{Analyze: true}))
	assert.False(t, wantsEnrichment(TriggerManual, executor.Options{}))
}

func TestTriggerAgentThrottlesRepeat(t *testing.T) {
	srv := buyServer(t)
	defer srv.Close()

	db := pipelineDB(t)
	seedPipeline(t, db)
	s, sender := testScheduler(t, db, srv.URL)

	_, err := s.TriggerAgent("intraday_monitor", "600000.CN",
		executor.Options{BypassMarketHours: true, Analyze: true})
	require.NoError(t, err)
	require.Equal(t, 1, sender.count())

	// second run within the cooldown: suggestion dedupes, alert throttles
	outcomes, err := s.TriggerAgent("intraday_monitor", "600000.CN",
		executor.Options{BypassMarketHours: true, Analyze: true})
	require.NoError(t, err)
	rec := outcomes[0].Run
	assert.Equal(t, models.RunSuccess, rec.Status)
	assert.Contains(t, rec.Result, "throttled")
	assert.Equal(t, 1, sender.count())

	// bypass_throttle emits anyway and does not mark the throttle
	_, err = s.TriggerAgent("intraday_monitor", "600000.CN",
		executor.Options{BypassMarketHours: true, BypassThrottle: true, Analyze: true})
	require.NoError(t, err)
	assert.Equal(t, 2, sender.count())

	var throttle models.ThrottleRecord
	require.NoError(t, db.Where("agent_name = ?", "intraday_monitor").First(&throttle).Error)
	assert.Equal(t, 1, throttle.NotifyCount)
}

func TestTriggerAgentUnknown(t *testing.T) {
	db := pipelineDB(t)
	s, _ := testScheduler(t, db, "http://unused")

	_, err := s.TriggerAgent("no_such_agent", "", executor.Options{})
	assert.Error(t, err)
}

func TestTriggerAgentUnknownInstrument(t *testing.T) {
	db := pipelineDB(t)
	seedPipeline(t, db)
	s, _ := testScheduler(t, db, "http://unused")

	_, err := s.TriggerAgent("intraday_monitor", "999999.CN", executor.Options{})
	assert.Error(t, err)

	_, err = s.TriggerAgent("intraday_monitor", "not-a-key", executor.Options{})
	assert.Error(t, err)
}

func TestTickClaimsDuePairs(t *testing.T) {
	srv := buyServer(t)
	defer srv.Close()

	db := pipelineDB(t)
	seedPipeline(t, db)
	s, _ := testScheduler(t, db, srv.URL)

	// place lastTick just before a */5 boundary so the pair is due
	s.mu.Lock()
	boundary := time.Now().Truncate(5 * time.Minute)
	s.lastTick = boundary.Add(-time.Second)
	s.mu.Unlock()

	s.Tick()

	require.Eventually(t, func() bool {
		var count int64
		db.Model(&models.RunRecord{}).Where("trigger = ?", "schedule").Count(&count)
		return count == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSplitKey(t *testing.T) {
	symbol, market, ok := splitKey("600000.CN")
	require.True(t, ok)
	assert.Equal(t, "600000", symbol)
	assert.Equal(t, models.MarketCN, market)

	_, _, ok = splitKey("nodot")
	assert.False(t, ok)
	_, _, ok = splitKey(".CN")
	assert.False(t, ok)
	_, _, ok = splitKey("600000.")
	assert.False(t, ok)
}
