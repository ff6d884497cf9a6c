package history

import (
	"testing"
	"time"

	"stockwatch_backend/models"
	"stockwatch_backend/scheduler"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	dsn := "file:" + t.Name() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, models.MigrateAgentModels(db))
	require.NoError(t, models.MigrateInstrumentModels(db))
	require.NoError(t, models.MigrateRunModels(db))
	return New(db, scheduler.NewResolver(time.UTC)), db
}

func seedRun(t *testing.T, db *gorm.DB, agent, key string, status models.RunStatus, age time.Duration) {
	t.Helper()
	rec := models.RunRecord{
		AgentName:     agent,
		InstrumentKey: key,
		Status:        status,
		Trigger:       "schedule",
		StartedAt:     time.Now().Add(-age),
	}
	require.NoError(t, db.Create(&rec).Error)
}

func TestListFilters(t *testing.T) {
	svc, db := testService(t)

	seedRun(t, db, "intraday_monitor", "600000.CN", models.RunSuccess, time.Hour)
	seedRun(t, db, "intraday_monitor", "0700.HK", models.RunFailed, 30*time.Minute)
	seedRun(t, db, "daily_report", "", models.RunSuccess, 10*time.Minute)

	rows, err := svc.List(Filter{})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	// newest first
	assert.Equal(t, "daily_report", rows[0].AgentName)

	rows, err = svc.List(Filter{AgentName: "intraday_monitor"})
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	rows, err = svc.List(Filter{InstrumentKey: "0700.HK"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, models.RunFailed, rows[0].Status)

	rows, err = svc.List(Filter{Status: "failed"})
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	rows, err = svc.List(Filter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestHealthSnapshot(t *testing.T) {
	svc, db := testService(t)

	agent := models.AgentDefinition{
		Name:          "daily_report",
		DisplayName:   "Daily Report",
		Enabled:       true,
		Schedule:      "30 15 * * 1-5",
		ExecutionMode: models.ModeBatch,
	}
	require.NoError(t, db.Create(&agent).Error)

	seedRun(t, db, "daily_report", "", models.RunFailed, 2*time.Hour)
	seedRun(t, db, "daily_report", "", models.RunSuccess, time.Hour)
	// outside the 24h window
	seedRun(t, db, "daily_report", "", models.RunFailed, 25*time.Hour)

	snap, err := svc.Health()
	require.NoError(t, err)
	require.Len(t, snap.Agents, 1)

	h := snap.Agents[0]
	assert.Equal(t, "daily_report", h.AgentName)
	assert.Equal(t, int64(1), h.Failures24h)
	assert.Equal(t, int64(1), h.Successes24h)
	assert.Equal(t, string(models.RunSuccess), h.LastStatus)
	require.NotNil(t, h.LastRunAt)
	// weekday 15:30 fires at most once per 24h
	assert.LessOrEqual(t, h.RunsNext24h, 1)
	assert.Equal(t, snap.Failures24h, h.Failures24h)
}

func TestHealthCountsPerInstrumentOverrides(t *testing.T) {
	svc, db := testService(t)

	agent := models.AgentDefinition{
		Name:          "intraday_monitor",
		DisplayName:   "Intraday Monitor",
		Enabled:       true,
		Schedule:      "0 * * * *", // hourly: 24 fires per instrument per day
		ExecutionMode: models.ModeSingle,
	}
	require.NoError(t, db.Create(&agent).Error)

	instA := models.Instrument{Symbol: "600000", Market: models.MarketCN, Enabled: true}
	instB := models.Instrument{Symbol: "0700", Market: models.MarketHK, Enabled: true}
	require.NoError(t, db.Create(&instA).Error)
	require.NoError(t, db.Create(&instB).Error)

	// instB runs every 30 minutes instead
	require.NoError(t, db.Create(&models.InstrumentAgent{
		InstrumentID: instB.ID,
		AgentName:    "intraday_monitor",
		Schedule:     "*/30 * * * *",
	}).Error)

	snap, err := svc.Health()
	require.NoError(t, err)
	require.Len(t, snap.Agents, 1)
	assert.Equal(t, 24+48, snap.Agents[0].RunsNext24h)
}

func TestHealthDisabledAgentCountsZero(t *testing.T) {
	svc, db := testService(t)

	require.NoError(t, db.Create(&models.AgentDefinition{
		Name:          "news_digest",
		DisplayName:   "News Digest",
		Enabled:       false,
		Schedule:      "0 8,12,19 * * *",
		ExecutionMode: models.ModeBatch,
	}).Error)

	snap, err := svc.Health()
	require.NoError(t, err)
	require.Len(t, snap.Agents, 1)
	assert.Equal(t, 0, snap.Agents[0].RunsNext24h)
	assert.False(t, snap.Agents[0].Enabled)
}
