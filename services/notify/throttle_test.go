package notify

import (
	"testing"
	"time"

	"stockwatch_backend/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + t.Name() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, models.MigrateNotifyModels(db))
	require.NoError(t, models.MigrateAgentModels(db))
	return db
}

func TestThrottleFirstEmitAllowed(t *testing.T) {
	th := NewThrottle(testDB(t))
	assert.True(t, th.ShouldEmit("intraday_monitor", "600000.CN", 30*time.Minute))
}

func TestThrottleSuppressesWithinCooldown(t *testing.T) {
	th := NewThrottle(testDB(t))

	now := time.Date(2024, 1, 8, 10, 0, 0, 0, time.UTC)
	th.SetClock(func() time.Time { return now })

	require.NoError(t, th.MarkEmitted("intraday_monitor", "600000.CN"))

	now = now.Add(10 * time.Minute)
	assert.False(t, th.ShouldEmit("intraday_monitor", "600000.CN", 30*time.Minute))

	// a different instrument is unaffected
	assert.True(t, th.ShouldEmit("intraday_monitor", "0700.HK", 30*time.Minute))
	// a different agent on the same instrument is unaffected
	assert.True(t, th.ShouldEmit("news_digest", "600000.CN", 30*time.Minute))

	now = now.Add(21 * time.Minute)
	assert.True(t, th.ShouldEmit("intraday_monitor", "600000.CN", 30*time.Minute))
}

func TestThrottleDailyCountReset(t *testing.T) {
	db := testDB(t)
	th := NewThrottle(db)

	now := time.Date(2024, 1, 8, 10, 0, 0, 0, time.UTC)
	th.SetClock(func() time.Time { return now })

	require.NoError(t, th.MarkEmitted("intraday_monitor", "600000.CN"))
	now = now.Add(time.Hour)
	require.NoError(t, th.MarkEmitted("intraday_monitor", "600000.CN"))

	var rec models.ThrottleRecord
	require.NoError(t, db.Where("agent_name = ?", "intraday_monitor").First(&rec).Error)
	assert.Equal(t, 2, rec.NotifyCount)

	// next calendar day resets the counter
	now = now.Add(24 * time.Hour)
	require.NoError(t, th.MarkEmitted("intraday_monitor", "600000.CN"))
	require.NoError(t, db.Where("agent_name = ?", "intraday_monitor").First(&rec).Error)
	assert.Equal(t, 1, rec.NotifyCount)
}
