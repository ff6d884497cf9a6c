package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"stockwatch_backend/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// fakeSender records sends and fails a configurable number of times per
// channel name.
type fakeSender struct {
	mu       sync.Mutex
	sent     []string // channel names in send order
	failures map[string]int
}

func newFakeSender() *fakeSender {
	return &fakeSender{failures: make(map[string]int)}
}

func (f *fakeSender) Send(_ context.Context, ch *models.NotifyChannel, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures[ch.Name] > 0 {
		f.failures[ch.Name]--
		return errors.New("transport error")
	}
	f.sent = append(f.sent, ch.Name)
	return nil
}

func (f *fakeSender) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func seedChannels(t *testing.T, db *gorm.DB, channels ...models.NotifyChannel) []uint {
	t.Helper()
	ids := make([]uint, 0, len(channels))
	for i := range channels {
		require.NoError(t, db.Create(&channels[i]).Error)
		ids = append(ids, channels[i].ID)
	}
	return ids
}

func daytime(d *Dispatcher) {
	noon := time.Date(2024, 1, 8, 12, 0, 0, 0, time.UTC)
	d.SetClock(func() time.Time { return noon })
}

func TestDispatchSkipsDisabledChannel(t *testing.T) {
	db := testDB(t)
	ids := seedChannels(t, db,
		models.NotifyChannel{Name: "tg-main", Type: models.ChannelTelegram, Enabled: true},
		models.NotifyChannel{Name: "bark-phone", Type: models.ChannelBark, Enabled: false},
		models.NotifyChannel{Name: "wecom-team", Type: models.ChannelWecom, Enabled: true},
	)

	sender := newFakeSender()
	d := NewDispatcher(db, sender, 3, "")
	daytime(d)

	agent := &models.AgentDefinition{Name: "intraday_monitor", NotifyChannelIDs: models.EncodeIDList(ids)}
	results, err := d.Dispatch(context.Background(), agent, nil, "t", "b", false)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, 2, sender.sentCount())
	byName := map[string]DispatchStatus{}
	for _, r := range results {
		byName[r.ChannelName] = r.Status
	}
	assert.Equal(t, StatusSent, byName["tg-main"])
	assert.Equal(t, StatusSkipped, byName["bark-phone"])
	assert.Equal(t, StatusSent, byName["wecom-team"])
}

func TestDispatchRetriesThenSucceeds(t *testing.T) {
	db := testDB(t)
	ids := seedChannels(t, db,
		models.NotifyChannel{Name: "tg-main", Type: models.ChannelTelegram, Enabled: true},
	)

	sender := newFakeSender()
	sender.failures["tg-main"] = 2 // first two attempts fail

	d := NewDispatcher(db, sender, 3, "")
	d.SetBackoffBase(time.Millisecond)
	daytime(d)

	agent := &models.AgentDefinition{Name: "intraday_monitor", NotifyChannelIDs: models.EncodeIDList(ids)}
	results, err := d.Dispatch(context.Background(), agent, nil, "t", "b", false)
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.Equal(t, StatusSent, results[0].Status)
	assert.Equal(t, 3, results[0].Attempts)
}

func TestDispatchFailsAfterExhaustedRetries(t *testing.T) {
	db := testDB(t)
	ids := seedChannels(t, db,
		models.NotifyChannel{Name: "tg-main", Type: models.ChannelTelegram, Enabled: true},
	)

	sender := newFakeSender()
	sender.failures["tg-main"] = 10

	d := NewDispatcher(db, sender, 3, "")
	d.SetBackoffBase(time.Millisecond)
	daytime(d)

	agent := &models.AgentDefinition{Name: "intraday_monitor", NotifyChannelIDs: models.EncodeIDList(ids)}
	results, err := d.Dispatch(context.Background(), agent, nil, "t", "b", false)
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.Equal(t, StatusFailed, results[0].Status)
	assert.Equal(t, 3, results[0].Attempts)
	assert.Equal(t, "transport error", results[0].Error)
}

func TestDispatchQuietHoursSuppression(t *testing.T) {
	db := testDB(t)
	ids := seedChannels(t, db,
		models.NotifyChannel{Name: "tg-main", Type: models.ChannelTelegram, Enabled: true},
	)
	agent := &models.AgentDefinition{Name: "intraday_monitor", NotifyChannelIDs: models.EncodeIDList(ids)}

	sender := newFakeSender()
	d := NewDispatcher(db, sender, 3, "23:00-07:00")

	// 02:00 is inside the wrapped window
	night := time.Date(2024, 1, 8, 2, 0, 0, 0, time.UTC)
	d.SetClock(func() time.Time { return night })

	results, err := d.Dispatch(context.Background(), agent, nil, "t", "b", false)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, StatusSuppressed, results[0].Status)
	assert.Equal(t, 0, sender.sentCount())

	// critical agents bypass quiet hours
	results, err = d.Dispatch(context.Background(), agent, nil, "t", "b", true)
	require.NoError(t, err)
	assert.Equal(t, StatusSent, results[0].Status)
	assert.Equal(t, 1, sender.sentCount())

	// 12:00 is outside the window
	daytime(d)
	results, err = d.Dispatch(context.Background(), agent, nil, "t", "b", false)
	require.NoError(t, err)
	assert.Equal(t, StatusSent, results[0].Status)
}

func TestParseQuietHours(t *testing.T) {
	start, end, ok := parseQuietHours("23:00-07:00")
	require.True(t, ok)
	assert.Equal(t, 23*60, start)
	assert.Equal(t, 7*60, end)

	_, _, ok = parseQuietHours("")
	assert.False(t, ok)
	_, _, ok = parseQuietHours("25:00-07:00")
	assert.False(t, ok)
	_, _, ok = parseQuietHours("23:00")
	assert.False(t, ok)
	_, _, ok = parseQuietHours("08:00-08:00")
	assert.False(t, ok)
}

func TestResolveChannelsPrecedence(t *testing.T) {
	db := testDB(t)
	ids := seedChannels(t, db,
		models.NotifyChannel{Name: "default-a", Type: models.ChannelTelegram, Enabled: true, IsDefault: true},
		models.NotifyChannel{Name: "agent-b", Type: models.ChannelWecom, Enabled: true},
		models.NotifyChannel{Name: "override-c", Type: models.ChannelBark, Enabled: true},
	)

	d := NewDispatcher(db, newFakeSender(), 3, "")

	// no config anywhere: defaults
	chs, err := d.ResolveChannels(&models.AgentDefinition{Name: "x"}, nil)
	require.NoError(t, err)
	require.Len(t, chs, 1)
	assert.Equal(t, "default-a", chs[0].Name)

	// agent list beats defaults
	agent := &models.AgentDefinition{Name: "x", NotifyChannelIDs: models.EncodeIDList([]uint{ids[1]})}
	chs, err = d.ResolveChannels(agent, nil)
	require.NoError(t, err)
	require.Len(t, chs, 1)
	assert.Equal(t, "agent-b", chs[0].Name)

	// override list beats the agent list
	override := &models.InstrumentAgent{NotifyChannelIDs: models.EncodeIDList([]uint{ids[2]})}
	chs, err = d.ResolveChannels(agent, override)
	require.NoError(t, err)
	require.Len(t, chs, 1)
	assert.Equal(t, "override-c", chs[0].Name)

	// dangling ids are dropped silently
	agent.NotifyChannelIDs = models.EncodeIDList([]uint{ids[1], 9999})
	chs, err = d.ResolveChannels(agent, nil)
	require.NoError(t, err)
	require.Len(t, chs, 1)
	assert.Equal(t, "agent-b", chs[0].Name)
}
