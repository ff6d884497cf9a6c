package models

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Market identifies the exchange an instrument trades on
type Market string

const (
	MarketCN Market = "CN"
	MarketHK Market = "HK"
	MarketUS Market = "US"
)

// Instrument is a symbol opted into monitoring (the watchlist).
type Instrument struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Symbol    string    `gorm:"index:idx_symbol_market,unique;not null" json:"symbol"`
	Market    Market    `gorm:"index:idx_symbol_market,unique;type:varchar(5);not null" json:"market"`
	Name      string    `json:"name"`
	Enabled   bool      `gorm:"default:true" json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Overrides []InstrumentAgent `gorm:"foreignKey:InstrumentID;constraint:OnDelete:CASCADE" json:"overrides,omitempty"`
}

// Key returns the canonical "SYMBOL.MARKET" key used by run locks,
// throttle records and run history.
func (i *Instrument) Key() string {
	return fmt.Sprintf("%s.%s", i.Symbol, i.Market)
}

// InstrumentAgent binds one agent to one instrument with optional overrides.
// Empty Schedule / AIModel and null NotifyChannelIDs inherit the agent default.
type InstrumentAgent struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	InstrumentID     uint      `gorm:"index:idx_instr_agent,unique;not null" json:"instrument_id"`
	AgentName        string    `gorm:"index:idx_instr_agent,unique;not null" json:"agent_name"`
	Schedule         string    `json:"schedule"`
	AIModel          string    `json:"ai_model"`
	NotifyChannelIDs string    `json:"notify_channel_ids"`
	CreatedAt        time.Time `json:"created_at"`
}

// ChannelIDs decodes the override channel id list. Nil means "inherit".
func (ia *InstrumentAgent) ChannelIDs() []uint {
	return decodeIDList(ia.NotifyChannelIDs)
}

// MigrateInstrumentModels runs database migrations for watchlist models
func MigrateInstrumentModels(db *gorm.DB) error {
	return db.AutoMigrate(&Instrument{}, &InstrumentAgent{})
}

// tradingWindow is a daily open/close window in the market's local time.
type tradingWindow struct {
	openHour, openMin   int
	closeHour, closeMin int
}

type marketDef struct {
	tz      string
	windows []tradingWindow
}

var marketDefs = map[Market]marketDef{
	MarketCN: {tz: "Asia/Shanghai", windows: []tradingWindow{
		{9, 30, 11, 30},
		{13, 0, 15, 0},
	}},
	MarketHK: {tz: "Asia/Hong_Kong", windows: []tradingWindow{
		{9, 30, 12, 0},
		{13, 0, 16, 0},
	}},
	MarketUS: {tz: "America/New_York", windows: []tradingWindow{
		{9, 30, 16, 0},
	}},
}

// IsTradingTime reports whether the market is open at the given instant.
// Weekends are closed; exchange holidays are not modeled.
func (m Market) IsTradingTime(now time.Time) bool {
	def, ok := marketDefs[m]
	if !ok {
		return false
	}
	loc, err := time.LoadLocation(def.tz)
	if err != nil {
		return false
	}
	local := now.In(loc)
	if local.Weekday() == time.Saturday || local.Weekday() == time.Sunday {
		return false
	}
	minutes := local.Hour()*60 + local.Minute()
	for _, w := range def.windows {
		open := w.openHour*60 + w.openMin
		close := w.closeHour*60 + w.closeMin
		if minutes >= open && minutes < close {
			return true
		}
	}
	return false
}
