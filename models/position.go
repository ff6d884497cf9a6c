package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Position records the user's holding state for one instrument. Zero
// quantity means watched-but-not-held; the analysis context says so
// explicitly instead of omitting the section.
type Position struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	InstrumentID uint            `gorm:"uniqueIndex;not null" json:"instrument_id"`
	CostPrice    decimal.Decimal `gorm:"type:decimal(18,4)" json:"cost_price"`
	Quantity     decimal.Decimal `gorm:"type:decimal(18,4)" json:"quantity"`
	TradingStyle string          `json:"trading_style"` // e.g. "short-term swing", "long-term hold"
	Note         string          `json:"note"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Held reports whether the position carries actual shares.
func (p *Position) Held() bool {
	return p != nil && p.Quantity.IsPositive()
}

// ProfitPct returns the unrealized profit percentage against cost.
func (p *Position) ProfitPct(price decimal.Decimal) decimal.Decimal {
	if p == nil || !p.CostPrice.IsPositive() {
		return decimal.Zero
	}
	return price.Sub(p.CostPrice).Div(p.CostPrice).Mul(decimal.NewFromInt(100))
}

// MigratePositionModels runs database migrations for position models
func MigratePositionModels(db *gorm.DB) error {
	return db.AutoMigrate(&Position{})
}
