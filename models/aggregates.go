package models

import (
	"time"

	"gorm.io/gorm"
)

// PreMarketAggregate holds per-day pre-market session stats for one
// instrument, computed from intraday bars clipped to the 04:00-09:29:59
// venue-local window. One row per (symbol, trading day).
type PreMarketAggregate struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Symbol     string    `gorm:"uniqueIndex:idx_premarket_symbol_day,priority:1;not null" json:"symbol"`
	TradingDay time.Time `gorm:"uniqueIndex:idx_premarket_symbol_day,priority:2;not null" json:"trading_day"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Volume     int64     `json:"volume"`
	RangePct   *float64  `json:"range_pct"`
	ChangePct  *float64  `json:"change_pct"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// IntradaySnapshot holds the latest short-horizon derived values for one
// instrument. A single mutable row per symbol; no history is retained.
type IntradaySnapshot struct {
	Symbol         string     `gorm:"primaryKey" json:"symbol"`
	LastPrice      *float64   `json:"last_price"`
	LastBarAt      *time.Time `json:"last_bar_at"`
	LastVolume     *float64   `json:"last_volume"`
	Change1hPct    *float64   `json:"change_1h_pct"`
	Change4hPct    *float64   `json:"change_4h_pct"`
	Range1mPct     *float64   `json:"range_1m_pct"`
	Range15mPct    *float64   `json:"range_15m_pct"`
	Range1hPct     *float64   `json:"range_1h_pct"`
	AvgVol14Bar    *float64   `json:"avg_vol_14_bar"`
	AvgDollarVol14 *float64   `json:"avg_dollar_vol_14"`
	RelVolume      *float64   `json:"rel_volume"`
	ExtHoursPct    *float64   `json:"ext_hours_pct"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// HistoricalCalc holds long-horizon reference values for one instrument.
// Reference closes are stored raw; percentage changes against the live price
// are computed at merge time. A single mutable row per symbol.
type HistoricalCalc struct {
	Symbol        string    `gorm:"primaryKey" json:"symbol"`
	CloseWeekAgo  *float64  `json:"close_week_ago"`
	Close1mAgo    *float64  `json:"close_1m_ago"`
	Close3mAgo    *float64  `json:"close_3m_ago"`
	Close6mAgo    *float64  `json:"close_6m_ago"`
	Close1yAgo    *float64  `json:"close_1y_ago"`
	Close5yAgo    *float64  `json:"close_5y_ago"`
	Close10yAgo   *float64  `json:"close_10y_ago"`
	CloseYTD      *float64  `json:"close_ytd"`
	CloseAllTime  *float64  `json:"close_all_time"`
	High52w       *float64  `json:"high_52w"`
	Low52w        *float64  `json:"low_52w"`
	SMA50         *float64  `json:"sma_50"`
	SMA200        *float64  `json:"sma_200"`
	RSI14         *float64  `json:"rsi_14"`
	Volatility7d  *float64  `json:"volatility_7d"`
	Volatility30d *float64  `json:"volatility_30d"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// MigrateAggregateModels runs database migrations for the rolling aggregate caches
func MigrateAggregateModels(db *gorm.DB) error {
	return db.AutoMigrate(
		&PreMarketAggregate{},
		&IntradaySnapshot{},
		&HistoricalCalc{},
	)
}
