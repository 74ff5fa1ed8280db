package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ScreenerRow is the merged per-instrument output table served to the API
// layer. Every active instrument has exactly one row. Each merge fully
// recomputes every column it owns from the aggregate caches; a missing
// upstream value yields a null column, never a leftover from a prior cycle.
type ScreenerRow struct {
	Symbol    string          `gorm:"primaryKey" json:"symbol"`
	Name      string          `json:"name"`
	Exchange  string          `json:"exchange"`
	Sector    string          `json:"sector"`
	Industry  string          `json:"industry"`
	MarketCap decimal.Decimal `gorm:"type:decimal(20,2)" json:"market_cap"`

	// Latest daily bar
	Open      *float64 `json:"open"`
	High      *float64 `json:"high"`
	Low       *float64 `json:"low"`
	Close     *float64 `json:"close"`
	Volume    *float64 `json:"volume"`
	PrevClose *float64 `json:"prev_close"`
	DollarVol *float64 `json:"dollar_vol"`

	// Percentage changes by horizon
	Change1dPct  *float64 `gorm:"column:change_1d_pct" json:"change_1d_pct"`
	Change1wPct  *float64 `gorm:"column:change_1w_pct" json:"change_1w_pct"`
	Change1mPct  *float64 `gorm:"column:change_1m_pct" json:"change_1m_pct"`
	Change3mPct  *float64 `gorm:"column:change_3m_pct" json:"change_3m_pct"`
	Change6mPct  *float64 `gorm:"column:change_6m_pct" json:"change_6m_pct"`
	Change1yPct  *float64 `gorm:"column:change_1y_pct" json:"change_1y_pct"`
	Change5yPct  *float64 `json:"change_5y_pct"`
	Change10yPct *float64 `json:"change_10y_pct"`
	ChangeYTDPct *float64 `json:"change_ytd_pct"`
	ChangeAllPct *float64 `json:"change_all_pct"`

	// Short-horizon values from the intraday snapshot
	Change1hPct    *float64 `gorm:"column:change_1h_pct" json:"change_1h_pct"`
	Change4hPct    *float64 `json:"change_4h_pct"`
	Range1mPct     *float64 `json:"range_1m_pct"`
	Range15mPct    *float64 `json:"range_15m_pct"`
	Range1hPct     *float64 `json:"range_1h_pct"`
	AvgVol14Bar    *float64 `json:"avg_vol_14_bar"`
	AvgDollarVol14 *float64 `json:"avg_dollar_vol_14"`
	RelVolume      *float64 `json:"rel_volume"`
	ExtHoursPct    *float64 `json:"ext_hours_pct"`

	// Technicals
	High52w          *float64 `json:"high_52w"`
	Low52w           *float64 `json:"low_52w"`
	Off52wHighPct    *float64 `gorm:"column:off_52w_high_pct" json:"off_52w_high_pct"`
	Off52wLowPct     *float64 `json:"off_52w_low_pct"`
	SMA50            *float64 `json:"sma_50"`
	SMA200           *float64 `json:"sma_200"`
	PriceVsSMA50Pct  *float64 `json:"price_vs_sma50_pct"`
	PriceVsSMA200Pct *float64 `json:"price_vs_sma200_pct"`
	RSI14            *float64 `gorm:"column:rsi_14" json:"rsi_14"`
	Volatility7d     *float64 `json:"volatility_7d"`
	Volatility30d    *float64 `gorm:"column:volatility_30d" json:"volatility_30d"`
	Range1dPct       *float64 `json:"range_1d_pct"`

	// Pre-market session
	PreMarketOpen      *float64 `json:"pre_market_open"`
	PreMarketHigh      *float64 `json:"pre_market_high"`
	PreMarketLow       *float64 `json:"pre_market_low"`
	PreMarketClose     *float64 `json:"pre_market_close"`
	PreMarketVolume    *float64 `json:"pre_market_volume"`
	PreMarketChangePct *float64 `json:"pre_market_change_pct"`
	PreMarketRangePct  *float64 `json:"pre_market_range_pct"`

	CalcTime time.Time `gorm:"index" json:"calc_time"`
}

// MigrateScreenerModels runs database migrations for the output table
func MigrateScreenerModels(db *gorm.DB) error {
	return db.AutoMigrate(&ScreenerRow{})
}
