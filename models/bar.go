package models

import (
	"time"

	"gorm.io/gorm"
)

// IntradayBar is a minute-resolution price bar. Bars are append-only and
// written by the ingestion pipeline; this subsystem never mutates them.
type IntradayBar struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Symbol    string    `gorm:"index:idx_intraday_symbol_ts,priority:1;not null" json:"symbol"`
	Timestamp time.Time `gorm:"index:idx_intraday_symbol_ts,priority:2;not null" json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    int64     `json:"volume"`
	CreatedAt time.Time `json:"created_at"`
}

// DailyBar is a day-resolution price bar, one row per (symbol, trading day).
type DailyBar struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Symbol    string    `gorm:"index:idx_daily_symbol_date,priority:1;not null" json:"symbol"`
	Date      time.Time `gorm:"index:idx_daily_symbol_date,priority:2;not null" json:"date"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    int64     `json:"volume"`
	CreatedAt time.Time `json:"created_at"`
}

// MigrateBarModels runs database migrations for bar models
func MigrateBarModels(db *gorm.DB) error {
	return db.AutoMigrate(
		&IntradayBar{},
		&DailyBar{},
	)
}
