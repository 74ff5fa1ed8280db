package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Instrument represents a tradable security and its static reference metadata.
// The reference table is owned by an external collaborator; this subsystem
// only reads it.
type Instrument struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	Symbol    string          `gorm:"uniqueIndex;not null" json:"symbol"`
	Name      string          `json:"name"`
	Exchange  string          `json:"exchange"`
	Sector    string          `json:"sector"`
	Industry  string          `json:"industry"`
	MarketCap decimal.Decimal `gorm:"type:decimal(20,2)" json:"market_cap"`
	Status    string          `json:"status"` // active, delisted, suspended
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// MigrateInstrumentModels runs database migrations for reference-data models
func MigrateInstrumentModels(db *gorm.DB) error {
	return db.AutoMigrate(&Instrument{})
}
