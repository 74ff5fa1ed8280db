package models

import (
	"time"

	"gorm.io/gorm"
)

// StalenessRecord tracks whether an instrument's derived metrics are out of
// date. Exactly one record per known instrument. The ingestion side sets
// Stale whenever a new bar lands; the batch claimer clears it atomically.
type StalenessRecord struct {
	Symbol               string    `gorm:"primaryKey" json:"symbol"`
	Stale                bool      `gorm:"index;not null" json:"stale"`
	LastRefreshStartedAt time.Time `json:"last_refresh_started_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// MigrateStalenessModels runs database migrations for the staleness tracker
func MigrateStalenessModels(db *gorm.DB) error {
	return db.AutoMigrate(&StalenessRecord{})
}
