// Package staleness implements the durable staleness tracker that drives
// the refresh engine. The ingestion pipeline marks instruments stale as
// bars land; the batch claimer atomically flips a bounded set of them to
// in-flight. The claim statement is the engine's only concurrency-safety
// mechanism.
package staleness

import (
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"screener_engine/models"
)

// Tracker wraps staleness bookkeeping for all known instruments.
type Tracker struct {
	db *gorm.DB
}

// NewTracker creates a new staleness tracker
func NewTracker(db *gorm.DB) *Tracker {
	return &Tracker{db: db}
}

// EnsureRecord lazily creates a staleness record the first time an
// instrument is seen. Existing records are left untouched.
func (t *Tracker) EnsureRecord(symbol string) error {
	rec := models.StalenessRecord{Symbol: symbol, Stale: true}
	return t.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}},
		DoNothing: true,
	}).Create(&rec).Error
}

// MarkStale flags an instrument for recomputation. Idempotent and safe to
// call concurrently from the ingestion path on every bar arrival.
func (t *Tracker) MarkStale(symbol string) error {
	rec := models.StalenessRecord{Symbol: symbol, Stale: true}
	return t.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"stale": true, "updated_at": time.Now()}),
	}).Create(&rec).Error
}

// ClaimBatch atomically selects up to maxSize stale instruments whose last
// refresh started at least minAge ago, marks them non-stale with a fresh
// refresh timestamp, and returns the claimed symbols.
//
// The select-and-mark runs as a single conditional UPDATE so two concurrent
// claimers can never return overlapping sets: under postgres the second
// statement blocks on the row locks and re-evaluates stale=false; under
// sqlite writers are serialized. minAge is the only reclaim guard — a
// refresh that fails after claiming leaves the symbol non-stale until the
// next upstream bar re-marks it.
func (t *Tracker) ClaimBatch(maxSize int, minAge time.Duration) ([]string, error) {
	if maxSize <= 0 {
		return nil, nil
	}

	now := time.Now()
	cutoff := now.Add(-minAge)

	var claimed []models.StalenessRecord
	err := t.db.Raw(`
		UPDATE staleness_records
		SET stale = ?, last_refresh_started_at = ?, updated_at = ?
		WHERE symbol IN (
			SELECT symbol FROM staleness_records
			WHERE stale = ? AND last_refresh_started_at <= ?
			ORDER BY last_refresh_started_at
			LIMIT ?
		) AND stale = ?
		RETURNING symbol`,
		false, now, now, true, cutoff, maxSize, true,
	).Scan(&claimed).Error
	if err != nil {
		return nil, fmt.Errorf("claim batch: %w", err)
	}

	symbols := make([]string, 0, len(claimed))
	for _, rec := range claimed {
		symbols = append(symbols, rec.Symbol)
	}
	return symbols, nil
}

// CountStale returns how many instruments currently await recomputation.
func (t *Tracker) CountStale() (int64, error) {
	var n int64
	err := t.db.Model(&models.StalenessRecord{}).Where("stale = ?", true).Count(&n).Error
	return n, err
}
