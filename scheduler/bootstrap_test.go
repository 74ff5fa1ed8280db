package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"screener_engine/config"
	"screener_engine/models"
)

// setupTestDB prepares an in-memory SQLite database for testing.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err, "failed to initialize test database")

	// Single connection so every query sees the same in-memory database
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, models.MigrateInstrumentModels(db))
	require.NoError(t, models.MigrateBarModels(db))
	require.NoError(t, models.MigrateStalenessModels(db))
	require.NoError(t, models.MigrateAggregateModels(db))
	require.NoError(t, models.MigrateScreenerModels(db))

	return db
}

func testConfig() *config.Config {
	return &config.Config{
		BatchSize:              100,
		FastCyclePeriod:        3 * time.Second,
		ClaimCooldown:          0,
		RefreshTimeout:         20 * time.Second,
		MergeWorkers:           2,
		PreMarketWindowDays:    7,
		HistoricalLookbackDays: 400,
		HistoricalChunkSize:    500,
	}
}

func seedInstrument(t *testing.T, db *gorm.DB, symbol string) {
	t.Helper()
	instrument := models.Instrument{
		Symbol:    symbol,
		Name:      symbol + " Inc",
		Status:    "active",
		MarketCap: decimal.NewFromInt(1),
	}
	require.NoError(t, db.Create(&instrument).Error)
}

func TestBootstrap_SeedsTrackerAndCaches(t *testing.T) {
	t.Parallel()

	db := setupTestDB(t)
	s := NewScheduler(testConfig(), db, nil, nil)

	// AAA has never been merged; BBB already has a row and a settled record
	seedInstrument(t, db, "AAA")
	seedInstrument(t, db, "BBB")
	require.NoError(t, db.Create(&models.ScreenerRow{Symbol: "BBB", CalcTime: time.Now()}).Error)
	require.NoError(t, db.Create(&models.StalenessRecord{Symbol: "BBB", Stale: false}).Error)

	s.Bootstrap(context.Background())

	// Every active instrument ends up with a staleness record
	var records []models.StalenessRecord
	require.NoError(t, db.Order("symbol").Find(&records).Error)
	require.Len(t, records, 2)

	assert.Equal(t, "AAA", records[0].Symbol)
	assert.True(t, records[0].Stale, "instrument with no screener row must start stale")
	assert.Equal(t, "BBB", records[1].Symbol)
	assert.False(t, records[1].Stale, "settled instrument must not be re-marked")

	// Cache rows exist for the whole universe after the rebuild
	var calcs int64
	require.NoError(t, db.Model(&models.HistoricalCalc{}).Count(&calcs).Error)
	assert.Equal(t, int64(2), calcs)

	var snaps int64
	require.NoError(t, db.Model(&models.IntradaySnapshot{}).Count(&snaps).Error)
	assert.Equal(t, int64(2), snaps)
}

func TestBootstrap_IgnoresInactiveInstruments(t *testing.T) {
	t.Parallel()

	db := setupTestDB(t)
	s := NewScheduler(testConfig(), db, nil, nil)

	seedInstrument(t, db, "AAA")
	delisted := models.Instrument{Symbol: "GONE", Status: "delisted", MarketCap: decimal.NewFromInt(1)}
	require.NoError(t, db.Create(&delisted).Error)

	s.Bootstrap(context.Background())

	var records []models.StalenessRecord
	require.NoError(t, db.Find(&records).Error)
	require.Len(t, records, 1)
	assert.Equal(t, "AAA", records[0].Symbol)
}

func TestScheduler_StartStopIsReentrant(t *testing.T) {
	t.Parallel()

	db := setupTestDB(t)
	s := NewScheduler(testConfig(), db, nil, nil)

	s.Start()
	s.Start() // second start is a no-op
	s.Stop()
	s.Stop() // second stop is a no-op
}
