package merge

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"screener_engine/models"
	"screener_engine/services/aggregates"
	"screener_engine/services/marketclock"
	"screener_engine/services/staleness"
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

type testEngine struct {
	engine     *Engine
	tracker    *staleness.Tracker
	intraday   *aggregates.Intraday
	historical *aggregates.Historical
	clock      *marketclock.Clock
}

func setupEngine(t *testing.T, db *gorm.DB) testEngine {
	t.Helper()

	clock := marketclock.NewClock()
	tracker := staleness.NewTracker(db)
	preMarket := aggregates.NewPreMarket(db, clock, 7)
	intraday := aggregates.NewIntraday(db, clock)
	historical := aggregates.NewHistorical(db, 400)
	engine := NewEngine(db, tracker, preMarket, intraday, historical, clock, 100, 0, 4)

	return testEngine{
		engine:     engine,
		tracker:    tracker,
		intraday:   intraday,
		historical: historical,
		clock:      clock,
	}
}

func seedInstrument(t *testing.T, db *gorm.DB, symbol, sector string) {
	t.Helper()
	instrument := models.Instrument{
		Symbol:    symbol,
		Name:      symbol + " Inc",
		Exchange:  "NASDAQ",
		Sector:    sector,
		Industry:  "Software",
		MarketCap: decimal.NewFromInt(1_000_000_000),
		Status:    "active",
	}
	require.NoError(t, db.Create(&instrument).Error)
}

func seedDaily(t *testing.T, db *gorm.DB, symbol string, date time.Time, closePrice float64) {
	t.Helper()
	bar := models.DailyBar{
		Symbol: symbol,
		Date:   date,
		Open:   closePrice - 1,
		High:   closePrice + 2,
		Low:    closePrice - 2,
		Close:  closePrice,
		Volume: 10000,
	}
	require.NoError(t, db.Create(&bar).Error)
}

// sessionNow returns a regular-session timestamp on a known trading day.
func sessionNow(t *testing.T, clock *marketclock.Clock) time.Time {
	t.Helper()
	now := time.Date(2025, 6, 11, 15, 0, 0, 0, clock.Location())
	require.True(t, clock.IsTradingDay(now))
	return now
}

func TestEngine_MergeOneWithNoUpstreamData(t *testing.T) {
	t.Parallel()

	db := setupTestDB(t)
	te := setupEngine(t, db)
	seedInstrument(t, db, "AAA", "Technology")

	now := sessionNow(t, te.clock)
	require.NoError(t, te.engine.MergeOne(context.Background(), "AAA", now))

	var row models.ScreenerRow
	require.NoError(t, db.Where("symbol = ?", "AAA").First(&row).Error)

	assert.Equal(t, "AAA Inc", row.Name)
	assert.Equal(t, "Technology", row.Sector)
	assert.Nil(t, row.Close, "no daily bars means null price columns")
	assert.Nil(t, row.Change1dPct)
	assert.Nil(t, row.Change1wPct)
	assert.Nil(t, row.RSI14)
	assert.Nil(t, row.PreMarketOpen)
	assert.False(t, row.CalcTime.IsZero())
}

func TestEngine_MergeOneComputesChanges(t *testing.T) {
	t.Parallel()

	db := setupTestDB(t)
	te := setupEngine(t, db)
	seedInstrument(t, db, "AAA", "Technology")

	now := sessionNow(t, te.clock)
	seedDaily(t, db, "AAA", now.AddDate(0, 0, -10), 90)
	seedDaily(t, db, "AAA", now.AddDate(0, 0, -1), 100)
	seedDaily(t, db, "AAA", now, 105)

	require.NoError(t, te.historical.RefreshForSymbols(context.Background(), []string{"AAA"}, now))
	require.NoError(t, te.engine.MergeOne(context.Background(), "AAA", now))

	var row models.ScreenerRow
	require.NoError(t, db.Where("symbol = ?", "AAA").First(&row).Error)

	require.NotNil(t, row.Close)
	assert.Equal(t, 105.0, *row.Close)
	require.NotNil(t, row.PrevClose)
	assert.Equal(t, 100.0, *row.PrevClose)
	require.NotNil(t, row.Change1dPct)
	assert.InDelta(t, 5.0, *row.Change1dPct, 0.001)
	require.NotNil(t, row.Change1wPct)
	assert.InDelta(t, 16.67, *row.Change1wPct, 0.001)
	require.NotNil(t, row.DollarVol)
	assert.InDelta(t, 1_050_000.0, *row.DollarVol, 0.001)
}

func TestEngine_MergeIsIdempotent(t *testing.T) {
	t.Parallel()

	db := setupTestDB(t)
	te := setupEngine(t, db)
	seedInstrument(t, db, "AAA", "Technology")

	now := sessionNow(t, te.clock)
	seedDaily(t, db, "AAA", now.AddDate(0, 0, -10), 90)
	seedDaily(t, db, "AAA", now, 105)
	require.NoError(t, te.historical.RefreshForSymbols(context.Background(), []string{"AAA"}, now))

	require.NoError(t, te.engine.MergeOne(context.Background(), "AAA", now))
	var first models.ScreenerRow
	require.NoError(t, db.Where("symbol = ?", "AAA").First(&first).Error)

	require.NoError(t, te.engine.MergeOne(context.Background(), "AAA", now))
	var second models.ScreenerRow
	require.NoError(t, db.Where("symbol = ?", "AAA").First(&second).Error)

	assert.False(t, second.CalcTime.Before(first.CalcTime))
	second.CalcTime = first.CalcTime
	assert.Equal(t, first, second, "replaying a merge with unchanged caches must change nothing but calc_time")

	var count int64
	require.NoError(t, db.Model(&models.ScreenerRow{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestEngine_RunCycleConvergesStaleness(t *testing.T) {
	t.Parallel()

	db := setupTestDB(t)
	te := setupEngine(t, db)

	now := sessionNow(t, te.clock)
	for _, symbol := range []string{"AAA", "BBB", "CCC"} {
		seedInstrument(t, db, symbol, "Technology")
		seedDaily(t, db, symbol, now, 100)
		require.NoError(t, te.tracker.MarkStale(symbol))
	}

	stats, err := te.engine.RunCycle(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Claimed)
	assert.Equal(t, 3, stats.Merged)
	assert.Equal(t, 0, stats.Failed)

	count, err := te.tracker.CountStale()
	require.NoError(t, err)
	assert.Equal(t, int64(0), count, "a successful cycle leaves nothing stale")

	var rows int64
	require.NoError(t, db.Model(&models.ScreenerRow{}).Count(&rows).Error)
	assert.Equal(t, int64(3), rows)

	// Nothing left to claim: the next cycle is a no-op
	stats, err = te.engine.RunCycle(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Claimed)
	assert.Equal(t, 0, stats.Merged)
}

func TestEngine_RunCycleCountsUnknownSymbolsAsFailed(t *testing.T) {
	t.Parallel()

	db := setupTestDB(t)
	te := setupEngine(t, db)

	now := sessionNow(t, te.clock)
	seedInstrument(t, db, "AAA", "Technology")
	require.NoError(t, te.tracker.MarkStale("AAA"))
	// Stale record without a backing instrument
	require.NoError(t, te.tracker.MarkStale("GHOST"))

	stats, err := te.engine.RunCycle(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Claimed)
	assert.Equal(t, 1, stats.Merged)
	assert.Equal(t, 1, stats.Failed)
}

func TestBuildRow_ZeroPrevCloseYieldsNullChange(t *testing.T) {
	t.Parallel()

	instrument := models.Instrument{Symbol: "AAA", Name: "AAA Inc"}
	bars := []models.DailyBar{
		{Symbol: "AAA", Date: time.Now(), Open: 104, High: 107, Low: 103, Close: 105, Volume: 1000},
		{Symbol: "AAA", Date: time.Now().AddDate(0, 0, -1), Close: 0},
	}

	row := buildRow(instrument, bars, nil, nil, nil, time.Now())

	require.NotNil(t, row.PrevClose)
	assert.Equal(t, 0.0, *row.PrevClose)
	assert.Nil(t, row.Change1dPct, "zero previous close must yield null, not a division result")
}

func TestBuildRow_52WeekDistances(t *testing.T) {
	t.Parallel()

	instrument := models.Instrument{Symbol: "AAA"}
	bars := []models.DailyBar{
		{Symbol: "AAA", Date: time.Now(), Open: 104, High: 107, Low: 103, Close: 100, Volume: 1000},
	}
	historical := &models.HistoricalCalc{
		Symbol:  "AAA",
		High52w: aggregates.Ptr(125.0),
		Low52w:  aggregates.Ptr(80.0),
		SMA50:   aggregates.Ptr(110.0),
	}

	row := buildRow(instrument, bars, nil, nil, historical, time.Now())

	require.NotNil(t, row.Off52wHighPct)
	assert.InDelta(t, -20.0, *row.Off52wHighPct, 0.001)
	require.NotNil(t, row.Off52wLowPct)
	assert.InDelta(t, 25.0, *row.Off52wLowPct, 0.001)
	require.NotNil(t, row.PriceVsSMA50Pct)
	assert.InDelta(t, -9.09, *row.PriceVsSMA50Pct, 0.001)
	assert.Nil(t, row.PriceVsSMA200Pct)
}
