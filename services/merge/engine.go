// Package merge implements the fast incremental batch cycle: claim a
// bounded set of stale instruments, refresh the aggregate caches scoped to
// exactly that set, and upsert each instrument's merged screener row.
package merge

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"screener_engine/models"
	"screener_engine/services/aggregates"
	"screener_engine/services/marketclock"
	"screener_engine/services/staleness"
)

// CycleStats summarizes one refresh cycle for logging and the ops feed.
type CycleStats struct {
	Loop     string        `json:"loop"`
	Claimed  int           `json:"claimed"`
	Merged   int           `json:"merged"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration"`
	At       time.Time     `json:"at"`
}

// Engine runs claimed batches through cache refresh and row merge.
type Engine struct {
	db         *gorm.DB
	tracker    *staleness.Tracker
	preMarket  *aggregates.PreMarket
	intraday   *aggregates.Intraday
	historical *aggregates.Historical
	clock      *marketclock.Clock

	batchSize int
	cooldown  time.Duration
	workers   int
}

// NewEngine creates a new merge engine
func NewEngine(
	db *gorm.DB,
	tracker *staleness.Tracker,
	preMarket *aggregates.PreMarket,
	intraday *aggregates.Intraday,
	historical *aggregates.Historical,
	clock *marketclock.Clock,
	batchSize int,
	cooldown time.Duration,
	workers int,
) *Engine {
	if workers <= 0 {
		workers = 1
	}
	return &Engine{
		db:         db,
		tracker:    tracker,
		preMarket:  preMarket,
		intraday:   intraday,
		historical: historical,
		clock:      clock,
		batchSize:  batchSize,
		cooldown:   cooldown,
		workers:    workers,
	}
}

// RunCycle executes one fast-cycle pass: claim, refresh caches for the
// claimed set, merge each claimed instrument's row. An empty claim is a
// no-op. Per-instrument failures are counted and logged; the instrument
// stays non-stale until the next upstream bar re-marks it.
func (e *Engine) RunCycle(ctx context.Context, now time.Time) (CycleStats, error) {
	start := time.Now()
	stats := CycleStats{Loop: "fast", At: now}

	claimed, err := e.tracker.ClaimBatch(e.batchSize, e.cooldown)
	if err != nil {
		return stats, err
	}
	stats.Claimed = len(claimed)
	if len(claimed) == 0 {
		stats.Duration = time.Since(start)
		return stats, nil
	}

	// Cache refresh scoped to exactly the claimed set, never the universe.
	if err := e.intraday.RefreshForSymbols(ctx, claimed, now); err != nil {
		return stats, err
	}
	if err := e.historical.RefreshForSymbols(ctx, claimed, now); err != nil {
		return stats, err
	}
	if e.clock.IsTradingDay(now) {
		if err := e.preMarket.RebuildForSymbols(ctx, claimed, now); err != nil {
			log.Printf("Pre-market rebuild for claimed batch failed: %v", err)
		}
	}

	merged, failed := e.MergeSymbols(ctx, claimed, now)
	stats.Merged = merged
	stats.Failed = failed
	stats.Duration = time.Since(start)
	return stats, nil
}

// MergeSymbols fans the symbols over a fixed worker pool. Claimed symbols
// are disjoint by construction, so workers share no mutable state beyond
// the store itself.
func (e *Engine) MergeSymbols(ctx context.Context, symbols []string, now time.Time) (merged, failed int) {
	jobs := make(chan string)
	results := make(chan error)

	var wg sync.WaitGroup
	for w := 0; w < e.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for symbol := range jobs {
				results <- e.MergeOne(ctx, symbol, now)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, symbol := range symbols {
			select {
			case jobs <- symbol:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	for err := range results {
		if err != nil {
			failed++
			log.Printf("Merge failed: %v", err)
		} else {
			merged++
		}
	}
	return merged, failed
}

// MergeOne recomputes and upserts a single instrument's screener row. The
// upsert replaces every owned column, so replaying it with unchanged caches
// produces an identical row apart from calc_time.
func (e *Engine) MergeOne(ctx context.Context, symbol string, now time.Time) error {
	var instrument models.Instrument
	if err := e.db.WithContext(ctx).Where("symbol = ?", symbol).First(&instrument).Error; err != nil {
		return fmt.Errorf("%s: load instrument: %w", symbol, err)
	}

	var dailyBars []models.DailyBar
	err := e.db.WithContext(ctx).
		Where("symbol = ?", symbol).
		Order("date DESC").
		Limit(2).
		Find(&dailyBars).Error
	if err != nil {
		return fmt.Errorf("%s: load daily bars: %w", symbol, err)
	}

	preMarket, err := e.preMarket.FindForDay(ctx, symbol, now)
	if err != nil {
		return fmt.Errorf("%s: load pre-market row: %w", symbol, err)
	}
	snapshot, err := e.intraday.Find(ctx, symbol)
	if err != nil {
		return fmt.Errorf("%s: load intraday snapshot: %w", symbol, err)
	}
	historical, err := e.historical.Find(ctx, symbol)
	if err != nil {
		return fmt.Errorf("%s: load historical calc: %w", symbol, err)
	}

	row := buildRow(instrument, dailyBars, preMarket, snapshot, historical, time.Now())

	if err := e.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}},
		UpdateAll: true,
	}).Create(&row).Error; err != nil {
		return fmt.Errorf("%s: upsert screener row: %w", symbol, err)
	}
	return nil
}

// buildRow recomputes every owned column from the caches and raw bars.
// Missing upstream data resolves to null columns, never stale defaults.
func buildRow(
	instrument models.Instrument,
	dailyBars []models.DailyBar,
	preMarket *models.PreMarketAggregate,
	snapshot *models.IntradaySnapshot,
	historical *models.HistoricalCalc,
	calcTime time.Time,
) models.ScreenerRow {
	row := models.ScreenerRow{
		Symbol:    instrument.Symbol,
		Name:      instrument.Name,
		Exchange:  instrument.Exchange,
		Sector:    instrument.Sector,
		Industry:  instrument.Industry,
		MarketCap: instrument.MarketCap,
		CalcTime:  calcTime,
	}

	var price *float64
	if len(dailyBars) > 0 {
		latest := dailyBars[0]
		price = aggregates.Ptr(latest.Close)
		row.Open = aggregates.Ptr(latest.Open)
		row.High = aggregates.Ptr(latest.High)
		row.Low = aggregates.Ptr(latest.Low)
		row.Close = price
		row.Volume = aggregates.Ptr(float64(latest.Volume))
		row.DollarVol = aggregates.Ptr(aggregates.Round2(latest.Close * float64(latest.Volume)))
		row.Range1dPct = aggregates.RangePct(latest.High, latest.Low)

		if len(dailyBars) > 1 {
			row.PrevClose = aggregates.Ptr(dailyBars[1].Close)
			row.Change1dPct = aggregates.PctChange(latest.Close, row.PrevClose)
		}
	}

	if historical != nil && price != nil {
		row.Change1wPct = aggregates.PctChange(*price, historical.CloseWeekAgo)
		row.Change1mPct = aggregates.PctChange(*price, historical.Close1mAgo)
		row.Change3mPct = aggregates.PctChange(*price, historical.Close3mAgo)
		row.Change6mPct = aggregates.PctChange(*price, historical.Close6mAgo)
		row.Change1yPct = aggregates.PctChange(*price, historical.Close1yAgo)
		row.Change5yPct = aggregates.PctChange(*price, historical.Close5yAgo)
		row.Change10yPct = aggregates.PctChange(*price, historical.Close10yAgo)
		row.ChangeYTDPct = aggregates.PctChange(*price, historical.CloseYTD)
		row.ChangeAllPct = aggregates.PctChange(*price, historical.CloseAllTime)
		row.Off52wHighPct = aggregates.PctChange(*price, historical.High52w)
		row.Off52wLowPct = aggregates.PctChange(*price, historical.Low52w)
		row.PriceVsSMA50Pct = aggregates.PctChange(*price, historical.SMA50)
		row.PriceVsSMA200Pct = aggregates.PctChange(*price, historical.SMA200)
	}
	if historical != nil {
		row.High52w = historical.High52w
		row.Low52w = historical.Low52w
		row.SMA50 = historical.SMA50
		row.SMA200 = historical.SMA200
		row.RSI14 = historical.RSI14
		row.Volatility7d = historical.Volatility7d
		row.Volatility30d = historical.Volatility30d
	}

	if snapshot != nil {
		row.Change1hPct = snapshot.Change1hPct
		row.Change4hPct = snapshot.Change4hPct
		row.Range1mPct = snapshot.Range1mPct
		row.Range15mPct = snapshot.Range15mPct
		row.Range1hPct = snapshot.Range1hPct
		row.AvgVol14Bar = snapshot.AvgVol14Bar
		row.AvgDollarVol14 = snapshot.AvgDollarVol14
		row.RelVolume = snapshot.RelVolume
		row.ExtHoursPct = snapshot.ExtHoursPct
	}

	if preMarket != nil {
		row.PreMarketOpen = aggregates.Ptr(preMarket.Open)
		row.PreMarketHigh = aggregates.Ptr(preMarket.High)
		row.PreMarketLow = aggregates.Ptr(preMarket.Low)
		row.PreMarketClose = aggregates.Ptr(preMarket.Close)
		row.PreMarketVolume = aggregates.Ptr(float64(preMarket.Volume))
		row.PreMarketChangePct = preMarket.ChangePct
		row.PreMarketRangePct = preMarket.RangePct
	}

	return row
}
