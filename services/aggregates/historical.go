package aggregates

import (
	"context"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"screener_engine/models"
)

// Horizon offsets resolved from the trailing daily-bar window.
var windowHorizons = []struct {
	days int
	dest func(*models.HistoricalCalc) **float64
}{
	{7, func(h *models.HistoricalCalc) **float64 { return &h.CloseWeekAgo }},
	{30, func(h *models.HistoricalCalc) **float64 { return &h.Close1mAgo }},
	{91, func(h *models.HistoricalCalc) **float64 { return &h.Close3mAgo }},
	{182, func(h *models.HistoricalCalc) **float64 { return &h.Close6mAgo }},
	{365, func(h *models.HistoricalCalc) **float64 { return &h.Close1yAgo }},
}

// Long horizons past the window are resolved with indexed point lookups.
var pointHorizons = []struct {
	years int
	dest  func(*models.HistoricalCalc) **float64
}{
	{5, func(h *models.HistoricalCalc) **float64 { return &h.Close5yAgo }},
	{10, func(h *models.HistoricalCalc) **float64 { return &h.Close10yAgo }},
}

// Historical maintains the single-row-per-symbol long-horizon cache:
// reference closes at each horizon boundary, 52-week extremes, moving
// averages, RSI and volatility. These values move slowly, so the cache
// refreshes on the slowest cadence.
type Historical struct {
	db           *gorm.DB
	lookbackDays int
}

// NewHistorical creates a new historical calc cache
func NewHistorical(db *gorm.DB, lookbackDays int) *Historical {
	return &Historical{db: db, lookbackDays: lookbackDays}
}

// RefreshForSymbols recomputes the historical row for each given symbol.
// Per-symbol failures are logged and skipped.
func (h *Historical) RefreshForSymbols(ctx context.Context, symbols []string, now time.Time) error {
	for _, symbol := range symbols {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := h.refreshOne(ctx, symbol, now); err != nil {
			log.Printf("Historical calc refresh failed for %s: %v", symbol, err)
		}
	}
	return nil
}

func (h *Historical) refreshOne(ctx context.Context, symbol string, now time.Time) error {
	var bars []models.DailyBar
	err := h.db.WithContext(ctx).
		Where("symbol = ? AND date >= ?", symbol, now.AddDate(0, 0, -h.lookbackDays)).
		Order("date DESC").
		Find(&bars).Error
	if err != nil {
		return fmt.Errorf("load daily bars: %w", err)
	}

	calc := models.HistoricalCalc{Symbol: symbol}
	if len(bars) > 0 {
		if err := h.compute(ctx, &calc, bars, now); err != nil {
			return err
		}
	}

	return h.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}},
		UpdateAll: true,
	}).Create(&calc).Error
}

func (h *Historical) compute(ctx context.Context, calc *models.HistoricalCalc, bars []models.DailyBar, now time.Time) error {
	closes := extractCloses(bars)

	for _, horizon := range windowHorizons {
		*horizon.dest(calc) = NearestPrecedingClose(bars, now.AddDate(0, 0, -horizon.days))
	}
	for _, horizon := range pointHorizons {
		refClose, err := h.closeAtOrBefore(ctx, calc.Symbol, now.AddDate(-horizon.years, 0, 0))
		if err != nil {
			return err
		}
		*horizon.dest(calc) = refClose
	}

	// YTD reference is the first close of the current calendar year.
	yearStart := time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, now.Location())
	for i := len(bars) - 1; i >= 0; i-- {
		if !bars[i].Date.Before(yearStart) {
			calc.CloseYTD = Ptr(bars[i].Close)
			break
		}
	}

	earliest, err := h.earliestClose(ctx, calc.Symbol)
	if err != nil {
		return err
	}
	calc.CloseAllTime = earliest

	// 52-week extremes over the window.
	cutoff52w := now.AddDate(0, 0, -365)
	for _, bar := range bars {
		if bar.Date.Before(cutoff52w) {
			break
		}
		if calc.High52w == nil || bar.High > *calc.High52w {
			calc.High52w = Ptr(bar.High)
		}
		if calc.Low52w == nil || bar.Low < *calc.Low52w {
			calc.Low52w = Ptr(bar.Low)
		}
	}

	calc.SMA50 = SMA(closes, 50)
	calc.SMA200 = SMA(closes, 200)
	calc.RSI14 = RSI(closes, 14)
	calc.Volatility7d = StdDevReturns(closes, 7)
	calc.Volatility30d = StdDevReturns(closes, 30)

	return nil
}

func (h *Historical) closeAtOrBefore(ctx context.Context, symbol string, cutoff time.Time) (*float64, error) {
	var bar models.DailyBar
	err := h.db.WithContext(ctx).
		Where("symbol = ? AND date <= ?", symbol, cutoff).
		Order("date DESC").
		First(&bar).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return Ptr(bar.Close), nil
}

func (h *Historical) earliestClose(ctx context.Context, symbol string) (*float64, error) {
	var bar models.DailyBar
	err := h.db.WithContext(ctx).
		Where("symbol = ?", symbol).
		Order("date ASC").
		First(&bar).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return Ptr(bar.Close), nil
}

// StalestSymbols returns up to limit symbols whose historical rows were
// refreshed longest ago. The five-minute loop sweeps the universe through
// this in bounded chunks instead of recomputing everything at once.
func (h *Historical) StalestSymbols(ctx context.Context, limit int) ([]string, error) {
	var symbols []string
	err := h.db.WithContext(ctx).Model(&models.HistoricalCalc{}).
		Order("updated_at ASC").
		Limit(limit).
		Pluck("symbol", &symbols).Error
	return symbols, err
}

// Find returns one symbol's historical row, or nil when absent.
func (h *Historical) Find(ctx context.Context, symbol string) (*models.HistoricalCalc, error) {
	var calc models.HistoricalCalc
	err := h.db.WithContext(ctx).Where("symbol = ?", symbol).First(&calc).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &calc, nil
}
