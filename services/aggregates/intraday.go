package aggregates

import (
	"context"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"screener_engine/models"
	"screener_engine/services/marketclock"
)

// Intraday maintains the single-row-per-symbol intraday snapshot cache.
// Each refresh reads only a short trailing slice of minute bars plus a few
// point lookups; compute stays proportional to recent data.
type Intraday struct {
	db    *gorm.DB
	clock *marketclock.Clock
}

// NewIntraday creates a new intraday snapshot cache
func NewIntraday(db *gorm.DB, clock *marketclock.Clock) *Intraday {
	return &Intraday{db: db, clock: clock}
}

// RefreshForSymbols recomputes the snapshot row for each given symbol.
// Per-symbol failures are logged and skipped; the symbol simply keeps its
// previous snapshot until the next refresh.
func (i *Intraday) RefreshForSymbols(ctx context.Context, symbols []string, now time.Time) error {
	for _, symbol := range symbols {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := i.refreshOne(ctx, symbol, now); err != nil {
			log.Printf("Intraday snapshot refresh failed for %s: %v", symbol, err)
		}
	}
	return nil
}

func (i *Intraday) refreshOne(ctx context.Context, symbol string, now time.Time) error {
	latest, err := i.latestBar(ctx, symbol)
	if err != nil {
		return err
	}

	snap := models.IntradaySnapshot{Symbol: symbol}
	if latest != nil {
		if err := i.computeSnapshot(ctx, &snap, *latest); err != nil {
			return err
		}
	}

	return i.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}},
		UpdateAll: true,
	}).Create(&snap).Error
}

func (i *Intraday) computeSnapshot(ctx context.Context, snap *models.IntradaySnapshot, latest models.IntradayBar) error {
	snap.LastPrice = Ptr(latest.Close)
	snap.LastBarAt = &latest.Timestamp
	snap.LastVolume = Ptr(float64(latest.Volume))

	// Point lookups, not scans: nearest preceding bar at each offset.
	for _, ref := range []struct {
		offset time.Duration
		dest   **float64
	}{
		{time.Hour, &snap.Change1hPct},
		{4 * time.Hour, &snap.Change4hPct},
	} {
		bar, err := i.barAtOrBefore(ctx, latest.Symbol, latest.Timestamp.Add(-ref.offset))
		if err != nil {
			return err
		}
		if bar != nil {
			*ref.dest = PctChange(latest.Close, Ptr(bar.Close))
		}
	}

	// One trailing-hour slice covers all three rolling ranges.
	var window []models.IntradayBar
	err := i.db.WithContext(ctx).
		Where("symbol = ? AND timestamp > ? AND timestamp <= ?",
			latest.Symbol, latest.Timestamp.Add(-time.Hour), latest.Timestamp).
		Order("timestamp DESC").
		Find(&window).Error
	if err != nil {
		return fmt.Errorf("load trailing window: %w", err)
	}
	snap.Range1mPct = windowRangePct(window, latest.Timestamp, time.Minute)
	snap.Range15mPct = windowRangePct(window, latest.Timestamp, 15*time.Minute)
	snap.Range1hPct = windowRangePct(window, latest.Timestamp, time.Hour)

	var recent []models.IntradayBar
	err = i.db.WithContext(ctx).
		Where("symbol = ?", latest.Symbol).
		Order("timestamp DESC").
		Limit(14).
		Find(&recent).Error
	if err != nil {
		return fmt.Errorf("load recent bars: %w", err)
	}
	if len(recent) > 0 {
		volSum := 0.0
		dollarSum := 0.0
		for _, bar := range recent {
			volSum += float64(bar.Volume)
			dollarSum += float64(bar.Volume) * bar.Close
		}
		n := float64(len(recent))
		snap.AvgVol14Bar = Ptr(Round2(volSum / n))
		snap.AvgDollarVol14 = Ptr(Round2(dollarSum / n))
		if *snap.AvgVol14Bar != 0 {
			snap.RelVolume = Ptr(Round2(float64(latest.Volume) / *snap.AvgVol14Bar))
		}
	}

	// Extended-hours delta: latest extended-session price against the most
	// recent daily close. Null while inside the regular session.
	if !i.clock.IsRegularSession(latest.Timestamp) {
		var daily models.DailyBar
		err := i.db.WithContext(ctx).
			Where("symbol = ? AND date <= ?", latest.Symbol, i.clock.TradingDayOf(latest.Timestamp)).
			Order("date DESC").
			First(&daily).Error
		if err == nil {
			snap.ExtHoursPct = PctChange(latest.Close, Ptr(daily.Close))
		} else if err != gorm.ErrRecordNotFound {
			return fmt.Errorf("load reference daily close: %w", err)
		}
	}

	return nil
}

func (i *Intraday) latestBar(ctx context.Context, symbol string) (*models.IntradayBar, error) {
	var bar models.IntradayBar
	err := i.db.WithContext(ctx).
		Where("symbol = ?", symbol).
		Order("timestamp DESC").
		First(&bar).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &bar, nil
}

// barAtOrBefore returns the nearest bar at or before ts for the symbol.
func (i *Intraday) barAtOrBefore(ctx context.Context, symbol string, ts time.Time) (*models.IntradayBar, error) {
	var bar models.IntradayBar
	err := i.db.WithContext(ctx).
		Where("symbol = ? AND timestamp <= ?", symbol, ts).
		Order("timestamp DESC").
		First(&bar).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &bar, nil
}

// windowRangePct computes (high-low)/low over bars within the trailing
// duration ending at latest. Bars must be sorted newest first.
func windowRangePct(bars []models.IntradayBar, latest time.Time, window time.Duration) *float64 {
	cutoff := latest.Add(-window)
	high := 0.0
	low := 0.0
	found := false
	for _, bar := range bars {
		if !bar.Timestamp.After(cutoff) {
			break
		}
		if !found {
			high, low = bar.High, bar.Low
			found = true
			continue
		}
		if bar.High > high {
			high = bar.High
		}
		if bar.Low < low {
			low = bar.Low
		}
	}
	if !found {
		return nil
	}
	return RangePct(high, low)
}

// ActiveSymbolsSince returns symbols with intraday bar activity after the
// cutoff. Drives the one-minute background loop without a universe scan.
func (i *Intraday) ActiveSymbolsSince(ctx context.Context, cutoff time.Time) ([]string, error) {
	var symbols []string
	err := i.db.WithContext(ctx).Model(&models.IntradayBar{}).
		Distinct("symbol").
		Where("timestamp >= ?", cutoff).
		Pluck("symbol", &symbols).Error
	return symbols, err
}

// Find returns one symbol's snapshot row, or nil when absent.
func (i *Intraday) Find(ctx context.Context, symbol string) (*models.IntradaySnapshot, error) {
	var snap models.IntradaySnapshot
	err := i.db.WithContext(ctx).Where("symbol = ?", symbol).First(&snap).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &snap, nil
}
