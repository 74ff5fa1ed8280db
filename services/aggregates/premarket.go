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

// PreMarket maintains the per-(symbol, trading day) pre-market aggregate
// cache. Only days inside a small trailing window are ever rebuilt.
type PreMarket struct {
	db         *gorm.DB
	clock      *marketclock.Clock
	windowDays int
}

// NewPreMarket creates a new pre-market aggregate cache
func NewPreMarket(db *gorm.DB, clock *marketclock.Clock, windowDays int) *PreMarket {
	return &PreMarket{db: db, clock: clock, windowDays: windowDays}
}

// RebuildForSymbols recomputes pre-market rows for the given symbols over
// the trailing window ending at now. Rows for days without pre-market bars
// are left absent; the merge resolves them to null columns.
func (p *PreMarket) RebuildForSymbols(ctx context.Context, symbols []string, now time.Time) error {
	if len(symbols) == 0 {
		return nil
	}

	for offset := 0; offset < p.windowDays; offset++ {
		day := now.AddDate(0, 0, -offset)
		if !p.clock.IsTradingDay(day) {
			continue
		}
		if err := p.rebuildDay(ctx, symbols, day); err != nil {
			return err
		}
	}
	return nil
}

// rebuildDay recomputes one trading day's pre-market rows for the symbols.
func (p *PreMarket) rebuildDay(ctx context.Context, symbols []string, day time.Time) error {
	start, end := p.clock.PreMarketWindow(day)
	tradingDay := p.clock.TradingDayOf(day)

	var bars []models.IntradayBar
	err := p.db.WithContext(ctx).
		Where("symbol IN ? AND timestamp >= ? AND timestamp < ?", symbols, start, end).
		Order("symbol, timestamp").
		Find(&bars).Error
	if err != nil {
		return fmt.Errorf("load pre-market bars for %s: %w", tradingDay.Format("2006-01-02"), err)
	}
	if len(bars) == 0 {
		return nil
	}

	rows := make([]models.PreMarketAggregate, 0)
	var current *models.PreMarketAggregate
	for _, bar := range bars {
		if current == nil || current.Symbol != bar.Symbol {
			if current != nil {
				rows = append(rows, finishPreMarketRow(*current))
			}
			current = &models.PreMarketAggregate{
				Symbol:     bar.Symbol,
				TradingDay: tradingDay,
				Open:       bar.Open,
				High:       bar.High,
				Low:        bar.Low,
				Close:      bar.Close,
				Volume:     bar.Volume,
			}
			continue
		}
		if bar.High > current.High {
			current.High = bar.High
		}
		if bar.Low < current.Low {
			current.Low = bar.Low
		}
		current.Close = bar.Close
		current.Volume += bar.Volume
	}
	if current != nil {
		rows = append(rows, finishPreMarketRow(*current))
	}

	return p.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}, {Name: "trading_day"}},
		UpdateAll: true,
	}).Create(&rows).Error
}

func finishPreMarketRow(row models.PreMarketAggregate) models.PreMarketAggregate {
	row.RangePct = RangePct(row.High, row.Low)
	var openRef *float64
	if row.Open != 0 {
		openRef = Ptr(row.Open)
	}
	row.ChangePct = PctChange(row.Close, openRef)
	return row
}

// RebuildWindow rebuilds the trailing window for every active instrument,
// in bounded chunks. Used by bootstrap and the morning catch-up job; the
// steady-state fast cycle only ever touches claimed symbols.
func (p *PreMarket) RebuildWindow(ctx context.Context, now time.Time) error {
	const chunkSize = 500

	var symbols []string
	err := p.db.WithContext(ctx).Model(&models.Instrument{}).
		Where("status = ?", "active").
		Order("symbol").
		Pluck("symbol", &symbols).Error
	if err != nil {
		return fmt.Errorf("load active instruments: %w", err)
	}

	for i := 0; i < len(symbols); i += chunkSize {
		end := i + chunkSize
		if end > len(symbols) {
			end = len(symbols)
		}
		if err := p.RebuildForSymbols(ctx, symbols[i:end], now); err != nil {
			log.Printf("Pre-market catch-up chunk failed: %v", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

// FindForDay returns the pre-market row for one symbol on one trading day.
func (p *PreMarket) FindForDay(ctx context.Context, symbol string, day time.Time) (*models.PreMarketAggregate, error) {
	var row models.PreMarketAggregate
	err := p.db.WithContext(ctx).
		Where("symbol = ? AND trading_day = ?", symbol, p.clock.TradingDayOf(day)).
		First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// PruneBefore deletes pre-market rows older than the trailing window.
func (p *PreMarket) PruneBefore(ctx context.Context, now time.Time) error {
	cutoff := p.clock.TradingDayOf(now.AddDate(0, 0, -p.windowDays))
	return p.db.WithContext(ctx).
		Where("trading_day < ?", cutoff).
		Delete(&models.PreMarketAggregate{}).Error
}
