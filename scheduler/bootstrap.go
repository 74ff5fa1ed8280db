package scheduler

import (
	"context"
	"log"
	"time"

	"screener_engine/models"
)

const bootstrapChunkSize = 500

// Bootstrap runs the one-time startup pass: rebuild all three aggregate
// caches over their full lookback windows, then prime the staleness tracker
// for instruments that have never produced a screener row. Each step logs
// failures and continues — partial aggregate coverage beats refusing to
// start, since the engine self-heals within a refresh cycle.
func (s *Scheduler) Bootstrap(ctx context.Context) {
	start := time.Now()
	now := time.Now()
	log.Println("Bootstrap: rebuilding aggregate caches...")

	var symbols []string
	err := s.db.WithContext(ctx).Model(&models.Instrument{}).
		Where("status = ?", "active").
		Order("symbol").
		Pluck("symbol", &symbols).Error
	if err != nil {
		log.Printf("Bootstrap: loading instruments failed: %v", err)
		return
	}

	if err := s.preMarket.RebuildWindow(ctx, now); err != nil {
		log.Printf("Bootstrap: pre-market rebuild failed: %v", err)
	}

	for i := 0; i < len(symbols); i += bootstrapChunkSize {
		end := i + bootstrapChunkSize
		if end > len(symbols) {
			end = len(symbols)
		}
		chunk := symbols[i:end]

		if err := s.intraday.RefreshForSymbols(ctx, chunk, now); err != nil {
			log.Printf("Bootstrap: intraday refresh failed: %v", err)
		}
		if err := s.historical.RefreshForSymbols(ctx, chunk, now); err != nil {
			log.Printf("Bootstrap: historical refresh failed: %v", err)
		}
		if ctx.Err() != nil {
			log.Printf("Bootstrap interrupted: %v", ctx.Err())
			return
		}
	}

	s.seedTracker(ctx, symbols)
	log.Printf("Bootstrap completed: instruments=%d duration=%v", len(symbols), time.Since(start))
}

// seedTracker ensures every active instrument has a staleness record and
// marks instruments with no screener row stale so the fast cycle picks
// them up immediately.
func (s *Scheduler) seedTracker(ctx context.Context, symbols []string) {
	for _, symbol := range symbols {
		if err := s.tracker.EnsureRecord(symbol); err != nil {
			log.Printf("Bootstrap: seeding staleness record for %s failed: %v", symbol, err)
		}
	}

	var missing []string
	err := s.db.WithContext(ctx).Model(&models.Instrument{}).
		Where("status = ? AND symbol NOT IN (SELECT symbol FROM screener_rows)", "active").
		Pluck("symbol", &missing).Error
	if err != nil {
		log.Printf("Bootstrap: finding unmerged instruments failed: %v", err)
		return
	}

	for _, symbol := range missing {
		if err := s.tracker.MarkStale(symbol); err != nil {
			log.Printf("Bootstrap: marking %s stale failed: %v", symbol, err)
		}
	}
	if len(missing) > 0 {
		log.Printf("Bootstrap: seeded %d instruments with no screener row", len(missing))
	}
}
