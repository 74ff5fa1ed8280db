// Package scheduler drives the refresh engine: three independent timer
// loops (fast incremental batch, one-minute intraday sweep, five-minute
// historical sweep), each gated by a market-hours predicate, plus gocron
// maintenance jobs and the one-time bootstrap pass.
package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"gorm.io/gorm"

	"screener_engine/config"
	"screener_engine/services/aggregates"
	"screener_engine/services/archive"
	"screener_engine/services/cyclefeed"
	"screener_engine/services/marketclock"
	"screener_engine/services/merge"
	"screener_engine/services/staleness"
)

// How far back the one-minute loop looks for bar activity.
const intradayActivityLookback = 3 * time.Minute

// Scheduler owns the refresh loops. Each loop owns only its own ticker and
// exits on the shared shutdown context; loops never block each other.
type Scheduler struct {
	cfg        *config.Config
	db         *gorm.DB
	clock      *marketclock.Clock
	tracker    *staleness.Tracker
	engine     *merge.Engine
	preMarket  *aggregates.PreMarket
	intraday   *aggregates.Intraday
	historical *aggregates.Historical
	feed       *cyclefeed.Feed
	archive    *archive.Archive

	maintenance *gocron.Scheduler
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	mu          sync.Mutex
	running     bool
}

// NewScheduler wires the engine components together.
func NewScheduler(cfg *config.Config, db *gorm.DB, feed *cyclefeed.Feed, arc *archive.Archive) *Scheduler {
	clock := marketclock.NewClock()
	tracker := staleness.NewTracker(db)
	preMarket := aggregates.NewPreMarket(db, clock, cfg.PreMarketWindowDays)
	intraday := aggregates.NewIntraday(db, clock)
	historical := aggregates.NewHistorical(db, cfg.HistoricalLookbackDays)
	engine := merge.NewEngine(db, tracker, preMarket, intraday, historical, clock,
		cfg.BatchSize, cfg.ClaimCooldown, cfg.MergeWorkers)

	return &Scheduler{
		cfg:        cfg,
		db:         db,
		clock:      clock,
		tracker:    tracker,
		engine:     engine,
		preMarket:  preMarket,
		intraday:   intraday,
		historical: historical,
		feed:       feed,
		archive:    arc,
	}
}

// Tracker exposes the staleness tracker for the API layer's force-refresh hook.
func (s *Scheduler) Tracker() *staleness.Tracker {
	return s.tracker
}

// Start launches the three refresh loops and the maintenance jobs.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(3)
	go s.fastLoop(ctx)
	go s.intradayLoop(ctx)
	go s.historicalLoop(ctx)
	s.startMaintenance()

	log.Println("Refresh scheduler started")
}

// Stop halts new batch claims and waits for in-flight cycles to finish or
// hit their deadlines.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.stopMaintenance()
	s.wg.Wait()
	log.Println("Refresh scheduler stopped")
}

// fastLoop claims and merges a bounded batch of stale instruments every few
// seconds during the extended trading window.
func (s *Scheduler) fastLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.FastCyclePeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if !s.clock.IsExtendedHours(now) {
				continue
			}
			s.runFastCycle(ctx, now)
		}
	}
}

func (s *Scheduler) runFastCycle(ctx context.Context, now time.Time) {
	cycleCtx, cancel := context.WithTimeout(ctx, s.cfg.RefreshTimeout)
	defer cancel()

	stats, err := s.engine.RunCycle(cycleCtx, now)
	if err != nil {
		log.Printf("Fast cycle error after claiming %d: %v", stats.Claimed, err)
	}
	if stats.Claimed > 0 {
		log.Printf("Fast cycle: claimed=%d merged=%d failed=%d duration=%v",
			stats.Claimed, stats.Merged, stats.Failed, stats.Duration)
		if s.feed != nil {
			s.feed.Publish(stats)
		}
		if s.archive != nil {
			s.archive.SaveCycleStats(stats)
		}
	}
}

// intradayLoop refreshes snapshots for symbols with recent bar activity,
// once a minute during the extended trading window.
func (s *Scheduler) intradayLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if !s.clock.IsExtendedHours(now) {
				continue
			}
			s.runIntradaySweep(ctx, now)
		}
	}
}

func (s *Scheduler) runIntradaySweep(ctx context.Context, now time.Time) {
	sweepCtx, cancel := context.WithTimeout(ctx, s.cfg.RefreshTimeout)
	defer cancel()

	symbols, err := s.intraday.ActiveSymbolsSince(sweepCtx, now.Add(-intradayActivityLookback))
	if err != nil {
		log.Printf("Intraday sweep: loading active symbols failed: %v", err)
		return
	}
	if len(symbols) == 0 {
		return
	}

	start := time.Now()
	if err := s.intraday.RefreshForSymbols(sweepCtx, symbols, now); err != nil {
		log.Printf("Intraday sweep abandoned: %v", err)
		return
	}
	log.Printf("Intraday sweep: refreshed=%d duration=%v", len(symbols), time.Since(start))
}

// historicalLoop sweeps the universe in bounded age-ordered chunks every
// five minutes during the regular session.
func (s *Scheduler) historicalLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if !s.clock.IsRegularSession(now) {
				continue
			}
			s.runHistoricalSweep(ctx, now)
		}
	}
}

func (s *Scheduler) runHistoricalSweep(ctx context.Context, now time.Time) {
	sweepCtx, cancel := context.WithTimeout(ctx, s.cfg.RefreshTimeout)
	defer cancel()

	symbols, err := s.historical.StalestSymbols(sweepCtx, s.cfg.HistoricalChunkSize)
	if err != nil {
		log.Printf("Historical sweep: loading stalest symbols failed: %v", err)
		return
	}
	if len(symbols) == 0 {
		return
	}

	start := time.Now()
	if err := s.historical.RefreshForSymbols(sweepCtx, symbols, now); err != nil {
		log.Printf("Historical sweep abandoned: %v", err)
		return
	}
	log.Printf("Historical sweep: refreshed=%d duration=%v", len(symbols), time.Since(start))
}
