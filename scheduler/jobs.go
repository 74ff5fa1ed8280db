package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron"
)

// startMaintenance registers the calendar-shaped jobs that fall outside
// the refresh loops: the pre-market catch-up for unclaimed recent days and
// the nightly prune of rows past the trailing window.
func (s *Scheduler) startMaintenance() {
	s.maintenance = gocron.NewScheduler(s.clock.Location())

	// Catch up the pre-market window just before the pre-market open.
	s.maintenance.Every(1).Day().At("03:50").Do(func() {
		now := time.Now()
		if !s.clock.IsTradingDay(now) {
			return
		}
		log.Println("Running pre-market catch-up...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if err := s.preMarket.RebuildWindow(ctx, now); err != nil {
			log.Printf("Pre-market catch-up failed: %v", err)
			return
		}
		log.Println("Pre-market catch-up completed")
	})

	// Prune pre-market rows older than the trailing window.
	s.maintenance.Every(1).Day().At("21:30").Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := s.preMarket.PruneBefore(ctx, time.Now()); err != nil {
			log.Printf("Pre-market prune failed: %v", err)
			return
		}
		log.Println("Pre-market prune completed")
	})

	s.maintenance.StartAsync()
}

// stopMaintenance stops the gocron jobs.
func (s *Scheduler) stopMaintenance() {
	if s.maintenance != nil {
		s.maintenance.Stop()
		s.maintenance = nil
	}
}
