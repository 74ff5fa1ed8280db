// Package marketclock provides market-hours predicates for the refresh
// loops. All windows are evaluated in venue-local time (New York).
package marketclock

import (
	"log"
	"time"

	"github.com/scmhub/calendar"
)

// Session windows, venue-local clock time.
const (
	preMarketOpenHour = 4
	regularOpenHour   = 9
	regularOpenMinute = 30
	regularCloseHour  = 16
	extendedCloseHour = 20
)

// Clock answers market-hours questions against the NYSE trading calendar.
// If the calendar cannot be loaded it falls back to a plain Mon-Fri check.
type Clock struct {
	cal      *calendar.Calendar
	fallback bool
	loc      *time.Location
}

// NewClock creates a Clock backed by the NYSE (xnys) calendar.
func NewClock() *Clock {
	cal := calendar.GetCalendar("xnys")
	if cal == nil {
		log.Println("WARNING: xnys calendar unavailable, using Mon-Fri fallback")
		loc, err := time.LoadLocation("America/New_York")
		if err != nil {
			loc = time.UTC
		}
		return &Clock{fallback: true, loc: loc}
	}
	return &Clock{cal: cal, loc: cal.Loc}
}

// Location returns the venue-local time zone.
func (c *Clock) Location() *time.Location {
	return c.loc
}

// IsTradingDay reports whether t falls on a trading day.
func (c *Clock) IsTradingDay(t time.Time) bool {
	t = t.In(c.loc)
	if c.fallback {
		wd := t.Weekday()
		return wd != time.Saturday && wd != time.Sunday
	}
	return c.cal.IsBusinessDay(t)
}

// IsPreMarket reports whether t is inside the pre-market window
// (04:00-09:29:59 venue-local) on a trading day.
func (c *Clock) IsPreMarket(t time.Time) bool {
	if !c.IsTradingDay(t) {
		return false
	}
	t = t.In(c.loc)
	mins := t.Hour()*60 + t.Minute()
	return mins >= preMarketOpenHour*60 && mins < regularOpenHour*60+regularOpenMinute
}

// IsRegularSession reports whether t is inside the regular trading session
// (09:30-16:00 venue-local) on a trading day.
func (c *Clock) IsRegularSession(t time.Time) bool {
	if !c.IsTradingDay(t) {
		return false
	}
	t = t.In(c.loc)
	mins := t.Hour()*60 + t.Minute()
	return mins >= regularOpenHour*60+regularOpenMinute && mins < regularCloseHour*60
}

// IsExtendedHours reports whether t is inside the extended trading window
// (04:00-20:00 venue-local) on a trading day.
func (c *Clock) IsExtendedHours(t time.Time) bool {
	if !c.IsTradingDay(t) {
		return false
	}
	t = t.In(c.loc)
	h := t.Hour()
	return h >= preMarketOpenHour && h < extendedCloseHour
}

// TradingDayOf truncates t to midnight of its venue-local calendar day.
func (c *Clock) TradingDayOf(t time.Time) time.Time {
	t = t.In(c.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, c.loc)
}

// PreMarketWindow returns the [start, end) pre-market window for the
// venue-local calendar day containing t.
func (c *Clock) PreMarketWindow(t time.Time) (time.Time, time.Time) {
	day := c.TradingDayOf(t)
	start := day.Add(preMarketOpenHour * time.Hour)
	end := day.Add(regularOpenHour*time.Hour + regularOpenMinute*time.Minute)
	return start, end
}

// RegularOpenAt returns the regular-session open time for the venue-local
// calendar day containing t.
func (c *Clock) RegularOpenAt(t time.Time) time.Time {
	day := c.TradingDayOf(t)
	return day.Add(regularOpenHour*time.Hour + regularOpenMinute*time.Minute)
}

// RegularCloseAt returns the regular-session close time for the venue-local
// calendar day containing t.
func (c *Clock) RegularCloseAt(t time.Time) time.Time {
	return c.TradingDayOf(t).Add(regularCloseHour * time.Hour)
}
