// Package aggregates maintains the three rolling aggregate caches that feed
// the screener merge: pre-market stats, intraday snapshots and long-horizon
// historical values. All computations are scoped to the instruments passed
// in; nothing here ever rescans the full universe.
package aggregates

import (
	"math"
	"time"

	"screener_engine/models"
)

// Ptr returns a pointer to v. Convenience for nullable metric columns.
func Ptr(v float64) *float64 {
	return &v
}

// Round2 rounds to two decimal places
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// PctChange computes (current-reference)/reference*100, or nil when the
// reference is missing or zero. Zero denominators are data defects, not
// errors.
func PctChange(current float64, reference *float64) *float64 {
	if reference == nil || *reference == 0 {
		return nil
	}
	return Ptr(Round2((current - *reference) / *reference * 100))
}

// RangePct computes (high-low)/low*100, or nil when low is missing or zero.
func RangePct(high, low float64) *float64 {
	if low == 0 {
		return nil
	}
	return Ptr(Round2((high - low) / low * 100))
}

// SMA computes the simple moving average of the first period closes.
// Closes must be sorted newest first. Returns nil with insufficient data.
func SMA(closes []float64, period int) *float64 {
	if period <= 0 || len(closes) < period {
		return nil
	}
	sum := 0.0
	for i := 0; i < period; i++ {
		sum += closes[i]
	}
	return Ptr(Round2(sum / float64(period)))
}

// RSI computes the Relative Strength Index over the trailing period changes.
// Closes must be sorted newest first and contain at least period+1 entries;
// otherwise nil. Average gain over average loss, with zero average loss
// mapping to 100.
func RSI(closes []float64, period int) *float64 {
	if period <= 0 || len(closes) < period+1 {
		return nil
	}

	gains := 0.0
	losses := 0.0
	for i := 0; i < period; i++ {
		change := closes[i] - closes[i+1]
		if change > 0 {
			gains += change
		} else {
			losses += -change
		}
	}

	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)

	if avgLoss == 0 {
		return Ptr(100)
	}

	rs := avgGain / avgLoss
	return Ptr(Round2(100 - (100 / (1 + rs))))
}

// StdDevReturns computes the sample standard deviation of daily returns
// over the given window. Closes must be sorted newest first and contain at
// least window+1 entries; otherwise nil. A zero close inside the window is
// a data defect and also yields nil.
func StdDevReturns(closes []float64, window int) *float64 {
	if window < 2 || len(closes) < window+1 {
		return nil
	}

	returns := make([]float64, 0, window)
	for i := 0; i < window; i++ {
		prev := closes[i+1]
		if prev == 0 {
			return nil
		}
		returns = append(returns, (closes[i]-prev)/prev)
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		diff := r - mean
		variance += diff * diff
	}
	variance /= float64(len(returns) - 1)

	return Ptr(math.Sqrt(variance))
}

// NearestPrecedingClose returns the close of the most recent bar dated at
// or before cutoff. Bars must be sorted newest first. Returns nil when no
// bar is old enough.
func NearestPrecedingClose(bars []models.DailyBar, cutoff time.Time) *float64 {
	for _, bar := range bars {
		if !bar.Date.After(cutoff) {
			return Ptr(bar.Close)
		}
	}
	return nil
}

func extractCloses(bars []models.DailyBar) []float64 {
	closes := make([]float64, len(bars))
	for i, bar := range bars {
		closes[i] = bar.Close
	}
	return closes
}
