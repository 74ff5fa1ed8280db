package staleness

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"screener_engine/models"
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

	err = models.MigrateStalenessModels(db)
	require.NoError(t, err, "failed to migrate table")

	return db
}

func seedStale(t *testing.T, tracker *Tracker, symbols ...string) {
	t.Helper()
	for _, symbol := range symbols {
		require.NoError(t, tracker.MarkStale(symbol))
	}
}

func TestTracker_MarkStaleIsIdempotent(t *testing.T) {
	t.Parallel()

	tracker := NewTracker(setupTestDB(t))

	for i := 0; i < 3; i++ {
		require.NoError(t, tracker.MarkStale("AAPL"))
	}

	count, err := tracker.CountStale()
	require.NoError(t, err)
	assert.Equal(t, int64(1), count, "repeated marks must collapse into one record")
}

func TestTracker_EnsureRecordLeavesExistingUntouched(t *testing.T) {
	t.Parallel()

	db := setupTestDB(t)
	tracker := NewTracker(db)

	require.NoError(t, tracker.EnsureRecord("AAPL"))

	// Claim it so the record flips to non-stale
	claimed, err := tracker.ClaimBatch(10, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"AAPL"}, claimed)

	// A second ensure must not resurrect staleness
	require.NoError(t, tracker.EnsureRecord("AAPL"))

	count, err := tracker.CountStale()
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestTracker_ClaimBatchRespectsLimit(t *testing.T) {
	t.Parallel()

	tracker := NewTracker(setupTestDB(t))
	seedStale(t, tracker, "AAA", "BBB", "CCC", "DDD", "EEE")

	claimed, err := tracker.ClaimBatch(2, 0)
	require.NoError(t, err)
	assert.Len(t, claimed, 2)

	count, err := tracker.CountStale()
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestTracker_ClaimBatchDrainsToEmpty(t *testing.T) {
	t.Parallel()

	tracker := NewTracker(setupTestDB(t))
	seedStale(t, tracker, "AAA", "BBB", "CCC")

	total := 0
	for {
		claimed, err := tracker.ClaimBatch(2, 0)
		require.NoError(t, err)
		if len(claimed) == 0 {
			break
		}
		total += len(claimed)
	}

	assert.Equal(t, 3, total)

	// No records left to claim
	claimed, err := tracker.ClaimBatch(2, 0)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestTracker_ClaimBatchHonorsCooldown(t *testing.T) {
	t.Parallel()

	tracker := NewTracker(setupTestDB(t))
	seedStale(t, tracker, "AAPL")

	claimed, err := tracker.ClaimBatch(10, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"AAPL"}, claimed)

	// Re-marked immediately after a refresh started
	require.NoError(t, tracker.MarkStale("AAPL"))

	// Inside the cool-down the symbol is stale but not claimable
	claimed, err = tracker.ClaimBatch(10, time.Hour)
	require.NoError(t, err)
	assert.Empty(t, claimed, "symbol inside cool-down must not be reclaimed")

	count, err := tracker.CountStale()
	require.NoError(t, err)
	assert.Equal(t, int64(1), count, "symbol must stay stale through the cool-down")

	// With no cool-down it becomes claimable again
	claimed, err = tracker.ClaimBatch(10, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL"}, claimed)
}

func TestTracker_ConcurrentClaimsNeverOverlap(t *testing.T) {
	t.Parallel()

	tracker := NewTracker(setupTestDB(t))

	symbols := []string{
		"AAA", "BBB", "CCC", "DDD", "EEE", "FFF", "GGG", "HHH", "III", "JJJ",
		"KKK", "LLL", "MMM", "NNN", "OOO", "PPP", "QQQ", "RRR", "SSS", "TTT",
	}
	seedStale(t, tracker, symbols...)

	const claimers = 4
	results := make(chan string, len(symbols))

	var wg sync.WaitGroup
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				claimed, err := tracker.ClaimBatch(3, 0)
				assert.NoError(t, err)
				if len(claimed) == 0 {
					return
				}
				for _, symbol := range claimed {
					results <- symbol
				}
			}
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[string]int)
	for symbol := range results {
		seen[symbol]++
	}

	assert.Len(t, seen, len(symbols), "every stale symbol must be claimed exactly once")
	for symbol, n := range seen {
		assert.Equal(t, 1, n, "symbol %s claimed by more than one batch", symbol)
	}
}

func TestTracker_ClaimBatchZeroSize(t *testing.T) {
	t.Parallel()

	tracker := NewTracker(setupTestDB(t))
	seedStale(t, tracker, "AAPL")

	claimed, err := tracker.ClaimBatch(0, 0)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}
