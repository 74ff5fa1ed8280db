package controllers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"screener_engine/models"
	"screener_engine/services/cyclefeed"
	"screener_engine/services/staleness"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// Columns the list endpoint accepts for sorting. Anything else falls back
// to symbol order rather than reaching the SQL layer.
var sortableColumns = map[string]bool{
	"symbol":           true,
	"market_cap":       true,
	"close":            true,
	"volume":           true,
	"dollar_vol":       true,
	"change_1d_pct":    true,
	"change_1w_pct":    true,
	"change_1m_pct":    true,
	"change_3m_pct":    true,
	"change_6m_pct":    true,
	"change_1y_pct":    true,
	"change_ytd_pct":   true,
	"change_1h_pct":    true,
	"rel_volume":       true,
	"rsi_14":           true,
	"volatility_30d":   true,
	"off_52w_high_pct": true,
	"calc_time":        true,
}

// ScreenerController serves the merged screener table and the engine's
// operational endpoints.
type ScreenerController struct {
	db      *gorm.DB
	tracker *staleness.Tracker
	feed    *cyclefeed.Feed
}

// NewScreenerController creates a new screener controller
func NewScreenerController(db *gorm.DB, tracker *staleness.Tracker, feed *cyclefeed.Feed) *ScreenerController {
	return &ScreenerController{db: db, tracker: tracker, feed: feed}
}

// ListRows returns a page of screener rows.
// GET /api/screener?page=1&page_size=50&sort=change_1d_pct&order=desc&sector=Technology
func (sc *ScreenerController) ListRows(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", strconv.Itoa(defaultPageSize)))
	if pageSize < 1 || pageSize > maxPageSize {
		pageSize = defaultPageSize
	}

	sort := c.DefaultQuery("sort", "symbol")
	if !sortableColumns[sort] {
		sort = "symbol"
	}
	order := strings.ToLower(c.DefaultQuery("order", "asc"))
	if order != "desc" {
		order = "asc"
	}

	query := sc.db.Model(&models.ScreenerRow{})
	if sector := c.Query("sector"); sector != "" {
		query = query.Where("sector = ?", sector)
	}
	if exchange := c.Query("exchange"); exchange != "" {
		query = query.Where("exchange = ?", exchange)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "database_error",
			"message": "Failed to count screener rows",
		})
		return
	}

	var rows []models.ScreenerRow
	err := query.
		Order(sort + " " + order + ", symbol asc").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&rows).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "database_error",
			"message": "Failed to load screener rows",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":      rows,
		"page":      page,
		"page_size": pageSize,
		"total":     total,
	})
}

// GetRow returns one instrument's screener row.
// GET /api/screener/:symbol
func (sc *ScreenerController) GetRow(c *gin.Context) {
	symbol := strings.ToUpper(c.Param("symbol"))

	var row models.ScreenerRow
	err := sc.db.Where("symbol = ?", symbol).First(&row).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "No screener row for symbol " + symbol,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "database_error",
			"message": "Failed to load screener row",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": row})
}

// ForceRefresh marks an instrument stale so the next fast cycle picks it up.
// POST /api/screener/:symbol/refresh
func (sc *ScreenerController) ForceRefresh(c *gin.Context) {
	symbol := strings.ToUpper(c.Param("symbol"))

	var instrument models.Instrument
	err := sc.db.Where("symbol = ?", symbol).First(&instrument).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Unknown symbol " + symbol,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "database_error",
			"message": "Failed to look up instrument",
		})
		return
	}

	if err := sc.tracker.MarkStale(symbol); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "database_error",
			"message": "Failed to mark symbol stale",
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"message": "Refresh queued",
		"symbol":  symbol,
	})
}

// EngineStatus reports the stale backlog and the last refresh cycle.
// GET /api/engine/status
func (sc *ScreenerController) EngineStatus(c *gin.Context) {
	staleCount, err := sc.tracker.CountStale()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "database_error",
			"message": "Failed to count stale instruments",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"stale_count": staleCount,
		"last_cycle":  sc.feed.LastStats(),
	})
}

// CycleFeed upgrades the connection to the live cycle-stats stream.
// GET /api/engine/feed
func (sc *ScreenerController) CycleFeed(c *gin.Context) {
	sc.feed.HandleWebSocket(c.Writer, c.Request)
}
