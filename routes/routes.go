package routes

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"screener_engine/config"
	"screener_engine/controllers"
	"screener_engine/middleware"
	"screener_engine/services/cyclefeed"
	"screener_engine/services/staleness"
)

// SetupRoutes configures all API routes
func SetupRoutes(router *gin.Engine, db *gorm.DB, tracker *staleness.Tracker, feed *cyclefeed.Feed) {
	screenerController := controllers.NewScreenerController(db, tracker, feed)
	opsAuth := middleware.OpsAuthMiddleware(config.AppConfig.OpsSecret)

	api := router.Group("/api")
	{
		// Public read-only screener table
		screener := api.Group("/screener")
		{
			screener.GET("", screenerController.ListRows)
			screener.GET("/:symbol", screenerController.GetRow)
			screener.POST("/:symbol/refresh", opsAuth, screenerController.ForceRefresh)
		}

		// Operational endpoints (token required)
		engine := api.Group("/engine")
		engine.Use(opsAuth)
		{
			engine.GET("/status", screenerController.EngineStatus)
			engine.GET("/feed", screenerController.CycleFeed)
		}
	}
}
