package api

import (
	"solar_monitor/internal/metrics"

	"github.com/gin-gonic/gin"
)

// SetupRoutes configures all API routes
func SetupRoutes(r *gin.Engine, h *Handler) {
	r.GET("/health", h.Health)
	r.GET("/metrics", metrics.Handler())

	api := r.Group("/api")
	{
		api.GET("/stats", h.GetStats)

		// Telemetry ingest and history
		api.POST("/telemetry/:sourceId", h.IngestTelemetry)
		api.GET("/telemetry/history", h.GetHistory)
		api.GET("/sites/:siteId/latest", h.LatestSamples)

		// Alert lifecycle
		alerts := api.Group("/alerts")
		{
			alerts.GET("", h.ListAlerts)
			alerts.DELETE("", h.DeleteAllAlerts)
			alerts.GET("/badge", h.AlertBadge)
			alerts.GET("/stream", h.StreamAlerts)
			alerts.POST("/:id/acknowledge", h.AcknowledgeAlert)
			alerts.POST("/:id/resolve", h.ResolveAlert)
			alerts.DELETE("/:id", h.DeleteAlert)
		}

		// Daily production
		production := api.Group("/production")
		{
			production.GET("", h.ListProduction)
			production.POST("/save", h.SaveProduction)
			production.GET("/:date", h.GetProduction)
			production.GET("/:date/export", h.ExportProduction)
		}

		api.GET("/faults/summary", h.FaultSummary)

		// Rule settings
		settings := api.Group("/settings")
		{
			settings.GET("", h.GetSettings)
			settings.PUT("", h.UpdateSettings)
			settings.PUT("/strings/:deviceId/:stringKey", h.SetStringActive)
		}
	}
}
