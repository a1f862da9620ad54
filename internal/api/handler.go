package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"solar_monitor/internal/domain"
	"solar_monitor/internal/export"
	"solar_monitor/internal/notify"
	"solar_monitor/internal/repository"
	"solar_monitor/internal/service"
	"solar_monitor/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Handler handles HTTP requests
type Handler struct {
	engine   *service.Engine
	badge    *notify.BadgeSink
	ws       *notify.WebSocketHub
	upgrader websocket.Upgrader
}

// NewHandler creates a new handler. badge and ws may be nil.
func NewHandler(engine *service.Engine, badge *notify.BadgeSink, ws *notify.WebSocketHub) *Handler {
	return &Handler{
		engine: engine,
		badge:  badge,
		ws:     ws,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

type ingestRequest struct {
	SiteID     string                   `json:"siteId" binding:"required"`
	VendorType domain.VendorType        `json:"vendorType"`
	RequestID  string                   `json:"requestId"`
	Records    []map[string]interface{} `json:"records"`
}

// IngestTelemetry handles POST /api/telemetry/:sourceId
func (h *Handler) IngestTelemetry(c *gin.Context) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON: " + err.Error()})
		return
	}

	res, err := h.engine.Ingest(c.Request.Context(), service.IngestRequest{
		RequestID:  service.NewRequestID(req.RequestID),
		SourceID:   c.Param("sourceId"),
		SiteID:     req.SiteID,
		VendorType: req.VendorType,
		Records:    req.Records,
		SourceIP:   c.ClientIP(),
	})
	switch {
	case errors.Is(err, service.ErrUnknownSource):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	case errors.Is(err, service.ErrVendorMismatch), errors.Is(err, domain.ErrUnknownVendor):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		logger.Errorf("Ingest failed for source %s: %v", c.Param("sourceId"), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"result": res,
	})
}

// ListAlerts handles GET /api/alerts
func (h *Handler) ListAlerts(c *gin.Context) {
	alerts := h.engine.Alerts().List(c.Request.Context(), domain.Role(c.Query("role")), siteList(c))
	c.JSON(http.StatusOK, gin.H{
		"count":  len(alerts),
		"alerts": alerts,
	})
}

// AlertBadge handles GET /api/alerts/badge
func (h *Handler) AlertBadge(c *gin.Context) {
	if h.badge != nil && c.Query("role") == "" {
		c.JSON(http.StatusOK, gin.H{"unacknowledged": h.badge.Count()})
		return
	}
	role := domain.Role(c.DefaultQuery("role", string(domain.RoleAdmin)))
	alerts := h.engine.Alerts().List(c.Request.Context(), role, siteList(c))
	c.JSON(http.StatusOK, gin.H{"unacknowledged": len(domain.Unacknowledged(alerts))})
}

type acknowledgeRequest struct {
	UserID string `json:"userId" binding:"required"`
}

// AcknowledgeAlert handles POST /api/alerts/:id/acknowledge
func (h *Handler) AcknowledgeAlert(c *gin.Context) {
	var req acknowledgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userId is required"})
		return
	}

	alert, err := h.engine.Alerts().Acknowledge(c.Request.Context(), c.Param("id"), req.UserID)
	if err != nil {
		h.alertError(c, err)
		return
	}
	c.JSON(http.StatusOK, alert)
}

// ResolveAlert handles POST /api/alerts/:id/resolve
func (h *Handler) ResolveAlert(c *gin.Context) {
	alert, err := h.engine.Alerts().Resolve(c.Request.Context(), c.Param("id"), false)
	if err != nil {
		h.alertError(c, err)
		return
	}
	c.JSON(http.StatusOK, alert)
}

// DeleteAlert handles DELETE /api/alerts/:id
func (h *Handler) DeleteAlert(c *gin.Context) {
	if err := h.engine.Alerts().Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.alertError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// DeleteAllAlerts handles DELETE /api/alerts?userId=
func (h *Handler) DeleteAllAlerts(c *gin.Context) {
	userID := c.Query("userId")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userId is required"})
		return
	}

	n, err := h.engine.Alerts().DeleteAll(c.Request.Context(), userID)
	if err != nil {
		logger.Errorf("Delete all alerts for %s failed: %v", userID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}

func (h *Handler) alertError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrAlertNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrAlertResolved):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		logger.Errorf("Alert operation failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// StreamAlerts handles GET /api/alerts/stream
func (h *Handler) StreamAlerts(c *gin.Context) {
	if h.ws == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "alert stream disabled"})
		return
	}
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warnf("WebSocket upgrade failed: %v", err)
		return
	}
	h.ws.Serve(conn, domain.Role(c.Query("role")), siteList(c))
}

// SaveProduction handles POST /api/production/save
func (h *Handler) SaveProduction(c *gin.Context) {
	rec, err := h.engine.Aggregator().ManualSave(c.Request.Context(), service.DateResolution(c.Query("target")))
	switch {
	case errors.Is(err, service.ErrDateResolutionRequired):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "resolution_required",
			"message": err.Error(),
			"options": []service.DateResolution{service.ResolveYesterday, service.ResolveToday},
		})
		return
	case errors.Is(err, service.ErrInvalidResolution):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"record":  rec,
	})
}

// ListProduction handles GET /api/production?from=&to=
func (h *Handler) ListProduction(c *gin.Context) {
	today := time.Now().Format(domain.DateLayout)
	from := c.DefaultQuery("from", today)
	to := c.DefaultQuery("to", today)
	if !validDate(from) || !validDate(to) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "dates must be YYYY-MM-DD"})
		return
	}

	records, err := h.engine.ProductionRange(c.Request.Context(), from, to)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count":   len(records),
		"records": records,
	})
}

// GetProduction handles GET /api/production/:date
func (h *Handler) GetProduction(c *gin.Context) {
	rec, ok := h.productionRecord(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, rec)
}

// ExportProduction handles GET /api/production/:date/export
func (h *Handler) ExportProduction(c *gin.Context) {
	format := export.Format(c.DefaultQuery("format", string(export.FormatXLSX)))
	if format != export.FormatXLSX && format != export.FormatPDF {
		c.JSON(http.StatusBadRequest, gin.H{"error": export.ErrUnsupportedFormat.Error()})
		return
	}

	rec, ok := h.productionRecord(c)
	if !ok {
		return
	}

	data, err := export.Build(*rec, format)
	if err != nil {
		logger.Errorf("Export %s for %s failed: %v", format, rec.Date, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+format.FileName(rec.Date)+`"`)
	c.Data(http.StatusOK, format.ContentType(), data)
}

// productionRecord loads the record named by :date, writing the error response when it can't
func (h *Handler) productionRecord(c *gin.Context) (*domain.DailyProductionRecord, bool) {
	date := c.Param("date")
	if !validDate(date) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
		return nil, false
	}

	rec, err := h.engine.ProductionRecord(c.Request.Context(), date)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	if rec == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no production record for " + date})
		return nil, false
	}
	return rec, true
}

// FaultSummary handles GET /api/faults/summary
func (h *Handler) FaultSummary(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"phase":   h.engine.Phase(),
		"sites":   h.engine.FaultSummary(),
		"strings": h.engine.StringReports(),
	})
}

// GetSettings handles GET /api/settings
func (h *Handler) GetSettings(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.Settings())
}

// UpdateSettings handles PUT /api/settings
func (h *Handler) UpdateSettings(c *gin.Context) {
	// unset fields keep their current value
	settings := h.engine.Settings()
	if err := c.ShouldBindJSON(&settings); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
		return
	}
	if err := h.engine.UpdateSettings(settings); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.engine.Settings())
}

type stringOverrideRequest struct {
	Active *bool `json:"active" binding:"required"`
}

// SetStringActive handles PUT /api/settings/strings/:deviceId/:stringKey
func (h *Handler) SetStringActive(c *gin.Context) {
	var req stringOverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "active is required"})
		return
	}
	settings := h.engine.SetStringActive(c.Param("deviceId"), c.Param("stringKey"), *req.Active)
	c.JSON(http.StatusOK, settings)
}

// GetHistory handles GET /api/telemetry/history
func (h *Handler) GetHistory(c *gin.Context) {
	if !h.engine.HasArchive() {
		c.JSON(http.StatusNotFound, gin.H{"error": "telemetry archive not configured"})
		return
	}

	filter := repository.TelemetryFilter{
		SiteID:   c.Query("site_id"),
		DeviceID: c.Query("device_id"),
		Limit:    getIntParam(c, "limit", 100),
	}
	if startStr := c.Query("start_time"); startStr != "" {
		if start, err := time.Parse(time.RFC3339, startStr); err == nil {
			filter.StartTime = &start
		}
	}
	if endStr := c.Query("end_time"); endStr != "" {
		if end, err := time.Parse(time.RFC3339, endStr); err == nil {
			filter.EndTime = &end
		}
	}

	samples, err := h.engine.History(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count":   len(samples),
		"samples": samples,
	})
}

// LatestSamples handles GET /api/sites/:siteId/latest
func (h *Handler) LatestSamples(c *gin.Context) {
	samples, err := h.engine.LatestSamples(c.Request.Context(), c.Param("siteId"))
	if errors.Is(err, service.ErrUnknownSource) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count":   len(samples),
		"samples": samples,
	})
}

// GetStats handles GET /api/stats
func (h *Handler) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.Stats())
}

// Health handles GET /health
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"phase":  h.engine.Phase(),
		"time":   time.Now().UTC(),
	})
}

// Helper functions
func getIntParam(c *gin.Context, key string, defaultValue int) int {
	if value := c.Query(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func siteList(c *gin.Context) []string {
	raw := c.Query("sites")
	if raw == "" {
		return nil
	}
	var sites []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			sites = append(sites, s)
		}
	}
	return sites
}

func validDate(s string) bool {
	_, err := time.Parse(domain.DateLayout, s)
	return err == nil
}
