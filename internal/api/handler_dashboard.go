package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"iot-telemetry-backend/internal/export"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// GetLatest returns the merged latest state of both boards.
func (h *Handler) GetLatest(c *gin.Context) {
	state, err := h.views.Latest(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to build latest state", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, state)
}

// GetRecent returns the merged history of the trailing window.
func (h *Handler) GetRecent(c *gin.Context) {
	minutes, ok := h.windowMinutes(c)
	if !ok {
		return
	}
	rows, err := h.views.Recent(c.Request.Context(), time.Duration(minutes)*time.Minute)
	if err != nil {
		h.logger.Error("failed to build recent rows", zap.Int("minutes", minutes), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"table_rows": rows})
}

// ExportRecent returns the trailing-window history as an xlsx download.
func (h *Handler) ExportRecent(c *gin.Context) {
	minutes, ok := h.windowMinutes(c)
	if !ok {
		return
	}
	rows, err := h.views.Recent(c.Request.Context(), time.Duration(minutes)*time.Minute)
	if err != nil {
		h.logger.Error("failed to build recent rows", zap.Int("minutes", minutes), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	data, err := export.HistoryWorkbook(rows)
	if err != nil {
		h.logger.Error("failed to render history workbook", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=telemetry-history-%dm.xlsx", minutes))
	c.Data(http.StatusOK, export.ContentType, data)
}

// windowMinutes reads the "minutes" query parameter. It writes a 400 and
// returns false when the value is not a positive integer; values above the
// configured maximum are clamped.
func (h *Handler) windowMinutes(c *gin.Context) (int, bool) {
	raw, present := c.GetQuery("minutes")
	if !present || raw == "" {
		return h.dashboard.DefaultWindowMinutes, true
	}
	minutes, err := strconv.Atoi(raw)
	if err != nil || minutes <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "minutes must be a positive integer", "fields": []string{"minutes"}})
		return 0, false
	}
	if minutes > h.dashboard.MaxWindowMinutes {
		minutes = h.dashboard.MaxWindowMinutes
	}
	return minutes, true
}

// Healthz reports whether the database answers.
func (h *Handler) Healthz(c *gin.Context) {
	if db := h.store.DB(); db != nil {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			h.logger.Warn("health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
