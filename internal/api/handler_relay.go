package api

import (
	"errors"
	"net/http"

	"iot-telemetry-backend/internal/relay"
	"iot-telemetry-backend/internal/telemetry"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type relayRequest struct {
	State any    `json:"state"`
	Type  string `json:"type"`
}

// ControlRelay switches the relays named by "type" (default common) to "state".
func (h *Handler) ControlRelay(c *gin.Context) {
	var req relayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.State == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "state is required", "fields": []string{"state"}})
		return
	}
	on, ok := telemetry.CoerceBool(req.State)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "state must be true, false, 0 or 1", "fields": []string{"state"}})
		return
	}
	target, err := relay.ParseTarget(req.Type)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "fields": []string{"type"}})
		return
	}
	if h.relay == nil {
		h.logger.Error("relay command received but no dispatcher is configured")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	err = h.relay.Dispatch(c.Request.Context(), target, on)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	case errors.Is(err, telemetry.ErrUpstreamUnreachable):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": err.Error()})
	case errors.Is(err, telemetry.ErrInvalidTarget):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "fields": []string{"type"}})
	default:
		h.logger.Error("relay command failed", zap.String("target", string(target)), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
