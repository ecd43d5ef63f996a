package api

import (
	"context"
	"errors"
	"io"
	"net/http"

	"iot-telemetry-backend/internal/broadcast"
	"iot-telemetry-backend/internal/telemetry"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// maxUploadBytes bounds one upload body.
const maxUploadBytes = 64 << 10

// Upload returns the ingest handler for one device class. An empty class
// resolves it from the payload.
func (h *Handler) Upload(class telemetry.DeviceClass) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxUploadBytes+1))
		if err != nil {
			h.metrics.RejectedUpload("read")
			c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body", "fields": []string{}})
			return
		}
		if len(body) > maxUploadBytes {
			h.metrics.RejectedUpload("too_large")
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large", "fields": []string{}})
			return
		}

		upload, err := telemetry.DecodeUpload(body, class)
		if err != nil {
			h.rejectUpload(c, err)
			return
		}

		if err := h.store.Append(c.Request.Context(), upload.Readings...); err != nil {
			h.logger.Error("failed to store upload", zap.String("class", string(class)), zap.Error(err))
			h.metrics.RejectedUpload("store")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}

		for _, r := range upload.Readings {
			h.metrics.IngestedSample(string(r.Class))
		}
		if upload.HasClass(telemetry.ClassNodeMCU) {
			h.origins.Record(c.ClientIP(), h.now())
		}
		h.broadcastLatest(c.Request.Context())

		c.JSON(http.StatusOK, gin.H{"status": uploadStatus(upload)})
	}
}

func (h *Handler) rejectUpload(c *gin.Context, err error) {
	h.metrics.RejectedUpload("validation")
	fields := []string{}
	var ve *telemetry.ValidationError
	if errors.As(err, &ve) && len(ve.Fields) > 0 {
		fields = ve.Fields
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "fields": fields})
}

func uploadStatus(u telemetry.Upload) string {
	if u.Bundled || len(u.Readings) != 1 {
		return "ok"
	}
	return string(u.Readings[0].Class) + "_ok"
}

// broadcastLatest pushes the refreshed latest state to live dashboards, if any
// are connected.
func (h *Handler) broadcastLatest(ctx context.Context) {
	if h.live == nil || h.live.Clients() == 0 {
		return
	}
	payload, ok := h.views.Snapshot(ctx, broadcast.TopicLatest)
	if !ok {
		return
	}
	if err := h.live.Publish(ctx, broadcast.TopicLatest, payload); err != nil {
		h.logger.Warn("failed to broadcast latest state", zap.Error(err))
		h.metrics.PublishFailed(broadcast.TopicLatest)
	}
}
