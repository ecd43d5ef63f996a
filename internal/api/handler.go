package api

import (
	"context"
	"time"

	"iot-telemetry-backend/config"
	"iot-telemetry-backend/internal/broadcast"
	"iot-telemetry-backend/internal/metrics"
	"iot-telemetry-backend/internal/relay"
	"iot-telemetry-backend/internal/store"
	"iot-telemetry-backend/internal/telemetry"
	"iot-telemetry-backend/internal/view"

	"github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"
)

// RelayDispatcher forwards relay commands to the boards.
type RelayDispatcher interface {
	Dispatch(ctx context.Context, target relay.Target, on bool) error
}

// LivePublisher is a publisher that knows whether anyone is listening.
type LivePublisher interface {
	broadcast.Publisher
	Clients() int
}

// Deps lists the collaborators of Handler. Only Store and Views are required.
type Deps struct {
	Store     store.Store
	Views     *view.Service
	Origins   *telemetry.OriginTracker
	Relay     RelayDispatcher
	Live      LivePublisher
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
	WebPush   *webpush.Options
	Dashboard config.DashboardConfig
}

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store     store.Store
	views     *view.Service
	origins   *telemetry.OriginTracker
	relay     RelayDispatcher
	live      LivePublisher
	metrics   *metrics.Metrics
	logger    *zap.Logger
	webpush   *webpush.Options
	dashboard config.DashboardConfig
	now       func() time.Time
}

// NewHandler creates a new API handler.
func NewHandler(d Deps) *Handler {
	h := &Handler{
		store:     d.Store,
		views:     d.Views,
		origins:   d.Origins,
		relay:     d.Relay,
		live:      d.Live,
		metrics:   d.Metrics,
		logger:    d.Logger,
		webpush:   d.WebPush,
		dashboard: d.Dashboard,
		now:       time.Now,
	}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}
	if h.origins == nil {
		h.origins = telemetry.NewOriginTracker()
	}
	if h.dashboard.DefaultWindowMinutes <= 0 {
		h.dashboard.DefaultWindowMinutes = 30
	}
	if h.dashboard.MaxWindowMinutes <= 0 {
		h.dashboard.MaxWindowMinutes = 7 * 24 * 60
	}
	return h
}
