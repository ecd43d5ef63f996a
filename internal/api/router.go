package api

import (
	"net/http"
	"time"

	"iot-telemetry-backend/config"
	"iot-telemetry-backend/internal/mw"
	"iot-telemetry-backend/internal/telemetry"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RouterOptions holds the optional endpoints of the router.
type RouterOptions struct {
	// Live serves GET /ws when set.
	Live http.Handler
	// Gatherer serves the metrics path when set and metrics are enabled.
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// NewRouter creates and configures a new Gin router.
func NewRouter(cfg *config.Config, handler *Handler, opts RouterOptions) *gin.Engine {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := gin.New()
	r.Use(mw.RequestID(), mw.Logger(logger), mw.Recovery(logger))
	if cfg.Server.RequestIPHeader != "" {
		r.TrustedPlatform = cfg.Server.RequestIPHeader
	} else if err := r.SetTrustedProxies(nil); err != nil {
		logger.Error("failed to reset trusted proxies", zap.Error(err))
	}

	// Ingest routes are never rate limited; boards post several times a second.
	uploads := map[string]telemetry.DeviceClass{
		"/upload":         "",
		"/upload/arduino": telemetry.ClassArduino,
		"/upload/nodemcu": telemetry.ClassNodeMCU,
		"/api/upload":     "",
	}
	for path, class := range uploads {
		r.POST(path, handler.Upload(class))
		r.POST(path+"/", handler.Upload(class))
	}

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.Server.RateLimitPerSec), cfg.Server.RateLimitBurst)

	cacheTTL := time.Duration(cfg.Server.CacheTTLSeconds) * time.Second
	cacheStore := cache.New(cacheTTL, 10*time.Minute)
	caching := mw.Cache(cacheStore, cacheTTL)

	// API group
	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		api.GET("/latest", handler.GetLatest)
		api.GET("/recent", caching, handler.GetRecent)
		api.GET("/recent/export", handler.ExportRecent)
		api.POST("/control/relay", handler.ControlRelay)

		api.GET("/subscriptions", handler.GetSubscription)
		api.PUT("/subscriptions", handler.PutSubscription)
		api.DELETE("/subscriptions", handler.DeleteSubscription)
		api.GET("/vapid_public_key", handler.GetVAPIDPublicKey)
	}

	if opts.Live != nil {
		r.GET("/ws", gin.WrapH(opts.Live))
	}
	if cfg.Metrics.Enabled && opts.Gatherer != nil {
		r.GET(cfg.Metrics.Path, gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}
	r.GET("/healthz", handler.Healthz)

	return r
}
