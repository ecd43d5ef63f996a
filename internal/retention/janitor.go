// Package retention periodically deletes samples older than the configured
// horizon.
package retention

import (
	"context"
	"time"

	"iot-telemetry-backend/config"
	"iot-telemetry-backend/internal/metrics"
	"iot-telemetry-backend/internal/store"

	"go.uber.org/zap"
)

// Janitor runs store.Expire on a timer.
type Janitor struct {
	cfg     config.RetentionConfig
	store   store.Store
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewJanitor creates a janitor. It does nothing until Run is called.
func NewJanitor(cfg config.RetentionConfig, s store.Store, logger *zap.Logger, m *metrics.Metrics) *Janitor {
	return &Janitor{cfg: cfg, store: s, logger: logger, metrics: m, now: time.Now}
}

// Run sweeps once immediately and then every interval until ctx is done.
func (j *Janitor) Run(ctx context.Context) {
	if !j.cfg.Enabled {
		j.logger.Info("retention janitor is disabled")
		return
	}
	j.logger.Info("starting retention janitor",
		zap.Duration("horizon", j.cfg.Horizon),
		zap.Duration("interval", j.cfg.Interval),
	)

	j.SweepOnce(ctx)

	timer := time.NewTimer(j.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("retention janitor shutting down")
			return
		case <-timer.C:
			j.SweepOnce(ctx)
			timer.Reset(j.cfg.Interval)
		}
	}
}

// SweepOnce deletes every sample received before now minus the horizon.
// Errors are logged; the next sweep retries.
func (j *Janitor) SweepOnce(ctx context.Context) int64 {
	cutoff := j.now().UTC().Add(-j.cfg.Horizon)
	n, err := j.store.Expire(ctx, cutoff)
	if err != nil {
		j.logger.Error("retention sweep failed", zap.Time("cutoff", cutoff), zap.Error(err))
		return 0
	}
	j.metrics.Expired(n)
	if n > 0 {
		j.logger.Info("expired old samples", zap.Int64("rows", n), zap.Time("cutoff", cutoff))
	}
	return n
}
