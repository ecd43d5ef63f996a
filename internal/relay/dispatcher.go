// Package relay forwards operator relay commands to the boards.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"iot-telemetry-backend/config"
	"iot-telemetry-backend/internal/broadcast"
	"iot-telemetry-backend/internal/metrics"
	"iot-telemetry-backend/internal/telemetry"
	"iot-telemetry-backend/internal/view"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Target selects which relay(s) a command switches.
type Target string

const (
	TargetCommon  Target = "common"
	TargetArduino Target = "arduino"
	TargetNodeMCU Target = "nodemcu"
)

// ParseTarget maps the request "type" field to a Target. Empty means common.
func ParseTarget(s string) (Target, error) {
	switch t := Target(strings.ToLower(strings.TrimSpace(s))); t {
	case "":
		return TargetCommon, nil
	case TargetCommon, TargetArduino, TargetNodeMCU:
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", telemetry.ErrInvalidTarget, s)
}

// endpoint is one board-side relay URL family.
type endpoint struct {
	name string
	path string
}

var (
	nodeMCUEndpoint = endpoint{name: "nodemcu", path: "/relay"}
	arduinoEndpoint = endpoint{name: "arduino", path: "/relay/arduino"}
)

func (t Target) endpoints() []endpoint {
	switch t {
	case TargetArduino:
		return []endpoint{arduinoEndpoint}
	case TargetNodeMCU:
		return []endpoint{nodeMCUEndpoint}
	}
	return []endpoint{nodeMCUEndpoint, arduinoEndpoint}
}

// StateSource produces the latest-state view published after a command.
type StateSource interface {
	Latest(ctx context.Context) (view.LatestState, error)
}

// Dispatcher issues relay commands over HTTP. It keeps no command record.
type Dispatcher struct {
	http      *resty.Client
	cfg       config.RelayConfig
	origins   *telemetry.OriginTracker
	state     StateSource
	publisher broadcast.Publisher
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// NewDispatcher creates a dispatcher. origins, state and publisher may be nil.
func NewDispatcher(cfg config.RelayConfig, origins *telemetry.OriginTracker, state StateSource,
	publisher broadcast.Publisher, logger *zap.Logger, m *metrics.Metrics) *Dispatcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(0)

	return &Dispatcher{
		http:      client,
		cfg:       cfg,
		origins:   origins,
		state:     state,
		publisher: publisher,
		logger:    logger,
		metrics:   m,
	}
}

// Host returns the host[:port] commands are currently sent to.
func (d *Dispatcher) Host() string {
	host := d.cfg.DeviceHost
	if !d.cfg.PinDeviceHost && d.origins != nil {
		if info, ok := d.origins.Snapshot(); ok {
			host = info.Addr
		}
	}
	if d.cfg.DevicePort > 0 {
		return net.JoinHostPort(host, strconv.Itoa(d.cfg.DevicePort))
	}
	if strings.Contains(host, ":") {
		return "[" + host + "]"
	}
	return host
}

// Dispatch switches the relays of target on or off. Every call is attempted;
// the command succeeds only if all of them do. Failures wrap
// telemetry.ErrUpstreamUnreachable.
func (d *Dispatcher) Dispatch(ctx context.Context, target Target, on bool) error {
	if _, err := ParseTarget(string(target)); err != nil {
		return err
	}
	eps := target.endpoints()

	host := d.Host()
	state := "off"
	if on {
		state = "on"
	}

	errs := make([]error, len(eps))
	var wg sync.WaitGroup
	for i, ep := range eps {
		wg.Add(1)
		go func(i int, ep endpoint) {
			defer wg.Done()
			errs[i] = d.call(ctx, ep, "http://"+host+ep.path+"/"+state)
		}(i, ep)
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		d.logger.Warn("relay command failed",
			zap.String("target", string(target)),
			zap.String("state", state),
			zap.String("host", host),
			zap.Error(err),
		)
		return err
	}

	d.logger.Info("relay command delivered",
		zap.String("target", string(target)),
		zap.String("state", state),
		zap.String("host", host),
	)
	d.publishLatest(ctx)
	return nil
}

func (d *Dispatcher) call(ctx context.Context, ep endpoint, url string) error {
	start := time.Now()
	resp, err := d.http.R().SetContext(ctx).Get(url)
	elapsed := time.Since(start).Seconds()

	if err != nil {
		d.metrics.RelayCommand(ep.name, false, elapsed)
		return fmt.Errorf("%w: %s: %v", telemetry.ErrUpstreamUnreachable, url, err)
	}
	if !resp.IsSuccess() {
		d.metrics.RelayCommand(ep.name, false, elapsed)
		return fmt.Errorf("%w: %s: status %d", telemetry.ErrUpstreamUnreachable, url, resp.StatusCode())
	}
	d.metrics.RelayCommand(ep.name, true, elapsed)
	return nil
}

func (d *Dispatcher) publishLatest(ctx context.Context) {
	if d.state == nil || d.publisher == nil {
		return
	}
	latest, err := d.state.Latest(ctx)
	if err != nil {
		d.logger.Warn("failed to build latest state for broadcast", zap.Error(err))
		d.metrics.PublishFailed(broadcast.TopicLatest)
		return
	}
	payload, err := json.Marshal(latest)
	if err != nil {
		d.logger.Warn("failed to encode latest state", zap.Error(err))
		d.metrics.PublishFailed(broadcast.TopicLatest)
		return
	}
	if err := d.publisher.Publish(ctx, broadcast.TopicLatest, payload); err != nil {
		d.logger.Warn("failed to broadcast latest state", zap.Error(err))
		d.metrics.PublishFailed(broadcast.TopicLatest)
	}
}
