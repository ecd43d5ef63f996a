// Package monitor polls the latest-state endpoint and prints it for a terminal.
package monitor

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"iot-telemetry-backend/internal/view"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const rule = "========================================================================="

// Client fetches the latest state from a running telemetryd.
type Client struct {
	http *resty.Client
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		http: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetTimeout(timeout).
			SetHeader("Accept", "application/json"),
	}
}

// Latest calls GET /api/latest.
func (c *Client) Latest(ctx context.Context) (view.LatestState, error) {
	var state view.LatestState
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&state).
		Get("/api/latest")
	if err != nil {
		return view.LatestState{}, fmt.Errorf("get latest: %w", err)
	}
	if !resp.IsSuccess() {
		return view.LatestState{}, fmt.Errorf("get latest: status %d", resp.StatusCode())
	}
	return state, nil
}

// Render writes the two-block summary of state, or a waiting line while either
// board has never reported.
func Render(w io.Writer, state view.LatestState, now time.Time) {
	clock := now.Format("15:04:05")
	if state.Arduino.Timestamp == nil || state.NodeMCU.Timestamp == nil {
		fmt.Fprintf(w, "[%s] Waiting for data...\n", clock)
		return
	}

	a, n := state.Arduino, state.NodeMCU
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "LATEST DATA STREAM (%s)\n", clock)
	fmt.Fprintln(w, strings.Repeat("-", len(rule)))
	fmt.Fprintln(w, "ARDUINO DATA:")
	fmt.Fprintf(w, "  Speed: %.1f km/h | Piezo: %.2f V\n", a.Speed, a.Piezo)
	fmt.Fprintf(w, "  IR1/IR2: %d/%d | Relay: %s | Piezo Relay: %s\n", a.IR1, a.IR2, onOff(a.ArduinoRelay), onOff(a.PiezoRelay))
	fmt.Fprintf(w, "  Received: %s UTC\n", a.Timestamp.UTC().Format("15:04:05.000"))
	fmt.Fprintln(w, strings.Repeat("-", len(rule)))
	fmt.Fprintln(w, "NODEMCU DATA:")
	fmt.Fprintf(w, "  IR1/IR2: %d/%d | Relay: %s\n", n.IR1, n.IR2, onOff(n.NodeMCURelay))
	fmt.Fprintf(w, "  Received: %s UTC\n", n.Timestamp.UTC().Format("15:04:05.000"))
	fmt.Fprintf(w, "  Connected: %t | Last seen: %.3fs ago\n", state.IsConnected, state.LastSeen)
	fmt.Fprintln(w, rule)
}

func onOff(b bool) string {
	if b {
		return "ON"
	}
	return "OFF"
}

// Run polls every interval and renders each result until ctx is done.
func Run(ctx context.Context, c *Client, w io.Writer, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		state, err := c.Latest(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("poll failed", zap.Error(err))
		} else {
			Render(w, state, time.Now())
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
