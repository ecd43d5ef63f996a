// Package view computes the dashboard read models: the merged latest state with
// a liveness verdict, and the merged trailing-window history.
package view

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"iot-telemetry-backend/internal/broadcast"
	"iot-telemetry-backend/internal/store"
	"iot-telemetry-backend/internal/telemetry"
)

const (
	// NeverSeenSeconds is reported as last_seen before anything was received.
	NeverSeenSeconds = 999.0
	// DefaultConnectedWithin is the liveness window.
	DefaultConnectedWithin = 5 * time.Second
)

// Service builds read models from a Store. It never writes.
type Service struct {
	store           store.Store
	origins         *telemetry.OriginTracker
	now             func() time.Time
	connectedWithin time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithConnectedWithin sets how recent the last sample must be for is_connected.
func WithConnectedWithin(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.connectedWithin = d
		}
	}
}

// NewService creates a view service. origins may be nil.
func NewService(s store.Store, origins *telemetry.OriginTracker, opts ...Option) *Service {
	svc := &Service{
		store:           s,
		origins:         origins,
		now:             time.Now,
		connectedWithin: DefaultConnectedWithin,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Latest returns the most recent sample of each class, zero-filled where a class
// has never reported, plus the liveness verdict.
func (s *Service) Latest(ctx context.Context) (LatestState, error) {
	now := s.now()
	var state LatestState

	var lastSeen, arduinoAt, nodeAt time.Time
	for _, class := range telemetry.Classes {
		r, err := s.store.Latest(ctx, class)
		if errors.Is(err, telemetry.ErrNotFound) {
			continue
		}
		if err != nil {
			return LatestState{}, fmt.Errorf("latest %s: %w", class, err)
		}
		switch r.Class {
		case telemetry.ClassArduino:
			state.Arduino = arduinoState(r)
			arduinoAt = r.ReceivedAt()
		case telemetry.ClassNodeMCU:
			state.NodeMCU = nodeMCUState(r)
			nodeAt = r.ReceivedAt()
		}
		if r.ReceivedAt().After(lastSeen) {
			lastSeen = r.ReceivedAt()
		}
	}

	if s.origins != nil {
		if info, ok := s.origins.Snapshot(); ok {
			state.NodeMCUIP = info.Addr
			if info.SeenAt.After(lastSeen) {
				lastSeen = info.SeenAt
			}
		}
	}

	state.LastSeen = NeverSeenSeconds
	if !lastSeen.IsZero() {
		state.LastSeen = now.Sub(lastSeen).Seconds()
	}
	state.IsConnected = !lastSeen.IsZero() && state.LastSeen < s.connectedWithin.Seconds()

	if !arduinoAt.IsZero() && !nodeAt.IsZero() {
		diff := float64(arduinoAt.Sub(nodeAt).Microseconds()) / 1000
		state.LatencyDiff = &diff
	}
	return state, nil
}

// Recent merges both classes' samples received within the trailing window into
// one timestamp-ordered table. Rows with equal timestamps keep Arduino first.
func (s *Service) Recent(ctx context.Context, window time.Duration) ([]Row, error) {
	now := s.now()
	since := now.Add(-window)

	var rows []Row
	for _, class := range telemetry.Classes {
		readings, err := s.store.Since(ctx, class, since)
		if err != nil {
			return nil, fmt.Errorf("recent %s: %w", class, err)
		}
		for _, r := range readings {
			if r.ReceivedAt().After(now) {
				continue
			}
			rows = append(rows, rowFromReading(r))
		}
	}

	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Timestamp.Before(rows[j].Timestamp)
	})
	if rows == nil {
		rows = []Row{}
	}
	return rows, nil
}

// Snapshot renders the current payload of a live topic for a newly connected
// listener. Only broadcast.TopicLatest has one.
func (s *Service) Snapshot(ctx context.Context, topic string) ([]byte, bool) {
	if topic != broadcast.TopicLatest {
		return nil, false
	}
	state, err := s.Latest(ctx)
	if err != nil {
		return nil, false
	}
	payload, err := json.Marshal(state)
	if err != nil {
		return nil, false
	}
	return payload, true
}
