package telemetry

import (
	"sync"
	"time"
)

// DeviceInfo is the last observed network origin of the NodeMCU board.
type DeviceInfo struct {
	Addr   string
	SeenAt time.Time
}

// OriginTracker remembers where the NodeMCU last called from so relay commands
// know where to go. Writes race last-writer-wins; nothing is persisted.
type OriginTracker struct {
	mu   sync.RWMutex
	info DeviceInfo
}

// NewOriginTracker returns an empty tracker.
func NewOriginTracker() *OriginTracker {
	return &OriginTracker{}
}

// Record stores addr as the latest origin, seen at the given time.
func (o *OriginTracker) Record(addr string, at time.Time) {
	if addr == "" {
		return
	}
	o.mu.Lock()
	o.info = DeviceInfo{Addr: addr, SeenAt: at}
	o.mu.Unlock()
}

// Snapshot returns the latest origin and whether one was ever recorded.
func (o *OriginTracker) Snapshot() (DeviceInfo, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.info, o.info.Addr != ""
}
