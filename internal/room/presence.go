package room

import (
	"context"
	"log"
	"time"
)

// Default presence intervals, matching the client heartbeat cadence.
const (
	HeartbeatInterval = 10 * time.Second
	SweepInterval     = 15 * time.Second
	StaleThreshold    = 30 * time.Second
)

// Monitor evicts participants whose heartbeats stopped without an explicit
// leave. It is a backstop for transports with no disconnect signal; the
// websocket close path removes users directly and the sweep then finds
// nothing to do. Sweeps are idempotent and never fatal.
type Monitor struct {
	reg *Registry

	sweepEvery time.Duration
	staleAfter time.Duration
	now        func() time.Time
}

func NewMonitor(reg *Registry, sweepEvery, staleAfter time.Duration) *Monitor {
	if sweepEvery <= 0 {
		sweepEvery = SweepInterval
	}
	if staleAfter <= 0 {
		staleAfter = StaleThreshold
	}
	return &Monitor{
		reg:        reg,
		sweepEvery: sweepEvery,
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

// Touch records a heartbeat for a user.
func (m *Monitor) Touch(roomID, userID string) {
	if !m.reg.Touch(roomID, userID) {
		log.Printf("syncroom: presence: heartbeat for unknown user %s in room %s", userID, roomID)
	}
}

// Run drives periodic staleness sweeps until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Sweep evicts every user whose last heartbeat is older than the staleness
// threshold. The cutoff is re-checked per user at eviction time, so a
// heartbeat arriving mid-sweep keeps that user in the room.
func (m *Monitor) Sweep() {
	cutoff := m.now().Add(-m.staleAfter)

	for _, roomID := range m.reg.Rooms() {
		for _, u := range m.reg.Members(roomID) {
			if !u.LastSeen.Before(cutoff) {
				continue
			}
			if m.reg.EvictIfStale(roomID, u.ID, cutoff) {
				log.Printf("syncroom: presence: evicted stale user %s from room %s", u.Name, roomID)
			}
		}
	}
}
