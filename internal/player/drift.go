package player

import (
	"context"
	"time"

	"syncroom/internal/room"
)

// DriftCheckInterval is how often the background loop compares local and
// authoritative positions.
const DriftCheckInterval = 5 * time.Second

// RunDrift periodically reconciles the local position against the shared
// state returned by stateFn. Runs independently of discrete intents; it is
// what catches clock skew and missed events. Returns when ctx is cancelled.
func (r *Reconciler) RunDrift(ctx context.Context, interval time.Duration, stateFn func() (room.SyncState, bool)) {
	if interval <= 0 {
		interval = DriftCheckInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if st, ok := stateFn(); ok {
				r.CheckDrift(st)
			}
		}
	}
}
