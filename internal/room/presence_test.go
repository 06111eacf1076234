package room

import (
	"testing"
	"time"
)

func TestMonitor_SweepEvictsStaleUsers(t *testing.T) {
	reg := NewRegistry()
	base := time.Now()
	reg.now = func() time.Time { return base }

	var notified int
	reg.OnChange(func(roomID string, members []User) { notified++ })

	reg.Join("demo", User{ID: "u1", Name: "alice"})
	reg.Join("demo", User{ID: "u2", Name: "bob"})
	notified = 0

	m := NewMonitor(reg, SweepInterval, StaleThreshold)
	m.now = func() time.Time { return base.Add(45 * time.Second) }

	// bob kept his heartbeat up, alice went silent.
	reg.now = func() time.Time { return base.Add(40 * time.Second) }
	reg.Touch("demo", "u2")

	m.Sweep()

	members := reg.Members("demo")
	if len(members) != 1 || members[0].Name != "bob" {
		t.Fatalf("expected only bob to survive, got %+v", members)
	}
	if notified != 1 {
		t.Errorf("expected one membership-change notification, got %d", notified)
	}

	// Overlapping or repeated sweeps find nothing new.
	m.Sweep()
	if notified != 1 {
		t.Errorf("repeated sweep must be idempotent, got %d notifications", notified)
	}
}

func TestMonitor_FreshUsersSurviveSweep(t *testing.T) {
	reg := NewRegistry()
	base := time.Now()
	reg.now = func() time.Time { return base }

	reg.Join("demo", User{ID: "u1", Name: "alice"})

	m := NewMonitor(reg, SweepInterval, StaleThreshold)
	m.now = func() time.Time { return base.Add(20 * time.Second) }

	m.Sweep()

	if len(reg.Members("demo")) != 1 {
		t.Error("user within the staleness threshold must not be evicted")
	}
}

func TestMonitor_TouchUnknownUserIsHarmless(t *testing.T) {
	reg := NewRegistry()
	m := NewMonitor(reg, 0, 0)

	// Must not panic or create state.
	m.Touch("ghost", "u1")
	if len(reg.Rooms()) != 0 {
		t.Error("heartbeat for unknown user must not create a room")
	}
}

func TestMonitor_Defaults(t *testing.T) {
	m := NewMonitor(NewRegistry(), 0, 0)
	if m.sweepEvery != SweepInterval || m.staleAfter != StaleThreshold {
		t.Errorf("expected default intervals, got sweep=%v stale=%v", m.sweepEvery, m.staleAfter)
	}
}
