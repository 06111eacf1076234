package room

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"
)

var (
	ErrInvalidRoomID   = errors.New("room id must be 3-20 characters of letters, numbers, underscore, and dash")
	ErrInvalidUserName = errors.New("user name must be 2-15 characters of letters, numbers, and underscore")
	ErrNameTaken       = errors.New("user name is already taken in this room")
	ErrNoRoom          = errors.New("room does not exist")
)

// ChangeFunc is invoked after every membership mutation with the resulting
// member list, ordered by join time. It is called outside registry locks.
type ChangeFunc func(roomID string, members []User)

// Registry tracks which users are present in which room. Rooms are created
// lazily on first join and garbage-collected once empty and idle.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*roomState

	onChange ChangeFunc
	now      func() time.Time
}

type roomState struct {
	mu sync.Mutex

	users map[string]*User
	order []string // user ids by join time

	tracks []Track
	sync   SyncState

	createdAt  time.Time
	lastActive time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]*roomState),
		now:   time.Now,
	}
}

// OnChange registers the membership-change notifier. Must be set before the
// registry starts receiving traffic.
func (r *Registry) OnChange(fn ChangeFunc) {
	r.onChange = fn
}

func (r *Registry) getOrCreate(roomID string) *roomState {
	r.mu.Lock()
	defer r.mu.Unlock()
	rs, ok := r.rooms[roomID]
	if !ok {
		now := r.now()
		rs = &roomState{
			users:      make(map[string]*User),
			createdAt:  now,
			lastActive: now,
		}
		r.rooms[roomID] = rs
	}
	return rs
}

func (r *Registry) get(roomID string) (*roomState, bool) {
	r.mu.RLock()
	rs, ok := r.rooms[roomID]
	r.mu.RUnlock()
	return rs, ok
}

// Join adds a user to a room, creating the room if needed. Joining twice
// with the same user id replaces the entry instead of duplicating it. A
// case-insensitive display-name collision with another present user is
// rejected. On success the updated member list is returned and the change
// notifier fires.
func (r *Registry) Join(roomID string, u User) ([]User, error) {
	if !ValidRoomID(roomID) {
		return nil, ErrInvalidRoomID
	}
	if !ValidUserName(u.Name) {
		return nil, ErrInvalidUserName
	}

	rs := r.getOrCreate(roomID)

	rs.mu.Lock()
	for id, present := range rs.users {
		if id != u.ID && strings.EqualFold(present.Name, u.Name) {
			rs.mu.Unlock()
			return nil, ErrNameTaken
		}
	}

	now := r.now()
	if existing, ok := rs.users[u.ID]; ok {
		existing.Name = u.Name
		existing.LastSeen = now
	} else {
		u.JoinedAt = now
		u.LastSeen = now
		rs.users[u.ID] = &u
		rs.order = append(rs.order, u.ID)
	}
	rs.lastActive = now
	members := rs.membersLocked()
	rs.mu.Unlock()

	r.notify(roomID, members)
	return members, nil
}

// Leave removes a user. Reports whether the user was present.
func (r *Registry) Leave(roomID, userID string) bool {
	rs, ok := r.get(roomID)
	if !ok {
		return false
	}

	rs.mu.Lock()
	if _, present := rs.users[userID]; !present {
		rs.mu.Unlock()
		return false
	}
	rs.removeLocked(userID)
	rs.lastActive = r.now()
	members := rs.membersLocked()
	rs.mu.Unlock()

	r.notify(roomID, members)
	return true
}

// Touch refreshes a user's liveness record.
func (r *Registry) Touch(roomID, userID string) bool {
	rs, ok := r.get(roomID)
	if !ok {
		return false
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	u, present := rs.users[userID]
	if !present {
		return false
	}
	u.LastSeen = r.now()
	rs.lastActive = u.LastSeen
	return true
}

// EvictIfStale removes the user only if their last heartbeat is still older
// than cutoff at the moment of eviction. A heartbeat that lands between
// sweep start and sweep completion therefore saves the user. Idempotent.
func (r *Registry) EvictIfStale(roomID, userID string, cutoff time.Time) bool {
	rs, ok := r.get(roomID)
	if !ok {
		return false
	}

	rs.mu.Lock()
	u, present := rs.users[userID]
	if !present || !u.LastSeen.Before(cutoff) {
		rs.mu.Unlock()
		return false
	}
	rs.removeLocked(userID)
	members := rs.membersLocked()
	rs.mu.Unlock()

	r.notify(roomID, members)
	return true
}

// Members returns the room's users ordered by join time.
func (r *Registry) Members(roomID string) []User {
	rs, ok := r.get(roomID)
	if !ok {
		return nil
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.membersLocked()
}

// Rooms lists the ids of all live rooms.
func (r *Registry) Rooms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.rooms))
	for id := range r.rooms {
		ids = append(ids, id)
	}
	return ids
}

// Sync returns the room's shared playback state.
func (r *Registry) Sync(roomID string) (SyncState, bool) {
	rs, ok := r.get(roomID)
	if !ok {
		return SyncState{}, false
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.sync, true
}

// SetSync replaces the room's shared playback state, creating the room if it
// does not exist yet. Last write wins.
func (r *Registry) SetSync(roomID string, st SyncState) {
	rs := r.getOrCreate(roomID)
	rs.mu.Lock()
	rs.sync = st
	rs.lastActive = r.now()
	rs.mu.Unlock()
}

// StartCleanup removes rooms that are empty and idle. Modelled as a
// background ticker; errors cannot occur, removals are logged.
func (r *Registry) StartCleanup(ctx context.Context, interval, idle time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.cleanup(idle)
			}
		}
	}()
}

func (r *Registry) cleanup(idle time.Duration) {
	cutoff := r.now().Add(-idle)

	r.mu.Lock()
	defer r.mu.Unlock()
	for id, rs := range r.rooms {
		rs.mu.Lock()
		stale := len(rs.users) == 0 && rs.lastActive.Before(cutoff)
		rs.mu.Unlock()
		if stale {
			delete(r.rooms, id)
			log.Printf("syncroom: registry: removed idle room %s", id)
		}
	}
}

func (r *Registry) notify(roomID string, members []User) {
	if r.onChange != nil {
		r.onChange(roomID, members)
	}
}

func (rs *roomState) removeLocked(userID string) {
	delete(rs.users, userID)
	for i, id := range rs.order {
		if id == userID {
			rs.order = append(rs.order[:i], rs.order[i+1:]...)
			break
		}
	}
}

func (rs *roomState) membersLocked() []User {
	out := make([]User, 0, len(rs.order))
	for _, id := range rs.order {
		if u, ok := rs.users[id]; ok {
			out = append(out, *u)
		}
	}
	return out
}
