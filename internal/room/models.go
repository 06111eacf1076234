package room

import (
	"regexp"
	"time"
)

// Track provenance tags.
const (
	SourceImported = "imported"
	SourceManual   = "manual"
)

// Track belongs to a room playlist. Identity is the ID, never the position
// in the slice; positions shift under concurrent deletes.
type Track struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Title    string `json:"title"`
	URL      string `json:"url"`
	Source   string `json:"source"` // "imported" | "manual"
}

// User is a room participant. ID is an opaque per-session identifier.
type User struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	JoinedAt time.Time `json:"joinedAt"`
	LastSeen time.Time `json:"lastSeen"`
}

// SyncState is the shared source of truth for what a room is playing right
// now. Position is only meaningful relative to UpdatedAt: while Playing is
// true, consumers must extrapolate elapsed wall-clock time on top of it.
type SyncState struct {
	TrackID   string    `json:"trackId,omitempty"`
	Playing   bool      `json:"playing"`
	Position  float64   `json:"position"`
	UpdatedAt time.Time `json:"updatedAt"`
	UpdatedBy string    `json:"updatedBy,omitempty"`
}

// PositionAt extrapolates the authoritative playback position to now. A
// state stamped for a scheduled future start holds at its start position
// until that instant arrives.
func (s SyncState) PositionAt(now time.Time) float64 {
	pos := s.Position
	if s.Playing && !s.UpdatedAt.IsZero() {
		if elapsed := now.Sub(s.UpdatedAt).Seconds(); elapsed > 0 {
			pos += elapsed
		}
	}
	if pos < 0 {
		pos = 0
	}
	return pos
}

var (
	roomIDPattern   = regexp.MustCompile(`^[A-Za-z0-9_-]{3,20}$`)
	userNamePattern = regexp.MustCompile(`^[A-Za-z0-9_]{2,15}$`)
)

// ValidRoomID reports whether id is 3-20 characters of [A-Za-z0-9_-].
func ValidRoomID(id string) bool {
	return roomIDPattern.MatchString(id)
}

// ValidUserName reports whether name is 2-15 characters of [A-Za-z0-9_].
func ValidUserName(name string) bool {
	return userNamePattern.MatchString(name)
}

// FindTrack resolves a track by stable id inside a playlist snapshot.
func FindTrack(tracks []Track, id string) (Track, bool) {
	for _, t := range tracks {
		if t.ID == id {
			return t, true
		}
	}
	return Track{}, false
}
