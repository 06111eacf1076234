package room

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"syncroom/internal/transport"
)

var ErrTrackNotFound = errors.New("track not found in playlist")

// PlaylistSnapshot is the full ordered sequence broadcast on every mutation.
// Consumers treat it as authoritative and never apply diffs.
type PlaylistSnapshot struct {
	Tracks    []Track `json:"tracks"`
	UpdatedBy string  `json:"updatedBy,omitempty"`
}

// PlaylistStore mutates room playlists and fans the whole snapshot out
// through the transport channel after every change.
type PlaylistStore struct {
	reg *Registry
	ch  transport.Channel
}

func NewPlaylistStore(reg *Registry, ch transport.Channel) *PlaylistStore {
	return &PlaylistStore{reg: reg, ch: ch}
}

// Replace swaps the room's entire playlist. Last writer wins at document
// granularity. The current-track pointer is re-resolved by id against the
// new snapshot.
func (p *PlaylistStore) Replace(ctx context.Context, roomID, by string, tracks []Track) error {
	rs := p.reg.getOrCreate(roomID)

	rs.mu.Lock()
	rs.tracks = append([]Track(nil), tracks...)
	rs.lastActive = p.reg.now()
	p.resolveCurrentLocked(rs, by)
	snapshot := p.snapshotLocked(rs, by)
	rs.mu.Unlock()

	return p.broadcast(ctx, roomID, by, snapshot)
}

// Append adds one track to the end of the playlist.
func (p *PlaylistStore) Append(ctx context.Context, roomID, by string, t Track) error {
	rs := p.reg.getOrCreate(roomID)

	rs.mu.Lock()
	rs.tracks = append(rs.tracks, t)
	rs.lastActive = p.reg.now()
	snapshot := p.snapshotLocked(rs, by)
	rs.mu.Unlock()

	return p.broadcast(ctx, roomID, by, snapshot)
}

// RemoveByID deletes a track by its stable id. If the removed track was the
// currently selected one, playback resets to the first remaining track, or
// to a stopped state when the playlist becomes empty. Removing any other
// track never touches the selection.
func (p *PlaylistStore) RemoveByID(ctx context.Context, roomID, by, trackID string) error {
	rs, ok := p.reg.get(roomID)
	if !ok {
		return ErrNoRoom
	}

	rs.mu.Lock()
	idx := -1
	for i, t := range rs.tracks {
		if t.ID == trackID {
			idx = i
			break
		}
	}
	if idx < 0 {
		rs.mu.Unlock()
		return ErrTrackNotFound
	}
	rs.tracks = append(rs.tracks[:idx], rs.tracks[idx+1:]...)
	rs.lastActive = p.reg.now()
	p.resolveCurrentLocked(rs, by)
	snapshot := p.snapshotLocked(rs, by)
	rs.mu.Unlock()

	return p.broadcast(ctx, roomID, by, snapshot)
}

// Tracks returns a copy of the room's playlist.
func (p *PlaylistStore) Tracks(roomID string) []Track {
	rs, ok := p.reg.get(roomID)
	if !ok {
		return nil
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return append([]Track(nil), rs.tracks...)
}

// resolveCurrentLocked re-resolves the sync state's track pointer by id,
// never by index arithmetic: concurrent deletes from other members shift
// numeric positions unpredictably.
func (p *PlaylistStore) resolveCurrentLocked(rs *roomState, by string) {
	if rs.sync.TrackID == "" {
		return
	}
	if _, ok := FindTrack(rs.tracks, rs.sync.TrackID); ok {
		return
	}
	now := p.reg.now()
	if len(rs.tracks) > 0 {
		rs.sync = SyncState{
			TrackID:   rs.tracks[0].ID,
			Playing:   false,
			Position:  0,
			UpdatedAt: now,
			UpdatedBy: by,
		}
		return
	}
	rs.sync = SyncState{UpdatedAt: now, UpdatedBy: by}
}

func (p *PlaylistStore) snapshotLocked(rs *roomState, by string) PlaylistSnapshot {
	return PlaylistSnapshot{
		Tracks:    append([]Track(nil), rs.tracks...),
		UpdatedBy: by,
	}
}

func (p *PlaylistStore) broadcast(ctx context.Context, roomID, by string, snapshot PlaylistSnapshot) error {
	if p.ch == nil {
		return nil
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		log.Printf("syncroom: playlist %s: marshal snapshot: %v", roomID, err)
		return err
	}
	return p.ch.Publish(ctx, roomID, transport.Message{
		Kind:    transport.KindPlaylist,
		Sender:  by,
		Payload: payload,
	})
}
