package room

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"syncroom/internal/transport"
)

// fakeChannel records every published message.
type fakeChannel struct {
	mu        sync.Mutex
	published []transport.Message
}

func (f *fakeChannel) JoinRoom(ctx context.Context, roomID string) error { return nil }

func (f *fakeChannel) Publish(ctx context.Context, roomID string, msg transport.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeChannel) Subscribe(ctx context.Context, roomID string, h transport.Handler) (func(), error) {
	return func() {}, nil
}

func (f *fakeChannel) snapshots(t *testing.T) []PlaylistSnapshot {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []PlaylistSnapshot
	for _, msg := range f.published {
		if msg.Kind != transport.KindPlaylist {
			continue
		}
		var snap PlaylistSnapshot
		if err := json.Unmarshal(msg.Payload, &snap); err != nil {
			t.Fatalf("bad snapshot payload: %v", err)
		}
		out = append(out, snap)
	}
	return out
}

func testTracks() []Track {
	return []Track{
		{ID: "t1", Filename: "one.mp3", Title: "one", Source: SourceImported},
		{ID: "t2", Filename: "two.mp3", Title: "two", Source: SourceImported},
		{ID: "t3", Filename: "three.mp3", Title: "three", Source: SourceManual},
	}
}

func TestPlaylistStore_ReplaceBroadcastsFullSnapshot(t *testing.T) {
	reg := NewRegistry()
	ch := &fakeChannel{}
	store := NewPlaylistStore(reg, ch)

	if err := store.Replace(context.Background(), "demo", "u1", testTracks()); err != nil {
		t.Fatalf("replace: %v", err)
	}

	snaps := ch.snapshots(t)
	if len(snaps) != 1 {
		t.Fatalf("expected 1 snapshot broadcast, got %d", len(snaps))
	}
	if len(snaps[0].Tracks) != 3 || snaps[0].UpdatedBy != "u1" {
		t.Errorf("unexpected snapshot: %+v", snaps[0])
	}

	got := store.Tracks("demo")
	if len(got) != 3 || got[0].ID != "t1" || got[2].ID != "t3" {
		t.Errorf("stored playlist out of order: %+v", got)
	}
}

func TestPlaylistStore_AppendKeepsOrder(t *testing.T) {
	reg := NewRegistry()
	ch := &fakeChannel{}
	store := NewPlaylistStore(reg, ch)
	ctx := context.Background()

	store.Replace(ctx, "demo", "u1", testTracks()[:1])
	if err := store.Append(ctx, "demo", "u2", Track{ID: "t9", Filename: "nine.mp3", Source: SourceManual}); err != nil {
		t.Fatalf("append: %v", err)
	}

	got := store.Tracks("demo")
	if len(got) != 2 || got[1].ID != "t9" {
		t.Errorf("expected appended track last, got %+v", got)
	}
	if snaps := ch.snapshots(t); len(snaps) != 2 {
		t.Errorf("every mutation must broadcast, got %d snapshots", len(snaps))
	}
}

func TestPlaylistStore_RemoveSelectedResetsToFirstRemaining(t *testing.T) {
	reg := NewRegistry()
	ch := &fakeChannel{}
	store := NewPlaylistStore(reg, ch)
	ctx := context.Background()

	store.Replace(ctx, "demo", "u1", testTracks())
	reg.SetSync("demo", SyncState{TrackID: "t2", Playing: true, Position: 42, UpdatedBy: "u1"})

	if err := store.RemoveByID(ctx, "demo", "u2", "t2"); err != nil {
		t.Fatalf("remove: %v", err)
	}

	st, _ := reg.Sync("demo")
	if st.TrackID != "t1" {
		t.Errorf("expected selection to reset to first remaining track, got %q", st.TrackID)
	}
	if st.Playing || st.Position != 0 {
		t.Errorf("expected stopped state on reset, got %+v", st)
	}
}

func TestPlaylistStore_RemoveOtherKeepsSelection(t *testing.T) {
	reg := NewRegistry()
	store := NewPlaylistStore(reg, &fakeChannel{})
	ctx := context.Background()

	store.Replace(ctx, "demo", "u1", testTracks())
	reg.SetSync("demo", SyncState{TrackID: "t3", Playing: true, Position: 42, UpdatedBy: "u1"})

	if err := store.RemoveByID(ctx, "demo", "u2", "t1"); err != nil {
		t.Fatalf("remove: %v", err)
	}

	st, _ := reg.Sync("demo")
	if st.TrackID != "t3" || !st.Playing || st.Position != 42 {
		t.Errorf("selection identity must survive unrelated deletes, got %+v", st)
	}
}

func TestPlaylistStore_RemoveLastTrackStops(t *testing.T) {
	reg := NewRegistry()
	store := NewPlaylistStore(reg, &fakeChannel{})
	ctx := context.Background()

	store.Replace(ctx, "demo", "u1", testTracks()[:1])
	reg.SetSync("demo", SyncState{TrackID: "t1", Playing: true, Position: 5, UpdatedBy: "u1"})

	if err := store.RemoveByID(ctx, "demo", "u1", "t1"); err != nil {
		t.Fatalf("remove: %v", err)
	}

	st, _ := reg.Sync("demo")
	if st.TrackID != "" || st.Playing {
		t.Errorf("expected empty stopped state, got %+v", st)
	}
	if got := store.Tracks("demo"); len(got) != 0 {
		t.Errorf("expected empty playlist, got %+v", got)
	}
}

func TestPlaylistStore_RemoveUnknownTrack(t *testing.T) {
	reg := NewRegistry()
	store := NewPlaylistStore(reg, &fakeChannel{})
	ctx := context.Background()

	store.Replace(ctx, "demo", "u1", testTracks())
	if err := store.RemoveByID(ctx, "demo", "u1", "nope"); err != ErrTrackNotFound {
		t.Errorf("expected ErrTrackNotFound, got %v", err)
	}
	if err := store.RemoveByID(ctx, "ghost", "u1", "t1"); err != ErrNoRoom {
		t.Errorf("expected ErrNoRoom, got %v", err)
	}
}

func TestPlaylistStore_ReplaceReresolvesSelectionById(t *testing.T) {
	reg := NewRegistry()
	store := NewPlaylistStore(reg, &fakeChannel{})
	ctx := context.Background()

	store.Replace(ctx, "demo", "u1", testTracks())
	reg.SetSync("demo", SyncState{TrackID: "t2", Playing: true, Position: 7, UpdatedBy: "u1"})

	// New snapshot still contains t2, at a different position in the
	// order: the selection must follow the id, not the index.
	reordered := []Track{testTracks()[2], testTracks()[1]}
	store.Replace(ctx, "demo", "u2", reordered)

	st, _ := reg.Sync("demo")
	if st.TrackID != "t2" || !st.Playing {
		t.Errorf("selection must follow the id across reorders, got %+v", st)
	}
}
