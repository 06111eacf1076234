package player

import (
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"syncroom/internal/room"
)

const (
	// PlayLookahead is how far in the future a play intent schedules its
	// start. Receivers that get the intent within this window all begin at
	// the same wall-clock instant.
	PlayLookahead = 1500 * time.Millisecond

	// DriftTolerance is the largest position gap, in seconds, left
	// uncorrected. Below it a snap would be an audible glitch for no
	// perceptual gain.
	DriftTolerance = 2.0
)

type Action string

const (
	ActionPlay   Action = "play"
	ActionPause  Action = "pause"
	ActionSeek   Action = "seek"
	ActionSelect Action = "select"
)

// Intent is a client-originated request to change shared playback state.
type Intent struct {
	Action   Action    `json:"action"`
	Position float64   `json:"time,omitempty"`
	StartAt  time.Time `json:"startAt,omitempty"`
	TrackID  string    `json:"trackId,omitempty"`
	By       string    `json:"by,omitempty"`
}

// Playback is the local audio engine the reconciler drives. Implementations
// wrap whatever actually produces sound; the reconciler only decides what it
// should be doing.
type Playback interface {
	Position() float64
	Playing() bool
	SetPosition(seconds float64)

	// Play may fail when the runtime blocks unsolicited playback. The
	// reconciler treats that as a deferred state, never an error.
	Play() error
	Pause()
	Load(t room.Track)
	Stop()
}

// Reconciler applies playback intents to the local engine. All entry points
// are serialized on one mutex, so engine mutations and drift checks never
// overlap, and a scheduled future start is always cancellable by whatever
// intent arrives next.
type Reconciler struct {
	mu     sync.Mutex
	userID string
	engine Playback

	playlist  []room.Track
	currentID string

	pendingStart *time.Timer
	// startGen identifies the schedule pendingStart belongs to. A timer
	// callback that lost the lock race to a newer schedule finds the
	// generation advanced and must not touch it.
	startGen uint64

	pendingSelect  string
	selectRetried  bool
	pendingGesture bool

	now func() time.Time
}

func NewReconciler(userID string, engine Playback) *Reconciler {
	return &Reconciler{
		userID: userID,
		engine: engine,
		now:    time.Now,
	}
}

// Propose stamps a locally originated intent with the sender identity,
// fills in the scheduled start for play, and applies it to the local engine
// immediately. The returned intent is what goes on the wire; remote peers
// relay it without echoing it back here.
func (r *Reconciler) Propose(in Intent) (Intent, error) {
	in.By = r.userID
	if in.Action == ActionPlay && in.StartAt.IsZero() {
		in.StartAt = r.now().Add(PlayLookahead)
	}
	if err := r.Apply(in, true); err != nil {
		return Intent{}, err
	}
	return in, nil
}

// Apply reconciles one incoming intent against the local engine. Intents
// authored by the local user are suppressed unless force is set; force is
// used when re-attaching to a room, where whatever state already exists must
// win over our own stale last write.
func (r *Reconciler) Apply(in Intent, force bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if in.By == r.userID && !force {
		return nil
	}

	switch in.Action {
	case ActionPlay:
		r.cancelScheduledLocked()
		r.engine.SetPosition(in.Position)
		if delay := in.StartAt.Sub(r.now()); delay > 0 {
			r.armStartLocked(delay)
			return nil
		}
		r.playLocked()

	case ActionPause:
		r.cancelScheduledLocked()
		r.engine.SetPosition(in.Position)
		r.engine.Pause()

	case ActionSeek:
		r.cancelScheduledLocked()
		r.engine.SetPosition(in.Position)

	case ActionSelect:
		r.cancelScheduledLocked()
		t, ok := room.FindTrack(r.playlist, in.TrackID)
		if !ok {
			// Not replicated here yet. Park it until the playlist
			// converges, then retry once.
			r.pendingSelect = in.TrackID
			r.selectRetried = false
			log.Printf("syncroom: reconciler: deferring select of unknown track %s", in.TrackID)
			return nil
		}
		r.selectLocked(t)

	default:
		return fmt.Errorf("unknown intent action %q", in.Action)
	}
	return nil
}

// SetPlaylist installs a new authoritative playlist snapshot. A deferred
// select is retried exactly once; if the track still is not there it is
// dropped with a log line. A current track that vanished from the snapshot
// resets playback to the first remaining track, or stops on an empty list.
func (r *Reconciler) SetPlaylist(tracks []room.Track) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.playlist = append([]room.Track(nil), tracks...)

	if r.pendingSelect != "" {
		id := r.pendingSelect
		if t, ok := room.FindTrack(r.playlist, id); ok {
			r.pendingSelect = ""
			r.cancelScheduledLocked()
			r.selectLocked(t)
			return
		}
		if r.selectRetried {
			r.pendingSelect = ""
			log.Printf("syncroom: reconciler: dropping select of track %s, still absent after convergence", id)
		} else {
			r.selectRetried = true
		}
	}

	if r.currentID == "" {
		return
	}
	if _, ok := room.FindTrack(r.playlist, r.currentID); ok {
		return
	}
	r.cancelScheduledLocked()
	if len(r.playlist) > 0 {
		r.selectLocked(r.playlist[0])
		return
	}
	r.engine.Stop()
	r.currentID = ""
}

// Adopt forces the local engine onto an authoritative state document. Used
// on re-attach and by snapshot-store consumers, where the document rather
// than a discrete intent is the unit of convergence.
func (r *Reconciler) Adopt(st room.SyncState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cancelScheduledLocked()

	if st.TrackID != "" && st.TrackID != r.currentID {
		if t, ok := room.FindTrack(r.playlist, st.TrackID); ok {
			r.selectLocked(t)
		} else {
			r.pendingSelect = st.TrackID
			r.selectRetried = false
		}
	}

	r.engine.SetPosition(st.PositionAt(r.now()))
	if st.Playing {
		r.playLocked()
	} else {
		r.engine.Pause()
	}
}

// CheckDrift snaps the local position to the extrapolated authoritative one
// when they diverge past tolerance. Within tolerance nothing happens, so
// repeated checks are idempotent. Suspended while a scheduled start is
// pending; correcting against a state the room has not begun playing yet
// would fight the schedule.
func (r *Reconciler) CheckDrift(st room.SyncState) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pendingStart != nil {
		return false
	}
	if !r.engine.Playing() || !st.Playing {
		return false
	}

	want := st.PositionAt(r.now())
	if math.Abs(r.engine.Position()-want) <= DriftTolerance {
		return false
	}
	r.engine.SetPosition(want)
	return true
}

// CurrentTrack reports the locally selected track.
func (r *Reconciler) CurrentTrack() (room.Track, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return room.FindTrack(r.playlist, r.currentID)
}

// PendingGesture reports whether the last play attempt was blocked by the
// runtime's autoplay policy and awaits a user gesture.
func (r *Reconciler) PendingGesture() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pendingGesture
}

// StartPending reports whether a scheduled future start is armed.
func (r *Reconciler) StartPending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pendingStart != nil
}

// Close cancels any scheduled start.
func (r *Reconciler) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelScheduledLocked()
}

func (r *Reconciler) armStartLocked(delay time.Duration) {
	r.startGen++
	gen := r.startGen
	r.pendingStart = time.AfterFunc(delay, func() { r.startScheduled(gen) })
}

func (r *Reconciler) startScheduled(gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pendingStart == nil || gen != r.startGen {
		// Cancelled, or superseded by a newer schedule, between the timer
		// firing and acquiring the lock.
		return
	}
	r.pendingStart = nil
	r.playLocked()
}

func (r *Reconciler) cancelScheduledLocked() {
	if r.pendingStart != nil {
		r.pendingStart.Stop()
		r.pendingStart = nil
	}
}

func (r *Reconciler) playLocked() {
	if err := r.engine.Play(); err != nil {
		r.pendingGesture = true
		log.Printf("syncroom: reconciler: playback start blocked, paused pending user gesture: %v", err)
		return
	}
	r.pendingGesture = false
}

func (r *Reconciler) selectLocked(t room.Track) {
	r.currentID = t.ID
	r.engine.Load(t)
	r.engine.SetPosition(0)
	r.engine.Pause()
}
