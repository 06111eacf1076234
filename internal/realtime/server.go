package realtime

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"syncroom/internal/room"
	"syncroom/internal/transport"
)

var upgrader = websocket.Upgrader{
	// Origin checks belong on the gateway in front of us.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Frame is the websocket wire envelope, client and server directions both.
type Frame struct {
	Type     string          `json:"type"`
	Room     string          `json:"room,omitempty"`
	User     string          `json:"user,omitempty"`
	Action   string          `json:"action,omitempty"`
	Time     float64         `json:"time,omitempty"`
	StartAt  int64           `json:"startAt,omitempty"` // unix milliseconds
	TrackID  string          `json:"trackId,omitempty"`
	Track    *room.Track     `json:"track,omitempty"`
	Tracks   []room.Track    `json:"tracks,omitempty"`
	Users    []string        `json:"users,omitempty"`
	Sync     *room.SyncState `json:"sync,omitempty"`
	Filename string          `json:"filename,omitempty"`
	Now      string          `json:"now,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// Frame types.
const (
	FrameWelcome         = "welcome"
	FrameJoin            = "join"
	FrameJoined          = "joined"
	FrameLeave           = "leave"
	FrameHeartbeat       = "heartbeat"
	FrameSync            = "sync"
	FrameUserlist        = "userlist"
	FramePlaylist        = "playlist"
	FrameTrackAdd        = "track-add"
	FrameTrackRemove     = "track-remove"
	FramePlaylistChanged = "playlist-changed"
	FrameError           = "error"
)

// Importer supplies tracks for a whole-playlist import.
type Importer interface {
	ListAudioFiles(ctx context.Context) ([]room.Track, error)
}

// Server is the realtime endpoint: it owns the hub, applies the room relay
// rules, and bridges local traffic onto the transport channel so every
// instance (and the document-store backend) sees the same stream.
type Server struct {
	hub       *Hub
	reg       *room.Registry
	presence  *room.Monitor
	playlists *room.PlaylistStore
	ch        transport.Channel
	importer  Importer
	ctx       context.Context

	// instanceID marks our own channel publishes so the subscription loop
	// does not deliver them twice.
	instanceID string

	mu   sync.Mutex
	subs map[string]func()
}

func NewServer(ctx context.Context, hub *Hub, reg *room.Registry, presence *room.Monitor, playlists *room.PlaylistStore, ch transport.Channel) *Server {
	s := &Server{
		hub:        hub,
		reg:        reg,
		presence:   presence,
		playlists:  playlists,
		ch:         ch,
		ctx:        ctx,
		instanceID: uuid.NewString(),
		subs:       make(map[string]func()),
	}
	reg.OnChange(s.broadcastUserlist)
	hub.onFirst = s.subscribeRoom
	hub.onEmpty = s.unsubscribeRoom
	return s
}

// Router creates a chi.Router with our routes.
func (s *Server) Router(middlewares ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	for _, mw := range middlewares {
		r.Use(mw)
	}
	r.Get("/health", s.HandleHealth)
	r.Get("/ws", s.HandleWS)
	r.Post("/api/rooms/{roomID}/import", s.HandleImport)
	return r
}

// SetImporter wires the playlist import source.
func (s *Server) SetImporter(imp Importer) {
	s.importer = imp
}

func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "syncroom",
	})
}

func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("syncroom: realtime: ws upgrade: %v", err)
		return
	}

	client := &Client{
		hub:  s.hub,
		srv:  s,
		conn: conn,
		send: make(chan []byte, 256),
	}

	// The welcome carries the server clock so clients can estimate skew
	// before scheduling anything.
	client.sendFrame(Frame{
		Type: FrameWelcome,
		Now:  time.Now().UTC().Format(time.RFC3339Nano),
	})

	go client.writePump()
	go client.readPump()
}

func (s *Server) handleFrame(c *Client, data []byte) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		c.sendFrame(Frame{Type: FrameError, Error: "invalid frame"})
		return
	}

	switch f.Type {
	case FrameJoin:
		s.handleJoin(c, f)
	case FrameHeartbeat:
		if c.joined {
			s.presence.Touch(c.room, c.userID)
			s.publishPresence(c.room, c.userID)
		}
	case FrameSync:
		s.handleSync(c, f)
	case FramePlaylist:
		s.handlePlaylistReplace(c, f)
	case FrameTrackAdd:
		s.handleTrackAdd(c, f)
	case FrameTrackRemove:
		s.handleTrackRemove(c, f)
	case FrameLeave:
		if c.joined {
			s.disconnect(c)
		}
	default:
		c.sendFrame(Frame{Type: FrameError, Error: "unknown frame type"})
	}
}

// handleJoin admits the client into a room. A rejection is answered on the
// socket and leaves the connection in its pre-join state; the room and its
// other participants are untouched.
func (s *Server) handleJoin(c *Client, f Frame) {
	if c.joined {
		c.sendFrame(Frame{Type: FrameError, Error: "already joined"})
		return
	}

	userID := uuid.NewString()
	members, err := s.reg.Join(f.Room, room.User{ID: userID, Name: f.User})
	if err != nil {
		c.sendFrame(Frame{Type: FrameError, Error: err.Error()})
		return
	}

	c.room = f.Room
	c.userID = userID
	c.name = f.User
	c.joined = true
	s.hub.register <- c

	// Adoption payload: the joiner must take over whatever state already
	// exists rather than trust anything it held before.
	var syncPtr *room.SyncState
	if st, ok := s.reg.Sync(f.Room); ok && !st.UpdatedAt.IsZero() {
		syncPtr = &st
	}
	c.sendFrame(Frame{
		Type:   FrameJoined,
		Room:   f.Room,
		User:   userID,
		Users:  memberNames(members),
		Tracks: s.playlists.Tracks(f.Room),
		Sync:   syncPtr,
	})
}

// handleSync applies the relay rule: select actions are echoed to the whole
// room including the sender (shared playlist-position state the sender's own
// UI re-renders), everything else goes to everyone except the sender.
func (s *Server) handleSync(c *Client, f Frame) {
	if !c.joined {
		c.sendFrame(Frame{Type: FrameError, Error: "join a room first"})
		return
	}

	now := time.Now()
	prev, _ := s.reg.Sync(c.room)
	st := room.SyncState{UpdatedAt: now, UpdatedBy: c.userID}

	switch f.Action {
	case "play":
		st.TrackID = prev.TrackID
		st.Playing = true
		st.Position = f.Time
		// Extrapolation has to run from the shared start instant, not from
		// relay time: nobody is playing until startAt.
		if f.StartAt > 0 {
			if at := time.UnixMilli(f.StartAt); at.After(now) {
				st.UpdatedAt = at
			}
		}
	case "pause":
		st.TrackID = prev.TrackID
		st.Playing = false
		st.Position = f.Time
	case "seek":
		st.TrackID = prev.TrackID
		st.Playing = prev.Playing
		st.Position = f.Time
	case "select":
		if _, ok := room.FindTrack(s.playlists.Tracks(c.room), f.TrackID); !ok {
			log.Printf("syncroom: realtime: dropping select of unknown track %s in room %s", f.TrackID, c.room)
			return
		}
		st.TrackID = f.TrackID
		st.Playing = false
		st.Position = 0
	default:
		log.Printf("syncroom: realtime: dropping sync frame with action %q from %s", f.Action, c.name)
		return
	}

	s.reg.SetSync(c.room, st)

	f.Room = c.room
	f.User = c.userID
	data, err := json.Marshal(f)
	if err != nil {
		log.Printf("syncroom: realtime: marshal sync frame: %v", err)
		return
	}
	if f.Action == "select" {
		s.hub.toRoom(c.room, data, nil)
	} else {
		s.hub.toRoom(c.room, data, c)
	}
	s.publish(transport.KindSync, c.room, c.userID, data)
}

func (s *Server) handlePlaylistReplace(c *Client, f Frame) {
	if !c.joined {
		c.sendFrame(Frame{Type: FrameError, Error: "join a room first"})
		return
	}
	if err := s.playlists.Replace(s.ctx, c.room, c.userID, f.Tracks); err != nil {
		log.Printf("syncroom: realtime: playlist replace in %s: %v", c.room, err)
		c.sendFrame(Frame{Type: FrameError, Error: "playlist update failed"})
	}
}

func (s *Server) handleTrackAdd(c *Client, f Frame) {
	if !c.joined {
		c.sendFrame(Frame{Type: FrameError, Error: "join a room first"})
		return
	}
	if f.Track == nil || f.Track.ID == "" {
		c.sendFrame(Frame{Type: FrameError, Error: "missing track"})
		return
	}
	if err := s.playlists.Append(s.ctx, c.room, c.userID, *f.Track); err != nil {
		log.Printf("syncroom: realtime: track add in %s: %v", c.room, err)
		c.sendFrame(Frame{Type: FrameError, Error: "playlist update failed"})
	}
}

func (s *Server) handleTrackRemove(c *Client, f Frame) {
	if !c.joined {
		c.sendFrame(Frame{Type: FrameError, Error: "join a room first"})
		return
	}
	err := s.playlists.RemoveByID(s.ctx, c.room, c.userID, f.TrackID)
	if err == room.ErrTrackNotFound {
		c.sendFrame(Frame{Type: FrameError, Error: err.Error()})
		return
	}
	if err != nil {
		log.Printf("syncroom: realtime: track remove in %s: %v", c.room, err)
		c.sendFrame(Frame{Type: FrameError, Error: "playlist update failed"})
	}
}

// disconnect tears the client down. The explicit-leave and the abrupt-close
// paths both land here; the presence sweep only mops up what this misses.
func (s *Server) disconnect(c *Client) {
	if !c.joined {
		return
	}
	c.joined = false
	s.reg.Leave(c.room, c.userID)
	s.hub.unregister <- c
}

// HandleImport replaces a room's playlist with the importer's current file
// listing. POST /api/rooms/{roomID}/import
func (s *Server) HandleImport(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	if !room.ValidRoomID(roomID) {
		writeError(w, http.StatusBadRequest, room.ErrInvalidRoomID.Error())
		return
	}
	if s.importer == nil {
		writeError(w, http.StatusServiceUnavailable, "import source not configured")
		return
	}

	tracks, err := s.importer.ListAudioFiles(r.Context())
	if err != nil {
		log.Printf("syncroom: realtime: import for %s: %v", roomID, err)
		writeError(w, http.StatusBadGateway, "import source unavailable")
		return
	}
	if err := s.playlists.Replace(r.Context(), roomID, "", tracks); err != nil {
		log.Printf("syncroom: realtime: import replace for %s: %v", roomID, err)
		writeError(w, http.StatusInternalServerError, "playlist update failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"imported": len(tracks),
		"tracks":   tracks,
	})
}

// NotifyPlaylistChanged tells every connected client the shared audio
// library changed. Fired by uploads and deletes.
func (s *Server) NotifyPlaylistChanged(ctx context.Context, filename string) {
	data, err := json.Marshal(Frame{Type: FramePlaylistChanged, Filename: filename})
	if err != nil {
		log.Printf("syncroom: realtime: marshal playlist-changed: %v", err)
		return
	}
	s.hub.BroadcastAll(data)
}

// presenceBeat is the per-user liveness record mirrored onto the channel.
// The document-store backend keeps these as per-user documents; other
// instances refresh their own registry from them.
type presenceBeat struct {
	User string    `json:"user"`
	At   time.Time `json:"at"`
}

func (s *Server) publishPresence(roomID, userID string) {
	data, err := json.Marshal(presenceBeat{User: userID, At: time.Now().UTC()})
	if err != nil {
		log.Printf("syncroom: realtime: marshal presence beat: %v", err)
		return
	}
	s.publish(transport.KindPresence, roomID, userID, data)
}

func (s *Server) broadcastUserlist(roomID string, members []room.User) {
	data, err := json.Marshal(Frame{
		Type:  FrameUserlist,
		Room:  roomID,
		Users: memberNames(members),
	})
	if err != nil {
		log.Printf("syncroom: realtime: marshal userlist: %v", err)
		return
	}
	s.hub.toRoom(roomID, data, nil)
	s.publish(transport.KindUserlist, roomID, "", data)
}

// subscribeRoom bridges the transport channel into the local hub once the
// first local client appears in a room.
func (s *Server) subscribeRoom(roomID string) {
	if s.ch == nil {
		return
	}
	if err := s.ch.JoinRoom(s.ctx, roomID); err != nil {
		log.Printf("syncroom: realtime: join channel %s: %v", roomID, err)
	}
	unsub, err := s.ch.Subscribe(s.ctx, roomID, func(msg transport.Message) {
		s.handleChannelMessage(roomID, msg)
	})
	if err != nil {
		log.Printf("syncroom: realtime: subscribe %s: %v", roomID, err)
		return
	}
	s.mu.Lock()
	s.subs[roomID] = unsub
	s.mu.Unlock()
}

func (s *Server) unsubscribeRoom(roomID string) {
	s.mu.Lock()
	unsub := s.subs[roomID]
	delete(s.subs, roomID)
	s.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

func (s *Server) handleChannelMessage(roomID string, msg transport.Message) {
	switch msg.Kind {
	case transport.KindPlaylist:
		// Playlist snapshots take the channel round-trip for everyone,
		// the author included: one authoritative path, no diffs.
		var snap room.PlaylistSnapshot
		if err := json.Unmarshal(msg.Payload, &snap); err != nil {
			log.Printf("syncroom: realtime: bad playlist snapshot for %s: %v", roomID, err)
			return
		}
		data, err := json.Marshal(Frame{
			Type:   FramePlaylist,
			Room:   roomID,
			User:   snap.UpdatedBy,
			Tracks: snap.Tracks,
		})
		if err != nil {
			return
		}
		s.hub.toRoom(roomID, data, nil)

	case transport.KindSync, transport.KindUserlist:
		// Our own relays were already delivered locally with the correct
		// per-sender exclusion; only foreign instances matter here.
		if strings.HasPrefix(msg.Sender, s.instanceID+":") {
			return
		}
		s.hub.toRoom(roomID, msg.Payload, nil)

	case transport.KindPresence:
		// A user heartbeating on another instance is alive here too.
		if strings.HasPrefix(msg.Sender, s.instanceID+":") {
			return
		}
		var beat presenceBeat
		if err := json.Unmarshal(msg.Payload, &beat); err != nil {
			log.Printf("syncroom: realtime: bad presence beat for %s: %v", roomID, err)
			return
		}
		s.presence.Touch(roomID, beat.User)
	}
}

func (s *Server) publish(kind, roomID, userID string, payload []byte) {
	if s.ch == nil {
		return
	}
	err := s.ch.Publish(s.ctx, roomID, transport.Message{
		Kind:    kind,
		Sender:  s.instanceID + ":" + userID,
		Payload: payload,
	})
	if err != nil {
		log.Printf("syncroom: realtime: publish %s to %s: %v", kind, roomID, err)
	}
}

func (c *Client) sendFrame(f Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		log.Printf("syncroom: realtime: marshal frame: %v", err)
		return
	}
	c.trySend(data)
}

func memberNames(members []room.User) []string {
	names := make([]string, 0, len(members))
	for _, m := range members {
		names = append(names, m.Name)
	}
	return names
}
