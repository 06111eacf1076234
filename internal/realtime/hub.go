package realtime

// envelope is one outbound fan-out request. except carries the client to
// skip, for the intents a sender must not hear back.
type envelope struct {
	room   string
	except *Client
	data   []byte
}

// Hub owns the per-room client sets and serializes every membership and
// fan-out mutation on a single goroutine, so room state never races.
type Hub struct {
	rooms map[string]map[*Client]bool

	broadcast    chan envelope
	broadcastAll chan []byte
	register     chan *Client
	unregister   chan *Client

	// onFirst/onEmpty fire from the hub goroutine when a room gains its
	// first local client or loses its last one.
	onFirst func(roomID string)
	onEmpty func(roomID string)
}

func NewHub() *Hub {
	return &Hub{
		rooms:        make(map[string]map[*Client]bool),
		broadcast:    make(chan envelope),
		broadcastAll: make(chan []byte),
		register:     make(chan *Client),
		unregister:   make(chan *Client),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			set, ok := h.rooms[client.room]
			if !ok {
				set = make(map[*Client]bool)
				h.rooms[client.room] = set
				if h.onFirst != nil {
					h.onFirst(client.room)
				}
			}
			set[client] = true

		case client := <-h.unregister:
			h.drop(client)

		case env := <-h.broadcast:
			for client := range h.rooms[env.room] {
				if client == env.except {
					continue
				}
				h.send(client, env.data)
			}

		case data := <-h.broadcastAll:
			for _, set := range h.rooms {
				for client := range set {
					h.send(client, data)
				}
			}
		}
	}
}

func (h *Hub) send(client *Client, data []byte) {
	if !client.trySend(data) {
		// Slow consumer; cut it loose rather than stall the room.
		h.drop(client)
	}
}

func (h *Hub) drop(client *Client) {
	set, ok := h.rooms[client.room]
	if !ok {
		return
	}
	if _, ok := set[client]; !ok {
		return
	}
	delete(set, client)
	client.teardown()
	if len(set) == 0 {
		delete(h.rooms, client.room)
		if h.onEmpty != nil {
			h.onEmpty(client.room)
		}
	}
}

func (h *Hub) toRoom(room string, data []byte, except *Client) {
	h.broadcast <- envelope{room: room, except: except, data: data}
}

// BroadcastAll delivers data to every connected client in every room.
func (h *Hub) BroadcastAll(data []byte) {
	h.broadcastAll <- data
}
