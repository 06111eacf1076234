package transport

import (
	"context"
	"encoding/json"
)

// Message kinds carried over a room channel.
const (
	KindSync     = "sync"
	KindPlaylist = "playlist"
	KindUserlist = "userlist"
	KindPresence = "presence"
)

// Message is the unit of room-scoped fan-out. Payload is an opaque JSON
// document; the channel never inspects it.
type Message struct {
	Kind    string          `json:"kind"`
	Sender  string          `json:"sender,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Handler receives messages delivered to a subscription.
type Handler func(Message)

// Channel is a bidirectional pub/sub primitive scoped to a room.
//
// Delivery guarantee: messages published by the same sender into the same
// room arrive at every subscriber in publish order. There is no ordering
// across senders.
type Channel interface {
	JoinRoom(ctx context.Context, roomID string) error
	Publish(ctx context.Context, roomID string, msg Message) error

	// Subscribe registers h for every message published into the room and
	// returns a function that cancels the subscription.
	Subscribe(ctx context.Context, roomID string, h Handler) (func(), error)
}
