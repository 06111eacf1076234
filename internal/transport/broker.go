package transport

import (
	"context"
	"encoding/json"
	"log"

	"github.com/redis/go-redis/v9"
)

// Broker is the push-based Channel backend: immediate fan-out over redis
// pub/sub, one channel per room.
type Broker struct {
	rdb *redis.Client
}

func NewBroker(rdb *redis.Client) *Broker {
	return &Broker{rdb: rdb}
}

func channelName(roomID string) string {
	return "room:" + roomID
}

// JoinRoom is a no-op for the broker; redis channels exist on demand.
func (b *Broker) JoinRoom(ctx context.Context, roomID string) error {
	return nil
}

func (b *Broker) Publish(ctx context.Context, roomID string, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, channelName(roomID), string(data)).Err()
}

func (b *Broker) Subscribe(ctx context.Context, roomID string, h Handler) (func(), error) {
	sub := b.rdb.Subscribe(ctx, channelName(roomID))

	// Force the subscription onto the wire before returning, so a Publish
	// issued right after Subscribe is not lost.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}

	go func() {
		for m := range sub.Channel() {
			var msg Message
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				log.Printf("syncroom: broker %s: bad payload: %v", roomID, err)
				continue
			}
			h(msg)
		}
	}()

	return func() { _ = sub.Close() }, nil
}
