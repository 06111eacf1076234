package transport

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// DocStore is the poll/snapshot Channel backend. Every publish overwrites a
// whole document keyed by room and kind; subscribers poll for revision
// changes and always receive the complete current document, never a patch.
// Delivery latency is bounded by the poll interval.
type DocStore struct {
	rdb  *redis.Client
	poll time.Duration
}

// document wraps a message with the monotonically increasing revision that
// poll loops compare against.
type document struct {
	Rev int64   `json:"rev"`
	Msg Message `json:"msg"`
}

func NewDocStore(rdb *redis.Client, poll time.Duration) *DocStore {
	if poll <= 0 {
		poll = time.Second
	}
	return &DocStore{rdb: rdb, poll: poll}
}

func docSetKey(roomID string) string { return "docs/" + roomID }
func revKey(roomID string) string    { return "rev/" + roomID }

// docKey maps a message onto its collection document. Presence documents are
// per-user; everything else is one document per room.
func docKey(roomID string, msg Message) string {
	switch msg.Kind {
	case KindPlaylist:
		return "playlists/" + roomID
	case KindSync:
		return "sync/" + roomID
	case KindUserlist:
		return "rooms/" + roomID
	case KindPresence:
		return "presence/" + roomID + "_" + msg.Sender
	default:
		return msg.Kind + "/" + roomID
	}
}

func (d *DocStore) JoinRoom(ctx context.Context, roomID string) error {
	// Reserve the revision counter so the room exists for pollers.
	return d.rdb.SetNX(ctx, revKey(roomID), 0, 0).Err()
}

func (d *DocStore) Publish(ctx context.Context, roomID string, msg Message) error {
	rev, err := d.rdb.Incr(ctx, revKey(roomID)).Result()
	if err != nil {
		return err
	}
	data, err := json.Marshal(document{Rev: rev, Msg: msg})
	if err != nil {
		return err
	}
	key := docKey(roomID, msg)
	if err := d.rdb.Set(ctx, key, data, 0).Err(); err != nil {
		return err
	}
	return d.rdb.SAdd(ctx, docSetKey(roomID), key).Err()
}

func (d *DocStore) Subscribe(ctx context.Context, roomID string, h Handler) (func(), error) {
	stop := make(chan struct{})

	go func() {
		ticker := time.NewTicker(d.poll)
		defer ticker.Stop()

		seen := make(map[string]int64)
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := d.sweep(ctx, roomID, seen, h); err != nil {
					log.Printf("syncroom: docstore %s: poll: %v", roomID, err)
				}
			}
		}
	}()

	return func() { close(stop) }, nil
}

// sweep delivers every document whose revision advanced since the last poll.
func (d *DocStore) sweep(ctx context.Context, roomID string, seen map[string]int64, h Handler) error {
	keys, err := d.rdb.SMembers(ctx, docSetKey(roomID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return err
	}
	if len(keys) == 0 {
		return nil
	}

	vals, err := d.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return err
	}

	// Collect, then replay in revision order so one sender's documents are
	// never observed out of publish order.
	var pending []document
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var doc document
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			log.Printf("syncroom: docstore %s: bad document %s: %v", roomID, keys[i], err)
			continue
		}
		if doc.Rev <= seen[keys[i]] {
			continue
		}
		seen[keys[i]] = doc.Rev
		pending = append(pending, doc)
	}

	for i := 1; i < len(pending); i++ {
		for j := i; j > 0 && pending[j].Rev < pending[j-1].Rev; j-- {
			pending[j], pending[j-1] = pending[j-1], pending[j]
		}
	}
	for _, doc := range pending {
		h(doc.Msg)
	}
	return nil
}
