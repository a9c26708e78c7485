package events

import (
	"context"
	"encoding/json"
	"log"
	"strings"

	"github.com/suPer8Hu/lovely-prompts/internal/store/redisstore"
)

const channelPrefix = "lovely:events:"

// RedisRelay shares events between server instances: broadcasts are
// published to Redis and every instance delivers what it receives into its
// local Hub.
type RedisRelay struct {
	store *redisstore.Store
	hub   *Hub
}

func NewRedisRelay(store *redisstore.Store, hub *Hub) *RedisRelay {
	return &RedisRelay{store: store, hub: hub}
}

func (r *RedisRelay) Broadcast(ctx context.Context, project string, evt Event) error {
	b, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return r.store.Publish(ctx, channelPrefix+project, b)
}

// Run delivers relayed events into the hub until ctx is done.
func (r *RedisRelay) Run(ctx context.Context) error {
	msgs, closeSub := r.store.PSubscribe(ctx, channelPrefix+"*")
	defer closeSub()

	log.Printf("events: redis relay started pattern=%s*", channelPrefix)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-msgs:
			if !ok {
				return nil
			}
			project := strings.TrimPrefix(m.Channel, channelPrefix)
			var evt Event
			if err := json.Unmarshal([]byte(m.Payload), &evt); err != nil {
				log.Printf("events: bad relayed payload channel=%s err=%v", m.Channel, err)
				continue
			}
			r.hub.Deliver(project, evt)
		}
	}
}
