package stream

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"taskboard/domain"
)

// DefaultChannel is the Redis channel carrying committed board events.
const DefaultChannel = "board:events"

// Publisher sends committed events to Redis so every server instance can
// rebroadcast them to its own SSE subscribers.
type Publisher struct {
	rc      *redis.Client
	channel string
	logger  *log.Logger
}

// NewPublisher creates a publisher for the given channel. An empty channel
// name selects DefaultChannel.
func NewPublisher(rc *redis.Client, channel string, logger *log.Logger) *Publisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Publisher{rc: rc, channel: channel, logger: logger}
}

// Publish serializes the event and sends it to the channel. Errors are
// logged, not returned: the mutation is already committed and local
// subscribers were already notified.
func (p *Publisher) Publish(ctx context.Context, ev domain.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		p.logger.Errorf("marshal event: %v", err)
		return
	}
	if err := p.rc.Publish(ctx, p.channel, data).Err(); err != nil {
		p.logger.WithFields(log.Fields{"channel": p.channel, "type": ev.Type}).Errorf("publish event: %v", err)
	}
}

// SubscribeEvents forwards events from the Redis channel to the hub until
// ctx is done, resubscribing when the pubsub connection drops.
func SubscribeEvents(ctx context.Context, logger *log.Logger, rc *redis.Client, channel string, hub *Hub) {
	if channel == "" {
		channel = DefaultChannel
	}
	for {
		sub := rc.Subscribe(ctx, channel)
		ch := sub.Channel()
	recv:
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break recv
				}
				hub.Broadcast([]byte(msg.Payload))
			}
		}
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		logger.Error("pubsub channel closed, reconnecting")
		time.Sleep(time.Second)
	}
}
