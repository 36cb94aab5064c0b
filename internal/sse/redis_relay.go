package sse

import (
	"context"
	"encoding/json"
	"fmt"

	"ms-eventchain/internal/logger"

	"github.com/go-redis/redis/v8"
)

const DefaultRelayChannel = "eventchain:realtime"

// RedisRelay publishes updates through Redis pub/sub so every API instance
// delivers them to its own subscribers, including the publishing one.
type RedisRelay struct {
	client  *redis.Client
	channel string
	hub     *Hub
	log     *logger.Logger
}

func NewRedisRelay(client *redis.Client, channel string, hub *Hub, log *logger.Logger) *RedisRelay {
	if channel == "" {
		channel = DefaultRelayChannel
	}
	return &RedisRelay{client: client, channel: channel, hub: hub, log: log}
}

func (r *RedisRelay) Broadcast(ctx context.Context, eventID, topic string, payload any) error {
	msg, err := NewMessage(eventID, topic, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("relay %s/%s: %w", eventID, topic, err)
	}
	return nil
}

// Run forwards relayed messages into the local hub until ctx is done.
// ready, if not nil, is closed once the subscription is confirmed.
func (r *RedisRelay) Run(ctx context.Context, ready chan<- struct{}) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	if ready != nil {
		close(ready)
	}
	r.log.Info("REALTIME", fmt.Sprintf("Relaying dashboard updates via redis channel %s", r.channel))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var msg Message
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				r.log.Warn("REALTIME", fmt.Sprintf("Dropping malformed relay message: %v", err))
				continue
			}
			r.hub.Deliver(msg)
		}
	}
}
