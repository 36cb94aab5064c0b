// Package sse pushes per-event dashboard updates over Server-Sent Events and
// websockets.
package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"ms-eventchain/internal/monitoring"
)

const (
	TopicAnalytics     = "analytics"
	TopicCheckIn       = "checkin"
	TopicAnnouncements = "announcements"

	clientBuffer = 10
)

// Message is one update on an event channel.
type Message struct {
	EventID string          `json:"eventId"`
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
	SentAt  time.Time       `json:"sentAt"`
}

// Broadcaster publishes an update to every subscriber of (eventID, topic).
type Broadcaster interface {
	Broadcast(ctx context.Context, eventID, topic string, payload any) error
}

func ValidTopic(topic string) bool {
	switch topic {
	case TopicAnalytics, TopicCheckIn, TopicAnnouncements:
		return true
	}
	return false
}

type subscription struct {
	eventID string
	topic   string
}

// Hub fans messages out to in-process subscribers. Slow subscribers lose
// messages rather than stall the publisher.
type Hub struct {
	mu      sync.RWMutex
	clients map[subscription][]chan Message
}

func NewHub() *Hub {
	return &Hub{clients: make(map[subscription][]chan Message)}
}

// Subscribe returns a channel that receives messages until ctx is done, at
// which point it is closed.
func (h *Hub) Subscribe(ctx context.Context, eventID, topic string) <-chan Message {
	key := subscription{eventID: eventID, topic: topic}
	ch := make(chan Message, clientBuffer)

	h.mu.Lock()
	h.clients[key] = append(h.clients[key], ch)
	h.mu.Unlock()
	monitoring.SubscriberJoined()

	go func() {
		<-ctx.Done()
		h.remove(key, ch)
	}()
	return ch
}

// Deliver hands msg to local subscribers only.
func (h *Hub) Deliver(msg Message) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for _, ch := range h.clients[subscription{eventID: msg.EventID, topic: msg.Topic}] {
		select {
		case ch <- msg:
			delivered++
		default:
		}
	}
	return delivered
}

// Broadcast delivers locally. Use RedisRelay when several instances serve
// dashboards.
func (h *Hub) Broadcast(_ context.Context, eventID, topic string, payload any) error {
	msg, err := NewMessage(eventID, topic, payload)
	if err != nil {
		return err
	}
	h.Deliver(msg)
	return nil
}

func (h *Hub) SubscriberCount(eventID, topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[subscription{eventID: eventID, topic: topic}])
}

func (h *Hub) remove(key subscription, ch chan Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := h.clients[key]
	for i, c := range clients {
		if c == ch {
			h.clients[key] = append(clients[:i], clients[i+1:]...)
			close(ch)
			monitoring.SubscriberLeft()
			break
		}
	}
	if len(h.clients[key]) == 0 {
		delete(h.clients, key)
	}
}

func NewMessage(eventID, topic string, payload any) (Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s payload: %w", topic, err)
	}
	return Message{EventID: eventID, Topic: topic, Payload: raw, SentAt: time.Now().UTC()}, nil
}
