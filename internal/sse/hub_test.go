package sse_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"ms-eventchain/internal/logger"
	"ms-eventchain/internal/sse"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan sse.Message) sse.Message {
	t.Helper()
	select {
	case msg, ok := <-ch:
		require.True(t, ok, "channel closed")
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
		return sse.Message{}
	}
}

func TestHubRoutesByEventAndTopic(t *testing.T) {
	hub := sse.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	checkins := hub.Subscribe(ctx, "evt-1", sse.TopicCheckIn)
	other := hub.Subscribe(ctx, "evt-2", sse.TopicCheckIn)
	analytics := hub.Subscribe(ctx, "evt-1", sse.TopicAnalytics)

	require.NoError(t, hub.Broadcast(ctx, "evt-1", sse.TopicCheckIn, map[string]int64{"tokenId": 7}))

	msg := receive(t, checkins)
	assert.Equal(t, "evt-1", msg.EventID)
	assert.JSONEq(t, `{"tokenId":7}`, string(msg.Payload))
	assert.Empty(t, other)
	assert.Empty(t, analytics)
}

func TestHubDropsForSlowSubscribers(t *testing.T) {
	hub := sse.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := hub.Subscribe(ctx, "evt-1", sse.TopicAnalytics)
	for i := 0; i < 25; i++ {
		require.NoError(t, hub.Broadcast(ctx, "evt-1", sse.TopicAnalytics, i))
	}
	assert.Len(t, ch, 10)
}

func TestHubClosesOnCancel(t *testing.T) {
	hub := sse.NewHub()
	ctx, cancel := context.WithCancel(context.Background())

	ch := hub.Subscribe(ctx, "evt-1", sse.TopicCheckIn)
	assert.Equal(t, 1, hub.SubscriberCount("evt-1", sse.TopicCheckIn))
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not closed")
	}
	assert.Equal(t, 0, hub.SubscriberCount("evt-1", sse.TopicCheckIn))
}

func TestRedisRelayDeliversAcrossHubs(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	local, remote := sse.NewHub(), sse.NewHub()
	publisher := sse.NewRedisRelay(client, "", local, logger.Discard())
	follower := sse.NewRedisRelay(client, "", remote, logger.Discard())

	ready := make(chan struct{})
	go follower.Run(ctx, ready)
	<-ready

	ch := remote.Subscribe(ctx, "evt-1", sse.TopicAnalytics)
	require.NoError(t, publisher.Broadcast(ctx, "evt-1", sse.TopicAnalytics, map[string]int{"paid": 3}))

	msg := receive(t, ch)
	var payload map[string]int
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	assert.Equal(t, 3, payload["paid"])
}
