package sse

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"ms-eventchain/internal/apperr"
	"ms-eventchain/internal/auth"
	"ms-eventchain/internal/logger"
	"ms-eventchain/internal/models"
	"ms-eventchain/internal/utils"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 50 * time.Second
)

// Refresher recomputes a topic snapshot on demand. The analytics aggregator
// implements it.
type Refresher interface {
	Refresh(ctx context.Context, eventID string) error
}

type Handler struct {
	Hub       *Hub
	Refresher Refresher
	Logger    *logger.Logger
	upgrader  websocket.Upgrader
}

func NewHandler(hub *Hub, refresher Refresher, log *logger.Logger) *Handler {
	return &Handler{
		Hub:       hub,
		Refresher: refresher,
		Logger:    log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Callers authenticate with a bearer token, not cookies.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// RegisterRoutes mounts under /api/realtime. The router must already carry
// the stream auth middleware.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.With(auth.RequireRoles(models.StaffRoles...)).Get("/events/{eventId}/sse", h.Stream)
	r.With(auth.RequireRoles(models.StaffRoles...)).Get("/events/{eventId}/ws", h.Socket)
}

func (h *Handler) setupSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

func topicFrom(r *http.Request) (string, error) {
	topic := r.URL.Query().Get("topic")
	if topic == "" {
		return TopicAnalytics, nil
	}
	if !ValidTopic(topic) {
		return "", apperr.Validation("unknown topic %q", topic)
	}
	return topic, nil
}

// Stream serves one topic of one event as Server-Sent Events.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")
	topic, err := topicFrom(r)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.WriteError(w, apperr.New(apperr.KindInternal, "streaming unsupported"))
		return
	}

	// Streams outlive the server write timeout.
	http.NewResponseController(w).SetWriteDeadline(time.Time{})
	h.setupSSEHeaders(w)
	ctx := r.Context()
	messages := h.Hub.Subscribe(ctx, eventID, topic)

	fmt.Fprintf(w, "event: connected\ndata: {\"status\":\"connected\",\"eventId\":%q,\"topic\":%q}\n\n", eventID, topic)
	flusher.Flush()
	h.Logger.Info("SSE", fmt.Sprintf("Client subscribed to %s updates for event %s", topic, eventID))

	if topic == TopicAnalytics && h.Refresher != nil {
		if err := h.Refresher.Refresh(ctx, eventID); err != nil {
			h.Logger.Warn("SSE", fmt.Sprintf("Initial analytics for %s: %v", eventID, err))
		}
	}

	for {
		select {
		case msg, ok := <-messages:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Topic, msg.Payload)
			flusher.Flush()
		case <-ctx.Done():
			h.Logger.Debug("SSE", fmt.Sprintf("Client left %s updates for event %s", topic, eventID))
			return
		}
	}
}

// ClientCommand is sent by websocket clients.
type ClientCommand struct {
	Action string `json:"action"`
	Topic  string `json:"topic,omitempty"`
}

type serverNotice struct {
	Type    string `json:"type"`
	EventID string `json:"eventId"`
	Topic   string `json:"topic,omitempty"`
	Message string `json:"message,omitempty"`
}

// Socket serves every topic of one event over a websocket. Clients send
// {"action":"subscribe","topic":...} and {"action":"refresh"}.
func (h *Handler) Socket(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")
	topic, err := topicFrom(r)
	if err != nil {
		utils.WriteError(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Logger.Warn("WS", fmt.Sprintf("Upgrade failed for event %s: %v", eventID, err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	out := make(chan any, clientBuffer)
	var subMu sync.Mutex
	subscribed := map[string]bool{}
	subscribe := func(topic string) {
		subMu.Lock()
		defer subMu.Unlock()
		if subscribed[topic] {
			return
		}
		subscribed[topic] = true
		messages := h.Hub.Subscribe(ctx, eventID, topic)
		go func() {
			for msg := range messages {
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	send := func(v any) {
		select {
		case out <- v:
		case <-ctx.Done():
		}
	}

	subscribe(topic)
	send(serverNotice{Type: "connected", EventID: eventID, Topic: topic})
	h.Logger.Info("WS", fmt.Sprintf("Client connected for event %s", eventID))

	go func() {
		defer cancel()
		conn.SetReadLimit(4096)
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			var cmd ClientCommand
			if err := conn.ReadJSON(&cmd); err != nil {
				return
			}
			switch cmd.Action {
			case "subscribe":
				if !ValidTopic(cmd.Topic) {
					send(serverNotice{Type: "error", EventID: eventID, Topic: cmd.Topic, Message: "unknown topic"})
					continue
				}
				subscribe(cmd.Topic)
				send(serverNotice{Type: "subscribed", EventID: eventID, Topic: cmd.Topic})
			case "refresh":
				if h.Refresher == nil {
					continue
				}
				if err := h.Refresher.Refresh(ctx, eventID); err != nil {
					send(serverNotice{Type: "error", EventID: eventID, Message: apperr.PublicMessage(err)})
				}
			default:
				send(serverNotice{Type: "error", EventID: eventID, Message: "unknown action"})
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	for {
		select {
		case v := <-out:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(v); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(wsWriteWait))
			h.Logger.Debug("WS", fmt.Sprintf("Client left event %s", eventID))
			return
		}
	}
}
