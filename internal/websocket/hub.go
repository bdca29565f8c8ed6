package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"gemini-chatbot/internal/database"
	"gemini-chatbot/internal/models"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// TokenParser resolves a session token to its conversation.
type TokenParser interface {
	ParseToken(token string) (uuid.UUID, error)
}

// LookupFunc returns the current view of a conversation.
type LookupFunc func(id uuid.UUID) (models.ConversationView, bool)

// client is one socket. gorilla connections allow one concurrent writer, so
// every write goes through writeMu.
type client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	// message count of the newest view written; guarded by writeMu
	sent int
}

type subscription struct {
	cancel context.CancelFunc
	ready  chan struct{}
}

// Hub pushes conversation updates to connected clients. With Redis clients
// it fans out through pub/sub so every server instance sees every update;
// without them it broadcasts in-process.
type Hub struct {
	mu            sync.RWMutex
	connections   map[uuid.UUID][]*client
	subscriptions map[uuid.UUID]*subscription
	publisher     *redis.Client
	subscriber    *redis.Client
	tokens        TokenParser
	lookup        LookupFunc
}

func NewHub(redisClients *database.RedisClients, tokens TokenParser, lookup LookupFunc) *Hub {
	h := &Hub{
		connections:   make(map[uuid.UUID][]*client),
		subscriptions: make(map[uuid.UUID]*subscription),
		tokens:        tokens,
		lookup:        lookup,
	}
	if redisClients != nil {
		h.publisher = redisClients.Publish
		h.subscriber = redisClients.PubSub
	}
	return h
}

func channelName(id uuid.UUID) string {
	return "conversation_updates:" + id.String()
}

func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Authenticate via token query param
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conversationID, err := h.tokens.ParseToken(tokenStr)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if _, ok := h.lookup(conversationID); !ok {
		http.Error(w, "Conversation not found", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	// Register before reading the snapshot and hold the write lock until it
	// is sent: a transition landing in between is delivered after the
	// snapshot, or skipped when the snapshot already contains it.
	c := &client{conn: conn}
	c.writeMu.Lock()
	if sub := h.registerConnection(conversationID, c); sub != nil {
		<-sub.ready
	}
	if view, ok := h.lookup(conversationID); ok {
		c.writeLocked(mustMarshal(models.WSMessage{Type: models.WSTypeSnapshot, Payload: view}))
		c.sent = len(view.Messages)
	} else {
		c.writeLocked(endedMessage(conversationID))
		conn.Close()
	}
	c.writeMu.Unlock()

	// Keep connection alive and handle disconnect
	go func() {
		defer h.unregisterConnection(conversationID, c)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

// PublishConversation delivers a snapshot to every client of the conversation.
func (h *Hub) PublishConversation(ctx context.Context, view models.ConversationView) {
	data, err := json.Marshal(models.WSMessage{Type: models.WSTypeUpdate, Payload: view})
	if err != nil {
		log.Error().Err(err).Msg("failed to encode conversation update")
		return
	}
	h.send(ctx, view.ID, data)
}

// CloseConversation tells every client of the conversation it has ended and
// drops their sockets, on every instance when Redis is configured.
func (h *Hub) CloseConversation(ctx context.Context, id uuid.UUID) {
	h.send(ctx, id, endedMessage(id))
}

func (h *Hub) send(ctx context.Context, id uuid.UUID, data []byte) {
	if h.publisher == nil {
		h.deliver(id, data)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()
	if err := h.publisher.Publish(ctx, channelName(id), string(data)).Err(); err != nil {
		log.Error().Err(err).Str("conversation_id", id.String()).Msg("failed to publish conversation update")
	}
}

// ConnectionCount returns the number of open sockets for a conversation.
func (h *Hub) ConnectionCount(id uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections[id])
}

// Close drops every connection and subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, clients := range h.connections {
		for _, c := range clients {
			c.conn.Close()
		}
		delete(h.connections, id)
	}
	for id, sub := range h.subscriptions {
		sub.cancel()
		delete(h.subscriptions, id)
	}
}

// registerConnection returns the subscription started for the first client
// of a conversation, nil otherwise.
func (h *Hub) registerConnection(id uuid.UUID, c *client) *subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.connections[id] = append(h.connections[id], c)
	log.Debug().Str("conversation_id", id.String()).Int("connections", len(h.connections[id])).Msg("WebSocket connected")

	if h.subscriber == nil || len(h.connections[id]) != 1 {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	sub := &subscription{cancel: cancel, ready: make(chan struct{})}
	h.subscriptions[id] = sub
	go h.subscribeToPubSub(ctx, id, sub.ready)
	return sub
}

func (h *Hub) unregisterConnection(id uuid.UUID, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c.conn.Close()

	clients := h.connections[id]
	for i, other := range clients {
		if other == c {
			h.connections[id] = append(clients[:i], clients[i+1:]...)
			break
		}
	}

	if len(h.connections[id]) == 0 {
		delete(h.connections, id)
		if sub, ok := h.subscriptions[id]; ok {
			sub.cancel()
			delete(h.subscriptions, id)
		}
	}

	log.Debug().Str("conversation_id", id.String()).Msg("WebSocket disconnected")
}

func (h *Hub) subscribeToPubSub(ctx context.Context, id uuid.UUID, ready chan struct{}) {
	pubsub := h.subscriber.Subscribe(ctx, channelName(id))
	defer pubsub.Close()

	// Wait for the confirmation so nothing published after registration is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		log.Warn().Err(err).Str("conversation_id", id.String()).Msg("Redis subscription failed")
	}
	close(ready)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.deliver(id, []byte(msg.Payload))
		}
	}
}

// deliver writes data to the local clients of a conversation. Updates older
// than what a client already holds are skipped; each transition appends one
// message, so the message count orders views.
func (h *Hub) deliver(id uuid.UUID, data []byte) {
	var env struct {
		Type    string `json:"type"`
		Payload struct {
			Messages []json.RawMessage `json:"messages"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Err(err).Str("conversation_id", id.String()).Msg("dropping malformed conversation frame")
		return
	}

	h.mu.RLock()
	clients := append([]*client(nil), h.connections[id]...)
	h.mu.RUnlock()

	for _, c := range clients {
		if env.Type == models.WSTypeEnded {
			c.writeMu.Lock()
			c.writeLocked(data)
			c.writeMu.Unlock()
			c.conn.Close()
			continue
		}
		c.writeIfNewer(data, len(env.Payload.Messages))
	}
}

func (c *client) writeIfNewer(data []byte, version int) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if version <= c.sent {
		return
	}
	c.writeLocked(data)
	c.sent = version
}

func (c *client) writeLocked(data []byte) {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Debug().Err(err).Msg("WebSocket write failed")
	}
}

func endedMessage(id uuid.UUID) []byte {
	return mustMarshal(models.WSMessage{Type: models.WSTypeEnded, Payload: models.ConversationView{ID: id}})
}

func mustMarshal(msg models.WSMessage) []byte {
	data, err := json.Marshal(msg)
	if err != nil {
		panic(err)
	}
	return data
}
