package ws

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"chat-realtime/internal/broker"
	"chat-realtime/internal/logger"
	"chat-realtime/internal/models"
	"chat-realtime/internal/observability"
)

// Subscriber is anything the hub can deliver frames to.
type Subscriber interface {
	ID() string
	UserID() int
	// Deliver must not block; false means the frame was not queued.
	Deliver(payload []byte) bool
}

// Hub maintains active conversation rooms. Each room has its own lock, held
// while fanning out, so every subscriber sees one conversation's frames in
// publish order. With a broker attached, publishes go through the broker and
// every process delivers to its local subscribers on receipt.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[int]*room
	broker broker.Broker
}

type room struct {
	mu   sync.Mutex
	subs map[string]Subscriber
	dead bool
}

// NewHub creates an empty hub. A nil broker keeps delivery in process.
func NewHub(b broker.Broker) *Hub {
	return &Hub{rooms: make(map[int]*room), broker: b}
}

// Start attaches the hub to the broker feed.
func (h *Hub) Start(ctx context.Context) error {
	if h.broker == nil {
		return nil
	}
	return h.broker.Subscribe(ctx, h.onBroker)
}

// Subscribe registers a subscriber to a conversation room.
func (h *Hub) Subscribe(conversationID int, sub Subscriber) {
	for {
		r := h.room(conversationID)
		r.mu.Lock()
		if r.dead {
			// lost a race with the last Unsubscribe; pick up the fresh room
			r.mu.Unlock()
			continue
		}
		r.subs[sub.ID()] = sub
		r.mu.Unlock()
		return
	}
}

// Unsubscribe removes a subscriber and drops the room once empty.
func (h *Hub) Unsubscribe(conversationID int, sub Subscriber) {
	h.mu.RLock()
	r := h.rooms[conversationID]
	h.mu.RUnlock()
	if r == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs, sub.ID())
	if len(r.subs) == 0 && !r.dead {
		r.dead = true
		h.mu.Lock()
		if h.rooms[conversationID] == r {
			delete(h.rooms, conversationID)
		}
		h.mu.Unlock()
	}
}

// Publish sends frame to every session attached to the conversation right now.
func (h *Hub) Publish(ctx context.Context, conversationID int, frame models.ServerFrame) error {
	env, err := models.NewEnvelope(conversationID, frame)
	if err != nil {
		return err
	}
	if h.broker == nil {
		observability.IncRegistryPublish("local")
		h.deliver(env)
		return nil
	}

	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	observability.IncRegistryPublish("broker")
	return h.broker.Publish(ctx, conversationID, payload)
}

func (h *Hub) onBroker(conversationID int, payload []byte) {
	var env models.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		logger.Log.Warn("hub: dropping undecodable envelope", zap.Int("conversation_id", conversationID), zap.Error(err))
		return
	}
	env.ConversationID = conversationID
	h.deliver(env)
}

func (h *Hub) deliver(env models.Envelope) {
	h.mu.RLock()
	r := h.rooms[env.ConversationID]
	h.mu.RUnlock()
	if r == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sub := range r.subs {
		if env.SkipUserID != 0 && sub.UserID() == env.SkipUserID {
			continue
		}
		if !sub.Deliver(env.Frame) {
			observability.IncRegistryDropped()
		}
	}
}

func (h *Hub) room(conversationID int) *room {
	h.mu.RLock()
	r, ok := h.rooms[conversationID]
	h.mu.RUnlock()
	if ok {
		return r
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.rooms[conversationID]; ok {
		return r
	}
	r = &room{subs: make(map[string]Subscriber)}
	h.rooms[conversationID] = r
	return r
}

// Subscribers returns how many local sessions are attached to a conversation.
func (h *Hub) Subscribers(conversationID int) int {
	h.mu.RLock()
	r := h.rooms[conversationID]
	h.mu.RUnlock()
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// HubStats is a point-in-time summary for debug endpoints.
type HubStats struct {
	Conversations int  `json:"conversations"`
	Subscriptions int  `json:"subscriptions"`
	Distributed   bool `json:"distributed"`
}

func (h *Hub) Stats() HubStats {
	h.mu.RLock()
	rooms := make([]*room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.mu.RUnlock()

	stats := HubStats{Conversations: len(rooms), Distributed: h.broker != nil}
	for _, r := range rooms {
		r.mu.Lock()
		stats.Subscriptions += len(r.subs)
		r.mu.Unlock()
	}
	return stats
}
