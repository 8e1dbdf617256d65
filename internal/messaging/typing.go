package messaging

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"chat-realtime/internal/logger"
	"chat-realtime/internal/models"
	"chat-realtime/internal/observability"
	"chat-realtime/internal/repositories"
)

// TypingRelay forwards typing indicators. Nothing is persisted; an active
// indicator expires after ttl and a closing session clears its own.
type TypingRelay struct {
	convs       repositories.ConversationRepository
	broadcaster Broadcaster
	minInterval time.Duration
	ttl         time.Duration

	mu      sync.Mutex
	entries map[typingKey]*typingEntry
}

type typingKey struct {
	sessionID      string
	conversationID int
}

// typingEntry.mu orders the frames of one session in one conversation.
type typingEntry struct {
	mu      sync.Mutex
	user    models.UserRef
	limiter *rate.Limiter
	timer   *time.Timer
	gen     uint64
	active  bool
	removed bool
}

func NewTypingRelay(convs repositories.ConversationRepository, broadcaster Broadcaster, minInterval, ttl time.Duration) *TypingRelay {
	return &TypingRelay{
		convs:       convs,
		broadcaster: broadcaster,
		minInterval: minInterval,
		ttl:         ttl,
		entries:     make(map[typingKey]*typingEntry),
	}
}

// Announce validates membership and publishes the typing state. Repeated
// is_typing=true from one session faster than minInterval is dropped.
func (r *TypingRelay) Announce(ctx context.Context, actor Actor, conversationID int, isTyping bool) error {
	if err := requireMember(ctx, r.convs, conversationID, actor.User.ID); err != nil {
		return err
	}

	key := typingKey{sessionID: actor.SessionID, conversationID: conversationID}
	e := r.entry(key, actor.User)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return nil
	}
	if isTyping {
		if !e.limiter.Allow() {
			observability.IncTypingThrottled()
			return nil
		}
		e.active = true
		e.gen++
		gen := e.gen
		if e.timer != nil {
			e.timer.Stop()
		}
		e.timer = time.AfterFunc(r.ttl, func() { r.expire(key, e, gen) })
	} else {
		e.active = false
		if e.timer != nil {
			e.timer.Stop()
			e.timer = nil
		}
	}
	r.publish(ctx, conversationID, actor.User, isTyping)
	return nil
}

// Clear drops every indicator owned by the session and announces the
// active ones as stopped.
func (r *TypingRelay) Clear(sessionID string) {
	r.mu.Lock()
	owned := make(map[typingKey]*typingEntry)
	for key, e := range r.entries {
		if key.sessionID == sessionID {
			owned[key] = e
			delete(r.entries, key)
		}
	}
	r.mu.Unlock()

	for key, e := range owned {
		e.mu.Lock()
		e.removed = true
		if e.timer != nil {
			e.timer.Stop()
		}
		if e.active {
			e.active = false
			r.publish(context.Background(), key.conversationID, e.user, false)
		}
		e.mu.Unlock()
	}
}

func (r *TypingRelay) entry(key typingKey, user models.UserRef) *typingEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok {
		limit := rate.Inf
		if r.minInterval > 0 {
			limit = rate.Every(r.minInterval)
		}
		e = &typingEntry{user: user, limiter: rate.NewLimiter(limit, 1)}
		r.entries[key] = e
	}
	return e
}

func (r *TypingRelay) expire(key typingKey, e *typingEntry, gen uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed || !e.active || e.gen != gen {
		return
	}
	e.active = false
	e.timer = nil
	r.publish(context.Background(), key.conversationID, e.user, false)
}

func (r *TypingRelay) publish(ctx context.Context, conversationID int, user models.UserRef, isTyping bool) {
	if err := r.broadcaster.Publish(ctx, conversationID, models.TypingFrame(conversationID, user, isTyping)); err != nil {
		logger.Log.Warn("typing: publish failed",
			zap.Int("conversation_id", conversationID),
			zap.Int("user_id", user.ID),
			zap.Error(err))
	}
}

// Active reports how many indicators are currently shown.
func (r *TypingRelay) Active() int {
	r.mu.Lock()
	entries := make([]*typingEntry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.Unlock()

	n := 0
	for _, e := range entries {
		e.mu.Lock()
		if e.active {
			n++
		}
		e.mu.Unlock()
	}
	return n
}
