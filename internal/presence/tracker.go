package presence

import (
	"context"
	"time"

	"go.uber.org/zap"

	"chat-realtime/internal/logger"
	"chat-realtime/internal/models"
	"chat-realtime/internal/observability"
	"chat-realtime/internal/syncx"
)

// Broadcaster publishes a frame to every session attached to a conversation.
type Broadcaster interface {
	Publish(ctx context.Context, conversationID int, frame models.ServerFrame) error
}

// PresenceStore persists the derived online flag.
type PresenceStore interface {
	SetPresence(ctx context.Context, userID int, online bool, lastSeen *time.Time) error
}

// Tracker turns connection counts into online/offline transitions. Only the
// 0->1 and 1->0 edges emit a user_status frame, once per conversation the
// user belongs to.
type Tracker struct {
	counter     Counter
	store       PresenceStore
	broadcaster Broadcaster
	locks       *syncx.KeyedMutex
	now         func() time.Time
}

func NewTracker(counter Counter, store PresenceStore, broadcaster Broadcaster) *Tracker {
	return &Tracker{
		counter:     counter,
		store:       store,
		broadcaster: broadcaster,
		locks:       syncx.NewKeyedMutex(),
		now:         time.Now,
	}
}

// Connect records a new live connection. It reports whether the user just came online.
func (t *Tracker) Connect(ctx context.Context, user models.UserRef, conversationIDs []int) (bool, error) {
	unlock := t.locks.Lock(user.ID)
	defer unlock()

	n, err := t.counter.Incr(ctx, user.ID)
	if err != nil {
		return false, err
	}
	if n != 1 {
		return false, nil
	}

	if err := t.store.SetPresence(ctx, user.ID, true, nil); err != nil {
		logger.Log.Warn("presence: persist online failed", zap.Int("user_id", user.ID), zap.Error(err))
	}
	observability.IncPresenceOnline()
	t.emit(ctx, user, conversationIDs, models.StatusOnline)
	return true, nil
}

// Disconnect drops a live connection. It reports whether the user just went offline.
func (t *Tracker) Disconnect(ctx context.Context, user models.UserRef, conversationIDs []int) (bool, error) {
	unlock := t.locks.Lock(user.ID)
	defer unlock()

	n, ok, err := t.counter.Decr(ctx, user.ID)
	if err != nil {
		return false, err
	}
	if !ok {
		logger.Log.Error("presence: disconnect with zero live connections", zap.Int("user_id", user.ID))
		return false, nil
	}
	if n != 0 {
		return false, nil
	}

	seen := t.now().UTC()
	if err := t.store.SetPresence(ctx, user.ID, false, &seen); err != nil {
		logger.Log.Warn("presence: persist offline failed", zap.Int("user_id", user.ID), zap.Error(err))
	}
	observability.DecPresenceOnline()
	t.emit(ctx, user, conversationIDs, models.StatusOffline)
	return true, nil
}

// Touch refreshes the liveness of the user's count. Sessions call it from
// their heartbeat so a long-lived connection never outlives the count's TTL.
func (t *Tracker) Touch(ctx context.Context, userID int) error {
	if err := t.counter.Touch(ctx, userID); err != nil {
		logger.Log.Warn("presence: touch failed", zap.Int("user_id", userID), zap.Error(err))
		return err
	}
	return nil
}

// Online reports the derived online flag together with the live count.
func (t *Tracker) Online(ctx context.Context, userID int) (bool, int64, error) {
	n, err := t.counter.Get(ctx, userID)
	if err != nil {
		return false, 0, err
	}
	return n > 0, n, nil
}

func (t *Tracker) emit(ctx context.Context, user models.UserRef, conversationIDs []int, status string) {
	for _, id := range conversationIDs {
		if err := t.broadcaster.Publish(ctx, id, models.UserStatusFrame(id, user, status)); err != nil {
			logger.Log.Warn("presence: publish status failed",
				zap.Int("user_id", user.ID),
				zap.Int("conversation_id", id),
				zap.String("status", status),
				zap.Error(err))
		}
	}
}
