package ws

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chat-realtime/internal/auth"
	"chat-realtime/internal/config"
	"chat-realtime/internal/logger"
	"chat-realtime/internal/messaging"
	"chat-realtime/internal/models"
	"chat-realtime/internal/observability"
	"chat-realtime/internal/repositories"
)

// Presence is the part of the presence tracker the manager drives.
type Presence interface {
	Connect(ctx context.Context, user models.UserRef, conversationIDs []int) (bool, error)
	Disconnect(ctx context.Context, user models.UserRef, conversationIDs []int) (bool, error)
	Touch(ctx context.Context, userID int) error
}

// TypingClearer drops the typing indicators a session left behind.
type TypingClearer interface {
	Clear(sessionID string)
}

// Manager owns the lifecycle of every live session in this process.
type Manager struct {
	verifier auth.TokenVerifier
	users    repositories.UserRepository
	convs    repositories.ConversationRepository
	hub      *Hub
	presence Presence
	typing   TypingClearer
	cfg      config.Realtime

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewManager(verifier auth.TokenVerifier, users repositories.UserRepository, convs repositories.ConversationRepository, hub *Hub, presence Presence, typing TypingClearer, cfg config.Realtime) *Manager {
	return &Manager{
		verifier: verifier,
		users:    users,
		convs:    convs,
		hub:      hub,
		presence: presence,
		typing:   typing,
		cfg:      cfg,
		sessions: make(map[string]*Session),
	}
}

// Open authenticates the credential, subscribes the new session to every
// conversation of the user and reports the connection to presence. A scope
// other than 0 requires membership of that conversation.
func (m *Manager) Open(ctx context.Context, credential string, conn *websocket.Conn, info ConnInfo, scope int) (*Session, error) {
	userID, err := m.verifier.Verify(ctx, credential)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", auth.ErrInvalidToken, err)
	}
	user, err := m.users.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			return nil, fmt.Errorf("%w: unknown user %d", auth.ErrInvalidToken, userID)
		}
		return nil, fmt.Errorf("%w: load user: %v", messaging.ErrPersistence, err)
	}
	conversationIDs, err := m.convs.ListConversationIDs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: load conversations: %v", messaging.ErrPersistence, err)
	}

	s := newSession(uuid.NewString(), user.Ref(), conn, info, scope, conversationIDs, m.cfg.SendQueueSize)
	if scope != 0 {
		if _, ok := s.member[scope]; !ok {
			return nil, messaging.ErrMembership
		}
	}
	for _, cid := range conversationIDs {
		m.hub.Subscribe(cid, s)
	}
	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()

	if _, err := m.presence.Connect(ctx, s.user, conversationIDs); err != nil {
		logger.Log.Warn("session: presence connect failed", zap.Int("user_id", userID), zap.Error(err))
	} else {
		s.presenceHeld = true
	}
	observability.IncWSActive(info.Kind)

	// armed last so an overflow cannot start cleanup before open has finished
	s.mu.Lock()
	s.onFull = func(s *Session) {
		logger.Log.Warn("session: send queue full, closing", zap.String("session_id", s.id), zap.Int("user_id", s.user.ID))
		m.Close(s, websocket.ClosePolicyViolation, "send queue overflow")
	}
	s.mu.Unlock()

	logger.Log.Info("session opened",
		zap.String("session_id", s.id),
		zap.Int("user_id", userID),
		zap.Int("conversations", len(conversationIDs)),
		zap.Int("scope", scope))
	return s, nil
}

// Close tears a session down. It is safe to call repeatedly and from any
// goroutine; only the first call does the cleanup.
func (m *Manager) Close(s *Session, code int, reason string) {
	s.closeOnce.Do(func() {
		s.markClosed()

		for _, cid := range s.conversations {
			m.hub.Unsubscribe(cid, s)
		}
		m.mu.Lock()
		delete(m.sessions, s.id)
		m.mu.Unlock()

		m.typing.Clear(s.id)
		// a session that never got counted must not release someone else's count
		if s.presenceHeld {
			if _, err := m.presence.Disconnect(context.Background(), s.user, s.conversations); err != nil {
				logger.Log.Warn("session: presence disconnect failed", zap.Int("user_id", s.user.ID), zap.Error(err))
			}
		}
		observability.DecWSActive(s.info.Kind)

		s.closeConn(code, reason, m.cfg.WriteTimeout)
		close(s.done)

		logger.Log.Info("session closed",
			zap.String("session_id", s.id),
			zap.Int("user_id", s.user.ID),
			zap.String("reason", reason))
	})
}

// Touch keeps the session's presence alive while its connection is active.
func (m *Manager) Touch(s *Session) {
	if !s.presenceHeld || s.isClosed() {
		return
	}
	_ = m.presence.Touch(context.Background(), s.user.ID)
}

// Count reports the number of open sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Shutdown closes every session, e.g. on process exit.
func (m *Manager) Shutdown() {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	for _, s := range sessions {
		m.Close(s, websocket.CloseGoingAway, "server shutting down")
	}
}
