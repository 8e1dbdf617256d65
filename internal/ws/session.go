package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chat-realtime/internal/config"
	"chat-realtime/internal/logger"
	"chat-realtime/internal/models"
)

// Session is one authenticated connection. Outgoing frames are queued on send
// and written by writePump, the only writer of data frames on conn.
type Session struct {
	id            string
	user          models.UserRef
	conn          *websocket.Conn
	info          ConnInfo
	scope         int
	conversations []int
	member        map[int]struct{}
	malformed     int       // consecutive undecodable frames, readPump only
	lastAlive     time.Time // last presence refresh, readPump only
	presenceHeld  bool      // presence counted this session at open

	mu     sync.RWMutex
	send   chan []byte
	closed bool

	closeOnce sync.Once
	done      chan struct{}
	onFull    func(*Session)
}

func newSession(id string, user models.UserRef, conn *websocket.Conn, info ConnInfo, scope int, conversationIDs []int, queue int) *Session {
	member := make(map[int]struct{}, len(conversationIDs))
	for _, cid := range conversationIDs {
		member[cid] = struct{}{}
	}
	return &Session{
		id:            id,
		user:          user,
		conn:          conn,
		info:          info,
		scope:         scope,
		conversations: append([]int(nil), conversationIDs...),
		member:        member,
		send:          make(chan []byte, queue),
		done:          make(chan struct{}),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) UserID() int { return s.user.ID }

func (s *Session) User() models.UserRef { return s.user }

// Scope is the conversation the connection was opened for, 0 for user-wide.
func (s *Session) Scope() int { return s.scope }

// Conversations lists the conversations subscribed at open time.
func (s *Session) Conversations() []int {
	return append([]int(nil), s.conversations...)
}

// Done is closed once the session has been cleaned up.
func (s *Session) Done() <-chan struct{} { return s.done }

// Deliver queues payload without blocking. A closed session drops it; a full
// queue drops it and schedules the session for closing.
func (s *Session) Deliver(payload []byte) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	select {
	case s.send <- payload:
		return true
	default:
		if s.onFull != nil {
			go s.onFull(s)
		}
		return false
	}
}

func (s *Session) deliverFrame(frame models.ServerFrame) bool {
	payload, err := json.Marshal(frame)
	if err != nil {
		logger.Log.Error("session: encode frame", zap.String("session_id", s.id), zap.Error(err))
		return false
	}
	return s.Deliver(payload)
}

// markClosed stops further deliveries and ends writePump. It reports whether
// this call did the closing.
func (s *Session) markClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	close(s.send)
	return true
}

func (s *Session) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func (s *Session) closeConn(code int, reason string, writeTimeout time.Duration) {
	if s.conn == nil {
		return
	}
	deadline := time.Now().Add(writeTimeout)
	_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	_ = s.conn.Close()
}

// writePump drains the send queue and keeps the peer alive with pings.
func (s *Session) writePump(cfg config.Realtime, onError func(error)) {
	ticker := time.NewTicker(cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case payload, ok := <-s.send:
			if !ok {
				return
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				onError(err)
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(cfg.WriteTimeout)); err != nil {
				onError(err)
				return
			}
		case <-s.done:
			return
		}
	}
}

// readPump reads frames until the connection fails or the peer goes quiet
// for longer than the heartbeat timeout. Any frame or pong counts as activity
// and calls alive at most once per ping interval.
func (s *Session) readPump(cfg config.Realtime, handle func([]byte), alive func()) error {
	s.conn.SetReadLimit(cfg.MaxFrameBytes)
	_ = s.conn.SetReadDeadline(time.Now().Add(cfg.HeartbeatTimeout))
	s.conn.SetPongHandler(func(string) error {
		s.activity(cfg.PingInterval, alive)
		return s.conn.SetReadDeadline(time.Now().Add(cfg.HeartbeatTimeout))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(cfg.HeartbeatTimeout))
		s.activity(cfg.PingInterval, alive)
		handle(data)
	}
}

func (s *Session) activity(every time.Duration, alive func()) {
	if alive == nil {
		return
	}
	now := time.Now()
	if !s.lastAlive.IsZero() && now.Sub(s.lastAlive) < every {
		return
	}
	s.lastAlive = now
	alive()
}
