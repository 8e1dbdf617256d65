package ws

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chat-realtime/internal/auth"
	"chat-realtime/internal/config"
	"chat-realtime/internal/messaging"
	"chat-realtime/internal/models"
	"chat-realtime/internal/presence"
	"chat-realtime/internal/repositories"
)

// tokenVerifier accepts "tok-<user id>".
type tokenVerifier struct{}

func (tokenVerifier) Verify(_ context.Context, token string) (int, error) {
	id, err := strconv.Atoi(strings.TrimPrefix(token, "tok-"))
	if err != nil || !strings.HasPrefix(token, "tok-") {
		return 0, auth.ErrInvalidToken
	}
	return id, nil
}

// countingCounter wraps the memory counter so tests can fail increments and
// observe heartbeat refreshes.
type countingCounter struct {
	presence.Counter
	failIncr atomic.Int32
	touches  atomic.Int32
}

func (c *countingCounter) Incr(ctx context.Context, userID int) (int64, error) {
	if c.failIncr.Load() > 0 {
		c.failIncr.Add(-1)
		return 0, errors.New("counter unavailable")
	}
	return c.Counter.Incr(ctx, userID)
}

func (c *countingCounter) Touch(ctx context.Context, userID int) error {
	c.touches.Add(1)
	return c.Counter.Touch(ctx, userID)
}

type testEnv struct {
	store      *repositories.MemoryStore
	counter    *countingCounter
	hub        *Hub
	tracker    *presence.Tracker
	typing     *messaging.TypingRelay
	manager    *Manager
	dispatcher *Dispatcher
	cfg        config.Realtime
	private    models.Conversation
	group      models.Conversation
}

func testRealtime() config.Realtime {
	return config.Realtime{
		MaxContentLength:    100,
		HeartbeatTimeout:    5 * time.Second,
		PingInterval:        time.Second,
		WriteTimeout:        time.Second,
		SendQueueSize:       64,
		MaxFrameBytes:       4096,
		MalformedFrameLimit: 2,
		TypingMinInterval:   0,
		TypingTTL:           time.Hour,
	}
}

// newTestEnv seeds users 1..4; 1 and 2 share a private conversation, 1..3 a group.
func newTestEnv(t *testing.T, cfg config.Realtime) *testEnv {
	t.Helper()
	store := repositories.NewMemoryStore()
	for i := 1; i <= 4; i++ {
		store.AddUser(models.User{ID: i, Username: "u" + strconv.Itoa(i)})
	}
	env := &testEnv{
		store:   store,
		cfg:     cfg,
		private: store.CreateConversation(models.ConversationPrivate, 1, 2),
		group:   store.CreateConversation(models.ConversationGroup, 1, 2, 3),
	}
	env.hub = NewHub(nil)
	env.counter = &countingCounter{Counter: presence.NewMemoryCounter()}
	env.tracker = presence.NewTracker(env.counter, store, env.hub)
	env.typing = messaging.NewTypingRelay(store, env.hub, cfg.TypingMinInterval, cfg.TypingTTL)
	env.manager = NewManager(tokenVerifier{}, store, store, env.hub, env.tracker, env.typing, cfg)
	pipeline := messaging.NewPipeline(store, store, env.hub, cfg.MaxContentLength)
	receipts := messaging.NewReceiptCoordinator(store, store, env.hub)
	env.dispatcher = NewDispatcher(pipeline, env.typing, receipts, nil, cfg.MalformedFrameLimit)
	return env
}

func (e *testEnv) open(t *testing.T, userID, scope int) *Session {
	t.Helper()
	s, err := e.manager.Open(context.Background(), "tok-"+strconv.Itoa(userID), nil, ConnInfo{Kind: kindUser}, scope)
	require.NoError(t, err)
	return s
}

// drain returns every frame currently queued on the session.
func drain(s *Session) []models.ServerFrame {
	var out []models.ServerFrame
	for {
		select {
		case payload, ok := <-s.send:
			if !ok {
				return out
			}
			var frame models.ServerFrame
			if err := json.Unmarshal(payload, &frame); err == nil {
				out = append(out, frame)
			}
		default:
			return out
		}
	}
}

func ofType(frames []models.ServerFrame, kind string) []models.ServerFrame {
	var out []models.ServerFrame
	for _, f := range frames {
		if f.Type == kind {
			out = append(out, f)
		}
	}
	return out
}
