package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-realtime/internal/config"
	"chat-realtime/internal/models"
)

func newTestServer(t *testing.T, env *testEnv) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	handler := NewChatWebSocketHandler(context.Background(), env.manager, env.dispatcher, env.cfg)

	r := gin.New()
	r.GET("/ws", handler.Handle)
	r.GET("/ws/conversations/:conversation_id", handler.HandleConversation)

	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		env.manager.Shutdown()
		srv.Close()
	})
	return srv
}

func dial(t *testing.T, srv *httptest.Server, path, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path + "?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readUntil reads frames until one of the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, kind string) models.ServerFrame {
	t.Helper()
	return readMatching(t, conn, func(f models.ServerFrame) bool { return f.Type == kind })
}

func readMatching(t *testing.T, conn *websocket.Conn, match func(models.ServerFrame) bool) models.ServerFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var frame models.ServerFrame
		require.NoError(t, json.Unmarshal(data, &frame))
		if match(frame) {
			return frame
		}
	}
}

// closeCode reads until the server closes the connection.
func closeCode(t *testing.T, conn *websocket.Conn) int {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			var closeErr *websocket.CloseError
			require.ErrorAs(t, err, &closeErr)
			return closeErr.Code
		}
	}
}

func TestWebSocketChatRoundTrip(t *testing.T) {
	env := newTestEnv(t, testRealtime())
	srv := newTestServer(t, env)

	bob := dial(t, srv, "/ws", "tok-2")
	readUntil(t, bob, models.FrameUserStatus)
	alice := dial(t, srv, "/ws", "tok-1")
	status := readMatching(t, bob, func(f models.ServerFrame) bool {
		return f.Type == models.FrameUserStatus && f.UserID == 1
	})
	assert.Equal(t, models.StatusOnline, status.Status)

	require.NoError(t, alice.WriteMessage(websocket.TextMessage, chatFrame(env.private.ID, "hello bob")))

	got := readUntil(t, bob, models.FrameChatMessage)
	require.NotNil(t, got.Message)
	assert.Equal(t, "hello bob", got.Message.Content)
	assert.Equal(t, "u1", got.Message.Sender.Username)

	echo := readUntil(t, alice, models.FrameChatMessage)
	assert.Equal(t, got.Message.ID, echo.Message.ID)
}

func TestWebSocketScopedConnection(t *testing.T) {
	env := newTestEnv(t, testRealtime())
	srv := newTestServer(t, env)

	conn := dial(t, srv, "/ws/conversations/"+strconv.Itoa(env.group.ID), "tok-3")
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"chat_message","content":"scoped"}`)))

	got := readUntil(t, conn, models.FrameChatMessage)
	assert.Equal(t, env.group.ID, got.ConversationID)
}

func TestWebSocketRejectsBadToken(t *testing.T) {
	env := newTestEnv(t, testRealtime())
	srv := newTestServer(t, env)

	conn := dial(t, srv, "/ws", "nope")
	assert.Equal(t, websocket.ClosePolicyViolation, closeCode(t, conn))
	assert.Equal(t, 0, env.manager.Count())
}

func TestWebSocketRejectsForeignScope(t *testing.T) {
	env := newTestEnv(t, testRealtime())
	srv := newTestServer(t, env)

	conn := dial(t, srv, "/ws/conversations/"+strconv.Itoa(env.private.ID), "tok-3")
	assert.Equal(t, websocket.ClosePolicyViolation, closeCode(t, conn))
}

func TestWebSocketClosesAfterMalformedFrames(t *testing.T) {
	env := newTestEnv(t, testRealtime())
	srv := newTestServer(t, env)

	conn := dial(t, srv, "/ws", "tok-1")
	for i := 0; i <= env.cfg.MalformedFrameLimit; i++ {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{{`)))
	}
	assert.Equal(t, websocket.ClosePolicyViolation, closeCode(t, conn))

	require.Eventually(t, func() bool { return env.manager.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func heartbeatRealtime() config.Realtime {
	cfg := testRealtime()
	cfg.HeartbeatTimeout = 300 * time.Millisecond
	cfg.PingInterval = 100 * time.Millisecond
	return cfg
}

// keepReading answers server pings until the connection is closed.
func keepReading(conn *websocket.Conn) {
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func statusesOf(frames []models.ServerFrame, userID int, status string) int {
	n := 0
	for _, f := range ofType(frames, models.FrameUserStatus) {
		if f.UserID == userID && f.Status == status {
			n++
		}
	}
	return n
}

// awaitOffline collects the peer's frames until userID's offline edge has
// reached every shared conversation.
func awaitOffline(t *testing.T, peer *Session, userID, conversations int) []models.ServerFrame {
	t.Helper()
	var frames []models.ServerFrame
	require.Eventually(t, func() bool {
		frames = append(frames, drain(peer)...)
		return statusesOf(frames, userID, models.StatusOffline) >= conversations
	}, 2*time.Second, 10*time.Millisecond)
	return frames
}

func TestWebSocketHeartbeatTimeoutReleasesPresence(t *testing.T) {
	env := newTestEnv(t, heartbeatRealtime())
	srv := newTestServer(t, env)
	ctx := context.Background()
	peer := env.open(t, 2, 0)

	live := dial(t, srv, "/ws", "tok-3")
	keepReading(live)
	_ = dial(t, srv, "/ws", "tok-1") // never reads, so never answers a ping

	frames := awaitOffline(t, peer, 1, 2)
	assert.Equal(t, 2, statusesOf(frames, 1, models.StatusOffline))
	assert.Equal(t, 2, env.manager.Count())

	online, n, err := env.tracker.Online(ctx, 1)
	require.NoError(t, err)
	assert.False(t, online)
	assert.EqualValues(t, 0, n)
	user, err := env.store.GetUser(ctx, 1)
	require.NoError(t, err)
	assert.False(t, user.IsOnline)

	time.Sleep(2 * env.cfg.HeartbeatTimeout)
	online, _, err = env.tracker.Online(ctx, 3)
	require.NoError(t, err)
	assert.True(t, online, "a client answering pings outlives the heartbeat timeout")
	assert.Equal(t, 2, env.manager.Count())
	assert.Positive(t, env.counter.touches.Load())
}

func TestWebSocketDisconnectRacingHeartbeat(t *testing.T) {
	env := newTestEnv(t, heartbeatRealtime())
	srv := newTestServer(t, env)
	ctx := context.Background()
	peer := env.open(t, 2, 0)

	for _, wait := range []time.Duration{280 * time.Millisecond, 300 * time.Millisecond, 320 * time.Millisecond} {
		drain(peer)
		conn := dial(t, srv, "/ws", "tok-1")
		require.Eventually(t, func() bool { return env.manager.Count() == 2 }, 2*time.Second, 10*time.Millisecond)

		time.Sleep(wait)
		_ = conn.Close()
		frames := awaitOffline(t, peer, 1, 2)

		// a second close path must not emit another edge
		time.Sleep(50 * time.Millisecond)
		frames = append(frames, drain(peer)...)
		assert.Equal(t, 2, statusesOf(frames, 1, models.StatusOnline), "wait %s", wait)
		assert.Equal(t, 2, statusesOf(frames, 1, models.StatusOffline), "wait %s", wait)
		assert.Equal(t, 1, env.manager.Count(), "wait %s", wait)

		online, n, err := env.tracker.Online(ctx, 1)
		require.NoError(t, err)
		assert.False(t, online, "wait %s", wait)
		assert.EqualValues(t, 0, n, "wait %s", wait)
	}
}
