package presence

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-realtime/internal/models"
	"chat-realtime/internal/repositories"
)

func newRedisCounter(t *testing.T, ttl time.Duration) (*RedisCounter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisCounter(client, ttl), mr
}

func TestRedisCounterNeverGoesNegative(t *testing.T) {
	ctx := context.Background()
	c, mr := newRedisCounter(t, time.Hour)

	n, ok, err := c.Decr(ctx, 7)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, n)
	assert.False(t, mr.Exists("presence:conn:7"))

	n, err = c.Incr(ctx, 7)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	n, err = c.Incr(ctx, 7)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	n, ok, err = c.Decr(ctx, 7)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.EqualValues(t, 1, n)
	n, ok, err = c.Decr(ctx, 7)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Zero(t, n)
	assert.False(t, mr.Exists("presence:conn:7"), "key is dropped at zero")

	_, ok, err = c.Decr(ctx, 7)
	require.NoError(t, err)
	assert.False(t, ok)
	got, err := c.Get(ctx, 7)
	require.NoError(t, err)
	assert.Zero(t, got)
}

func TestRedisCounterTouchExtendsTTL(t *testing.T) {
	ctx := context.Background()
	c, mr := newRedisCounter(t, time.Hour)

	_, err := c.Incr(ctx, 3)
	require.NoError(t, err)

	mr.FastForward(50 * time.Minute)
	require.NoError(t, c.Touch(ctx, 3))
	assert.Equal(t, time.Hour, mr.TTL("presence:conn:3"))

	mr.FastForward(50 * time.Minute)
	n, err := c.Get(ctx, 3)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	mr.FastForward(time.Hour)
	n, err = c.Get(ctx, 3)
	require.NoError(t, err)
	assert.Zero(t, n, "an untouched count expires")

	require.NoError(t, c.Touch(ctx, 3))
	assert.False(t, mr.Exists("presence:conn:3"), "touch never recreates a count")
}

func TestRedisTrackerStaysOnlinePastTTL(t *testing.T) {
	ctx := context.Background()
	c, mr := newRedisCounter(t, 24*time.Hour)
	store := repositories.NewMemoryStore()
	store.AddUser(models.User{ID: 1, Username: "u1"})
	bus := &recordingBroadcaster{}
	tracker := NewTracker(c, store, bus)
	u1 := models.UserRef{ID: 1, Username: "u1"}

	edge, err := tracker.Connect(ctx, u1, []int{10})
	require.NoError(t, err)
	assert.True(t, edge)
	bus.take()

	for i := 0; i < 25; i++ {
		mr.FastForward(time.Hour)
		require.NoError(t, tracker.Touch(ctx, 1))
	}

	online, n, err := tracker.Online(ctx, 1)
	require.NoError(t, err)
	assert.True(t, online)
	assert.EqualValues(t, 1, n)

	edge, err = tracker.Disconnect(ctx, u1, []int{10})
	require.NoError(t, err)
	assert.True(t, edge)
	frames := bus.take()
	require.Len(t, frames, 1)
	assert.Equal(t, models.StatusOffline, frames[0].frame.Status)

	user, err := store.GetUser(ctx, 1)
	require.NoError(t, err)
	assert.False(t, user.IsOnline)
}
