package broker

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collector records payloads per conversation in arrival order.
type collector struct {
	mu  sync.Mutex
	got map[int][]string
	n   int
}

func newCollector() *collector { return &collector{got: make(map[int][]string)} }

func (c *collector) handle(conversationID int, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got[conversationID] = append(c.got[conversationID], string(payload))
	c.n++
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func (c *collector) of(conversationID int) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.got[conversationID]...)
}

// publishInterleaved sends n payloads to each of conversations 1 and 2,
// alternating between them.
func publishInterleaved(t *testing.T, b Broker, n int) (want1, want2 []string) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		p1, p2 := "a"+strconv.Itoa(i), "b"+strconv.Itoa(i)
		require.NoError(t, b.Publish(ctx, 1, []byte(p1)))
		require.NoError(t, b.Publish(ctx, 2, []byte(p2)))
		want1 = append(want1, p1)
		want2 = append(want2, p2)
	}
	return want1, want2
}

func TestRedisBrokerKeepsPerConversationOrder(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := NewRedisBroker(client)
	defer b.Close()

	c := newCollector()
	require.NoError(t, b.Subscribe(ctx, c.handle))

	want1, want2 := publishInterleaved(t, b, 50)

	require.Eventually(t, func() bool { return c.count() == 100 }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, want1, c.of(1))
	assert.Equal(t, want2, c.of(2))
}

func TestRedisBrokerIgnoresForeignChannels(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := NewRedisBroker(client)
	defer b.Close()

	c := newCollector()
	require.NoError(t, b.Subscribe(ctx, c.handle))

	require.NoError(t, client.Publish(ctx, redisChannelPrefix+"abc", "x").Err())
	require.NoError(t, b.Publish(ctx, 4, []byte("ok")))

	require.Eventually(t, func() bool { return c.count() == 1 }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"ok"}, c.of(4))
}
