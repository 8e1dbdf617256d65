package presence

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Counter keeps the live-connection count per user. Decr never takes a count
// below zero; ok is false when the count was already zero. Touch keeps a
// non-zero count alive while its connections are active.
type Counter interface {
	Incr(ctx context.Context, userID int) (int64, error)
	Decr(ctx context.Context, userID int) (n int64, ok bool, err error)
	Get(ctx context.Context, userID int) (int64, error)
	Touch(ctx context.Context, userID int) error
}

const counterShards = 32

// MemoryCounter is a process-local Counter sharded by user id.
type MemoryCounter struct {
	shards [counterShards]counterShard
}

type counterShard struct {
	mu     sync.Mutex
	counts map[int]int64
}

func NewMemoryCounter() *MemoryCounter {
	c := &MemoryCounter{}
	for i := range c.shards {
		c.shards[i].counts = make(map[int]int64)
	}
	return c
}

func (c *MemoryCounter) shard(userID int) *counterShard {
	idx := userID % counterShards
	if idx < 0 {
		idx = -idx
	}
	return &c.shards[idx]
}

func (c *MemoryCounter) Incr(_ context.Context, userID int) (int64, error) {
	s := c.shard(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[userID]++
	return s.counts[userID], nil
}

func (c *MemoryCounter) Decr(_ context.Context, userID int) (int64, bool, error) {
	s := c.shard(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.counts[userID]
	if n <= 0 {
		return 0, false, nil
	}
	n--
	if n == 0 {
		delete(s.counts, userID)
	} else {
		s.counts[userID] = n
	}
	return n, true, nil
}

func (c *MemoryCounter) Get(_ context.Context, userID int) (int64, error) {
	s := c.shard(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[userID], nil
}

// Touch is a no-op: process-local counts die with the process.
func (c *MemoryCounter) Touch(context.Context, int) error { return nil }

// KEYS[1]=counter key, ARGV[1]=ttl seconds
var incrScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
redis.call('EXPIRE', KEYS[1], tonumber(ARGV[1]))
return n
`)

// KEYS[1]=counter key; returns -1 when the counter is already zero.
var decrScript = redis.NewScript(`
local v = tonumber(redis.call('GET', KEYS[1]) or '0')
if v <= 0 then
  return -1
end
local n = redis.call('DECR', KEYS[1])
if n <= 0 then
  redis.call('DEL', KEYS[1])
end
return n
`)

// KEYS[1]=counter key, ARGV[1]=ttl seconds; never recreates a dropped key.
var touchScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return redis.call('EXPIRE', KEYS[1], tonumber(ARGV[1]))
end
return 0
`)

// RedisCounter shares connection counts between server processes. The TTL
// bounds how long a crashed process can keep a user online; live sessions
// refresh it through Touch on every heartbeat.
type RedisCounter struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisCounter(client *redis.Client, ttl time.Duration) *RedisCounter {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisCounter{client: client, prefix: "presence:conn:", ttl: ttl}
}

func (c *RedisCounter) key(userID int) string {
	return c.prefix + strconv.Itoa(userID)
}

func (c *RedisCounter) Incr(ctx context.Context, userID int) (int64, error) {
	return incrScript.Run(ctx, c.client, []string{c.key(userID)}, int(c.ttl/time.Second)).Int64()
}

func (c *RedisCounter) Decr(ctx context.Context, userID int) (int64, bool, error) {
	n, err := decrScript.Run(ctx, c.client, []string{c.key(userID)}).Int64()
	if err != nil {
		return 0, false, err
	}
	if n < 0 {
		return 0, false, nil
	}
	return n, true, nil
}

func (c *RedisCounter) Get(ctx context.Context, userID int) (int64, error) {
	n, err := c.client.Get(ctx, c.key(userID)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}

func (c *RedisCounter) Touch(ctx context.Context, userID int) error {
	return touchScript.Run(ctx, c.client, []string{c.key(userID)}, int(c.ttl/time.Second)).Err()
}
