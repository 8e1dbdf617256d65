package broker

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"chat-realtime/internal/logger"
)

const redisChannelPrefix = "chat:conversation:"

// RedisBroker fans envelopes out over Redis pub/sub, one channel per conversation.
type RedisBroker struct {
	client *redis.Client
	sub    *redis.PubSub
}

func NewRedisBroker(client *redis.Client) *RedisBroker {
	return &RedisBroker{client: client}
}

func (b *RedisBroker) Publish(ctx context.Context, conversationID int, payload []byte) error {
	return b.client.Publish(ctx, redisChannelPrefix+strconv.Itoa(conversationID), payload).Err()
}

// Subscribe pattern-subscribes to every conversation channel and feeds the
// handler from a single goroutine until ctx is done or the broker is closed.
func (b *RedisBroker) Subscribe(ctx context.Context, handler Handler) error {
	sub := b.client.PSubscribe(ctx, redisChannelPrefix+"*")
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return err
	}
	b.sub = sub

	go func() {
		ch := sub.Channel()
		for {
			select {
			case m, ok := <-ch:
				if !ok {
					return
				}
				id, ok := topicID(m.Channel, redisChannelPrefix)
				if !ok {
					logger.Log.Warn("redis broker: unexpected channel", zap.String("channel", m.Channel))
					continue
				}
				handler(id, []byte(m.Payload))
			case <-ctx.Done():
				logger.Log.Info("redis broker: subscription closed")
				_ = sub.Close()
				return
			}
		}
	}()
	return nil
}

func (b *RedisBroker) Close() error {
	if b.sub != nil {
		return b.sub.Close()
	}
	return nil
}
