package broker

import (
	"context"
	"strconv"
	"strings"
	"sync"
)

// Handler receives payloads published for a conversation by any process.
type Handler func(conversationID int, payload []byte)

// Broker carries registry envelopes between server processes. Implementations
// deliver the payloads of one conversation to a subscriber in publish order.
type Broker interface {
	Publish(ctx context.Context, conversationID int, payload []byte) error
	Subscribe(ctx context.Context, handler Handler) error
	Close() error
}

func topicID(topic, prefix string) (int, bool) {
	if !strings.HasPrefix(topic, prefix) {
		return 0, false
	}
	id, err := strconv.Atoi(strings.TrimPrefix(topic, prefix))
	if err != nil {
		return 0, false
	}
	return id, true
}

// Loopback is an in-process Broker. Several registries sharing one Loopback
// behave like separate processes attached to the same bus.
type Loopback struct {
	mu       sync.RWMutex
	handlers []Handler
	closed   bool
}

func NewLoopback() *Loopback {
	return &Loopback{}
}

func (l *Loopback) Publish(_ context.Context, conversationID int, payload []byte) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return ErrClosed
	}
	for _, h := range l.handlers {
		h(conversationID, append([]byte(nil), payload...))
	}
	return nil
}

func (l *Loopback) Subscribe(_ context.Context, handler Handler) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	l.handlers = append(l.handlers, handler)
	return nil
}

func (l *Loopback) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	l.handlers = nil
	return nil
}
