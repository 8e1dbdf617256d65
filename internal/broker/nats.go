package broker

import (
	"context"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"chat-realtime/internal/logger"
)

const natsSubjectPrefix = "chat.conversation."

// NATSBroker fans envelopes out over core NATS subjects.
type NATSBroker struct {
	nc  *nats.Conn
	sub *nats.Subscription
}

// ConnectNATS dials NATS with reconnects enabled.
func ConnectNATS(url, name string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(500*time.Millisecond),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(3*time.Second),
	)
}

func NewNATSBroker(nc *nats.Conn) *NATSBroker {
	return &NATSBroker{nc: nc}
}

func (b *NATSBroker) Publish(_ context.Context, conversationID int, payload []byte) error {
	return b.nc.Publish(natsSubjectPrefix+strconv.Itoa(conversationID), payload)
}

// Subscribe uses a single wildcard subscription; NATS invokes its callback
// sequentially, which keeps per-conversation order.
func (b *NATSBroker) Subscribe(ctx context.Context, handler Handler) error {
	sub, err := b.nc.Subscribe(natsSubjectPrefix+"*", func(m *nats.Msg) {
		id, ok := topicID(m.Subject, natsSubjectPrefix)
		if !ok {
			logger.Log.Warn("nats broker: unexpected subject", zap.String("subject", m.Subject))
			return
		}
		handler(id, append([]byte(nil), m.Data...))
	})
	if err != nil {
		return err
	}
	_ = sub.SetPendingLimits(1_000_000, 64*1024*1024)
	b.sub = sub

	go func() {
		<-ctx.Done()
		_ = sub.Drain()
	}()
	return nil
}

func (b *NATSBroker) Close() error {
	if b.sub != nil {
		_ = b.sub.Drain()
	}
	if b.nc != nil {
		return b.nc.Drain()
	}
	return nil
}
