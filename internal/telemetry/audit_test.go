package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type publisherMock struct {
	mock.Mock
}

func (m *publisherMock) Publish(ctx context.Context, routingKey string, event any) error {
	args := m.Called(ctx, routingKey, event)
	return args.Error(0)
}

func (m *publisherMock) Close() error {
	return m.Called().Error(0)
}

func TestEmitBuildsEnvelope(t *testing.T) {
	pub := new(publisherMock)
	emitter := NewAuditEmitter(pub, "audit.chat", "chat-realtime", "test")
	emitter.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("x", 3600)) }
	user := "42"

	pub.On("Publish", mock.Anything, "audit.chat", mock.MatchedBy(func(event any) bool {
		env, ok := event.(AuditEnvelope)
		return ok &&
			env.SchemaVersion == 1 &&
			env.EventType == "audit_log" &&
			env.OccurredAt == "2024-05-01T11:00:00Z" &&
			env.TraceID == "" &&
			env.Service == "chat-realtime" &&
			env.Environment == "test" &&
			env.RequestID == "req-1" &&
			env.UserID != nil && *env.UserID == "42" &&
			env.Payload.Level == LevelWarn &&
			env.Payload.Text == "membership violation"
	})).Return(nil).Once()

	emitter.Emit(context.Background(), LevelWarn, "membership violation", "req-1", &user)
	pub.AssertExpectations(t)
}

func TestEmitPublishErrorIsSwallowed(t *testing.T) {
	pub := new(publisherMock)
	emitter := NewAuditEmitter(pub, "audit.chat", "svc", "env")
	pub.On("Publish", mock.Anything, "audit.chat", mock.Anything).Return(assert.AnError).Once()

	assert.NotPanics(t, func() {
		emitter.Emit(context.Background(), LevelInfo, "x", "r", nil)
	})
	pub.AssertExpectations(t)
}

func TestNilEmitter(t *testing.T) {
	var emitter *AuditEmitter
	assert.NotPanics(t, func() {
		emitter.Emit(context.Background(), LevelInfo, "x", "r", nil)
	})
}

func TestTraceIDWithoutSpan(t *testing.T) {
	assert.Equal(t, "", TraceID(context.Background()))
}
