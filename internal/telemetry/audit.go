package telemetry

import (
	"context"
	"time"

	"go.uber.org/zap"

	"chat-realtime/internal/logger"
)

// Publisher is the event bus the audit trail is written to.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// Audit levels.
const (
	LevelInfo = "INFO"
	LevelWarn = "WARN"
)

const auditSchemaVersion = 1

// AuditEnvelope is one audit record as published on the bus.
type AuditEnvelope struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	OccurredAt    string       `json:"occurred_at"`
	Service       string       `json:"service"`
	Environment   string       `json:"environment"`
	RequestID     string       `json:"request_id"`
	TraceID       string       `json:"trace_id,omitempty"`
	UserID        *string      `json:"user_id,omitempty"`
	Payload       AuditPayload `json:"payload"`
}

type AuditPayload struct {
	Level string `json:"level"`
	Text  string `json:"text"`
}

// AuditEmitter records security relevant events, such as actions on
// conversations the user does not belong to. A nil emitter is a no-op.
type AuditEmitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
	now         func() time.Time
}

func NewAuditEmitter(publisher Publisher, routingKey, service, environment string) *AuditEmitter {
	return &AuditEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
		now:         time.Now,
	}
}

// Emit publishes an audit record. Failures are logged, never returned.
func (e *AuditEmitter) Emit(ctx context.Context, level, text, requestID string, userID *string) {
	if e == nil || e.publisher == nil {
		return
	}

	envelope := AuditEnvelope{
		SchemaVersion: auditSchemaVersion,
		EventType:     "audit_log",
		OccurredAt:    e.now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     requestID,
		TraceID:       TraceID(ctx),
		UserID:        userID,
		Payload:       AuditPayload{Level: level, Text: text},
	}
	logger.Log.Debug("audit emit",
		zap.String("level", level),
		zap.String("request_id", requestID),
		zap.Stringp("user_id", userID),
		zap.String("text", text))

	if err := e.publisher.Publish(ctx, e.routingKey, envelope); err != nil {
		logger.Log.Warn("audit publish failed", zap.String("request_id", requestID), zap.Error(err))
	}
}
