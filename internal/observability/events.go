package observability

import (
	"context"
	"time"
)

// Publisher is the event bus the service reports lifecycle events to.
type Publisher interface {
	PublishJSON(ctx context.Context, routingKey string, message interface{}, headers map[string]string) error
}

var defaultPublisher Publisher

func SetPublisher(publisher Publisher) {
	defaultPublisher = publisher
}

func PublishEvent(ctx context.Context, routingKey string, message interface{}, headers map[string]string) error {
	if defaultPublisher == nil {
		return nil
	}

	err := defaultPublisher.PublishJSON(ctx, routingKey, message, headers)
	if err != nil {
		IncAMQPPublishError()
	}
	return err
}

type EventEnvelope struct {
	EventType string      `json:"event_type"`
	EventName string      `json:"event_name"`
	Payload   interface{} `json:"payload"`
}

func BuildHeaders(requestID, traceID string) map[string]string {
	headers := map[string]string{}
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	return headers
}

// WS lifecycle event names.
const (
	WSConnect    = "ws_connect"
	WSDisconnect = "ws_disconnect"
	WSError      = "ws_error"
)

// WSEvent describes one websocket lifecycle transition.
type WSEvent struct {
	Kind        string
	ResourceID  int
	Event       string
	ConnID      string
	ConnectedAt time.Time
	Reason      string
	UserID      int
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
}

// PublishWSEvent counts the event and sends it to the ws_events exchange.
func PublishWSEvent(ctx context.Context, ev WSEvent) error {
	IncWSEvent(ev.Kind, ev.Event)

	duration := int64(0)
	if !ev.ConnectedAt.IsZero() && ev.Event != WSConnect {
		duration = time.Since(ev.ConnectedAt).Milliseconds()
	}
	return PublishEvent(ctx, "ws_events."+ev.Kind, EventEnvelope{
		EventType: "ws_events",
		EventName: ev.Event,
		Payload: map[string]interface{}{
			"ws": map[string]interface{}{
				"kind":        ev.Kind,
				"resource_id": ev.ResourceID,
				"event":       ev.Event,
				"conn_id":     ev.ConnID,
				"duration_ms": duration,
				"reason":      ev.Reason,
			},
			"identity": map[string]interface{}{
				"user_id":   ev.UserID,
				"device_id": ev.DeviceID,
				"ip":        ev.IP,
			},
		},
	}, BuildHeaders(ev.RequestID, ev.TraceID))
}
