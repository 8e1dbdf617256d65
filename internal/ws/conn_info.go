package ws

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"chat-realtime/internal/observability"
)

// ConnInfo is the request metadata attached to lifecycle events.
type ConnInfo struct {
	ConnID      string
	Kind        string
	ResourceID  int
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

const (
	kindUser         = "user"
	kindConversation = "conversation"
)

func newConnInfo(r *http.Request, kind string, resourceID int, traceID string) ConnInfo {
	meta := observability.RequestMetaFrom(r)
	if meta.RequestID == "" {
		meta.RequestID = uuid.NewString()
	}
	return ConnInfo{
		ConnID:      uuid.NewString(),
		Kind:        kind,
		ResourceID:  resourceID,
		DeviceID:    meta.DeviceID,
		IP:          meta.IP,
		RequestID:   meta.RequestID,
		TraceID:     traceID,
		ConnectedAt: time.Now(),
	}
}

func (i ConnInfo) event(name string, userID int, reason string) observability.WSEvent {
	return observability.WSEvent{
		Kind:        i.Kind,
		ResourceID:  i.ResourceID,
		Event:       name,
		ConnID:      i.ConnID,
		ConnectedAt: i.ConnectedAt,
		Reason:      reason,
		UserID:      userID,
		DeviceID:    i.DeviceID,
		IP:          i.IP,
		RequestID:   i.RequestID,
		TraceID:     i.TraceID,
	}
}
