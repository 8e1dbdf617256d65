package messaging

import (
	"context"

	"chat-realtime/internal/models"
)

// Actor identifies who performs an operation: the session and its user.
type Actor struct {
	SessionID string
	User      models.UserRef
}

// Broadcaster publishes a frame to every session attached to a conversation.
type Broadcaster interface {
	Publish(ctx context.Context, conversationID int, frame models.ServerFrame) error
}
