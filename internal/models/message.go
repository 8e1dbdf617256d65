package models

import "time"

// MessageKind is the message type stored alongside content.
type MessageKind string

const (
	MessageText   MessageKind = "text"
	MessageSystem MessageKind = "system"
)

// Message represents a persisted chat message. IDs are assigned by the store.
type Message struct {
	ID             int         `db:"id" json:"id"`
	ConversationID int         `db:"conversation_id" json:"conversation_id"`
	SenderID       int         `db:"sender_id" json:"sender_id"`
	Kind           MessageKind `db:"type" json:"type"`
	Content        string      `db:"content" json:"content"`
	CreatedAt      time.Time   `db:"created_at" json:"created_at"`
	EditedAt       *time.Time  `db:"edited_at" json:"edited_at,omitempty"`
	IsDeleted      bool        `db:"is_deleted" json:"is_deleted"`
}

// IsEdited reports whether the content was changed after creation.
func (m Message) IsEdited() bool {
	return m.EditedAt != nil
}

// UserRef is the public identity attached to outgoing frames.
type UserRef struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
}

// MessageView is the message shape sent over websocket connections.
type MessageView struct {
	Message
	Sender UserRef `json:"sender"`
	Edited bool    `json:"is_edited"`
}

// NewMessageView attaches sender identity to a message.
func NewMessageView(msg Message, sender UserRef) *MessageView {
	return &MessageView{Message: msg, Sender: sender, Edited: msg.IsEdited()}
}
