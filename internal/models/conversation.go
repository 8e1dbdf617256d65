package models

import "time"

// ConversationKind distinguishes two-party chats from groups.
type ConversationKind string

const (
	ConversationPrivate ConversationKind = "private"
	ConversationGroup   ConversationKind = "group"
)

// Conversation is a private or group messaging channel.
type Conversation struct {
	ID        int              `db:"id" json:"id"`
	Kind      ConversationKind `db:"type" json:"type"`
	Name      *string          `db:"name" json:"name,omitempty"`
	CreatedAt time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt time.Time        `db:"updated_at" json:"updated_at"`
}

// Participant is a user's membership record in a conversation.
type Participant struct {
	ConversationID    int       `db:"conversation_id" json:"conversation_id"`
	UserID            int       `db:"user_id" json:"user_id"`
	IsAdmin           bool      `db:"is_admin" json:"is_admin"`
	UnreadCount       int       `db:"unread_count" json:"unread_count"`
	LastReadMessageID *int      `db:"last_read_message_id" json:"last_read_message_id"`
	JoinedAt          time.Time `db:"joined_at" json:"joined_at"`
}

// ReadPointer returns the last read message id, or 0 when nothing was read.
func (p Participant) ReadPointer() int {
	if p.LastReadMessageID == nil {
		return 0
	}
	return *p.LastReadMessageID
}
