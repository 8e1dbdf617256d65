package models

import "encoding/json"

// Server frame types.
const (
	FrameChatMessage    = "chat_message"
	FrameTyping         = "typing"
	FrameUserStatus     = "user_status"
	FrameReadReceipt    = "read_receipt"
	FrameMessageEdited  = "message_edited"
	FrameMessageDeleted = "message_deleted"
	FrameError          = "error"
)

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// ServerFrame is emitted to websocket clients.
type ServerFrame struct {
	Type           string       `json:"type"`
	ConversationID int          `json:"conversation_id,omitempty"`
	Message        *MessageView `json:"message,omitempty"`
	MessageID      int          `json:"message_id,omitempty"`
	UserID         int          `json:"user_id,omitempty"`
	Username       string       `json:"username,omitempty"`
	IsTyping       *bool        `json:"is_typing,omitempty"`
	Status         string       `json:"status,omitempty"`
	UnreadCount    *int         `json:"unread_count,omitempty"`
	Code           string       `json:"code,omitempty"`
	Detail         string       `json:"detail,omitempty"`
}

func ChatMessageFrame(view *MessageView) ServerFrame {
	return ServerFrame{Type: FrameChatMessage, ConversationID: view.ConversationID, Message: view}
}

func MessageEditedFrame(view *MessageView) ServerFrame {
	return ServerFrame{Type: FrameMessageEdited, ConversationID: view.ConversationID, Message: view}
}

func MessageDeletedFrame(conversationID, messageID int) ServerFrame {
	return ServerFrame{Type: FrameMessageDeleted, ConversationID: conversationID, MessageID: messageID}
}

func TypingFrame(conversationID int, user UserRef, isTyping bool) ServerFrame {
	return ServerFrame{
		Type:           FrameTyping,
		ConversationID: conversationID,
		UserID:         user.ID,
		Username:       user.Username,
		IsTyping:       &isTyping,
	}
}

func UserStatusFrame(conversationID int, user UserRef, status string) ServerFrame {
	return ServerFrame{
		Type:           FrameUserStatus,
		ConversationID: conversationID,
		UserID:         user.ID,
		Username:       user.Username,
		Status:         status,
	}
}

func ReadReceiptFrame(conversationID int, user UserRef, messageID, unread int) ServerFrame {
	return ServerFrame{
		Type:           FrameReadReceipt,
		ConversationID: conversationID,
		MessageID:      messageID,
		UserID:         user.ID,
		Username:       user.Username,
		UnreadCount:    &unread,
	}
}

func ErrorFrame(code, detail string) ServerFrame {
	return ServerFrame{Type: FrameError, Code: code, Detail: detail}
}

// Envelope is what travels through the group registry, locally or across
// processes. SkipUserID suppresses delivery to that user's own sessions.
type Envelope struct {
	ConversationID int             `json:"conversation_id"`
	SkipUserID     int             `json:"skip_user_id,omitempty"`
	Frame          json.RawMessage `json:"frame"`
}

// NewEnvelope encodes a frame once for fan-out. Typing frames are never
// echoed to the typing user.
func NewEnvelope(conversationID int, frame ServerFrame) (Envelope, error) {
	raw, err := json.Marshal(frame)
	if err != nil {
		return Envelope{}, err
	}
	env := Envelope{ConversationID: conversationID, Frame: raw}
	if frame.Type == FrameTyping {
		env.SkipUserID = frame.UserID
	}
	return env, nil
}
