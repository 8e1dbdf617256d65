package ws

import (
	"encoding/json"
	"fmt"

	"chat-realtime/internal/messaging"
)

// Client frame types.
const (
	frameChatMessage   = "chat_message"
	frameTyping        = "typing"
	frameReadReceipt   = "read_receipt"
	frameEditMessage   = "edit_message"
	frameDeleteMessage = "delete_message"
	framePing          = "ping"
)

// ClientFrame is one decoded inbound frame. ConversationID is 0 when the
// client left it out.
type ClientFrame interface {
	frameType() string
}

type ChatMessageFrame struct {
	ConversationID int
	Content        string
}

type TypingFrame struct {
	ConversationID int
	IsTyping       bool
}

type ReadReceiptFrame struct {
	ConversationID int
	MessageID      int
}

type EditMessageFrame struct {
	MessageID int
	Content   string
}

type DeleteMessageFrame struct {
	MessageID int
}

type PingFrame struct{}

func (ChatMessageFrame) frameType() string   { return frameChatMessage }
func (TypingFrame) frameType() string        { return frameTyping }
func (ReadReceiptFrame) frameType() string   { return frameReadReceipt }
func (EditMessageFrame) frameType() string   { return frameEditMessage }
func (DeleteMessageFrame) frameType() string { return frameDeleteMessage }
func (PingFrame) frameType() string          { return framePing }

type rawFrame struct {
	Type           string  `json:"type"`
	ConversationID *int    `json:"conversation_id"`
	Content        *string `json:"content"`
	IsTyping       *bool   `json:"is_typing"`
	MessageID      *int    `json:"message_id"`
}

// DecodeClientFrame parses and validates one inbound frame. Every failure
// wraps messaging.ErrValidation.
func DecodeClientFrame(data []byte) (ClientFrame, error) {
	var raw rawFrame
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: malformed frame", messaging.ErrValidation)
	}

	conversationID := 0
	if raw.ConversationID != nil {
		if *raw.ConversationID <= 0 {
			return nil, fmt.Errorf("%w: conversation_id must be positive", messaging.ErrValidation)
		}
		conversationID = *raw.ConversationID
	}

	switch raw.Type {
	case frameChatMessage:
		if raw.Content == nil {
			return nil, missing(raw.Type, "content")
		}
		return ChatMessageFrame{ConversationID: conversationID, Content: *raw.Content}, nil
	case frameTyping:
		if raw.IsTyping == nil {
			return nil, missing(raw.Type, "is_typing")
		}
		return TypingFrame{ConversationID: conversationID, IsTyping: *raw.IsTyping}, nil
	case frameReadReceipt:
		if raw.MessageID == nil {
			return nil, missing(raw.Type, "message_id")
		}
		return ReadReceiptFrame{ConversationID: conversationID, MessageID: *raw.MessageID}, nil
	case frameEditMessage:
		if raw.MessageID == nil {
			return nil, missing(raw.Type, "message_id")
		}
		if raw.Content == nil {
			return nil, missing(raw.Type, "content")
		}
		return EditMessageFrame{MessageID: *raw.MessageID, Content: *raw.Content}, nil
	case frameDeleteMessage:
		if raw.MessageID == nil {
			return nil, missing(raw.Type, "message_id")
		}
		return DeleteMessageFrame{MessageID: *raw.MessageID}, nil
	case framePing:
		return PingFrame{}, nil
	case "":
		return nil, fmt.Errorf("%w: missing type", messaging.ErrValidation)
	default:
		return nil, fmt.Errorf("%w: unknown frame type %q", messaging.ErrValidation, raw.Type)
	}
}

func missing(frameType, field string) error {
	return fmt.Errorf("%w: %s requires %s", messaging.ErrValidation, frameType, field)
}
