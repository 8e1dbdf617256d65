package ws

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"chat-realtime/internal/logger"
	"chat-realtime/internal/messaging"
	"chat-realtime/internal/models"
	"chat-realtime/internal/telemetry"
)

// Dispatcher routes decoded client frames to the pipeline, the typing relay
// and the receipt coordinator, answering failures with error frames.
type Dispatcher struct {
	pipeline       *messaging.Pipeline
	typing         *messaging.TypingRelay
	receipts       *messaging.ReceiptCoordinator
	audit          *telemetry.AuditEmitter
	malformedLimit int
}

func NewDispatcher(pipeline *messaging.Pipeline, typing *messaging.TypingRelay, receipts *messaging.ReceiptCoordinator, audit *telemetry.AuditEmitter, malformedLimit int) *Dispatcher {
	return &Dispatcher{
		pipeline:       pipeline,
		typing:         typing,
		receipts:       receipts,
		audit:          audit,
		malformedLimit: malformedLimit,
	}
}

// Handle processes one raw frame. It returns false once the session sent more
// consecutive malformed frames than tolerated.
func (d *Dispatcher) Handle(ctx context.Context, s *Session, data []byte) bool {
	frame, err := DecodeClientFrame(data)
	if err != nil {
		s.malformed++
		d.reply(ctx, s, 0, err)
		return s.malformed <= d.malformedLimit
	}
	s.malformed = 0

	actor := messaging.Actor{SessionID: s.id, User: s.user}
	switch f := frame.(type) {
	case ChatMessageFrame:
		cid, err := resolveConversation(s, f.ConversationID)
		if err == nil {
			_, err = d.pipeline.Submit(ctx, actor, cid, f.Content)
		}
		d.reply(ctx, s, cid, err)
	case TypingFrame:
		cid, err := resolveConversation(s, f.ConversationID)
		if err == nil {
			err = d.typing.Announce(ctx, actor, cid, f.IsTyping)
		}
		d.reply(ctx, s, cid, err)
	case ReadReceiptFrame:
		cid, err := resolveConversation(s, f.ConversationID)
		if err == nil {
			_, err = d.receipts.MarkRead(ctx, actor, cid, f.MessageID)
		}
		d.reply(ctx, s, cid, err)
	case EditMessageFrame:
		_, err := d.pipeline.Edit(ctx, actor, f.MessageID, f.Content)
		d.reply(ctx, s, 0, err)
	case DeleteMessageFrame:
		d.reply(ctx, s, 0, d.pipeline.Delete(ctx, actor, f.MessageID))
	case PingFrame:
	}
	return true
}

func resolveConversation(s *Session, conversationID int) (int, error) {
	if conversationID != 0 {
		return conversationID, nil
	}
	if s.scope != 0 {
		return s.scope, nil
	}
	return 0, fmt.Errorf("%w: conversation_id is required", messaging.ErrValidation)
}

// reply sends an error frame to the originating session only.
func (d *Dispatcher) reply(ctx context.Context, s *Session, conversationID int, err error) {
	if err == nil {
		return
	}
	code, detail := messaging.Classify(err)
	fields := []zap.Field{
		zap.String("session_id", s.id),
		zap.Int("user_id", s.user.ID),
		zap.Int("conversation_id", conversationID),
		zap.String("code", code),
		zap.Error(err),
	}
	switch {
	case errors.Is(err, messaging.ErrMembership):
		logger.Log.Warn("ws: action on foreign conversation", fields...)
		userID := strconv.Itoa(s.user.ID)
		d.audit.Emit(ctx, telemetry.LevelWarn,
			fmt.Sprintf("user %d acted on conversation %d without membership", s.user.ID, conversationID),
			s.info.RequestID, &userID)
	case code == messaging.CodePersistence || code == messaging.CodeInternal:
		logger.Log.Error("ws: operation failed", fields...)
	default:
		logger.Log.Debug("ws: rejected frame", fields...)
	}

	frame := models.ErrorFrame(code, detail)
	frame.ConversationID = conversationID
	s.deliverFrame(frame)
}
