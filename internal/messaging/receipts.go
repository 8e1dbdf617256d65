package messaging

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"chat-realtime/internal/logger"
	"chat-realtime/internal/models"
	"chat-realtime/internal/observability"
	"chat-realtime/internal/repositories"
)

// ReceiptCoordinator moves read pointers forward and keeps unread counts in
// line with them.
type ReceiptCoordinator struct {
	convs       repositories.ConversationRepository
	messages    repositories.MessageRepository
	broadcaster Broadcaster
}

func NewReceiptCoordinator(convs repositories.ConversationRepository, messages repositories.MessageRepository, broadcaster Broadcaster) *ReceiptCoordinator {
	return &ReceiptCoordinator{convs: convs, messages: messages, broadcaster: broadcaster}
}

// MarkRead acknowledges every message up to messageID. The message must exist
// in the conversation; an id at or behind the current pointer is a no-op.
func (c *ReceiptCoordinator) MarkRead(ctx context.Context, actor Actor, conversationID, messageID int) (models.Participant, error) {
	ctx, span := tracer.Start(ctx, "receipts.mark_read")
	defer span.End()
	span.SetAttributes(attribute.Int("conversation_id", conversationID), attribute.Int("message_id", messageID))

	p, err := c.markRead(ctx, actor, conversationID, messageID)
	observability.IncReadReceipt(outcome(err))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return p, err
}

func (c *ReceiptCoordinator) markRead(ctx context.Context, actor Actor, conversationID, messageID int) (models.Participant, error) {
	if messageID <= 0 {
		return models.Participant{}, fmt.Errorf("%w: message_id must be positive", ErrValidation)
	}
	if err := requireMember(ctx, c.convs, conversationID, actor.User.ID); err != nil {
		return models.Participant{}, err
	}
	msg, err := c.messages.GetMessage(ctx, messageID)
	if err != nil {
		return models.Participant{}, storeError(err, "message", messageID)
	}
	if msg.ConversationID != conversationID {
		return models.Participant{}, fmt.Errorf("%w: message %d", ErrNotFound, messageID)
	}
	return c.advance(ctx, actor, conversationID, messageID)
}

// MarkConversationRead acknowledges everything persisted so far.
func (c *ReceiptCoordinator) MarkConversationRead(ctx context.Context, actor Actor, conversationID int) (models.Participant, error) {
	ctx, span := tracer.Start(ctx, "receipts.mark_conversation_read")
	defer span.End()
	span.SetAttributes(attribute.Int("conversation_id", conversationID))

	p, err := c.markConversationRead(ctx, actor, conversationID)
	observability.IncReadReceipt(outcome(err))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return p, err
}

func (c *ReceiptCoordinator) markConversationRead(ctx context.Context, actor Actor, conversationID int) (models.Participant, error) {
	if err := requireMember(ctx, c.convs, conversationID, actor.User.ID); err != nil {
		return models.Participant{}, err
	}
	latest, err := c.messages.LatestMessageID(ctx, conversationID)
	if err != nil {
		return models.Participant{}, storeError(err, "conversation", conversationID)
	}
	if latest == 0 {
		p, err := c.convs.GetParticipant(ctx, conversationID, actor.User.ID)
		if err != nil {
			return models.Participant{}, storeError(err, "conversation", conversationID)
		}
		return p, nil
	}
	return c.advance(ctx, actor, conversationID, latest)
}

// Unread returns the caller's participant record.
func (c *ReceiptCoordinator) Unread(ctx context.Context, actor Actor, conversationID int) (models.Participant, error) {
	p, err := c.convs.GetParticipant(ctx, conversationID, actor.User.ID)
	if err != nil {
		return models.Participant{}, storeError(err, "conversation", conversationID)
	}
	return p, nil
}

func (c *ReceiptCoordinator) advance(ctx context.Context, actor Actor, conversationID, messageID int) (models.Participant, error) {
	writeCtx := context.WithoutCancel(ctx)
	p, advanced, err := c.convs.AdvanceReadPointer(writeCtx, conversationID, actor.User.ID, messageID)
	if err != nil {
		return models.Participant{}, storeError(err, "conversation", conversationID)
	}
	if !advanced {
		return p, nil
	}

	frame := models.ReadReceiptFrame(conversationID, actor.User, messageID, p.UnreadCount)
	if err := c.broadcaster.Publish(writeCtx, conversationID, frame); err != nil {
		observability.IncPublishError()
		logger.Log.Warn("receipts: publish failed",
			zap.Int("conversation_id", conversationID),
			zap.Int("user_id", actor.User.ID),
			zap.Error(err))
	}
	return p, nil
}
