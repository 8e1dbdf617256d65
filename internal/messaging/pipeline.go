package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"chat-realtime/internal/logger"
	"chat-realtime/internal/models"
	"chat-realtime/internal/observability"
	"chat-realtime/internal/repositories"
	"chat-realtime/internal/syncx"
)

var tracer = otel.Tracer("chat-realtime/messaging")

// Pipeline validates, persists and fans out chat messages. Writes to one
// conversation are sequenced so delivery order equals persistence order.
type Pipeline struct {
	convs       repositories.ConversationRepository
	messages    repositories.MessageRepository
	broadcaster Broadcaster
	locks       *syncx.KeyedMutex
	maxLength   int
}

func NewPipeline(convs repositories.ConversationRepository, messages repositories.MessageRepository, broadcaster Broadcaster, maxLength int) *Pipeline {
	return &Pipeline{
		convs:       convs,
		messages:    messages,
		broadcaster: broadcaster,
		locks:       syncx.NewKeyedMutex(),
		maxLength:   maxLength,
	}
}

// Submit stores a text message and publishes it once the write has committed.
func (p *Pipeline) Submit(ctx context.Context, actor Actor, conversationID int, content string) (models.Message, error) {
	ctx, span := tracer.Start(ctx, "pipeline.submit")
	defer span.End()
	span.SetAttributes(attribute.Int("conversation_id", conversationID), attribute.Int("user_id", actor.User.ID))

	msg, err := p.submit(ctx, actor, conversationID, content)
	observability.IncMessageOp("submit", outcome(err))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return msg, err
}

func (p *Pipeline) submit(ctx context.Context, actor Actor, conversationID int, content string) (models.Message, error) {
	content, err := p.validContent(content)
	if err != nil {
		return models.Message{}, err
	}
	if err := requireMember(ctx, p.convs, conversationID, actor.User.ID); err != nil {
		return models.Message{}, err
	}

	unlock := p.locks.Lock(conversationID)
	defer unlock()

	// not cancellable once the write has started
	writeCtx := context.WithoutCancel(ctx)
	msg, err := p.messages.CreateMessage(writeCtx, conversationID, actor.User.ID, models.MessageText, content)
	if err != nil {
		if errors.Is(err, repositories.ErrConversationNotFound) {
			return models.Message{}, fmt.Errorf("%w: conversation %d", ErrNotFound, conversationID)
		}
		logger.Log.Error("pipeline: create message failed",
			zap.Int("conversation_id", conversationID),
			zap.Int("user_id", actor.User.ID),
			zap.Error(err))
		return models.Message{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	p.publish(writeCtx, conversationID, models.ChatMessageFrame(models.NewMessageView(msg, actor.User)))
	return msg, nil
}

// Edit replaces the content of a message owned by the actor.
func (p *Pipeline) Edit(ctx context.Context, actor Actor, messageID int, content string) (models.Message, error) {
	ctx, span := tracer.Start(ctx, "pipeline.edit")
	defer span.End()
	span.SetAttributes(attribute.Int("message_id", messageID), attribute.Int("user_id", actor.User.ID))

	msg, err := p.edit(ctx, actor, messageID, content)
	observability.IncMessageOp("edit", outcome(err))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return msg, err
}

func (p *Pipeline) edit(ctx context.Context, actor Actor, messageID int, content string) (models.Message, error) {
	content, err := p.validContent(content)
	if err != nil {
		return models.Message{}, err
	}
	current, err := p.ownedMessage(ctx, actor, messageID)
	if err != nil {
		return models.Message{}, err
	}

	unlock := p.locks.Lock(current.ConversationID)
	defer unlock()

	writeCtx := context.WithoutCancel(ctx)
	msg, err := p.messages.EditMessage(writeCtx, messageID, content)
	if err != nil {
		return models.Message{}, storeError(err, "message", messageID)
	}

	p.publish(writeCtx, msg.ConversationID, models.MessageEditedFrame(models.NewMessageView(msg, actor.User)))
	return msg, nil
}

// Delete soft-deletes a message owned by the actor.
func (p *Pipeline) Delete(ctx context.Context, actor Actor, messageID int) error {
	ctx, span := tracer.Start(ctx, "pipeline.delete")
	defer span.End()
	span.SetAttributes(attribute.Int("message_id", messageID), attribute.Int("user_id", actor.User.ID))

	err := p.delete(ctx, actor, messageID)
	observability.IncMessageOp("delete", outcome(err))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (p *Pipeline) delete(ctx context.Context, actor Actor, messageID int) error {
	current, err := p.ownedMessage(ctx, actor, messageID)
	if err != nil {
		return err
	}

	unlock := p.locks.Lock(current.ConversationID)
	defer unlock()

	writeCtx := context.WithoutCancel(ctx)
	msg, err := p.messages.SoftDeleteMessage(writeCtx, messageID)
	if err != nil {
		return storeError(err, "message", messageID)
	}

	p.publish(writeCtx, msg.ConversationID, models.MessageDeletedFrame(msg.ConversationID, msg.ID))
	return nil
}

func (p *Pipeline) validContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", fmt.Errorf("%w: content must not be empty", ErrValidation)
	}
	if utf8.RuneCountInString(content) > p.maxLength {
		return "", fmt.Errorf("%w: content exceeds %d characters", ErrValidation, p.maxLength)
	}
	return content, nil
}

func (p *Pipeline) ownedMessage(ctx context.Context, actor Actor, messageID int) (models.Message, error) {
	if messageID <= 0 {
		return models.Message{}, fmt.Errorf("%w: message_id must be positive", ErrValidation)
	}
	msg, err := p.messages.GetMessage(ctx, messageID)
	if err != nil {
		return models.Message{}, storeError(err, "message", messageID)
	}
	if msg.IsDeleted {
		return models.Message{}, fmt.Errorf("%w: message %d", ErrNotFound, messageID)
	}
	if msg.SenderID != actor.User.ID {
		return models.Message{}, ErrNotOwner
	}
	return msg, nil
}

func (p *Pipeline) publish(ctx context.Context, conversationID int, frame models.ServerFrame) {
	if err := p.broadcaster.Publish(ctx, conversationID, frame); err != nil {
		observability.IncPublishError()
		logger.Log.Error("pipeline: publish after commit failed",
			zap.Int("conversation_id", conversationID),
			zap.String("frame", frame.Type),
			zap.Error(err))
	}
}

func requireMember(ctx context.Context, convs repositories.ConversationRepository, conversationID, userID int) error {
	member, err := convs.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return fmt.Errorf("%w: membership lookup: %v", ErrPersistence, err)
	}
	if !member {
		return ErrMembership
	}
	return nil
}

func storeError(err error, what string, id int) error {
	switch {
	case errors.Is(err, repositories.ErrMessageNotFound),
		errors.Is(err, repositories.ErrConversationNotFound):
		return fmt.Errorf("%w: %s %d", ErrNotFound, what, id)
	case errors.Is(err, repositories.ErrParticipantNotFound):
		return ErrMembership
	default:
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
}
