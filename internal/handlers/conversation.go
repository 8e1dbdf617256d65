package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-realtime/internal/auth"
	"chat-realtime/internal/messaging"
	"chat-realtime/internal/models"
	"chat-realtime/internal/repositories"
)

// ConversationHandler serves unread counters and read acknowledgements over HTTP.
type ConversationHandler struct {
	receipts *messaging.ReceiptCoordinator
	users    repositories.UserRepository
}

// NewConversationHandler builds a ConversationHandler.
func NewConversationHandler(receipts *messaging.ReceiptCoordinator, users repositories.UserRepository) *ConversationHandler {
	return &ConversationHandler{receipts: receipts, users: users}
}

type markReadRequest struct {
	MessageID *int `json:"message_id"`
}

// Unread returns the caller's participant record of the conversation.
func (h *ConversationHandler) Unread(c *gin.Context) {
	conversationID, ok := pathID(c, "id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return
	}
	actor, err := h.actor(c.Request.Context(), c.GetInt("userID"))
	if err != nil {
		respondError(c, err)
		return
	}

	p, err := h.receipts.Unread(c.Request.Context(), actor, conversationID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// MarkRead advances the caller's read pointer to message_id, or to the latest
// message when the body is empty.
func (h *ConversationHandler) MarkRead(c *gin.Context) {
	conversationID, ok := pathID(c, "id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return
	}

	var req markReadRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}

	actor, err := h.actor(c.Request.Context(), c.GetInt("userID"))
	if err != nil {
		respondError(c, err)
		return
	}

	var p models.Participant
	if req.MessageID != nil {
		p, err = h.receipts.MarkRead(c.Request.Context(), actor, conversationID, *req.MessageID)
	} else {
		p, err = h.receipts.MarkConversationRead(c.Request.Context(), actor, conversationID)
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *ConversationHandler) actor(ctx context.Context, userID int) (messaging.Actor, error) {
	user, err := h.users.GetUser(ctx, userID)
	if errors.Is(err, repositories.ErrUserNotFound) {
		return messaging.Actor{}, fmt.Errorf("%w: unknown user %d", auth.ErrInvalidToken, userID)
	}
	if err != nil {
		return messaging.Actor{}, fmt.Errorf("%w: load user: %v", messaging.ErrPersistence, err)
	}
	return messaging.Actor{User: user.Ref()}, nil
}
