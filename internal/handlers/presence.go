package handlers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-realtime/internal/messaging"
)

// PresenceReader answers whether a user currently has live connections.
type PresenceReader interface {
	Online(ctx context.Context, userID int) (bool, int64, error)
}

type PresenceHandler struct {
	presence PresenceReader
}

func NewPresenceHandler(presence PresenceReader) *PresenceHandler {
	return &PresenceHandler{presence: presence}
}

type presenceResponse struct {
	UserID      int   `json:"user_id"`
	Online      bool  `json:"online"`
	Connections int64 `json:"connections"`
}

// Get reports the live presence of a user.
func (h *PresenceHandler) Get(c *gin.Context) {
	userID, ok := pathID(c, "user_id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	online, connections, err := h.presence.Online(c.Request.Context(), userID)
	if err != nil {
		respondError(c, fmt.Errorf("%w: presence lookup: %v", messaging.ErrPersistence, err))
		return
	}
	c.JSON(http.StatusOK, presenceResponse{UserID: userID, Online: online, Connections: connections})
}
