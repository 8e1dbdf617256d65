package ws

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"chat-realtime/internal/auth"
	"chat-realtime/internal/config"
	"chat-realtime/internal/logger"
	"chat-realtime/internal/messaging"
	"chat-realtime/internal/observability"
)

// ChatWebSocketHandler upgrades connections and runs their sessions.
type ChatWebSocketHandler struct {
	manager    *Manager
	dispatcher *Dispatcher
	cfg        config.Realtime
	baseCtx    context.Context
}

// NewChatWebSocketHandler constructs a ChatWebSocketHandler. Sessions live on
// baseCtx rather than the request context, which ends with the upgrade.
func NewChatWebSocketHandler(baseCtx context.Context, manager *Manager, dispatcher *Dispatcher, cfg config.Realtime) *ChatWebSocketHandler {
	return &ChatWebSocketHandler{manager: manager, dispatcher: dispatcher, cfg: cfg, baseCtx: baseCtx}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handle serves the user-wide channel: every conversation of the user.
func (h *ChatWebSocketHandler) Handle(c *gin.Context) {
	h.serve(c, kindUser, 0)
}

// HandleConversation serves a channel scoped to one conversation.
func (h *ChatWebSocketHandler) HandleConversation(c *gin.Context) {
	conversationID, err := strconv.Atoi(c.Param("conversation_id"))
	if err != nil || conversationID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return
	}
	h.serve(c, kindConversation, conversationID)
}

func (h *ChatWebSocketHandler) serve(c *gin.Context, kind string, scope int) {
	ctx, span := otel.Tracer("chat-realtime/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()

	token := credential(c)
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	info := newConnInfo(c.Request, kind, scope, span.SpanContext().TraceID().String())

	s, err := h.manager.Open(ctx, token, conn, info, scope)
	if err != nil {
		code, reason := websocket.ClosePolicyViolation, "authentication failed"
		switch {
		case errors.Is(err, auth.ErrInvalidToken):
		case errors.Is(err, messaging.ErrMembership):
			reason = "not a participant of this conversation"
		default:
			code, reason = websocket.CloseInternalServerErr, "session could not be opened"
		}
		logger.Log.Info("ws: rejected connection", zap.String("conn_id", info.ConnID), zap.String("reason", reason), zap.Error(err))
		_ = observability.PublishWSEvent(ctx, info.event(observability.WSError, 0, reason))
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(h.cfg.WriteTimeout))
		_ = conn.Close()
		return
	}

	_ = observability.PublishWSEvent(ctx, info.event(observability.WSConnect, s.user.ID, ""))
	go h.run(s)
}

func (h *ChatWebSocketHandler) run(s *Session) {
	go s.writePump(h.cfg, func(err error) {
		h.manager.Close(s, websocket.CloseAbnormalClosure, "write failed")
	})

	err := s.readPump(h.cfg, func(data []byte) {
		if !h.dispatcher.Handle(h.baseCtx, s, data) {
			h.manager.Close(s, websocket.ClosePolicyViolation, "too many malformed frames")
		}
	}, func() { h.manager.Touch(s) })

	reason := err.Error()
	if !s.isClosed() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		_ = observability.PublishWSEvent(h.baseCtx, s.info.event(observability.WSError, s.user.ID, reason))
	}
	h.manager.Close(s, websocket.CloseNormalClosure, reason)
	_ = observability.PublishWSEvent(h.baseCtx, s.info.event(observability.WSDisconnect, s.user.ID, reason))
}

// credential takes the bearer token from the Authorization header or, for
// browsers that cannot set headers on upgrade, from the token query parameter.
func credential(c *gin.Context) string {
	if token, ok := auth.BearerToken(c.GetHeader("Authorization")); ok {
		return token
	}
	return c.Query("token")
}
