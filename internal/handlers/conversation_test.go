package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-realtime/internal/messaging"
	"chat-realtime/internal/mocks"
	"chat-realtime/internal/models"
	"chat-realtime/internal/repositories"
	"chat-realtime/internal/ws"
)

func seededStore(t *testing.T) (*repositories.MemoryStore, models.Conversation) {
	t.Helper()
	store := repositories.NewMemoryStore()
	for _, u := range []models.User{{ID: 1, Username: "ann"}, {ID: 2, Username: "bob"}, {ID: 3, Username: "eve"}} {
		store.AddUser(u)
	}
	conv := store.CreateConversation(models.ConversationPrivate, 1, 2)
	for _, content := range []string{"one", "two"} {
		_, err := store.CreateMessage(context.Background(), conv.ID, 1, models.MessageText, content)
		require.NoError(t, err)
	}
	return store, conv
}

func setupConversationRouter(handler *ConversationHandler, userID int) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userID", userID)
		c.Next()
	})
	r.GET("/conversations/:id/unread", handler.Unread)
	r.POST("/conversations/:id/read", handler.MarkRead)
	return r
}

func decodeParticipant(t *testing.T, rec *httptest.ResponseRecorder) models.Participant {
	t.Helper()
	var p models.Participant
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&p))
	return p
}

func TestUnreadReturnsParticipant(t *testing.T) {
	store, conv := seededStore(t)
	handler := NewConversationHandler(messaging.NewReceiptCoordinator(store, store, ws.NewHub(nil)), store)
	router := setupConversationRouter(handler, 2)

	req := httptest.NewRequest(http.MethodGet, "/conversations/1/unread", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	p := decodeParticipant(t, rec)
	assert.Equal(t, conv.ID, p.ConversationID)
	assert.Equal(t, 2, p.UnreadCount)
	assert.Nil(t, p.LastReadMessageID)
}

func TestMarkReadWholeConversation(t *testing.T) {
	store, conv := seededStore(t)
	hub := ws.NewHub(nil)
	handler := NewConversationHandler(messaging.NewReceiptCoordinator(store, store, hub), store)
	router := setupConversationRouter(handler, 2)

	req := httptest.NewRequest(http.MethodPost, "/conversations/1/read", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	p := decodeParticipant(t, rec)
	assert.Equal(t, 0, p.UnreadCount)
	assert.Equal(t, 2, p.ReadPointer())

	stored, err := store.GetParticipant(context.Background(), conv.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.ReadPointer())
}

func TestMarkReadUpToMessage(t *testing.T) {
	store, _ := seededStore(t)
	handler := NewConversationHandler(messaging.NewReceiptCoordinator(store, store, ws.NewHub(nil)), store)
	router := setupConversationRouter(handler, 2)

	req := httptest.NewRequest(http.MethodPost, "/conversations/1/read", bytes.NewBufferString(`{"message_id":1}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	p := decodeParticipant(t, rec)
	assert.Equal(t, 1, p.UnreadCount)
	assert.Equal(t, 1, p.ReadPointer())
}

func TestConversationHandlerErrors(t *testing.T) {
	cases := []struct {
		name   string
		userID int
		method string
		path   string
		body   string
		status int
	}{
		{"invalid id", 2, http.MethodGet, "/conversations/abc/unread", "", http.StatusBadRequest},
		{"non member unread", 3, http.MethodGet, "/conversations/1/unread", "", http.StatusForbidden},
		{"non member read", 3, http.MethodPost, "/conversations/1/read", "", http.StatusForbidden},
		{"unknown message", 2, http.MethodPost, "/conversations/1/read", `{"message_id":99}`, http.StatusNotFound},
		{"zero message", 2, http.MethodPost, "/conversations/1/read", `{"message_id":0}`, http.StatusBadRequest},
		{"bad body", 2, http.MethodPost, "/conversations/1/read", `{"message_id":`, http.StatusBadRequest},
		{"unknown caller", 42, http.MethodGet, "/conversations/1/unread", "", http.StatusUnauthorized},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store, _ := seededStore(t)
			handler := NewConversationHandler(messaging.NewReceiptCoordinator(store, store, ws.NewHub(nil)), store)
			router := setupConversationRouter(handler, tc.userID)

			var body *bytes.Buffer
			if tc.body != "" {
				body = bytes.NewBufferString(tc.body)
			} else {
				body = &bytes.Buffer{}
			}
			req := httptest.NewRequest(tc.method, tc.path, body)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			require.Equal(t, tc.status, rec.Code, rec.Body.String())
		})
	}
}

func TestUnreadStoreFailure(t *testing.T) {
	store, _ := seededStore(t)
	convRepo := new(mocks.ConversationRepositoryMock)
	handler := NewConversationHandler(messaging.NewReceiptCoordinator(convRepo, store, ws.NewHub(nil)), store)
	router := setupConversationRouter(handler, 2)

	convRepo.On("GetParticipant", mock.Anything, 1, 2).Return(nil, assert.AnError).Once()

	req := httptest.NewRequest(http.MethodGet, "/conversations/1/unread", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotContains(t, rec.Body.String(), assert.AnError.Error())
	convRepo.AssertExpectations(t)
}
