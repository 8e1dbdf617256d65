package messaging

import (
	"context"
	"sync"

	"chat-realtime/internal/models"
	"chat-realtime/internal/repositories"
)

type recordingBroadcaster struct {
	mu     sync.Mutex
	frames []models.ServerFrame
}

func (r *recordingBroadcaster) Publish(_ context.Context, conversationID int, frame models.ServerFrame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, frame)
	return nil
}

func (r *recordingBroadcaster) Frames() []models.ServerFrame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.ServerFrame(nil), r.frames...)
}

func (r *recordingBroadcaster) OfType(kind string) []models.ServerFrame {
	var out []models.ServerFrame
	for _, f := range r.Frames() {
		if f.Type == kind {
			out = append(out, f)
		}
	}
	return out
}

var (
	u1 = models.UserRef{ID: 1, Username: "u1"}
	u2 = models.UserRef{ID: 2, Username: "u2"}
	u3 = models.UserRef{ID: 3, Username: "u3"}
)

func actor(user models.UserRef) Actor {
	return Actor{SessionID: "s-" + user.Username, User: user}
}

// newFixture seeds a private conversation between u1 and u2 and a group of all three.
func newFixture() (*repositories.MemoryStore, models.Conversation, models.Conversation) {
	store := repositories.NewMemoryStore()
	for _, u := range []models.UserRef{u1, u2, u3} {
		store.AddUser(models.User{ID: u.ID, Username: u.Username})
	}
	private := store.CreateConversation(models.ConversationPrivate, u1.ID, u2.ID)
	group := store.CreateConversation(models.ConversationGroup, u1.ID, u2.ID, u3.ID)
	return store, private, group
}

func unreadInvariantHolds(store *repositories.MemoryStore, conversationID int) bool {
	msgs := store.Messages(conversationID)
	for _, p := range store.Participants(conversationID) {
		want := 0
		for _, m := range msgs {
			if !m.IsDeleted && m.SenderID != p.UserID && m.ID > p.ReadPointer() {
				want++
			}
		}
		if want != p.UnreadCount {
			return false
		}
	}
	return true
}
