package repositories

import (
	"context"
	"sort"
	"sync"
	"time"

	"chat-realtime/internal/models"
)

// MemoryStore keeps users, conversations, participants and messages in
// process memory. It backs single-node development runs and tests and
// implements ConversationRepository, MessageRepository and UserRepository
// with the same transactional semantics as the sqlx repositories.
type MemoryStore struct {
	mu            sync.Mutex
	now           func() time.Time
	users         map[int]models.User
	conversations map[int]models.Conversation
	participants  map[int]map[int]*models.Participant // conversation -> user -> record
	messages      map[int]models.Message
	byConv        map[int][]int // conversation -> message ids in insert order
	nextConvID    int
	nextMessageID int
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:           time.Now,
		users:         make(map[int]models.User),
		conversations: make(map[int]models.Conversation),
		participants:  make(map[int]map[int]*models.Participant),
		messages:      make(map[int]models.Message),
		byConv:        make(map[int][]int),
	}
}

// AddUser registers a user so it can authenticate and own memberships.
func (s *MemoryStore) AddUser(user models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = user
}

// CreateConversation creates a conversation with the given members. The first
// member is admin of a group.
func (s *MemoryStore) CreateConversation(kind models.ConversationKind, memberIDs ...int) models.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextConvID++
	now := s.now()
	conv := models.Conversation{ID: s.nextConvID, Kind: kind, CreatedAt: now, UpdatedAt: now}
	s.conversations[conv.ID] = conv

	members := make(map[int]*models.Participant, len(memberIDs))
	for i, id := range memberIDs {
		members[id] = &models.Participant{
			ConversationID: conv.ID,
			UserID:         id,
			IsAdmin:        kind == models.ConversationGroup && i == 0,
			JoinedAt:       now,
		}
	}
	s.participants[conv.ID] = members
	return conv
}

// Participants returns a snapshot of every membership record of a conversation.
func (s *MemoryStore) Participants(conversationID int) []models.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Participant, 0, len(s.participants[conversationID]))
	for _, p := range s.participants[conversationID] {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Messages returns the conversation's messages in id order, deleted included.
func (s *MemoryStore) Messages(conversationID int) []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Message, 0, len(s.byConv[conversationID]))
	for _, id := range s.byConv[conversationID] {
		out = append(out, s.messages[id])
	}
	return out
}

func (s *MemoryStore) GetConversation(_ context.Context, conversationID int) (models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return models.Conversation{}, ErrConversationNotFound
	}
	return conv, nil
}

func (s *MemoryStore) IsParticipant(_ context.Context, conversationID int, userID int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.participants[conversationID][userID]
	return ok, nil
}

func (s *MemoryStore) ListConversationIDs(_ context.Context, userID int) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := []int{}
	for convID, members := range s.participants {
		if _, ok := members[userID]; ok {
			ids = append(ids, convID)
		}
	}
	sort.Ints(ids)
	return ids, nil
}

func (s *MemoryStore) GetParticipant(_ context.Context, conversationID int, userID int) (models.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[conversationID][userID]
	if !ok {
		return models.Participant{}, ErrParticipantNotFound
	}
	return *p, nil
}

func (s *MemoryStore) AdvanceReadPointer(_ context.Context, conversationID int, userID int, messageID int) (models.Participant, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[conversationID][userID]
	if !ok {
		return models.Participant{}, false, ErrParticipantNotFound
	}
	if p.ReadPointer() >= messageID {
		return *p, false, nil
	}

	unread := 0
	for _, id := range s.byConv[conversationID] {
		m := s.messages[id]
		if m.ID > messageID && m.SenderID != userID && !m.IsDeleted {
			unread++
		}
	}
	pointer := messageID
	p.LastReadMessageID = &pointer
	p.UnreadCount = unread
	return *p, true, nil
}

func (s *MemoryStore) CreateMessage(_ context.Context, conversationID int, senderID int, kind models.MessageKind, content string) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return models.Message{}, ErrConversationNotFound
	}

	now := s.now()
	s.nextMessageID++
	msg := models.Message{
		ID:             s.nextMessageID,
		ConversationID: conversationID,
		SenderID:       senderID,
		Kind:           kind,
		Content:        content,
		CreatedAt:      now,
	}
	s.messages[msg.ID] = msg
	s.byConv[conversationID] = append(s.byConv[conversationID], msg.ID)

	conv.UpdatedAt = now
	s.conversations[conversationID] = conv

	for userID, p := range s.participants[conversationID] {
		if userID != senderID {
			p.UnreadCount++
		}
	}
	return msg, nil
}

func (s *MemoryStore) GetMessage(_ context.Context, messageID int) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[messageID]
	if !ok {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, nil
}

func (s *MemoryStore) EditMessage(_ context.Context, messageID int, content string) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[messageID]
	if !ok || msg.IsDeleted {
		return models.Message{}, ErrMessageNotFound
	}
	now := s.now()
	msg.Content = content
	msg.EditedAt = &now
	s.messages[messageID] = msg
	return msg, nil
}

func (s *MemoryStore) SoftDeleteMessage(_ context.Context, messageID int) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[messageID]
	if !ok || msg.IsDeleted {
		return models.Message{}, ErrMessageNotFound
	}
	msg.IsDeleted = true
	s.messages[messageID] = msg

	for userID, p := range s.participants[msg.ConversationID] {
		if userID != msg.SenderID && p.UnreadCount > 0 && p.ReadPointer() < msg.ID {
			p.UnreadCount--
		}
	}
	return msg, nil
}

func (s *MemoryStore) LatestMessageID(_ context.Context, conversationID int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.byConv[conversationID]
	if len(ids) == 0 {
		return 0, nil
	}
	return ids[len(ids)-1], nil
}

func (s *MemoryStore) GetUser(_ context.Context, userID int) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return models.User{}, ErrUserNotFound
	}
	return user, nil
}

func (s *MemoryStore) SetPresence(_ context.Context, userID int, online bool, lastSeen *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	user.IsOnline = online
	if lastSeen != nil {
		seen := *lastSeen
		user.LastSeen = &seen
	}
	s.users[userID] = user
	return nil
}

var (
	_ ConversationRepository = (*MemoryStore)(nil)
	_ MessageRepository      = (*MemoryStore)(nil)
	_ UserRepository         = (*MemoryStore)(nil)
	_ ConversationRepository = (*ConversationRepo)(nil)
	_ MessageRepository      = (*MessageRepo)(nil)
	_ UserRepository         = (*UserRepo)(nil)
)
