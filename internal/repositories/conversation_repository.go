package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"chat-realtime/internal/models"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrParticipantNotFound  = errors.New("participant not found")
)

// ConversationRepository abstracts conversation and participant persistence.
type ConversationRepository interface {
	GetConversation(ctx context.Context, conversationID int) (models.Conversation, error)
	IsParticipant(ctx context.Context, conversationID int, userID int) (bool, error)
	ListConversationIDs(ctx context.Context, userID int) ([]int, error)
	GetParticipant(ctx context.Context, conversationID int, userID int) (models.Participant, error)
	// AdvanceReadPointer moves the read pointer forward to messageID and
	// recounts unread messages. The bool reports whether the pointer moved.
	AdvanceReadPointer(ctx context.Context, conversationID int, userID int, messageID int) (models.Participant, bool, error)
}

// ConversationRepo is a sqlx implementation of ConversationRepository.
type ConversationRepo struct {
	db *sqlx.DB
}

// NewConversationRepo constructs a ConversationRepo.
func NewConversationRepo(db *sqlx.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

const participantColumns = `conversation_id, user_id, is_admin, unread_count, last_read_message_id, joined_at`

// GetConversation fetches a conversation by id.
func (r *ConversationRepo) GetConversation(ctx context.Context, conversationID int) (models.Conversation, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv, `SELECT id, type, name, created_at, updated_at FROM conversations WHERE id=$1`, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	return conv, err
}

// IsParticipant checks whether a user belongs to the conversation.
func (r *ConversationRepo) IsParticipant(ctx context.Context, conversationID int, userID int) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM conversation_participants WHERE conversation_id=$1 AND user_id=$2)`, conversationID, userID)
	return exists, err
}

// ListConversationIDs returns every conversation the user participates in.
func (r *ConversationRepo) ListConversationIDs(ctx context.Context, userID int) ([]int, error) {
	ids := []int{}
	err := r.db.SelectContext(ctx, &ids, `SELECT conversation_id FROM conversation_participants WHERE user_id=$1 ORDER BY conversation_id`, userID)
	return ids, err
}

// GetParticipant fetches a single membership record.
func (r *ConversationRepo) GetParticipant(ctx context.Context, conversationID int, userID int) (models.Participant, error) {
	var p models.Participant
	err := r.db.GetContext(ctx, &p, `SELECT `+participantColumns+` FROM conversation_participants WHERE conversation_id=$1 AND user_id=$2`, conversationID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Participant{}, ErrParticipantNotFound
	}
	return p, err
}

// AdvanceReadPointer locks the participant row, and when messageID is ahead of
// the current pointer stores it together with a fresh unread count.
func (r *ConversationRepo) AdvanceReadPointer(ctx context.Context, conversationID int, userID int, messageID int) (p models.Participant, advanced bool, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Participant{}, false, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if err = tx.GetContext(ctx, &p, `SELECT `+participantColumns+` FROM conversation_participants WHERE conversation_id=$1 AND user_id=$2 FOR UPDATE`, conversationID, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = ErrParticipantNotFound
		}
		return models.Participant{}, false, err
	}

	if p.ReadPointer() >= messageID {
		err = tx.Commit()
		return p, false, err
	}

	var unread int
	if err = tx.GetContext(ctx, &unread, `SELECT COUNT(*) FROM messages
        WHERE conversation_id=$1 AND sender_id<>$2 AND id>$3 AND is_deleted = FALSE`, conversationID, userID, messageID); err != nil {
		return models.Participant{}, false, err
	}

	if _, err = tx.ExecContext(ctx, `UPDATE conversation_participants SET last_read_message_id=$3, unread_count=$4
        WHERE conversation_id=$1 AND user_id=$2`, conversationID, userID, messageID, unread); err != nil {
		return models.Participant{}, false, err
	}

	if err = tx.Commit(); err != nil {
		return models.Participant{}, false, err
	}

	pointer := messageID
	p.LastReadMessageID = &pointer
	p.UnreadCount = unread
	return p, true, nil
}
