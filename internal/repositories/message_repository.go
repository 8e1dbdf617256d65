package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"chat-realtime/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

// MessageRepository defines interactions for chat messages.
type MessageRepository interface {
	// CreateMessage inserts the message, bumps conversation recency and
	// increments unread for every other participant, all in one transaction.
	CreateMessage(ctx context.Context, conversationID int, senderID int, kind models.MessageKind, content string) (models.Message, error)
	GetMessage(ctx context.Context, messageID int) (models.Message, error)
	EditMessage(ctx context.Context, messageID int, content string) (models.Message, error)
	// SoftDeleteMessage flags the message deleted and takes it back out of the
	// unread counts of participants who had not read it yet.
	SoftDeleteMessage(ctx context.Context, messageID int) (models.Message, error)
	LatestMessageID(ctx context.Context, conversationID int) (int, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

const messageColumns = `id, conversation_id, sender_id, type, content, created_at, edited_at, is_deleted`

// CreateMessage stores a message atomically with its side effects.
func (r *MessageRepo) CreateMessage(ctx context.Context, conversationID int, senderID int, kind models.MessageKind, content string) (msg models.Message, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Message{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	// Locks the conversation row, so ids are handed out in commit order per conversation.
	res, err := tx.ExecContext(ctx, `UPDATE conversations SET updated_at = NOW() WHERE id=$1`, conversationID)
	if err != nil {
		return models.Message{}, err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return models.Message{}, err
	}
	if count == 0 {
		err = ErrConversationNotFound
		return models.Message{}, err
	}

	if err = tx.QueryRowxContext(ctx, `INSERT INTO messages (conversation_id, sender_id, type, content) VALUES ($1, $2, $3, $4) RETURNING `+messageColumns,
		conversationID, senderID, kind, content).StructScan(&msg); err != nil {
		return models.Message{}, err
	}

	if _, err = tx.ExecContext(ctx, `UPDATE conversation_participants SET unread_count = unread_count + 1
        WHERE conversation_id=$1 AND user_id<>$2`, conversationID, senderID); err != nil {
		return models.Message{}, err
	}

	if err = tx.Commit(); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// GetMessage retrieves a single message, including soft-deleted ones.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID int) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// EditMessage replaces content and stamps edited_at.
func (r *MessageRepo) EditMessage(ctx context.Context, messageID int, content string) (models.Message, error) {
	var msg models.Message
	err := r.db.QueryRowxContext(ctx, `UPDATE messages SET content=$2, edited_at=NOW() WHERE id=$1 AND is_deleted = FALSE RETURNING `+messageColumns, messageID, content).
		StructScan(&msg)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// SoftDeleteMessage marks a message deleted and reconciles unread counters.
func (r *MessageRepo) SoftDeleteMessage(ctx context.Context, messageID int) (msg models.Message, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Message{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if err = tx.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE id=$1 FOR UPDATE`, messageID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = ErrMessageNotFound
		}
		return models.Message{}, err
	}
	if msg.IsDeleted {
		err = ErrMessageNotFound
		return models.Message{}, err
	}

	if _, err = tx.ExecContext(ctx, `UPDATE messages SET is_deleted = TRUE WHERE id=$1`, messageID); err != nil {
		return models.Message{}, err
	}

	if _, err = tx.ExecContext(ctx, `UPDATE conversation_participants SET unread_count = unread_count - 1
        WHERE conversation_id=$1 AND user_id<>$2 AND unread_count > 0
        AND (last_read_message_id IS NULL OR last_read_message_id < $3)`, msg.ConversationID, msg.SenderID, msg.ID); err != nil {
		return models.Message{}, err
	}

	if err = tx.Commit(); err != nil {
		return models.Message{}, err
	}
	msg.IsDeleted = true
	return msg, nil
}

// LatestMessageID returns the highest persisted message id, or 0 for an empty conversation.
func (r *MessageRepo) LatestMessageID(ctx context.Context, conversationID int) (int, error) {
	var id int
	err := r.db.GetContext(ctx, &id, `SELECT COALESCE(MAX(id), 0) FROM messages WHERE conversation_id=$1`, conversationID)
	return id, err
}
