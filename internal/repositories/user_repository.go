package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"chat-realtime/internal/models"
)

var ErrUserNotFound = errors.New("user not found")

// UserRepository reads identities and writes back presence.
type UserRepository interface {
	GetUser(ctx context.Context, userID int) (models.User, error)
	// SetPresence stores the online flag; lastSeen is only written when non-nil.
	SetPresence(ctx context.Context, userID int, online bool, lastSeen *time.Time) error
}

// UserRepo is a sqlx implementation of UserRepository.
type UserRepo struct {
	db *sqlx.DB
}

// NewUserRepo constructs a UserRepo.
func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

func (r *UserRepo) GetUser(ctx context.Context, userID int) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `SELECT id, username, is_online, last_seen FROM users WHERE id=$1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	return user, err
}

func (r *UserRepo) SetPresence(ctx context.Context, userID int, online bool, lastSeen *time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET is_online=$2, last_seen=COALESCE($3, last_seen) WHERE id=$1`, userID, online, lastSeen)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrUserNotFound
	}
	return nil
}
