package models

import "time"

// User is owned by the identity store; the realtime core only reads it and
// writes back presence.
type User struct {
	ID       int        `db:"id" json:"id"`
	Username string     `db:"username" json:"username"`
	IsOnline bool       `db:"is_online" json:"is_online"`
	LastSeen *time.Time `db:"last_seen" json:"last_seen,omitempty"`
}

// Ref returns the public identity of the user.
func (u User) Ref() UserRef {
	return UserRef{ID: u.ID, Username: u.Username}
}
