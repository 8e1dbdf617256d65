package messaging

import (
	"errors"

	"chat-realtime/internal/auth"
)

var (
	ErrValidation  = errors.New("validation error")
	ErrMembership  = errors.New("not a participant of this conversation")
	ErrNotFound    = errors.New("not found")
	ErrNotOwner    = errors.New("only the sender may change this message")
	ErrPersistence = errors.New("persistence error")
)

// Error frame codes.
const (
	CodeAuth        = "auth_error"
	CodeValidation  = "validation_error"
	CodeMembership  = "membership_error"
	CodeNotFound    = "not_found"
	CodeNotOwner    = "not_owner"
	CodePersistence = "persistence_error"
	CodeInternal    = "internal_error"
)

// Classify maps an operation error onto an error frame code and a detail that
// is safe to send to the client.
func Classify(err error) (code, detail string) {
	switch {
	case err == nil:
		return "", ""
	case errors.Is(err, auth.ErrInvalidToken):
		return CodeAuth, auth.ErrInvalidToken.Error()
	case errors.Is(err, ErrValidation):
		return CodeValidation, err.Error()
	case errors.Is(err, ErrMembership):
		return CodeMembership, ErrMembership.Error()
	case errors.Is(err, ErrNotFound):
		return CodeNotFound, err.Error()
	case errors.Is(err, ErrNotOwner):
		return CodeNotOwner, ErrNotOwner.Error()
	case errors.Is(err, ErrPersistence):
		return CodePersistence, "the message could not be stored, please retry"
	default:
		return CodeInternal, "internal error"
	}
}

// outcome is the metrics label for an operation result.
func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	code, _ := Classify(err)
	return code
}
