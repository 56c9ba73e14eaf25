package session

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized means the remote service rejected the token. The stored
	// session has been cleared when this is returned by a session call.
	ErrUnauthorized = errors.New("session: unauthorized")
	// ErrRateLimited is returned on HTTP 429.
	ErrRateLimited = errors.New("session: too many requests")
	// ErrNotAuthenticated means no token is stored.
	ErrNotAuthenticated = errors.New("session: not authenticated")
)

// ValidationError lists field-scoped failures, either found locally before
// sending or reported by the remote service.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	return e.Fields[0].Message
}

// APIError is any other unsuccessful response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("session api: status %d: %s", e.Status, e.Message)
}
