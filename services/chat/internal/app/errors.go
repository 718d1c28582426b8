package app

import (
	"errors"
	"fmt"

	"streamchat/pkg/domain"
)

var (
	ErrChatNotFound    = errors.New("chat not found")
	ErrChatForbidden   = errors.New("chat forbidden")
	ErrMessageNotFound = errors.New("message not found")
	// ErrStorageDisabled is returned by uploads when no object store is configured.
	ErrStorageDisabled = errors.New("attachment storage not configured")
)

// ValidationError rejects client input before any side effect.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// MalformedMessageError marks a stored message whose role cannot be replayed.
// It indicates corrupt data, not bad input.
type MalformedMessageError struct {
	MessageID string
	Role      domain.Role
}

func (e *MalformedMessageError) Error() string {
	return fmt.Sprintf("message %s has unknown role %q", e.MessageID, e.Role)
}
