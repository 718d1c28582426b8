package store

import (
	"time"

	"github.com/google/uuid"

	"streamchat/pkg/domain"
)

// Gateway is the narrow set of store operations the chat dispatcher uses.
// Failures come back as *PersistenceError.
type Gateway struct {
	store Store
	now   func() time.Time
}

// NewGateway wraps s.
func NewGateway(s Store) *Gateway {
	return &Gateway{store: s, now: func() time.Time { return time.Now().UTC() }}
}

// CreateMessage stores a new message with a time-ordered id and returns it.
func (g *Gateway) CreateMessage(chatID string, role domain.Role, parts domain.Parts, attachments domain.Attachments) (domain.Message, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return domain.Message{}, &PersistenceError{Op: "create message", Err: err}
	}
	if attachments == nil {
		attachments = domain.Attachments{}
	}
	now := g.now()
	msg := domain.Message{
		ID:          id.String(),
		ChatID:      chatID,
		Role:        role,
		Parts:       parts,
		Attachments: attachments,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := g.store.CreateMessage(msg); err != nil {
		return domain.Message{}, &PersistenceError{Op: "create message", Err: err}
	}
	return msg, nil
}

// TouchChat bumps the chat's last-activity timestamp.
func (g *Gateway) TouchChat(chatID string) error {
	if err := g.store.TouchChat(chatID); err != nil {
		return &PersistenceError{Op: "touch chat", Err: err}
	}
	return nil
}

// ListMessages returns the chat's messages ordered by creation time, then id.
func (g *Gateway) ListMessages(chatID string) ([]domain.Message, error) {
	msgs, err := g.store.ListMessages(chatID)
	if err != nil {
		return nil, &PersistenceError{Op: "list messages", Err: err}
	}
	return msgs, nil
}
