package store

import (
	"fmt"

	"streamchat/pkg/domain"
)

// Store defines persistence operations for chats and messages.
type Store interface {
	// chats
	CreateChat(domain.Chat) error
	GetChat(id string) (domain.Chat, bool, error)
	ListChatsByUser(userID string, limit, offset int) ([]domain.Chat, int64, error)
	UpdateChat(domain.Chat) error
	SetChatTitleIfUnchanged(id, expected, title string) (bool, error)
	TouchChat(id string) error
	DeleteChat(id string) error

	// messages
	CreateMessage(domain.Message) error
	GetMessage(id string) (domain.Message, bool, error)
	ListMessages(chatID string) ([]domain.Message, error)
	SetMessageUpvote(id string, upvoted *bool) error
	DeleteMessagesFrom(chatID, messageID string) (int64, error)
}

// PersistenceError reports a failed write or read against the store.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
