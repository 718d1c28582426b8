package domain

import "time"

type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityPublic  Visibility = "public"
)

// Valid reports whether v is one of the known visibilities.
func (v Visibility) Valid() bool {
	return v == VisibilityPrivate || v == VisibilityPublic
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known message roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

type User struct {
	ID string `json:"id"`
}

type Chat struct {
	ID         string     `json:"id"`
	UserID     string     `json:"userId"`
	Title      string     `json:"title"`
	Visibility Visibility `json:"visibility"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// VisibleTo reports whether userID may read the chat.
func (c Chat) VisibleTo(userID string) bool {
	return c.UserID == userID || c.Visibility == VisibilityPublic
}

// OwnedBy reports whether userID may mutate the chat.
func (c Chat) OwnedBy(userID string) bool {
	return userID != "" && c.UserID == userID
}

type Message struct {
	ID          string      `json:"id"`
	ChatID      string      `json:"chatId"`
	Role        Role        `json:"role"`
	Parts       Parts       `json:"parts"`
	Attachments Attachments `json:"attachments"`
	IsUpvoted   *bool       `json:"isUpvoted,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

// ChatPage is one page of a user's chat history.
type ChatPage struct {
	Items   []Chat `json:"items"`
	Page    int    `json:"page"`
	PerPage int    `json:"perPage"`
	Total   int64  `json:"total"`
}

type Attachment struct {
	Filename       string `json:"filename"`
	StoredFilename string `json:"storedFilename"`
	Path           string `json:"path"`
	URL            string `json:"url"`
	Size           int64  `json:"size"`
	Type           string `json:"type"`
}
