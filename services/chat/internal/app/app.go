package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"streamchat/internal/util"
	"streamchat/pkg/ai"
	"streamchat/pkg/domain"
	"streamchat/pkg/queue"
	"streamchat/pkg/storage"
	"streamchat/pkg/store"
)

const (
	defaultChatTitle = "New chat"
	maxTitleRunes    = 80
	maxMessageRunes  = 1000
	defaultPerPage   = 25
	maxPerPage       = 100
)

// TitleQueue schedules background title generation for a chat.
type TitleQueue interface {
	Enqueue(ctx context.Context, chatID string) (queue.JobStatus, error)
}

// Config holds runtime dependencies for the core application.
type Config struct {
	DatabaseURL  string
	Store        store.Store
	Registry     *ai.Registry
	Providers    ai.Providers
	SystemPrompt string
	// Titles is optional. Without it chats keep the title derived from the first message.
	Titles TitleQueue
	// Objects is optional. Without it uploads fail with ErrStorageDisabled.
	Objects storage.ObjectStore
}

// App is the core application service wiring together storage, models and streaming.
type App struct {
	store        store.Store
	gateway      *store.Gateway
	registry     *ai.Registry
	providers    ai.Providers
	systemPrompt string
	titles       TitleQueue
	objects      storage.ObjectStore
	now          func() time.Time
}

// New constructs the application. Without a Store a postgres store is opened
// from DatabaseURL.
func New(cfg Config) (*App, error) {
	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("model registry required")
	}
	for _, m := range cfg.Registry.List() {
		if _, err := cfg.Providers.For(m.Provider); err != nil {
			return nil, fmt.Errorf("model %s: %w", m.ID, err)
		}
	}
	return &App{
		store:        dataStore,
		gateway:      store.NewGateway(dataStore),
		registry:     cfg.Registry,
		providers:    cfg.Providers,
		systemPrompt: strings.TrimSpace(cfg.SystemPrompt),
		titles:       cfg.Titles,
		objects:      cfg.Objects,
		now:          func() time.Time { return time.Now().UTC() },
	}, nil
}

// Models returns the selectable models and the default model id.
func (a *App) Models() ([]ai.ModelDescriptor, string) {
	return a.registry.List(), a.registry.Default().ID
}

// CreateChatInput is the payload for starting a chat.
type CreateChatInput struct {
	Message    string
	Model      string
	Visibility domain.Visibility
}

// CreateChat creates an empty chat titled after its first message. The message
// itself is sent through StreamTurn.
func (a *App) CreateChat(user domain.User, in CreateChatInput) (domain.Chat, error) {
	message, err := validateMessage(in.Message)
	if err != nil {
		return domain.Chat{}, err
	}
	if strings.TrimSpace(in.Model) == "" {
		return domain.Chat{}, invalid("model", "is required")
	}
	if _, ok := a.registry.Lookup(in.Model); !ok {
		return domain.Chat{}, invalid("model", "is not available")
	}
	visibility := in.Visibility
	if visibility == "" {
		visibility = domain.VisibilityPrivate
	}
	if !visibility.Valid() {
		return domain.Chat{}, invalid("visibility", "must be private or public")
	}
	now := a.now()
	chat := domain.Chat{
		ID:         util.NewID(),
		UserID:     user.ID,
		Title:      DeriveTitle(message),
		Visibility: visibility,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := a.store.CreateChat(chat); err != nil {
		return domain.Chat{}, fmt.Errorf("create chat: %w", err)
	}
	return chat, nil
}

// ListChats returns one page of the user's chats, most recently active first.
func (a *App) ListChats(user domain.User, page, perPage int) (domain.ChatPage, error) {
	if strings.TrimSpace(user.ID) == "" {
		return domain.ChatPage{}, fmt.Errorf("user id required")
	}
	if page < 1 {
		page = 1
	}
	if perPage <= 0 {
		perPage = defaultPerPage
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}
	items, total, err := a.store.ListChatsByUser(user.ID, perPage, (page-1)*perPage)
	if err != nil {
		return domain.ChatPage{}, fmt.Errorf("list chats: %w", err)
	}
	if items == nil {
		items = []domain.Chat{}
	}
	return domain.ChatPage{Items: items, Page: page, PerPage: perPage, Total: total}, nil
}

// ChatDetail is a chat together with its ordered messages.
type ChatDetail struct {
	Chat     domain.Chat      `json:"chat"`
	Messages []domain.Message `json:"messages"`
}

// GetChat returns the chat if it belongs to user or is public.
func (a *App) GetChat(user domain.User, chatID string) (ChatDetail, error) {
	chat, err := a.loadChat(chatID)
	if err != nil {
		return ChatDetail{}, err
	}
	if !chat.VisibleTo(user.ID) {
		return ChatDetail{}, ErrChatForbidden
	}
	return a.detail(chat)
}

// UpdateChatInput lists the optional edits a chat owner can apply in one call.
// MessageID scopes SetUpvote and Truncate.
type UpdateChatInput struct {
	Title      *string
	Visibility *domain.Visibility
	MessageID  string
	SetUpvote  bool
	IsUpvoted  *bool
	// Truncate deletes MessageID and every later message.
	Truncate bool
}

// UpdateChat applies in to the chat. Only the owner may update.
func (a *App) UpdateChat(user domain.User, chatID string, in UpdateChatInput) (ChatDetail, error) {
	chat, err := a.ownedChat(user, chatID)
	if err != nil {
		return ChatDetail{}, err
	}
	changed := false
	if in.Title != nil {
		title := normalizeTitle(*in.Title)
		if title == "" {
			return ChatDetail{}, invalid("title", "must not be empty")
		}
		chat.Title = title
		changed = true
	}
	if in.Visibility != nil {
		if !in.Visibility.Valid() {
			return ChatDetail{}, invalid("visibility", "must be private or public")
		}
		chat.Visibility = *in.Visibility
		changed = true
	}
	if in.SetUpvote || in.Truncate {
		msg, err := a.chatMessage(chat.ID, in.MessageID)
		if err != nil {
			return ChatDetail{}, err
		}
		if in.Truncate {
			if _, err := a.store.DeleteMessagesFrom(chat.ID, msg.ID); err != nil {
				return ChatDetail{}, fmt.Errorf("truncate chat: %w", err)
			}
		} else if err := a.store.SetMessageUpvote(msg.ID, in.IsUpvoted); err != nil {
			return ChatDetail{}, fmt.Errorf("set upvote: %w", err)
		}
	}
	if changed {
		chat.UpdatedAt = a.now()
		if err := a.store.UpdateChat(chat); err != nil {
			return ChatDetail{}, fmt.Errorf("update chat: %w", err)
		}
	}
	return a.detail(chat)
}

// DeleteChat removes the chat and its messages. Only the owner may delete.
func (a *App) DeleteChat(user domain.User, chatID string) error {
	chat, err := a.ownedChat(user, chatID)
	if err != nil {
		return err
	}
	if err := a.store.DeleteChat(chat.ID); err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	return nil
}

func (a *App) loadChat(chatID string) (domain.Chat, error) {
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return domain.Chat{}, ErrChatNotFound
	}
	chat, ok, err := a.store.GetChat(chatID)
	if err != nil {
		return domain.Chat{}, fmt.Errorf("load chat: %w", err)
	}
	if !ok {
		return domain.Chat{}, ErrChatNotFound
	}
	return chat, nil
}

func (a *App) ownedChat(user domain.User, chatID string) (domain.Chat, error) {
	chat, err := a.loadChat(chatID)
	if err != nil {
		return domain.Chat{}, err
	}
	if !chat.OwnedBy(user.ID) {
		return domain.Chat{}, ErrChatForbidden
	}
	return chat, nil
}

func (a *App) chatMessage(chatID, messageID string) (domain.Message, error) {
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return domain.Message{}, invalid("messageId", "is required")
	}
	msg, ok, err := a.store.GetMessage(messageID)
	if err != nil {
		return domain.Message{}, fmt.Errorf("load message: %w", err)
	}
	if !ok || msg.ChatID != chatID {
		return domain.Message{}, ErrMessageNotFound
	}
	return msg, nil
}

func (a *App) detail(chat domain.Chat) (ChatDetail, error) {
	msgs, err := a.gateway.ListMessages(chat.ID)
	if err != nil {
		return ChatDetail{}, err
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	return ChatDetail{Chat: chat, Messages: msgs}, nil
}

func validateMessage(raw string) (string, error) {
	message := strings.TrimSpace(raw)
	if message == "" {
		return "", invalid("message", "is required")
	}
	if utf8.RuneCountInString(message) > maxMessageRunes {
		return "", invalid("message", fmt.Sprintf("must be at most %d characters", maxMessageRunes))
	}
	return message, nil
}

// DeriveTitle builds a chat title from the first user message.
func DeriveTitle(message string) string {
	title := normalizeTitle(message)
	if title == "" {
		return defaultChatTitle
	}
	return title
}

// normalizeTitle collapses whitespace and caps the length at maxTitleRunes.
func normalizeTitle(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) > maxTitleRunes {
		return strings.TrimSpace(string(runes[:maxTitleRunes-1])) + "…"
	}
	return s
}

// IsClientError reports whether err stems from bad input rather than a fault.
func IsClientError(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}
