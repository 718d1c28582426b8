package store

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
	"time"

	"streamchat/pkg/domain"
)

// MemoryStore implements Store in process memory. Data is lost on restart.
type MemoryStore struct {
	mu       sync.RWMutex
	chats    map[string]domain.Chat
	messages map[string]domain.Message
	now      func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		chats:    make(map[string]domain.Chat),
		messages: make(map[string]domain.Message),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) CreateChat(c domain.Chat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chats[c.ID]; ok {
		return fmt.Errorf("chat %s already exists", c.ID)
	}
	s.chats[c.ID] = c
	return nil
}

func (s *MemoryStore) GetChat(id string) (domain.Chat, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chats[id]
	return c, ok, nil
}

func (s *MemoryStore) ListChatsByUser(userID string, limit, offset int) ([]domain.Chat, int64, error) {
	s.mu.RLock()
	items := make([]domain.Chat, 0)
	for _, c := range s.chats {
		if c.UserID == userID {
			items = append(items, c)
		}
	}
	s.mu.RUnlock()
	slices.SortFunc(items, func(a, b domain.Chat) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	total := int64(len(items))
	if offset > 0 {
		if offset >= len(items) {
			return []domain.Chat{}, total, nil
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, total, nil
}

func (s *MemoryStore) UpdateChat(c domain.Chat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.chats[c.ID]
	if !ok {
		return nil
	}
	cur.Title = c.Title
	cur.Visibility = c.Visibility
	cur.UpdatedAt = c.UpdatedAt
	if cur.UpdatedAt.IsZero() {
		cur.UpdatedAt = s.now()
	}
	s.chats[c.ID] = cur
	return nil
}

func (s *MemoryStore) SetChatTitleIfUnchanged(id, expected, title string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.chats[id]
	if !ok || cur.Title != expected {
		return false, nil
	}
	cur.Title = title
	s.chats[id] = cur
	return true, nil
}

func (s *MemoryStore) TouchChat(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.chats[id]
	if !ok {
		return fmt.Errorf("chat %s not found", id)
	}
	cur.UpdatedAt = s.now()
	s.chats[id] = cur
	return nil
}

func (s *MemoryStore) DeleteChat(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for msgID, m := range s.messages {
		if m.ChatID == id {
			delete(s.messages, msgID)
		}
	}
	delete(s.chats, id)
	return nil
}

func (s *MemoryStore) CreateMessage(msg domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[msg.ID]; ok {
		return fmt.Errorf("message %s already exists", msg.ID)
	}
	if msg.Attachments == nil {
		msg.Attachments = domain.Attachments{}
	}
	s.messages[msg.ID] = msg
	return nil
}

func (s *MemoryStore) GetMessage(id string) (domain.Message, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	return m, ok, nil
}

func (s *MemoryStore) ListMessages(chatID string) ([]domain.Message, error) {
	s.mu.RLock()
	msgs := make([]domain.Message, 0)
	for _, m := range s.messages {
		if m.ChatID == chatID {
			msgs = append(msgs, m)
		}
	}
	s.mu.RUnlock()
	slices.SortFunc(msgs, compareMessages)
	return msgs, nil
}

func (s *MemoryStore) SetMessageUpvote(id string, upvoted *bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return nil
	}
	m.IsUpvoted = upvoted
	m.UpdatedAt = s.now()
	s.messages[id] = m
	return nil
}

func (s *MemoryStore) DeleteMessagesFrom(chatID, messageID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	anchor, ok := s.messages[messageID]
	if !ok || anchor.ChatID != chatID {
		return 0, nil
	}
	var deleted int64
	for id, m := range s.messages {
		if m.ChatID == chatID && compareMessages(m, anchor) >= 0 {
			delete(s.messages, id)
			deleted++
		}
	}
	return deleted, nil
}

// compareMessages orders by creation time, then id.
func compareMessages(a, b domain.Message) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}
