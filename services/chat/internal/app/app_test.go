package app

import (
	"errors"
	"strings"
	"testing"
	"time"

	"streamchat/pkg/ai"
	"streamchat/pkg/domain"
	"streamchat/pkg/store"
)

var (
	owner    = domain.User{ID: "user-1"}
	stranger = domain.User{ID: "user-2"}
)

const testModel = "scripted-model"

func newTestApp(t *testing.T, s store.Store, provider ai.StreamProvider) *App {
	t.Helper()
	registry, err := ai.NewRegistry([]ai.ModelDescriptor{
		{ID: testModel, Name: "Scripted", Provider: "scripted"},
		{ID: "scripted-alt", Name: "Scripted Alt", Provider: "scripted"},
	}, testModel)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	a, err := New(Config{
		Store:        s,
		Registry:     registry,
		Providers:    ai.Providers{"scripted": provider},
		SystemPrompt: "You are a helpful assistant.",
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return a
}

func mustCreateChat(t *testing.T, a *App, user domain.User, message string) domain.Chat {
	t.Helper()
	chat, err := a.CreateChat(user, CreateChatInput{Message: message, Model: testModel})
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}
	return chat
}

func seedMessage(t *testing.T, s store.Store, id, chatID string, role domain.Role, parts domain.Parts, at time.Time) domain.Message {
	t.Helper()
	msg := domain.Message{ID: id, ChatID: chatID, Role: role, Parts: parts, CreatedAt: at, UpdatedAt: at}
	if err := s.CreateMessage(msg); err != nil {
		t.Fatalf("seed message: %v", err)
	}
	return msg
}

func TestNewRejectsModelWithoutProvider(t *testing.T) {
	registry, err := ai.NewRegistry([]ai.ModelDescriptor{{ID: "m", Provider: "missing"}}, "")
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	_, err = New(Config{Store: store.NewMemoryStore(), Registry: registry, Providers: ai.Providers{}})
	if err == nil || !strings.Contains(err.Error(), "missing") {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestCreateChatValidation(t *testing.T) {
	a := newTestApp(t, store.NewMemoryStore(), &ai.ScriptedProvider{})
	cases := map[string]struct {
		in    CreateChatInput
		field string
	}{
		"empty message":  {CreateChatInput{Message: "   ", Model: testModel}, "message"},
		"long message":   {CreateChatInput{Message: strings.Repeat("x", 1001), Model: testModel}, "message"},
		"missing model":  {CreateChatInput{Message: "hi"}, "model"},
		"unknown model":  {CreateChatInput{Message: "hi", Model: "gpt-9"}, "model"},
		"bad visibility": {CreateChatInput{Message: "hi", Model: testModel, Visibility: "team"}, "visibility"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := a.CreateChat(owner, tc.in)
			var verr *ValidationError
			if !errors.As(err, &verr) || verr.Field != tc.field {
				t.Fatalf("expected validation error on %s, got %v", tc.field, err)
			}
			if !IsClientError(err) {
				t.Fatalf("expected client error")
			}
		})
	}
}

func TestCreateChatDerivesTitleAndDefaultsToPrivate(t *testing.T) {
	a := newTestApp(t, store.NewMemoryStore(), &ai.ScriptedProvider{})
	chat := mustCreateChat(t, a, owner, "  How do\n\tgoroutines   work? ")
	if chat.Title != "How do goroutines work?" {
		t.Fatalf("title = %q", chat.Title)
	}
	if chat.Visibility != domain.VisibilityPrivate || chat.UserID != owner.ID {
		t.Fatalf("unexpected chat: %+v", chat)
	}
	if chat.ID == "" {
		t.Fatalf("expected chat id")
	}
}

func TestDeriveTitleTruncates(t *testing.T) {
	title := DeriveTitle(strings.Repeat("é", 200))
	if got := len([]rune(title)); got != maxTitleRunes {
		t.Fatalf("title runes = %d, want %d", got, maxTitleRunes)
	}
	if !strings.HasSuffix(title, "…") {
		t.Fatalf("expected ellipsis, got %q", title)
	}
	if DeriveTitle(" \n ") != defaultChatTitle {
		t.Fatalf("expected default title for blank input")
	}
}

func TestListChatsPaginates(t *testing.T) {
	s := store.NewMemoryStore()
	a := newTestApp(t, s, &ai.ScriptedProvider{})
	for i := 0; i < 3; i++ {
		mustCreateChat(t, a, owner, "chat")
	}
	mustCreateChat(t, a, stranger, "not mine")

	page, err := a.ListChats(owner, 2, 2)
	if err != nil {
		t.Fatalf("list chats: %v", err)
	}
	if page.Total != 3 || len(page.Items) != 1 || page.Page != 2 || page.PerPage != 2 {
		t.Fatalf("unexpected page: %+v", page)
	}
	page, err = a.ListChats(owner, 0, 1000)
	if err != nil {
		t.Fatalf("list chats: %v", err)
	}
	if page.PerPage != maxPerPage || page.Page != 1 || len(page.Items) != 3 {
		t.Fatalf("unexpected clamped page: %+v", page)
	}
}

func TestGetChatVisibility(t *testing.T) {
	a := newTestApp(t, store.NewMemoryStore(), &ai.ScriptedProvider{})
	chat := mustCreateChat(t, a, owner, "private question")

	if _, err := a.GetChat(stranger, chat.ID); !errors.Is(err, ErrChatForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	public := domain.VisibilityPublic
	if _, err := a.UpdateChat(owner, chat.ID, UpdateChatInput{Visibility: &public}); err != nil {
		t.Fatalf("make public: %v", err)
	}
	detail, err := a.GetChat(stranger, chat.ID)
	if err != nil {
		t.Fatalf("get public chat: %v", err)
	}
	if detail.Chat.Visibility != domain.VisibilityPublic || detail.Messages == nil {
		t.Fatalf("unexpected detail: %+v", detail)
	}
	if _, err := a.GetChat(owner, "missing"); !errors.Is(err, ErrChatNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUpdateChatOwnerOnly(t *testing.T) {
	a := newTestApp(t, store.NewMemoryStore(), &ai.ScriptedProvider{})
	chat := mustCreateChat(t, a, owner, "hello")
	title := "Renamed"
	if _, err := a.UpdateChat(stranger, chat.ID, UpdateChatInput{Title: &title}); !errors.Is(err, ErrChatForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	blank := "  "
	if _, err := a.UpdateChat(owner, chat.ID, UpdateChatInput{Title: &blank}); !IsClientError(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	detail, err := a.UpdateChat(owner, chat.ID, UpdateChatInput{Title: &title})
	if err != nil {
		t.Fatalf("rename: %v", err)
	}
	if detail.Chat.Title != "Renamed" {
		t.Fatalf("title = %q", detail.Chat.Title)
	}
}

func TestUpdateChatUpvoteAndTruncate(t *testing.T) {
	s := store.NewMemoryStore()
	a := newTestApp(t, s, &ai.ScriptedProvider{})
	chat := mustCreateChat(t, a, owner, "hello")
	other := mustCreateChat(t, a, owner, "other")
	base := time.Now().UTC().Add(-time.Hour)
	seedMessage(t, s, "m1", chat.ID, domain.RoleUser, domain.TextParts("q1"), base)
	seedMessage(t, s, "m2", chat.ID, domain.RoleAssistant, domain.TextParts("a1"), base.Add(time.Second))
	seedMessage(t, s, "m3", chat.ID, domain.RoleUser, domain.TextParts("q2"), base.Add(2*time.Second))
	seedMessage(t, s, "m4", chat.ID, domain.RoleAssistant, domain.TextParts("a2"), base.Add(3*time.Second))
	seedMessage(t, s, "x1", other.ID, domain.RoleUser, domain.TextParts("elsewhere"), base)

	up := true
	detail, err := a.UpdateChat(owner, chat.ID, UpdateChatInput{MessageID: "m2", SetUpvote: true, IsUpvoted: &up})
	if err != nil {
		t.Fatalf("upvote: %v", err)
	}
	if detail.Messages[1].IsUpvoted == nil || !*detail.Messages[1].IsUpvoted {
		t.Fatalf("expected m2 upvoted: %+v", detail.Messages[1])
	}

	if _, err := a.UpdateChat(owner, chat.ID, UpdateChatInput{MessageID: "x1", Truncate: true}); !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("expected message not found for foreign message, got %v", err)
	}
	if _, err := a.UpdateChat(owner, chat.ID, UpdateChatInput{Truncate: true}); !IsClientError(err) {
		t.Fatalf("expected validation error without message id, got %v", err)
	}

	detail, err = a.UpdateChat(owner, chat.ID, UpdateChatInput{MessageID: "m3", Truncate: true})
	if err != nil {
		t.Fatalf("truncate: %v", err)
	}
	if len(detail.Messages) != 2 || detail.Messages[0].ID != "m1" || detail.Messages[1].ID != "m2" {
		t.Fatalf("unexpected messages after truncate: %+v", detail.Messages)
	}
	if msgs, _ := s.ListMessages(other.ID); len(msgs) != 1 {
		t.Fatalf("truncate touched another chat: %+v", msgs)
	}
}

func TestDeleteChat(t *testing.T) {
	s := store.NewMemoryStore()
	a := newTestApp(t, s, &ai.ScriptedProvider{})
	chat := mustCreateChat(t, a, owner, "bye")
	seedMessage(t, s, "m1", chat.ID, domain.RoleUser, domain.TextParts("bye"), time.Now().UTC())

	if err := a.DeleteChat(stranger, chat.ID); !errors.Is(err, ErrChatForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if err := a.DeleteChat(owner, chat.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := s.GetChat(chat.ID); ok {
		t.Fatalf("chat still present")
	}
	if msgs, _ := s.ListMessages(chat.ID); len(msgs) != 0 {
		t.Fatalf("messages not cascaded: %+v", msgs)
	}
}

func TestModelsListsRegistry(t *testing.T) {
	a := newTestApp(t, store.NewMemoryStore(), &ai.ScriptedProvider{})
	models, def := a.Models()
	if len(models) != 2 || models[0].ID != testModel || def != testModel {
		t.Fatalf("unexpected models: %+v default=%s", models, def)
	}
}
