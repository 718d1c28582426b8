package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"streamchat/pkg/ai"
	"streamchat/pkg/domain"
	"streamchat/pkg/queue"
	"streamchat/pkg/store"
)

const titleSystemPrompt = "You name conversations. Reply with a short title of at most six words " +
	"for a conversation that starts with the user message below. Reply with the title only, without quotes or punctuation at the end."

// TitleRefiner replaces the heuristic chat title with a model generated one.
// It runs as a queue handler; the job subject is the chat id.
type TitleRefiner struct {
	store     store.Store
	generator ai.TextGenerator
}

// NewTitleRefiner builds a refiner over s using gen.
func NewTitleRefiner(s store.Store, gen ai.TextGenerator) (*TitleRefiner, error) {
	if s == nil {
		return nil, errors.New("title refiner store required")
	}
	if gen == nil {
		return nil, errors.New("title refiner generator required")
	}
	return &TitleRefiner{store: s, generator: gen}, nil
}

// Handle implements queue.Handler. Missing chats and chats the user already
// renamed are skipped without error.
func (r *TitleRefiner) Handle(ctx context.Context, job queue.JobStatus) error {
	logger := slog.With("job_id", job.ID, "chat_id", job.Subject)
	chat, ok, err := r.store.GetChat(job.Subject)
	if err != nil {
		return fmt.Errorf("load chat: %w", err)
	}
	if !ok {
		logger.Info("title job skipped, chat gone")
		return nil
	}
	msgs, err := r.store.ListMessages(chat.ID)
	if err != nil {
		return fmt.Errorf("list messages: %w", err)
	}
	first, ok := firstUserText(msgs)
	if !ok {
		return errors.New("chat has no user message yet")
	}
	heuristic := DeriveTitle(first)
	if chat.Title != heuristic {
		logger.Info("title job skipped, title was edited")
		return nil
	}
	raw, err := r.generator.GenerateText(ctx, titleSystemPrompt, first)
	if err != nil {
		return fmt.Errorf("generate title: %w", err)
	}
	title := cleanGeneratedTitle(raw)
	if title == "" {
		logger.Warn("title model returned nothing usable")
		return nil
	}
	updated, err := r.store.SetChatTitleIfUnchanged(chat.ID, heuristic, title)
	if err != nil {
		return fmt.Errorf("set title: %w", err)
	}
	logger.Info("title job finished", "updated", updated)
	return nil
}

func firstUserText(msgs []domain.Message) (string, bool) {
	for _, msg := range msgs {
		if msg.Role == domain.RoleUser {
			return msg.Parts.Text, true
		}
	}
	return "", false
}

func cleanGeneratedTitle(raw string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(raw), "\n")
	line = strings.TrimSpace(strings.TrimPrefix(line, "Title:"))
	line = strings.Trim(line, "\"'`*# ")
	line = strings.TrimRight(line, ".")
	return normalizeTitle(line)
}
