package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"streamchat/internal/util"
	"streamchat/pkg/ai"
	"streamchat/pkg/domain"
)

// StreamErrorMessage is the content of the terminal error record.
const StreamErrorMessage = "Sorry, there was an error processing your request. Please try again."

const maxAttachmentsPerMessage = 10

// ChunkWriter forwards records to the client. An error means the client is gone.
type ChunkWriter interface {
	WriteChunk(chunkType domain.ChunkType, content string) error
}

// StreamRequest is one user turn addressed to a chat.
type StreamRequest struct {
	ChatID      string
	Message     string
	Model       string
	Attachments []string
}

// Turn is a prepared dispatch: the user message is stored and the provider is
// chosen. A Turn is single-use.
type Turn struct {
	app         *App
	chatID      string
	model       ai.ModelDescriptor
	provider    ai.StreamProvider
	request     ai.ChatRequest
	userMessage domain.Message
}

// TurnResult summarizes how a dispatch ended.
type TurnResult struct {
	UserMessage domain.Message
	// Assistant is nil when nothing was accumulated or the write failed.
	Assistant    *domain.Message
	Model        ai.ModelDescriptor
	FinishReason ai.FinishReason
	ProviderErr  error
	Disconnected bool
}

// PrepareTurn validates req, checks ownership, reads history and persists the
// user message. Errors returned here happen before any provider call and
// before anything is written to the client.
func (a *App) PrepareTurn(ctx context.Context, user domain.User, req StreamRequest) (*Turn, error) {
	logger := util.LoggerFromContext(ctx)
	message, err := validateMessage(req.Message)
	if err != nil {
		return nil, err
	}
	attachments, err := validateAttachments(req.Attachments)
	if err != nil {
		return nil, err
	}
	chat, err := a.ownedChat(user, req.ChatID)
	if err != nil {
		return nil, err
	}
	model := a.registry.Resolve(req.Model)
	if req.Model != "" && model.ID != strings.TrimSpace(req.Model) {
		logger.Warn("unknown model requested, using default", "chat_id", chat.ID, "requested", req.Model, "model", model.ID)
	}
	provider, err := a.providers.For(model.Provider)
	if err != nil {
		return nil, fmt.Errorf("resolve provider: %w", err)
	}
	history, err := a.BuildHistory(chat.ID)
	if err != nil {
		var malformed *MalformedMessageError
		if errors.As(err, &malformed) {
			logger.Error("chat history is corrupt", "chat_id", chat.ID, "message_id", malformed.MessageID, "role", malformed.Role)
		}
		return nil, err
	}

	userMessage, err := a.gateway.CreateMessage(chat.ID, domain.RoleUser, domain.TextParts(message), attachments)
	if err != nil {
		return nil, err
	}
	a.touch(logger, chat.ID)
	if len(history) == 0 {
		a.enqueueTitle(ctx, logger, chat.ID)
	}

	return &Turn{
		app:      a,
		chatID:   chat.ID,
		model:    model,
		provider: provider,
		request: ai.ChatRequest{
			Model:        model,
			SystemPrompt: a.systemPrompt,
			Turns:        append(history, ai.Turn{Role: domain.RoleUser, Text: message}),
		},
		userMessage: userMessage,
	}, nil
}

// UserMessage returns the persisted user message.
func (t *Turn) UserMessage() domain.Message {
	return t.userMessage
}

// Run drives the provider stream, forwards every chunk to w in provider
// order and persists the accumulated reply once at the end. A provider
// failure becomes a single error record after the partial reply is stored.
// Cancelling ctx is treated as a client disconnect.
func (t *Turn) Run(ctx context.Context, w ChunkWriter) TurnResult {
	logger := util.LoggerFromContext(ctx).With("chat_id", t.chatID, "model", t.model.ID, "provider", t.model.Provider)
	logger.Info("chat turn started", "turns", len(t.request.Turns))

	res := TurnResult{UserMessage: t.userMessage, Model: t.model}
	var parts domain.Parts
	stream, err := t.provider.StreamChat(ctx, t.request)
	if err != nil {
		res.FinishReason = ai.FinishError
		res.ProviderErr = err
	} else {
		res.FinishReason, res.Disconnected, res.ProviderErr = t.consume(stream, w, &parts, logger)
	}
	if res.ProviderErr != nil && errors.Is(ctx.Err(), context.Canceled) {
		res.Disconnected = true
		res.ProviderErr = nil
	}

	if !parts.IsEmpty() {
		msg, err := t.app.gateway.CreateMessage(t.chatID, domain.RoleAssistant, parts, nil)
		if err != nil {
			logger.Error("assistant message lost",
				"err", err,
				"text_bytes", len(parts.Text),
				"thinking_bytes", len(parts.Thinking),
				"meta_bytes", len(parts.Meta),
			)
		} else {
			res.Assistant = &msg
			t.app.touch(logger, t.chatID)
		}
	}

	switch {
	case res.Disconnected:
		logger.Info("client disconnected", "persisted", res.Assistant != nil)
	case res.ProviderErr != nil:
		logger.Warn("provider stream failed", "err", res.ProviderErr, "persisted", res.Assistant != nil)
		if err := w.WriteChunk(domain.ChunkError, StreamErrorMessage); err != nil {
			logger.Info("client gone before error record", "err", err)
		}
	default:
		logger.Info("chat turn finished", "finish_reason", res.FinishReason)
	}
	return res
}

// consume pulls chunks one at a time. Each chunk is accumulated and written
// before the next is requested.
func (t *Turn) consume(stream *ai.ChunkStream, w ChunkWriter, parts *domain.Parts, logger *slog.Logger) (ai.FinishReason, bool, error) {
	defer stream.Close()
	for {
		chunk, ok := stream.Next()
		if !ok {
			break
		}
		if !parts.Append(chunk.Type, chunk.Text) {
			logger.Warn("dropping chunk of unknown type", "chunk_type", chunk.Type)
			continue
		}
		if err := w.WriteChunk(chunk.Type, chunk.Text); err != nil {
			stream.Close()
			return stream.FinishReason(), true, nil
		}
	}
	return stream.FinishReason(), false, stream.Err()
}

// StreamTurn prepares and runs a turn in one call.
func (a *App) StreamTurn(ctx context.Context, user domain.User, req StreamRequest, w ChunkWriter) (TurnResult, error) {
	turn, err := a.PrepareTurn(ctx, user, req)
	if err != nil {
		return TurnResult{}, err
	}
	return turn.Run(ctx, w), nil
}

func (a *App) touch(logger *slog.Logger, chatID string) {
	if err := a.gateway.TouchChat(chatID); err != nil {
		logger.Warn("touch chat failed", "chat_id", chatID, "err", err)
	}
}

func (a *App) enqueueTitle(ctx context.Context, logger *slog.Logger, chatID string) {
	if a.titles == nil {
		return
	}
	if _, err := a.titles.Enqueue(context.WithoutCancel(ctx), chatID); err != nil {
		logger.Warn("enqueue title job failed", "chat_id", chatID, "err", err)
	}
}

func validateAttachments(raw []string) (domain.Attachments, error) {
	if len(raw) > maxAttachmentsPerMessage {
		return nil, invalid("attachments", fmt.Sprintf("must have at most %d entries", maxAttachmentsPerMessage))
	}
	out := make(domain.Attachments, 0, len(raw))
	for _, ref := range raw {
		ref = strings.TrimSpace(ref)
		if ref == "" {
			return nil, invalid("attachments", "must not contain empty references")
		}
		out = append(out, ref)
	}
	return out, nil
}
