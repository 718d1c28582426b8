package app

import (
	"streamchat/pkg/ai"
	"streamchat/pkg/domain"
)

// BuildHistory returns the chat's conversation turns in canonical order.
func (a *App) BuildHistory(chatID string) ([]ai.Turn, error) {
	msgs, err := a.gateway.ListMessages(chatID)
	if err != nil {
		return nil, err
	}
	return TurnsFromMessages(msgs)
}

// TurnsFromMessages maps stored messages to provider turns. Only the text part
// is replayed; thinking and meta are display-only.
func TurnsFromMessages(msgs []domain.Message) ([]ai.Turn, error) {
	turns := make([]ai.Turn, 0, len(msgs))
	for _, msg := range msgs {
		if !msg.Role.Valid() {
			return nil, &MalformedMessageError{MessageID: msg.ID, Role: msg.Role}
		}
		turns = append(turns, ai.Turn{Role: msg.Role, Text: msg.Parts.Text})
	}
	return turns, nil
}
