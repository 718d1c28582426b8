package store

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"

	"streamchat/pkg/domain"
)

// GORM models used for persistence.
type ChatModel struct {
	ID         string    `gorm:"primaryKey"`
	UserID     string    `gorm:"not null;index"`
	Title      string    `gorm:"not null"`
	Visibility string    `gorm:"not null;default:private"`
	CreatedAt  time.Time `gorm:"not null"`
	UpdatedAt  time.Time `gorm:"not null;index"`
}

type MessageModel struct {
	ID          string         `gorm:"primaryKey"`
	ChatID      string         `gorm:"not null;index:idx_message_chat_created,priority:1"`
	Role        string         `gorm:"not null"`
	Parts       datatypes.JSON `gorm:"not null"`
	Attachments string         `gorm:"type:text;not null;default:'[]'"`
	IsUpvoted   *bool
	CreatedAt   time.Time `gorm:"not null;index:idx_message_chat_created,priority:2"`
	UpdatedAt   time.Time `gorm:"not null"`
}

func chatToModel(c domain.Chat) ChatModel {
	return ChatModel{
		ID:         c.ID,
		UserID:     c.UserID,
		Title:      c.Title,
		Visibility: string(c.Visibility),
		CreatedAt:  c.CreatedAt,
		UpdatedAt:  c.UpdatedAt,
	}
}

func chatFromModel(m ChatModel) domain.Chat {
	return domain.Chat{
		ID:         m.ID,
		UserID:     m.UserID,
		Title:      m.Title,
		Visibility: domain.Visibility(m.Visibility),
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

func messageToModel(msg domain.Message) (MessageModel, error) {
	parts, err := json.Marshal(msg.Parts)
	if err != nil {
		return MessageModel{}, fmt.Errorf("encode parts: %w", err)
	}
	return MessageModel{
		ID:          msg.ID,
		ChatID:      msg.ChatID,
		Role:        string(msg.Role),
		Parts:       datatypes.JSON(parts),
		Attachments: msg.Attachments.String(),
		IsUpvoted:   msg.IsUpvoted,
		CreatedAt:   msg.CreatedAt,
		UpdatedAt:   msg.UpdatedAt,
	}, nil
}

func messageFromModel(m MessageModel) (domain.Message, error) {
	msg := domain.Message{
		ID:        m.ID,
		ChatID:    m.ChatID,
		Role:      domain.Role(m.Role),
		IsUpvoted: m.IsUpvoted,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
	if len(m.Parts) > 0 {
		if err := json.Unmarshal(m.Parts, &msg.Parts); err != nil {
			return domain.Message{}, fmt.Errorf("message %s: %w", m.ID, err)
		}
	}
	attachments, err := domain.ParseAttachments(m.Attachments)
	if err != nil {
		return domain.Message{}, fmt.Errorf("message %s: %w", m.ID, err)
	}
	msg.Attachments = attachments
	return msg, nil
}
