package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"streamchat/pkg/domain"
)

const migrateLockID int64 = 73217322

// GormStore implements Store using GORM. Postgres in production; any GORM
// dialector works.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the Postgres DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	return NewGormStoreWithDialector(postgres.Open(dsn))
}

// NewGormStoreWithDialector opens db through dialector and runs auto-migrations.
func NewGormStoreWithDialector(dialector gorm.Dialector) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	migrate := func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&ChatModel{}, &MessageModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}
	if db.Dialector.Name() == "postgres" {
		err = withMigrationLock(db, func(tx *gorm.DB) error {
			if err := migrate(tx); err != nil {
				return err
			}
			return ensureMessageForeignKey(tx)
		})
	} else {
		err = migrate(db)
	}
	if err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func ensureMessageForeignKey(tx *gorm.DB) error {
	if err := tx.Exec(`
		DO $$
		BEGIN
			DELETE FROM message_models m
			WHERE NOT EXISTS (SELECT 1 FROM chat_models c WHERE c.id = m.chat_id);
			IF NOT EXISTS (
				SELECT 1 FROM information_schema.table_constraints
				WHERE table_schema = 'public'
				AND table_name = 'message_models'
				AND constraint_name = 'message_models_chat_id_fkey'
			) THEN
				ALTER TABLE message_models
				ADD CONSTRAINT message_models_chat_id_fkey
				FOREIGN KEY (chat_id) REFERENCES chat_models(id) ON DELETE CASCADE;
			END IF;
		END $$;
	`).Error; err != nil {
		return fmt.Errorf("ensure chat foreign key: %w", err)
	}
	return nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateChat inserts a chat.
func (s *GormStore) CreateChat(c domain.Chat) error {
	model := chatToModel(c)
	return s.db.Create(&model).Error
}

// GetChat retrieves a chat.
func (s *GormStore) GetChat(id string) (domain.Chat, bool, error) {
	var model ChatModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Chat{}, false, nil
		}
		return domain.Chat{}, false, err
	}
	return chatFromModel(model), true, nil
}

// ListChatsByUser returns one page of a user's chats, most recently active first,
// and the user's total chat count.
func (s *GormStore) ListChatsByUser(userID string, limit, offset int) ([]domain.Chat, int64, error) {
	var total int64
	if err := s.db.Model(&ChatModel{}).Where("user_id = ?", userID).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var models []ChatModel
	query := s.db.Where("user_id = ?", userID).
		Order("updated_at DESC").
		Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	if err := query.Find(&models).Error; err != nil {
		return nil, 0, err
	}
	items := make([]domain.Chat, 0, len(models))
	for _, m := range models {
		items = append(items, chatFromModel(m))
	}
	return items, total, nil
}

// UpdateChat saves title and visibility.
func (s *GormStore) UpdateChat(c domain.Chat) error {
	updatedAt := c.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	return s.db.Model(&ChatModel{}).Where("id = ?", c.ID).Updates(map[string]any{
		"title":      c.Title,
		"visibility": string(c.Visibility),
		"updated_at": updatedAt,
	}).Error
}

// SetChatTitleIfUnchanged replaces the title only while it still equals expected.
// Last-activity time is left alone.
func (s *GormStore) SetChatTitleIfUnchanged(id, expected, title string) (bool, error) {
	res := s.db.Model(&ChatModel{}).
		Where("id = ? AND title = ?", id, expected).
		UpdateColumn("title", title)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// TouchChat bumps the last-activity timestamp.
func (s *GormStore) TouchChat(id string) error {
	res := s.db.Model(&ChatModel{}).Where("id = ?", id).UpdateColumn("updated_at", time.Now().UTC())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("chat %s not found", id)
	}
	return nil
}

// DeleteChat removes a chat and its messages.
func (s *GormStore) DeleteChat(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&MessageModel{}, "chat_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&ChatModel{}, "id = ?", id).Error; err != nil {
			return err
		}
		return nil
	})
}

// CreateMessage records a message.
func (s *GormStore) CreateMessage(msg domain.Message) error {
	model, err := messageToModel(msg)
	if err != nil {
		return err
	}
	return s.db.Create(&model).Error
}

// GetMessage retrieves a message.
func (s *GormStore) GetMessage(id string) (domain.Message, bool, error) {
	var model MessageModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Message{}, false, nil
		}
		return domain.Message{}, false, err
	}
	msg, err := messageFromModel(model)
	if err != nil {
		return domain.Message{}, false, err
	}
	return msg, true, nil
}

// ListMessages returns a chat's messages in conversation order.
func (s *GormStore) ListMessages(chatID string) ([]domain.Message, error) {
	var models []MessageModel
	if err := s.db.Where("chat_id = ?", chatID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	msgs := make([]domain.Message, 0, len(models))
	for _, model := range models {
		msg, err := messageFromModel(model)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// SetMessageUpvote sets or clears the upvote flag.
func (s *GormStore) SetMessageUpvote(id string, upvoted *bool) error {
	return s.db.Model(&MessageModel{}).Where("id = ?", id).Updates(map[string]any{
		"is_upvoted": upvoted,
		"updated_at": time.Now().UTC(),
	}).Error
}

// DeleteMessagesFrom deletes messageID and every later message of the chat.
func (s *GormStore) DeleteMessagesFrom(chatID, messageID string) (int64, error) {
	var deleted int64
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var anchor MessageModel
		if err := tx.First(&anchor, "id = ? AND chat_id = ?", messageID, chatID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		res := tx.Where("chat_id = ? AND (created_at > ? OR (created_at = ? AND id >= ?))",
			chatID, anchor.CreatedAt, anchor.CreatedAt, anchor.ID).
			Delete(&MessageModel{})
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected
		return nil
	})
	return deleted, err
}
