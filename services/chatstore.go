package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"quantumchat/chat"
	"quantumchat/models"
)

// ChatStore persists chats and transcripts with gorm. Every query is
// scoped to a user.
type ChatStore struct {
	db *gorm.DB
}

func NewChatStore(db *gorm.DB) *ChatStore {
	return &ChatStore{db: db}
}

// ListOptions filters List. A nil Archived returns every chat.
type ListOptions struct {
	Archived *bool
}

func (s *ChatStore) List(ctx context.Context, userID uuid.UUID, opts ListOptions) ([]chat.Chat, error) {
	q := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if opts.Archived != nil {
		q = q.Where("archived = ?", *opts.Archived)
	}

	var rows []models.Chat
	err := q.Preload("Messages", func(db *gorm.DB) *gorm.DB {
		return db.Order("seq ASC")
	}).Order("updated_at DESC").Find(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]chat.Chat, 0, len(rows))
	for i := range rows {
		out = append(out, ToChat(&rows[i]))
	}
	return out, nil
}

func (s *ChatStore) Get(ctx context.Context, userID, chatID uuid.UUID) (chat.Chat, error) {
	row, err := s.load(s.db.WithContext(ctx), userID, chatID)
	if err != nil {
		return chat.Chat{}, err
	}
	return ToChat(row), nil
}

func (s *ChatStore) Create(ctx context.Context, userID uuid.UUID, in chat.NewChat) (chat.Chat, error) {
	if err := chat.ValidateMessages(in.Messages); err != nil {
		return chat.Chat{}, err
	}
	title := chat.NormalizeTitle(in.Title)
	if title == "" {
		title = chat.DefaultTitle
	}

	row := models.Chat{UserID: userID, Title: title}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		if len(in.Messages) == 0 {
			return nil
		}
		return insertMessages(tx, row.ID, 0, in.Messages)
	})
	if err != nil {
		return chat.Chat{}, err
	}
	return s.Get(ctx, userID, row.ID)
}

// Append adds messages at the end of the transcript and advances
// updated_at.
func (s *ChatStore) Append(ctx context.Context, userID, chatID uuid.UUID, msgs []chat.Message) (chat.Chat, error) {
	if err := chat.ValidateMessages(msgs); err != nil {
		return chat.Chat{}, err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row models.Chat
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND user_id = ?", chatID, userID).First(&row).Error; err != nil {
			return translate(err)
		}

		var maxSeq int
		if err := tx.Model(&models.Message{}).Where("chat_id = ?", chatID).
			Select("COALESCE(MAX(seq), 0)").Scan(&maxSeq).Error; err != nil {
			return err
		}
		if err := insertMessages(tx, chatID, maxSeq, msgs); err != nil {
			return err
		}
		return tx.Model(&row).UpdateColumn("updated_at", time.Now()).Error
	})
	if err != nil {
		return chat.Chat{}, err
	}
	return s.Get(ctx, userID, chatID)
}

// Update applies title and archive changes without touching updated_at.
func (s *ChatStore) Update(ctx context.Context, userID, chatID uuid.UUID, upd chat.ChatUpdate) (chat.Chat, error) {
	cols := map[string]any{}
	if upd.Title != nil {
		title := chat.NormalizeTitle(*upd.Title)
		if title == "" {
			return chat.Chat{}, chat.ErrEmptyTitle
		}
		cols["title"] = title
	}
	if upd.Archived != nil {
		cols["archived"] = *upd.Archived
		if *upd.Archived {
			cols["archived_at"] = time.Now()
		} else {
			cols["archived_at"] = nil
		}
	}

	db := s.db.WithContext(ctx)
	row, err := s.load(db, userID, chatID)
	if err != nil {
		return chat.Chat{}, err
	}
	if len(cols) > 0 {
		if err := db.Model(row).UpdateColumns(cols).Error; err != nil {
			return chat.Chat{}, err
		}
	}
	return s.Get(ctx, userID, chatID)
}

func (s *ChatStore) Delete(ctx context.Context, userID, chatID uuid.UUID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row models.Chat
		if err := tx.Where("id = ? AND user_id = ?", chatID, userID).First(&row).Error; err != nil {
			return translate(err)
		}
		if err := tx.Where("chat_id = ?", chatID).Delete(&models.Message{}).Error; err != nil {
			return err
		}
		return tx.Delete(&row).Error
	})
}

// ForUser binds the store to one user as a chat.Persister.
func (s *ChatStore) ForUser(userID uuid.UUID) chat.Persister {
	return &userChats{store: s, userID: userID}
}

func (s *ChatStore) load(db *gorm.DB, userID, chatID uuid.UUID) (*models.Chat, error) {
	var row models.Chat
	err := db.Preload("Messages", func(db *gorm.DB) *gorm.DB {
		return db.Order("seq ASC")
	}).Where("id = ? AND user_id = ?", chatID, userID).First(&row).Error
	if err != nil {
		return nil, translate(err)
	}
	return &row, nil
}

func insertMessages(tx *gorm.DB, chatID uuid.UUID, after int, msgs []chat.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	rows := make([]models.Message, 0, len(msgs))
	for i, m := range msgs {
		rows = append(rows, models.Message{
			ChatID:  chatID,
			Seq:     after + i + 1,
			Role:    string(m.Role),
			Text:    m.Text,
			Time:    m.Time,
			IsError: m.IsError,
		})
	}
	return tx.Create(&rows).Error
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return chat.ErrChatNotFound
	}
	return err
}

// ToChat converts a stored chat to the core type.
func ToChat(row *models.Chat) chat.Chat {
	c := chat.Chat{
		ID:         row.ID.String(),
		Title:      row.Title,
		CreatedAt:  row.CreatedAt,
		UpdatedAt:  row.UpdatedAt,
		Archived:   row.Archived,
		ArchivedAt: row.ArchivedAt,
		Messages:   make([]chat.Message, 0, len(row.Messages)),
	}
	for _, m := range row.Messages {
		c.Messages = append(c.Messages, chat.Message{
			Role:    chat.Role(m.Role),
			Text:    m.Text,
			Time:    m.Time,
			IsError: m.IsError,
		})
	}
	return c
}

type userChats struct {
	store  *ChatStore
	userID uuid.UUID
}

func (u *userChats) CreateChat(ctx context.Context, in chat.NewChat) (chat.Chat, error) {
	return u.store.Create(ctx, u.userID, in)
}

func (u *userChats) AppendMessages(ctx context.Context, chatID string, msgs []chat.Message) (chat.Chat, error) {
	id, err := uuid.Parse(chatID)
	if err != nil {
		return chat.Chat{}, chat.ErrChatNotFound
	}
	return u.store.Append(ctx, u.userID, id, msgs)
}

func (u *userChats) UpdateChat(ctx context.Context, chatID string, upd chat.ChatUpdate) (chat.Chat, error) {
	id, err := uuid.Parse(chatID)
	if err != nil {
		return chat.Chat{}, chat.ErrChatNotFound
	}
	return u.store.Update(ctx, u.userID, id, upd)
}

func (u *userChats) DeleteChat(ctx context.Context, chatID string) error {
	id, err := uuid.Parse(chatID)
	if err != nil {
		return chat.ErrChatNotFound
	}
	return u.store.Delete(ctx, u.userID, id)
}

func (u *userChats) ListChats(ctx context.Context) ([]chat.Chat, error) {
	return u.store.List(ctx, u.userID, ListOptions{})
}
