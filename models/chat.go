package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Chat struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	UserID     uuid.UUID  `gorm:"type:uuid;not null;index" json:"user_id"`
	Title      string     `gorm:"size:255;not null;default:'New Chat'" json:"title"`
	Archived   bool       `gorm:"not null;default:false;index" json:"archived"`
	ArchivedAt *time.Time `json:"archived_at"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`

	User     User      `gorm:"foreignKey:UserID" json:"-"`
	Messages []Message `gorm:"foreignKey:ChatID" json:"messages,omitempty"`
}

func (c *Chat) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// Message is one transcript entry. Seq orders messages within a chat.
type Message struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"-"`
	ChatID    uuid.UUID `gorm:"type:uuid;not null;index:idx_chat_seq,priority:1" json:"-"`
	Seq       int       `gorm:"not null;index:idx_chat_seq,priority:2" json:"-"`
	Role      string    `gorm:"size:20;not null" json:"role"`
	Text      string    `gorm:"type:text;not null" json:"text"`
	Time      string    `gorm:"size:10;not null" json:"time"`
	IsError   bool      `gorm:"not null;default:false" json:"is_error,omitempty"`
	CreatedAt time.Time `json:"-"`
}

func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}
