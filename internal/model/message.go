package model

import (
	"time"

	"gorm.io/datatypes"
)

type MessageKind string

const (
	MessageKindText          MessageKind = "text"
	MessageKindImage         MessageKind = "image"
	MessageKindSystem        MessageKind = "system"
	MessageKindItemReference MessageKind = "item_reference"
)

func (k MessageKind) Valid() bool {
	switch k {
	case MessageKindText, MessageKindImage, MessageKindSystem, MessageKindItemReference:
		return true
	}
	return false
}

// Message is immutable once stored except for IsRead/ReadAt.
type Message struct {
	ID             uint64         `gorm:"primaryKey;autoIncrement" json:"id"`
	ConversationID uint64         `gorm:"column:conversation_id;index:idx_conv_created,priority:1" json:"conversationId"`
	SenderUID      string         `gorm:"column:sender_uid;size:128;index" json:"senderUid"`
	Content        string         `gorm:"column:content;type:text;not null" json:"content"`
	Kind           MessageKind    `gorm:"column:kind;size:32;not null;default:text" json:"kind"`
	Payload        datatypes.JSON `gorm:"column:payload;type:json" json:"payload,omitempty"`
	IsRead         bool           `gorm:"column:is_read;not null;default:false" json:"isRead"`
	ReadAt         *time.Time     `gorm:"column:read_at" json:"readAt,omitempty"`
	CreatedAt      time.Time      `gorm:"column:created_at;index:idx_conv_created,priority:2" json:"createdAt"`
}

func (Message) TableName() string {
	return "messages"
}

// Before reports whether m sorts before o in a conversation's (createdAt, id) order.
func (m Message) Before(o Message) bool {
	if !m.CreatedAt.Equal(o.CreatedAt) {
		return m.CreatedAt.Before(o.CreatedAt)
	}
	return m.ID < o.ID
}
