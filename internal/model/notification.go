package model

import (
	"time"

	"gorm.io/datatypes"
)

const (
	NotificationTypeNewMessage           = "new_message"
	NotificationTypeItemLiked            = "item_liked"
	NotificationTypeTransactionCreated   = "transaction_created"
	NotificationTypeTransactionCompleted = "transaction_completed"
	NotificationTypeTransactionCancelled = "transaction_cancelled"
)

type Notification struct {
	ID             uint64         `gorm:"primaryKey;autoIncrement" json:"id"`
	UserUID        string         `gorm:"column:user_uid;size:128;index;not null" json:"userUid"`
	Type           string         `gorm:"column:type;size:64;not null" json:"type"`
	Title          string         `gorm:"column:title;size:255" json:"title"`
	Body           string         `gorm:"column:body;type:text" json:"body"`
	Data           datatypes.JSON `gorm:"column:data;type:json" json:"data,omitempty"`
	ItemID         *uint64        `gorm:"column:item_id;index" json:"itemId,omitempty"`
	ConversationID *uint64        `gorm:"column:conversation_id;index" json:"conversationId,omitempty"`
	TransactionID  *uint64        `gorm:"column:transaction_id;index" json:"transactionId,omitempty"`
	IsRead         bool           `gorm:"column:is_read;not null;default:false;index" json:"isRead"`
	ReadAt         *time.Time     `gorm:"column:read_at" json:"readAt,omitempty"`
	CreatedAt      time.Time      `gorm:"autoCreateTime" json:"createdAt"`
}

func (Notification) TableName() string {
	return "notifications"
}

type DeviceToken struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	UserUID   string    `gorm:"column:user_uid;size:128;index;not null"`
	Token     string    `gorm:"column:token;size:512;uniqueIndex;not null"`
	Platform  string    `gorm:"column:platform;size:16"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (DeviceToken) TableName() string {
	return "device_tokens"
}
