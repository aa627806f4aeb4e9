package model

import "time"

// ConversationState holds per-participant view state. Hidden backs per-user archiving.
type ConversationState struct {
	ID             uint64     `gorm:"primaryKey;autoIncrement"`
	ConversationID uint64     `gorm:"column:conversation_id;uniqueIndex:uniq_conv_uid"`
	UID            string     `gorm:"column:uid;size:128;uniqueIndex:uniq_conv_uid;index"`
	Hidden         bool       `gorm:"column:hidden;not null;default:false"`
	HiddenAt       *time.Time `gorm:"column:hidden_at"`
	LastReadAt     *time.Time `gorm:"column:last_read_at"`
	CreatedAt      time.Time  `gorm:"autoCreateTime"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime"`
}

func (ConversationState) TableName() string {
	return "conversation_states"
}
