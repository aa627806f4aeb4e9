package model

import "time"

// UserRevenue accumulates a seller's earnings from completed priced transactions.
type UserRevenue struct {
	ID           uint64    `gorm:"primaryKey;autoIncrement"`
	UID          string    `gorm:"column:uid;size:128;uniqueIndex;not null"`
	RevenueCents int64     `gorm:"column:revenue_cents;not null;default:0"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime"`
}

func (UserRevenue) TableName() string {
	return "user_revenues"
}
