package model

import "time"

// Item is the read-only view of a catalog listing.
type Item struct {
	ID           uint64    `gorm:"primaryKey;autoIncrement"`
	SellerUID    string    `gorm:"column:seller_uid;size:128;index"`
	Title        string    `gorm:"size:120;not null"`
	Description  string    `gorm:"type:text;not null"`
	Price        uint      `gorm:"not null"`
	ImageURL     *string   `gorm:"size:512"`
	CategorySlug string    `gorm:"column:category_slug;size:64;index"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime"`
}

func (Item) TableName() string {
	return "items"
}
