package model

import "time"

// Conversation is the thread between a buyer and a seller about one item.
// ActiveSlot is 1 while the conversation is active and NULL once closed, so the
// unique index admits one active row per (item, buyer, seller) and any number of closed ones.
type Conversation struct {
	ID            uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	ItemID        uint64    `gorm:"column:item_id;uniqueIndex:uniq_active_conv,priority:1" json:"itemId"`
	BuyerUID      string    `gorm:"column:buyer_uid;size:128;index;uniqueIndex:uniq_active_conv,priority:2" json:"buyerUid"`
	SellerUID     string    `gorm:"column:seller_uid;size:128;index;uniqueIndex:uniq_active_conv,priority:3" json:"sellerUid"`
	ActiveSlot    *uint8    `gorm:"column:active_slot;uniqueIndex:uniq_active_conv,priority:4" json:"-"`
	IsActive      bool      `gorm:"column:is_active;not null;default:true;index" json:"isActive"`
	LastMessageAt time.Time `gorm:"column:last_message_at;index" json:"lastMessageAt"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updatedAt"`

	UnreadCount int64 `gorm:"-" json:"unreadCount"`
}

func (Conversation) TableName() string {
	return "conversations"
}

func (c *Conversation) IsParticipant(uid string) bool {
	return uid != "" && (c.BuyerUID == uid || c.SellerUID == uid)
}

// Counterparty returns the other participant, or "" if uid is not a participant.
func (c *Conversation) Counterparty(uid string) string {
	switch uid {
	case c.BuyerUID:
		return c.SellerUID
	case c.SellerUID:
		return c.BuyerUID
	}
	return ""
}

func ActiveSlotValue() *uint8 {
	v := uint8(1)
	return &v
}
