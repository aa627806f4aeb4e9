package model

import "time"

type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusCancelled TransactionStatus = "cancelled"
)

func (s TransactionStatus) Terminal() bool {
	return s == TransactionStatusCompleted || s == TransactionStatusCancelled
}

const (
	PaymentMethodFree           = "free"
	PaymentMethodGateway        = "gateway"
	PaymentMethodManualTransfer = "manual_transfer"

	ConfirmedByGateway = "gateway"
	ConfirmedByBuyer   = "buyer"
)

// Transaction settles an item between the two participants of a conversation.
// Code is set iff Amount > 0. Completed and cancelled rows are never modified.
type Transaction struct {
	ID             uint64            `gorm:"primaryKey;autoIncrement" json:"id"`
	ConversationID uint64            `gorm:"column:conversation_id;index;not null" json:"conversationId"`
	ItemID         uint64            `gorm:"column:item_id;index;not null" json:"itemId"`
	SellerUID      string            `gorm:"column:seller_uid;size:128;index;not null" json:"sellerUid"`
	BuyerUID       string            `gorm:"column:buyer_uid;size:128;index;not null" json:"buyerUid"`
	Code           *string           `gorm:"column:code;size:16;uniqueIndex" json:"code,omitempty"`
	Amount         int64             `gorm:"column:amount;not null" json:"amount"`
	Status         TransactionStatus `gorm:"column:status;size:32;not null;index" json:"status"`
	PaymentMethod  string            `gorm:"column:payment_method;size:32" json:"paymentMethod"`
	ProofURL       *string           `gorm:"column:proof_url;type:text" json:"proofUrl,omitempty"`
	ExternalLinkID *string           `gorm:"column:external_link_id;size:128" json:"externalLinkId,omitempty"`
	ConfirmedBy    *string           `gorm:"column:confirmed_by;size:16" json:"confirmedBy,omitempty"`
	CompletedAt    *time.Time        `gorm:"column:completed_at" json:"completedAt,omitempty"`
	CancelledAt    *time.Time        `gorm:"column:cancelled_at" json:"cancelledAt,omitempty"`
	CreatedAt      time.Time         `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt      time.Time         `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (Transaction) TableName() string {
	return "transactions"
}

func (t *Transaction) IsParticipant(uid string) bool {
	return uid != "" && (t.BuyerUID == uid || t.SellerUID == uid)
}

type PaymentLinkStatus string

const (
	PaymentLinkStatusPending   PaymentLinkStatus = "pending"
	PaymentLinkStatusPaid      PaymentLinkStatus = "paid"
	PaymentLinkStatusCancelled PaymentLinkStatus = "cancelled"
	PaymentLinkStatusExpired   PaymentLinkStatus = "expired"
)

// PaymentLink mirrors a gateway-issued link. ActiveSlot follows the same scheme as
// Conversation: 1 while the link is usable, NULL afterwards.
type PaymentLink struct {
	ID            uint64            `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionID uint64            `gorm:"column:transaction_id;not null;uniqueIndex:uniq_active_link,priority:1" json:"transactionId"`
	ActiveSlot    *uint8            `gorm:"column:active_slot;uniqueIndex:uniq_active_link,priority:2" json:"-"`
	LinkID        string            `gorm:"column:link_id;size:128;uniqueIndex;not null" json:"linkId"`
	URL           string            `gorm:"column:url;type:text" json:"url"`
	QRPayload     string            `gorm:"column:qr_payload;type:text" json:"qrPayload"`
	Amount        int64             `gorm:"column:amount" json:"amount"`
	Status        PaymentLinkStatus `gorm:"column:status;size:16;not null;index" json:"status"`
	ExpiresAt     *time.Time        `gorm:"column:expires_at" json:"expiresAt,omitempty"`
	CreatedAt     time.Time         `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt     time.Time         `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (PaymentLink) TableName() string {
	return "payment_links"
}

// Usable reports whether the link can still be paid at now.
func (l *PaymentLink) Usable(now time.Time) bool {
	if l.Status != PaymentLinkStatusPending {
		return false
	}
	return l.ExpiresAt == nil || now.Before(*l.ExpiresAt)
}
