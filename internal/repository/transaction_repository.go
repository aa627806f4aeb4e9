package repository

import (
	"context"

	"github.com/adopet/marketchat/internal/model"
	"gorm.io/gorm"
)

type TransactionRepository interface {
	Create(ctx context.Context, t *model.Transaction) error
	FindByID(ctx context.Context, id uint64) (*model.Transaction, error)
	ListByConversation(ctx context.Context, convID uint64) ([]model.Transaction, error)
	// Transition moves the transaction from -> to and applies updates, only if its
	// status still equals from. It reports whether this call won.
	Transition(ctx context.Context, id uint64, from, to model.TransactionStatus, updates map[string]interface{}) (bool, error)
}

type transactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) TransactionRepository {
	return &transactionRepository{db: db}
}

func (r *transactionRepository) Create(ctx context.Context, t *model.Transaction) error {
	if r.db == nil {
		return ErrDBNotReady
	}
	return r.db.WithContext(ctx).Create(t).Error
}

func (r *transactionRepository) FindByID(ctx context.Context, id uint64) (*model.Transaction, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	var t model.Transaction
	if err := r.db.WithContext(ctx).First(&t, id).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *transactionRepository) ListByConversation(ctx context.Context, convID uint64) ([]model.Transaction, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	var list []model.Transaction
	if err := r.db.WithContext(ctx).
		Where("conversation_id = ?", convID).
		Order("created_at DESC, id DESC").
		Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func (r *transactionRepository) Transition(ctx context.Context, id uint64, from, to model.TransactionStatus, updates map[string]interface{}) (bool, error) {
	if r.db == nil {
		return false, ErrDBNotReady
	}
	cols := make(map[string]interface{}, len(updates)+1)
	for k, v := range updates {
		cols[k] = v
	}
	cols["status"] = to
	res := r.db.WithContext(ctx).
		Model(&model.Transaction{}).
		Where("id = ? AND status = ?", id, from).
		Updates(cols)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

type PaymentLinkRepository interface {
	FindActive(ctx context.Context, txID uint64) (*model.PaymentLink, error)
	FindByLinkID(ctx context.Context, linkID string) (*model.PaymentLink, error)
	// Create stores l as the transaction's active link. A second active link for the
	// same transaction fails with gorm.ErrDuplicatedKey.
	Create(ctx context.Context, l *model.PaymentLink) error
	// Retire sets a final status and frees the transaction's active slot.
	Retire(ctx context.Context, id uint64, status model.PaymentLinkStatus) (bool, error)
	CountForTransaction(ctx context.Context, txID uint64) (int64, error)
	// ListActive pages through pending links with id greater than afterID.
	ListActive(ctx context.Context, afterID uint64, limit int) ([]model.PaymentLink, error)
}

type paymentLinkRepository struct {
	db *gorm.DB
}

func NewPaymentLinkRepository(db *gorm.DB) PaymentLinkRepository {
	return &paymentLinkRepository{db: db}
}

func (r *paymentLinkRepository) FindActive(ctx context.Context, txID uint64) (*model.PaymentLink, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	var l model.PaymentLink
	if err := r.db.WithContext(ctx).
		Where("transaction_id = ? AND active_slot IS NOT NULL", txID).
		First(&l).Error; err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *paymentLinkRepository) FindByLinkID(ctx context.Context, linkID string) (*model.PaymentLink, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	var l model.PaymentLink
	if err := r.db.WithContext(ctx).Where("link_id = ?", linkID).First(&l).Error; err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *paymentLinkRepository) Create(ctx context.Context, l *model.PaymentLink) error {
	if r.db == nil {
		return ErrDBNotReady
	}
	l.ActiveSlot = model.ActiveSlotValue()
	if l.Status == "" {
		l.Status = model.PaymentLinkStatusPending
	}
	return r.db.WithContext(ctx).Create(l).Error
}

func (r *paymentLinkRepository) Retire(ctx context.Context, id uint64, status model.PaymentLinkStatus) (bool, error) {
	if r.db == nil {
		return false, ErrDBNotReady
	}
	res := r.db.WithContext(ctx).
		Model(&model.PaymentLink{}).
		Where("id = ? AND active_slot IS NOT NULL", id).
		Updates(map[string]interface{}{"status": status, "active_slot": nil})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *paymentLinkRepository) CountForTransaction(ctx context.Context, txID uint64) (int64, error) {
	if r.db == nil {
		return 0, ErrDBNotReady
	}
	var cnt int64
	if err := r.db.WithContext(ctx).
		Model(&model.PaymentLink{}).
		Where("transaction_id = ?", txID).
		Count(&cnt).Error; err != nil {
		return 0, err
	}
	return cnt, nil
}

// ListActive returns links still awaiting payment, oldest first, starting after afterID.
func (r *paymentLinkRepository) ListActive(ctx context.Context, afterID uint64, limit int) ([]model.PaymentLink, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	if limit <= 0 {
		limit = 100
	}
	var list []model.PaymentLink
	if err := r.db.WithContext(ctx).
		Where("active_slot IS NOT NULL AND status = ? AND id > ?", model.PaymentLinkStatusPending, afterID).
		Order("id ASC").
		Limit(limit).
		Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}
