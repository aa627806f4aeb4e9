package repository

import (
	"context"
	"time"

	"github.com/adopet/marketchat/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ConversationRepository interface {
	FindActive(ctx context.Context, itemID uint64, buyerUID, sellerUID string) (*model.Conversation, error)
	// Create inserts an active conversation. A concurrent insert for the same
	// triple fails with gorm.ErrDuplicatedKey.
	Create(ctx context.Context, cv *model.Conversation) error
	FindByID(ctx context.Context, id uint64) (*model.Conversation, error)
	ListVisible(ctx context.Context, uid string) ([]model.Conversation, error)
	SetHidden(ctx context.Context, convID uint64, uid string, hidden bool) error
	CountHidden(ctx context.Context, convID uint64) (int64, error)
	Close(ctx context.Context, convID uint64) (bool, error)
}

type conversationRepository struct {
	db *gorm.DB
}

func NewConversationRepository(db *gorm.DB) ConversationRepository {
	return &conversationRepository{db: db}
}

func (r *conversationRepository) FindActive(ctx context.Context, itemID uint64, buyerUID, sellerUID string) (*model.Conversation, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	var cv model.Conversation
	if err := r.db.WithContext(ctx).
		Where("item_id = ? AND buyer_uid = ? AND seller_uid = ? AND is_active = ?", itemID, buyerUID, sellerUID, true).
		First(&cv).Error; err != nil {
		return nil, err
	}
	return &cv, nil
}

func (r *conversationRepository) Create(ctx context.Context, cv *model.Conversation) error {
	if r.db == nil {
		return ErrDBNotReady
	}
	cv.IsActive = true
	cv.ActiveSlot = model.ActiveSlotValue()
	if cv.LastMessageAt.IsZero() {
		cv.LastMessageAt = r.db.NowFunc()
	}
	return r.db.WithContext(ctx).Create(cv).Error
}

func (r *conversationRepository) FindByID(ctx context.Context, id uint64) (*model.Conversation, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	var cv model.Conversation
	if err := r.db.WithContext(ctx).First(&cv, id).Error; err != nil {
		return nil, err
	}
	return &cv, nil
}

// ListVisible returns active conversations of uid that uid has not archived,
// most recent activity first.
func (r *conversationRepository) ListVisible(ctx context.Context, uid string) ([]model.Conversation, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	hidden := r.db.Model(&model.ConversationState{}).
		Select("conversation_id").
		Where("uid = ? AND hidden = ?", uid, true)
	var list []model.Conversation
	if err := r.db.WithContext(ctx).
		Where("is_active = ? AND (seller_uid = ? OR buyer_uid = ?)", true, uid, uid).
		Where("id NOT IN (?)", hidden).
		Order("last_message_at DESC, id DESC").
		Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func (r *conversationRepository) SetHidden(ctx context.Context, convID uint64, uid string, hidden bool) error {
	if r.db == nil {
		return ErrDBNotReady
	}
	return setHidden(r.db.WithContext(ctx), convID, uid, hidden)
}

func setHidden(db *gorm.DB, convID uint64, uid string, hidden bool) error {
	var hiddenAt *time.Time
	if hidden {
		now := db.NowFunc()
		hiddenAt = &now
	}
	st := model.ConversationState{ConversationID: convID, UID: uid, Hidden: hidden, HiddenAt: hiddenAt}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "conversation_id"}, {Name: "uid"}},
		DoUpdates: clause.AssignmentColumns([]string{"hidden", "hidden_at", "updated_at"}),
	}).Create(&st).Error
}

func (r *conversationRepository) CountHidden(ctx context.Context, convID uint64) (int64, error) {
	if r.db == nil {
		return 0, ErrDBNotReady
	}
	var cnt int64
	if err := r.db.WithContext(ctx).
		Model(&model.ConversationState{}).
		Where("conversation_id = ? AND hidden = ?", convID, true).
		Count(&cnt).Error; err != nil {
		return 0, err
	}
	return cnt, nil
}

// Close soft-closes the conversation and frees its active slot. It reports whether
// this call performed the transition.
func (r *conversationRepository) Close(ctx context.Context, convID uint64) (bool, error) {
	if r.db == nil {
		return false, ErrDBNotReady
	}
	res := r.db.WithContext(ctx).
		Model(&model.Conversation{}).
		Where("id = ? AND is_active = ?", convID, true).
		Updates(map[string]interface{}{
			"is_active":   false,
			"active_slot": nil,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
