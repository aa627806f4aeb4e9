package repository

import (
	"context"

	"github.com/adopet/marketchat/internal/model"
	"gorm.io/gorm"
)

// ListOptions narrows a history read. Zero values mean the whole history.
type ListOptions struct {
	AfterID uint64
	Limit   int
}

type MessageRepository interface {
	// Append stores msg, bumps the conversation's last_message_at and un-hides the
	// conversation for recipientUID, all in one transaction.
	Append(ctx context.Context, msg *model.Message, recipientUID string) error
	List(ctx context.Context, convID uint64, opts ListOptions) ([]model.Message, error)
	MarkRead(ctx context.Context, convID uint64, viewerUID string) (int64, error)
	CountUnread(ctx context.Context, convID uint64, viewerUID string) (int64, error)
	UnreadByConversation(ctx context.Context, convIDs []uint64, viewerUID string) (map[uint64]int64, error)
}

type messageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

func (r *messageRepository) Append(ctx context.Context, msg *model.Message, recipientUID string) error {
	if r.db == nil {
		return ErrDBNotReady
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = r.db.NowFunc()
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(msg).Error; err != nil {
			return err
		}
		if err := tx.Model(&model.Conversation{}).
			Where("id = ?", msg.ConversationID).
			Update("last_message_at", msg.CreatedAt).Error; err != nil {
			return err
		}
		if recipientUID == "" {
			return nil
		}
		return tx.Model(&model.ConversationState{}).
			Where("conversation_id = ? AND uid = ? AND hidden = ?", msg.ConversationID, recipientUID, true).
			Updates(map[string]interface{}{"hidden": false, "hidden_at": nil}).Error
	})
}

func (r *messageRepository) List(ctx context.Context, convID uint64, opts ListOptions) ([]model.Message, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	q := r.db.WithContext(ctx).Where("conversation_id = ?", convID)
	if opts.AfterID > 0 {
		q = q.Where("id > ?", opts.AfterID)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	var msgs []model.Message
	if err := q.Order("created_at ASC, id ASC").Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// MarkRead flags every unread message of the counterparty as read and returns how many
// rows changed. A second call changes nothing.
func (r *messageRepository) MarkRead(ctx context.Context, convID uint64, viewerUID string) (int64, error) {
	if r.db == nil {
		return 0, ErrDBNotReady
	}
	now := r.db.NowFunc()
	res := r.db.WithContext(ctx).
		Model(&model.Message{}).
		Where("conversation_id = ? AND sender_uid <> ? AND is_read = ?", convID, viewerUID, false).
		Updates(map[string]interface{}{"is_read": true, "read_at": now})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *messageRepository) CountUnread(ctx context.Context, convID uint64, viewerUID string) (int64, error) {
	if r.db == nil {
		return 0, ErrDBNotReady
	}
	var cnt int64
	if err := r.db.WithContext(ctx).
		Model(&model.Message{}).
		Where("conversation_id = ? AND sender_uid <> ? AND is_read = ?", convID, viewerUID, false).
		Count(&cnt).Error; err != nil {
		return 0, err
	}
	return cnt, nil
}

func (r *messageRepository) UnreadByConversation(ctx context.Context, convIDs []uint64, viewerUID string) (map[uint64]int64, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	out := make(map[uint64]int64, len(convIDs))
	if len(convIDs) == 0 {
		return out, nil
	}
	var rows []struct {
		ConversationID uint64
		Cnt            int64
	}
	if err := r.db.WithContext(ctx).
		Model(&model.Message{}).
		Select("conversation_id, COUNT(*) AS cnt").
		Where("conversation_id IN ? AND sender_uid <> ? AND is_read = ?", convIDs, viewerUID, false).
		Group("conversation_id").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.ConversationID] = row.Cnt
	}
	return out, nil
}
