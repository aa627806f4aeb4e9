package repository

import (
	"context"

	"github.com/adopet/marketchat/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type NotificationRepository interface {
	Create(ctx context.Context, n *model.Notification) error
	ListByUser(ctx context.Context, userUID string, unreadOnly bool, limit int) ([]model.Notification, error)
	MarkRead(ctx context.Context, id uint64, userUID string) (bool, error)
	MarkAllRead(ctx context.Context, userUID string) (int64, error)
	// MarkConversationRead marks userUID's notifications of type typ about convID read.
	MarkConversationRead(ctx context.Context, userUID string, convID uint64, typ string) (int64, error)
	CountUnread(ctx context.Context, userUID string) (int64, error)
}

type notificationRepository struct {
	db *gorm.DB
}

func NewNotificationRepository(db *gorm.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

func (r *notificationRepository) Create(ctx context.Context, n *model.Notification) error {
	if r.db == nil {
		return ErrDBNotReady
	}
	return r.db.WithContext(ctx).Create(n).Error
}

func (r *notificationRepository) ListByUser(ctx context.Context, userUID string, unreadOnly bool, limit int) ([]model.Notification, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	var list []model.Notification
	if limit <= 0 || limit > 50 {
		limit = 20
	}
	q := r.db.WithContext(ctx).Model(&model.Notification{}).Where("user_uid = ?", userUID)
	if unreadOnly {
		q = q.Where("is_read = ?", false)
	}
	if err := q.Order("created_at DESC, id DESC").Limit(limit).Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func (r *notificationRepository) MarkRead(ctx context.Context, id uint64, userUID string) (bool, error) {
	if r.db == nil {
		return false, ErrDBNotReady
	}
	res := r.db.WithContext(ctx).
		Model(&model.Notification{}).
		Where("id = ? AND user_uid = ? AND is_read = ?", id, userUID, false).
		Updates(r.readColumns())
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *notificationRepository) MarkAllRead(ctx context.Context, userUID string) (int64, error) {
	if r.db == nil {
		return 0, ErrDBNotReady
	}
	res := r.db.WithContext(ctx).
		Model(&model.Notification{}).
		Where("user_uid = ? AND is_read = ?", userUID, false).
		Updates(r.readColumns())
	return res.RowsAffected, res.Error
}

func (r *notificationRepository) MarkConversationRead(ctx context.Context, userUID string, convID uint64, typ string) (int64, error) {
	if r.db == nil {
		return 0, ErrDBNotReady
	}
	res := r.db.WithContext(ctx).
		Model(&model.Notification{}).
		Where("user_uid = ? AND conversation_id = ? AND type = ? AND is_read = ?", userUID, convID, typ, false).
		Updates(r.readColumns())
	return res.RowsAffected, res.Error
}

func (r *notificationRepository) CountUnread(ctx context.Context, userUID string) (int64, error) {
	if r.db == nil {
		return 0, ErrDBNotReady
	}
	var cnt int64
	if err := r.db.WithContext(ctx).
		Model(&model.Notification{}).
		Where("user_uid = ? AND is_read = ?", userUID, false).
		Count(&cnt).Error; err != nil {
		return 0, err
	}
	return cnt, nil
}

func (r *notificationRepository) readColumns() map[string]interface{} {
	return map[string]interface{}{"is_read": true, "read_at": r.db.NowFunc()}
}

type DeviceTokenRepository interface {
	// Upsert binds token to userUID, moving it away from any previous owner.
	Upsert(ctx context.Context, userUID, token, platform string) error
	ListByUser(ctx context.Context, userUID string) ([]model.DeviceToken, error)
	Delete(ctx context.Context, token string) error
}

type deviceTokenRepository struct {
	db *gorm.DB
}

func NewDeviceTokenRepository(db *gorm.DB) DeviceTokenRepository {
	return &deviceTokenRepository{db: db}
}

func (r *deviceTokenRepository) Upsert(ctx context.Context, userUID, token, platform string) error {
	if r.db == nil {
		return ErrDBNotReady
	}
	dt := model.DeviceToken{UserUID: userUID, Token: token, Platform: platform}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "token"}},
		DoUpdates: clause.AssignmentColumns([]string{"user_uid", "platform", "updated_at"}),
	}).Create(&dt).Error
}

func (r *deviceTokenRepository) ListByUser(ctx context.Context, userUID string) ([]model.DeviceToken, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	var list []model.DeviceToken
	if err := r.db.WithContext(ctx).Where("user_uid = ?", userUID).Order("id ASC").Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func (r *deviceTokenRepository) Delete(ctx context.Context, token string) error {
	if r.db == nil {
		return ErrDBNotReady
	}
	return r.db.WithContext(ctx).Where("token = ?", token).Delete(&model.DeviceToken{}).Error
}
