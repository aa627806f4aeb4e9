package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adopet/marketchat/internal/model"
	"github.com/adopet/marketchat/internal/realtime"
	"github.com/adopet/marketchat/internal/reqctx"
	"github.com/adopet/marketchat/internal/repository"
	"github.com/labstack/gommon/log"
	"gorm.io/datatypes"
)

// NotifyInput describes one notification for one recipient.
type NotifyInput struct {
	UserUID        string
	Type           string
	Title          string
	Body           string
	Data           map[string]any
	ItemID         *uint64
	ConversationID *uint64
	TransactionID  *uint64
}

type NotificationService interface {
	Notify(ctx context.Context, in NotifyInput)
	List(ctx context.Context, userUID string, unreadOnly bool, limit int) ([]model.Notification, int64, error)
	MarkRead(ctx context.Context, id uint64, userUID string) error
	MarkAllRead(ctx context.Context, userUID string) (int64, error)
	MarkByConversation(ctx context.Context, userUID string, convID uint64) error
	RegisterDevice(ctx context.Context, userUID, token, platform string) error
}

type notificationService struct {
	repo    repository.NotificationRepository
	devices repository.DeviceTokenRepository
	pub     Publisher
	pusher  Pusher
}

// NewNotificationService wires the fanout. devices and pusher may be nil when push is disabled.
func NewNotificationService(repo repository.NotificationRepository, devices repository.DeviceTokenRepository, pub Publisher, pusher Pusher) NotificationService {
	if pub == nil {
		pub = nopPublisher{}
	}
	return &notificationService{repo: repo, devices: devices, pub: pub, pusher: pusher}
}

// Notify is best-effort; it logs errors but does not return them to avoid breaking main flows.
func (s *notificationService) Notify(ctx context.Context, in NotifyInput) {
	if in.UserUID == "" || in.Type == "" {
		return
	}
	n := &model.Notification{
		UserUID:        in.UserUID,
		Type:           in.Type,
		Title:          in.Title,
		Body:           in.Body,
		ItemID:         in.ItemID,
		ConversationID: in.ConversationID,
		TransactionID:  in.TransactionID,
	}
	if len(in.Data) > 0 {
		if raw, err := json.Marshal(in.Data); err == nil {
			n.Data = datatypes.JSON(raw)
		}
	}
	if err := s.repo.Create(ctx, n); err != nil {
		log.Warnf("[notify] rid=%s uid=%s type=%s stage=create_fail err=%v", reqctx.RID(ctx), in.UserUID, in.Type, err)
		return
	}
	if _, err := s.pub.Publish(ctx, realtime.NotificationTopic(in.UserUID), realtime.EventNotificationCreated, n); err != nil {
		log.Warnf("[notify] rid=%s uid=%s stage=publish_fail err=%v", reqctx.RID(ctx), in.UserUID, err)
	}
	if s.pusher != nil && s.devices != nil {
		go s.push(context.WithoutCancel(ctx), n)
	}
}

func (s *notificationService) push(ctx context.Context, n *model.Notification) {
	ctx, cancel := withShortDeadline(ctx)
	defer cancel()
	devs, err := s.devices.ListByUser(ctx, n.UserUID)
	if err != nil || len(devs) == 0 {
		return
	}
	tokens := make([]string, 0, len(devs))
	for _, d := range devs {
		tokens = append(tokens, d.Token)
	}
	data := map[string]string{
		"type":           n.Type,
		"notificationId": strconv.FormatUint(n.ID, 10),
	}
	if n.ConversationID != nil {
		data["conversationId"] = strconv.FormatUint(*n.ConversationID, 10)
	}
	if n.TransactionID != nil {
		data["transactionId"] = strconv.FormatUint(*n.TransactionID, 10)
	}
	stale, err := s.pusher.Send(ctx, tokens, n.Title, n.Body, data)
	if err != nil {
		log.Warnf("[notify] rid=%s uid=%s stage=push_fail err=%v", reqctx.RID(ctx), n.UserUID, err)
	}
	for _, tok := range stale {
		_ = s.devices.Delete(ctx, tok)
	}
}

func (s *notificationService) List(ctx context.Context, userUID string, unreadOnly bool, limit int) ([]model.Notification, int64, error) {
	if userUID == "" {
		return nil, 0, nil
	}
	list, err := s.repo.ListByUser(ctx, userUID, unreadOnly, limit)
	if err != nil {
		return nil, 0, err
	}
	cnt, err := s.repo.CountUnread(ctx, userUID)
	if err != nil {
		return list, 0, err
	}
	return list, cnt, nil
}

// MarkRead is idempotent; unknown ids and notifications of other users are ignored.
func (s *notificationService) MarkRead(ctx context.Context, id uint64, userUID string) error {
	if id == 0 {
		return validationf("notification id is required")
	}
	changed, err := s.repo.MarkRead(ctx, id, userUID)
	if err != nil {
		return err
	}
	if changed {
		s.publishRead(ctx, userUID, []uint64{id})
	}
	return nil
}

func (s *notificationService) MarkAllRead(ctx context.Context, userUID string) (int64, error) {
	if userUID == "" {
		return 0, nil
	}
	n, err := s.repo.MarkAllRead(ctx, userUID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.publishRead(ctx, userUID, nil)
	}
	return n, nil
}

func (s *notificationService) MarkByConversation(ctx context.Context, userUID string, convID uint64) error {
	if userUID == "" || convID == 0 {
		return nil
	}
	n, err := s.repo.MarkConversationRead(ctx, userUID, convID, model.NotificationTypeNewMessage)
	if err != nil {
		return err
	}
	if n > 0 {
		s.publishRead(ctx, userUID, nil)
	}
	return nil
}

func (s *notificationService) RegisterDevice(ctx context.Context, userUID, token, platform string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return validationf("token is required")
	}
	switch platform {
	case "", "ios", "android", "web":
	default:
		return validationf("unknown platform %q", platform)
	}
	if s.devices == nil {
		return fmt.Errorf("push is not configured")
	}
	return s.devices.Upsert(ctx, userUID, token, platform)
}

func (s *notificationService) publishRead(ctx context.Context, userUID string, ids []uint64) {
	payload := map[string]any{"ids": ids, "all": len(ids) == 0}
	if _, err := s.pub.Publish(ctx, realtime.NotificationTopic(userUID), realtime.EventNotificationsRead, payload); err != nil {
		log.Warnf("[notify] rid=%s uid=%s stage=publish_read_fail err=%v", reqctx.RID(ctx), userUID, err)
	}
}

func uint64Ptr(v uint64) *uint64 {
	return &v
}

// withShortDeadline wraps context with a short deadline to avoid blocking main flow.
func withShortDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, 2*time.Second)
}
