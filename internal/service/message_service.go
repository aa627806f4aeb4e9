package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/adopet/marketchat/internal/model"
	"github.com/adopet/marketchat/internal/realtime"
	"github.com/adopet/marketchat/internal/reqctx"
	"github.com/adopet/marketchat/internal/repository"
	"github.com/labstack/gommon/log"
	"gorm.io/gorm"
)

const maxMessageRunes = 4000

type SendInput struct {
	ConversationID uint64
	SenderUID      string
	Content        string
	Kind           model.MessageKind
	Payload        model.Payload
}

type MessageService interface {
	List(ctx context.Context, convID uint64, viewerUID string, opts repository.ListOptions) ([]model.Message, error)
	Send(ctx context.Context, in SendInput) (*model.Message, error)
	// PostSystem appends a system message on behalf of a participant. Callers have
	// already authorized the action that produced it.
	PostSystem(ctx context.Context, cv *model.Conversation, senderUID, content string, p model.SystemPayload) (*model.Message, error)
	MarkAsRead(ctx context.Context, convID uint64, viewerUID string) (int64, error)
	UnreadCount(ctx context.Context, convID uint64, viewerUID string) (int64, error)
}

type messageService struct {
	convRepo repository.ConversationRepository
	msgRepo  repository.MessageRepository
	catalog  ItemCatalog
	notifier NotificationService
	names    Directory
	pub      Publisher
	locks    *keyedMutex
}

func NewMessageService(convRepo repository.ConversationRepository, msgRepo repository.MessageRepository, catalog ItemCatalog, notifier NotificationService, names Directory, pub Publisher) MessageService {
	if pub == nil {
		pub = nopPublisher{}
	}
	return &messageService{
		convRepo: convRepo,
		msgRepo:  msgRepo,
		catalog:  catalog,
		notifier: notifier,
		names:    names,
		pub:      pub,
		locks:    newKeyedMutex(),
	}
}

func (s *messageService) List(ctx context.Context, convID uint64, viewerUID string, opts repository.ListOptions) ([]model.Message, error) {
	if opts.Limit < 0 || opts.Limit > 500 {
		return nil, validationf("limit must be between 0 and 500")
	}
	if _, err := s.participant(ctx, convID, viewerUID); err != nil {
		return nil, err
	}
	return s.msgRepo.List(ctx, convID, opts)
}

func (s *messageService) Send(ctx context.Context, in SendInput) (*model.Message, error) {
	if in.Kind == "" {
		in.Kind = model.MessageKindText
	}
	if !in.Kind.Valid() {
		return nil, validationf("unknown message kind %q", in.Kind)
	}
	if in.Kind == model.MessageKindSystem {
		return nil, validationf("system messages cannot be sent by users")
	}
	content := strings.TrimSpace(in.Content)
	if in.Kind == model.MessageKindText && content == "" {
		return nil, validationf("content is required")
	}
	if utf8.RuneCountInString(content) > maxMessageRunes {
		return nil, validationf("content exceeds %d characters", maxMessageRunes)
	}

	cv, err := s.participant(ctx, in.ConversationID, in.SenderUID)
	if err != nil {
		return nil, err
	}
	if !cv.IsActive {
		return nil, invalidStatef("conversation is closed")
	}

	payload := in.Payload
	if in.Kind == model.MessageKindItemReference {
		if payload, err = s.itemPreview(ctx, payload); err != nil {
			return nil, err
		}
	}
	raw, err := model.EncodePayload(in.Kind, payload)
	if err != nil {
		return nil, validationf("%v", err)
	}

	msg := &model.Message{
		ConversationID: cv.ID,
		SenderUID:      in.SenderUID,
		Content:        content,
		Kind:           in.Kind,
		Payload:        raw,
	}
	if err := s.appendAndPublish(ctx, cv, msg); err != nil {
		return nil, err
	}

	recipient := cv.Counterparty(in.SenderUID)
	if s.notifier != nil {
		s.notifier.Notify(ctx, NotifyInput{
			UserUID:        recipient,
			Type:           model.NotificationTypeNewMessage,
			Title:          fmt.Sprintf("New message from %s", s.displayName(ctx, in.SenderUID)),
			Body:           preview(msg),
			Data:           map[string]any{"messageId": msg.ID},
			ItemID:         uint64Ptr(cv.ItemID),
			ConversationID: uint64Ptr(cv.ID),
		})
	}
	return msg, nil
}

func (s *messageService) PostSystem(ctx context.Context, cv *model.Conversation, senderUID, content string, p model.SystemPayload) (*model.Message, error) {
	if !cv.IsParticipant(senderUID) {
		senderUID = cv.SellerUID
	}
	raw, err := model.EncodePayload(model.MessageKindSystem, p)
	if err != nil {
		return nil, err
	}
	msg := &model.Message{
		ConversationID: cv.ID,
		SenderUID:      senderUID,
		Content:        content,
		Kind:           model.MessageKindSystem,
		Payload:        raw,
	}
	if err := s.appendAndPublish(ctx, cv, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// appendAndPublish holds the conversation lock across insert and publish so that
// subscribers see messages in commit order.
func (s *messageService) appendAndPublish(ctx context.Context, cv *model.Conversation, msg *model.Message) error {
	unlock := s.locks.Lock(cv.ID)
	if err := s.msgRepo.Append(ctx, msg, cv.Counterparty(msg.SenderUID)); err != nil {
		unlock()
		return err
	}
	if _, err := s.pub.Publish(ctx, realtime.ConversationTopic(cv.ID), realtime.EventMessageCreated, msg); err != nil {
		log.Warnf("[message] rid=%s conv=%d msg=%d stage=publish_fail err=%v", reqctx.RID(ctx), cv.ID, msg.ID, err)
	}
	unlock()

	update := map[string]any{
		"conversationId": cv.ID,
		"lastMessageAt":  msg.CreatedAt,
		"lastMessage":    preview(msg),
		"senderUid":      msg.SenderUID,
	}
	for _, uid := range []string{cv.BuyerUID, cv.SellerUID} {
		if _, err := s.pub.Publish(ctx, realtime.ConversationListTopic(uid), realtime.EventConversationUpdated, update); err != nil {
			log.Warnf("[message] rid=%s conv=%d stage=publish_list_fail err=%v", reqctx.RID(ctx), cv.ID, err)
		}
	}
	return nil
}

func (s *messageService) MarkAsRead(ctx context.Context, convID uint64, viewerUID string) (int64, error) {
	cv, err := s.participant(ctx, convID, viewerUID)
	if err != nil {
		return 0, err
	}
	n, err := s.msgRepo.MarkRead(ctx, cv.ID, viewerUID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		if _, err := s.pub.Publish(ctx, realtime.ConversationTopic(cv.ID), realtime.EventMessagesRead, map[string]any{
			"conversationId": cv.ID,
			"readerUid":      viewerUID,
			"count":          n,
		}); err != nil {
			log.Warnf("[message] rid=%s conv=%d stage=publish_read_fail err=%v", reqctx.RID(ctx), cv.ID, err)
		}
	}
	if s.notifier != nil {
		if err := s.notifier.MarkByConversation(ctx, viewerUID, cv.ID); err != nil {
			log.Warnf("[message] rid=%s conv=%d stage=notif_read_fail err=%v", reqctx.RID(ctx), cv.ID, err)
		}
	}
	return n, nil
}

func (s *messageService) UnreadCount(ctx context.Context, convID uint64, viewerUID string) (int64, error) {
	cv, err := s.participant(ctx, convID, viewerUID)
	if err != nil {
		return 0, err
	}
	return s.msgRepo.CountUnread(ctx, cv.ID, viewerUID)
}

func (s *messageService) participant(ctx context.Context, convID uint64, uid string) (*model.Conversation, error) {
	cv, err := s.convRepo.FindByID(ctx, convID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !cv.IsParticipant(uid) {
		return nil, ErrForbidden
	}
	return cv, nil
}

// itemPreview replaces whatever the client sent with catalog data for the referenced item.
func (s *messageService) itemPreview(ctx context.Context, p model.Payload) (model.Payload, error) {
	ref, ok := p.(model.ItemReferencePayload)
	if !ok {
		if ptr, isPtr := p.(*model.ItemReferencePayload); isPtr && ptr != nil {
			ref, ok = *ptr, true
		}
	}
	if !ok || ref.ItemID == 0 {
		return nil, validationf("item reference requires an item id")
	}
	if s.catalog == nil {
		return ref, nil
	}
	item, err := s.catalog.Get(ctx, ref.ItemID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, validationf("item %d does not exist", ref.ItemID)
		}
		return nil, err
	}
	return model.ItemReferencePayload{
		ItemID:       item.ID,
		Title:        item.Title,
		Price:        item.Price,
		ThumbnailURL: item.ImageURL,
	}, nil
}

func (s *messageService) displayName(ctx context.Context, uid string) string {
	if s.names != nil {
		if name := s.names.DisplayName(ctx, uid); name != "" {
			return name
		}
	}
	return "your chat partner"
}

func preview(m *model.Message) string {
	switch m.Kind {
	case model.MessageKindImage:
		return "Sent a photo"
	case model.MessageKindItemReference:
		return "Shared an item"
	}
	if utf8.RuneCountInString(m.Content) > 80 {
		r := []rune(m.Content)
		return string(r[:80]) + "..."
	}
	return m.Content
}
