package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/adopet/marketchat/internal/model"
	"github.com/adopet/marketchat/internal/realtime"
	"github.com/adopet/marketchat/internal/reqctx"
	"github.com/adopet/marketchat/internal/repository"
	"github.com/labstack/gommon/log"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

type ConversationService interface {
	// GetOrCreate is the only creation path for conversations.
	GetOrCreate(ctx context.Context, itemID uint64, buyerUID, sellerUID string) (*model.Conversation, error)
	// Start opens a conversation on behalf of actorUID. Missing buyer defaults to the
	// actor, missing seller is taken from the catalog.
	Start(ctx context.Context, actorUID string, itemID uint64, buyerUID, sellerUID string) (*model.Conversation, error)
	ExpressInterest(ctx context.Context, itemID uint64, buyerUID string) (*model.Conversation, error)
	List(ctx context.Context, uid string) ([]model.Conversation, error)
	Get(ctx context.Context, convID uint64, uid string) (*model.Conversation, error)
	Archive(ctx context.Context, convID uint64, uid string) error
}

type conversationService struct {
	convRepo repository.ConversationRepository
	msgRepo  repository.MessageRepository
	catalog  ItemCatalog
	notifier NotificationService
	names    Directory
	pub      Publisher
	group    singleflight.Group
}

func NewConversationService(convRepo repository.ConversationRepository, msgRepo repository.MessageRepository, catalog ItemCatalog, notifier NotificationService, names Directory, pub Publisher) ConversationService {
	if pub == nil {
		pub = nopPublisher{}
	}
	return &conversationService{
		convRepo: convRepo,
		msgRepo:  msgRepo,
		catalog:  catalog,
		notifier: notifier,
		names:    names,
		pub:      pub,
	}
}

type getOrCreateResult struct {
	conv    *model.Conversation
	created bool
}

func (s *conversationService) GetOrCreate(ctx context.Context, itemID uint64, buyerUID, sellerUID string) (*model.Conversation, error) {
	res, err := s.getOrCreate(ctx, itemID, buyerUID, sellerUID)
	if err != nil {
		return nil, err
	}
	return res.conv, nil
}

func (s *conversationService) getOrCreate(ctx context.Context, itemID uint64, buyerUID, sellerUID string) (getOrCreateResult, error) {
	if itemID == 0 {
		return getOrCreateResult{}, validationf("item id is required")
	}
	if buyerUID == "" || sellerUID == "" {
		return getOrCreateResult{}, validationf("buyer and seller are required")
	}
	if buyerUID == sellerUID {
		return getOrCreateResult{}, validationf("cannot chat with yourself")
	}

	// only the caller that ran the insert reports created
	executed := false
	key := fmt.Sprintf("%d|%s|%s", itemID, buyerUID, sellerUID)
	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		executed = true
		return s.findOrInsert(context.WithoutCancel(ctx), itemID, buyerUID, sellerUID)
	})
	if err != nil {
		return getOrCreateResult{}, err
	}
	res := v.(getOrCreateResult)
	cv := *res.conv
	return getOrCreateResult{conv: &cv, created: res.created && executed}, nil
}

// findOrInsert runs once per triple at a time on this node. The unique active-slot
// index covers callers on other nodes: a losing insert re-reads the winner.
func (s *conversationService) findOrInsert(ctx context.Context, itemID uint64, buyerUID, sellerUID string) (getOrCreateResult, error) {
	cv, err := s.convRepo.FindActive(ctx, itemID, buyerUID, sellerUID)
	if err == nil {
		if err := s.convRepo.SetHidden(ctx, cv.ID, buyerUID, false); err != nil {
			return getOrCreateResult{}, err
		}
		return getOrCreateResult{conv: cv}, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return getOrCreateResult{}, err
	}

	cv = &model.Conversation{ItemID: itemID, BuyerUID: buyerUID, SellerUID: sellerUID}
	if err := s.convRepo.Create(ctx, cv); err != nil {
		existing, findErr := s.convRepo.FindActive(ctx, itemID, buyerUID, sellerUID)
		if findErr != nil {
			return getOrCreateResult{}, err
		}
		return getOrCreateResult{conv: existing}, nil
	}
	log.Infof("[conversation] rid=%s conv=%d item=%d stage=created", reqctx.RID(ctx), cv.ID, itemID)
	for _, uid := range []string{buyerUID, sellerUID} {
		if _, err := s.pub.Publish(ctx, realtime.ConversationListTopic(uid), realtime.EventConversationCreated, cv); err != nil {
			log.Warnf("[conversation] rid=%s conv=%d stage=publish_fail err=%v", reqctx.RID(ctx), cv.ID, err)
		}
	}
	return getOrCreateResult{conv: cv, created: true}, nil
}

func (s *conversationService) Start(ctx context.Context, actorUID string, itemID uint64, buyerUID, sellerUID string) (*model.Conversation, error) {
	if actorUID == "" {
		return nil, ErrForbidden
	}
	if buyerUID == "" {
		buyerUID = actorUID
	}
	if sellerUID == "" {
		item, err := s.catalog.Get(ctx, itemID)
		if err != nil {
			return nil, err
		}
		if item.SellerUID == "" {
			return nil, validationf("item has no seller")
		}
		sellerUID = item.SellerUID
	}
	if actorUID != buyerUID && actorUID != sellerUID {
		return nil, ErrForbidden
	}
	return s.GetOrCreate(ctx, itemID, buyerUID, sellerUID)
}

func (s *conversationService) ExpressInterest(ctx context.Context, itemID uint64, buyerUID string) (*model.Conversation, error) {
	if buyerUID == "" {
		return nil, ErrForbidden
	}
	item, err := s.catalog.Get(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.SellerUID == "" {
		return nil, validationf("item has no seller")
	}
	res, err := s.getOrCreate(ctx, itemID, buyerUID, item.SellerUID)
	if err != nil {
		return nil, err
	}
	if res.created && s.notifier != nil {
		s.notifier.Notify(ctx, NotifyInput{
			UserUID:        item.SellerUID,
			Type:           model.NotificationTypeItemLiked,
			Title:          "Someone is interested in your item",
			Body:           fmt.Sprintf("%s liked %s", s.displayName(ctx, buyerUID), item.Title),
			ItemID:         uint64Ptr(item.ID),
			ConversationID: uint64Ptr(res.conv.ID),
		})
	}
	return res.conv, nil
}

func (s *conversationService) List(ctx context.Context, uid string) ([]model.Conversation, error) {
	if uid == "" {
		return nil, ErrForbidden
	}
	list, err := s.convRepo.ListVisible(ctx, uid)
	if err != nil {
		return nil, err
	}
	ids := make([]uint64, 0, len(list))
	for _, cv := range list {
		ids = append(ids, cv.ID)
	}
	unread, err := s.msgRepo.UnreadByConversation(ctx, ids, uid)
	if err != nil {
		return nil, err
	}
	for i := range list {
		list[i].UnreadCount = unread[list[i].ID]
	}
	return list, nil
}

func (s *conversationService) Get(ctx context.Context, convID uint64, uid string) (*model.Conversation, error) {
	cv, err := s.load(ctx, convID, uid)
	if err != nil {
		return nil, err
	}
	cnt, err := s.msgRepo.CountUnread(ctx, cv.ID, uid)
	if err != nil {
		return nil, err
	}
	cv.UnreadCount = cnt
	return cv, nil
}

// Archive hides the conversation for uid only. Once both participants have hidden
// it the conversation is closed and a later GetOrCreate starts a fresh one.
func (s *conversationService) Archive(ctx context.Context, convID uint64, uid string) error {
	cv, err := s.load(ctx, convID, uid)
	if err != nil {
		return err
	}
	if !cv.IsActive {
		return nil
	}
	if err := s.convRepo.SetHidden(ctx, cv.ID, uid, true); err != nil {
		return err
	}
	hidden, err := s.convRepo.CountHidden(ctx, cv.ID)
	if err != nil {
		return err
	}
	notify := []string{uid}
	if hidden >= 2 {
		closed, err := s.convRepo.Close(ctx, cv.ID)
		if err != nil {
			return err
		}
		if closed {
			cv.IsActive = false
			notify = append(notify, cv.Counterparty(uid))
			log.Infof("[conversation] rid=%s conv=%d stage=closed", reqctx.RID(ctx), cv.ID)
		}
	}
	for _, u := range notify {
		if _, err := s.pub.Publish(ctx, realtime.ConversationListTopic(u), realtime.EventConversationArchived, map[string]any{
			"conversationId": cv.ID,
			"isActive":       cv.IsActive,
		}); err != nil {
			log.Warnf("[conversation] rid=%s conv=%d stage=publish_fail err=%v", reqctx.RID(ctx), cv.ID, err)
		}
	}
	return nil
}

func (s *conversationService) load(ctx context.Context, convID uint64, uid string) (*model.Conversation, error) {
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

func (s *conversationService) displayName(ctx context.Context, uid string) string {
	if s.names == nil {
		return "A buyer"
	}
	if name := s.names.DisplayName(ctx, uid); name != "" {
		return name
	}
	return "A buyer"
}
