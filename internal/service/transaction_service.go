package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/adopet/marketchat/internal/gateway"
	"github.com/adopet/marketchat/internal/model"
	"github.com/adopet/marketchat/internal/realtime"
	"github.com/adopet/marketchat/internal/reqctx"
	"github.com/adopet/marketchat/internal/repository"
	"github.com/google/uuid"
	"github.com/labstack/gommon/log"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

// ActorSystem identifies calls made by the webhook and the reconciler rather than a user.
const ActorSystem = "@system"


const maxProofBytes = 10 << 20

type TransactionOptions struct {
	AllowManualConfirmPriced bool
	ReturnURL                string
	Now                      func() time.Time
}

type TransactionService interface {
	Create(ctx context.Context, convID uint64, actorUID string, amount int64) (*model.Transaction, error)
	Get(ctx context.Context, txID uint64, actorUID string) (*model.Transaction, error)
	ListForConversation(ctx context.Context, convID uint64, actorUID string) ([]model.Transaction, error)
	RequestPaymentLink(ctx context.Context, txID uint64, actorUID string) (*model.PaymentLink, error)
	// ConfirmWithGateway re-checks linkID with the provider and completes the transaction
	// when it reports paid. An empty linkID means the transaction's active link.
	ConfirmWithGateway(ctx context.Context, txID uint64, linkID, actorUID string) (*model.Transaction, error)
	ConfirmManually(ctx context.Context, txID uint64, actorUID string, proofURL *string) (*model.Transaction, error)
	Cancel(ctx context.Context, txID uint64, actorUID string) (*model.Transaction, error)
	UploadProof(ctx context.Context, txID uint64, actorUID, filename, contentType string, r io.Reader) (string, error)
	HandleWebhook(ctx context.Context, ev gateway.WebhookEvent) error
}

type transactionService struct {
	txRepo   repository.TransactionRepository
	linkRepo repository.PaymentLinkRepository
	convRepo repository.ConversationRepository
	messages MessageService
	notifier NotificationService
	revenue  RevenueService
	gw       gateway.Gateway
	blobs    BlobStore
	pub      Publisher
	opts     TransactionOptions
	group    singleflight.Group
}

func NewTransactionService(
	txRepo repository.TransactionRepository,
	linkRepo repository.PaymentLinkRepository,
	convRepo repository.ConversationRepository,
	messages MessageService,
	notifier NotificationService,
	revenue RevenueService,
	gw gateway.Gateway,
	blobs BlobStore,
	pub Publisher,
	opts TransactionOptions,
) TransactionService {
	if pub == nil {
		pub = nopPublisher{}
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &transactionService{
		txRepo:   txRepo,
		linkRepo: linkRepo,
		convRepo: convRepo,
		messages: messages,
		notifier: notifier,
		revenue:  revenue,
		gw:       gw,
		blobs:    blobs,
		pub:      pub,
		opts:     opts,
	}
}

func (s *transactionService) Create(ctx context.Context, convID uint64, actorUID string, amount int64) (*model.Transaction, error) {
	if amount < 0 {
		return nil, validationf("amount must not be negative")
	}
	cv, err := s.conversation(ctx, convID)
	if err != nil {
		return nil, err
	}
	if actorUID != cv.SellerUID {
		return nil, ErrForbidden
	}
	if !cv.IsActive {
		return nil, invalidStatef("conversation is closed")
	}

	t := &model.Transaction{
		ConversationID: cv.ID,
		ItemID:         cv.ItemID,
		SellerUID:      cv.SellerUID,
		BuyerUID:       cv.BuyerUID,
		Amount:         amount,
		Status:         model.TransactionStatusPending,
		PaymentMethod:  model.PaymentMethodFree,
	}
	if amount > 0 {
		t.PaymentMethod = model.PaymentMethodGateway
	}
	if err := s.insertWithCode(ctx, t); err != nil {
		return nil, err
	}
	log.Infof("[tx] rid=%s tx=%d conv=%d amount=%d stage=created", reqctx.RID(ctx), t.ID, cv.ID, amount)

	s.publish(ctx, t, realtime.EventTransactionCreated, t)
	s.systemMessage(ctx, cv, actorUID, t, model.SystemEventTransactionCreated)
	s.notify(ctx, t, cv.BuyerUID, model.NotificationTypeTransactionCreated, "New transaction", createdBody(t))
	return t, nil
}

// insertWithCode retries on the rare code collision reported by the unique index.
func (s *transactionService) insertWithCode(ctx context.Context, t *model.Transaction) error {
	const attempts = 5
	for i := 0; ; i++ {
		if t.Amount > 0 {
			code, err := newTransactionCode()
			if err != nil {
				return err
			}
			t.Code = &code
		}
		err := s.txRepo.Create(ctx, t)
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) || t.Code == nil || i+1 >= attempts {
			return err
		}
		t.ID = 0
	}
}

func (s *transactionService) Get(ctx context.Context, txID uint64, actorUID string) (*model.Transaction, error) {
	return s.participantTx(ctx, txID, actorUID)
}

func (s *transactionService) ListForConversation(ctx context.Context, convID uint64, actorUID string) ([]model.Transaction, error) {
	cv, err := s.conversation(ctx, convID)
	if err != nil {
		return nil, err
	}
	if !cv.IsParticipant(actorUID) {
		return nil, ErrForbidden
	}
	return s.txRepo.ListByConversation(ctx, cv.ID)
}

func (s *transactionService) RequestPaymentLink(ctx context.Context, txID uint64, actorUID string) (*model.PaymentLink, error) {
	t, err := s.participantTx(ctx, txID, actorUID)
	if err != nil {
		return nil, err
	}
	if actorUID != t.BuyerUID {
		return nil, ErrForbidden
	}
	if t.Amount == 0 {
		return nil, validationf("free transactions have no payment link")
	}
	if t.Status != model.TransactionStatusPending {
		return nil, invalidStatef("transaction is %s", t.Status)
	}
	if s.gw == nil {
		return nil, &GatewayError{Op: "create_link", Err: errors.New("payment gateway is not configured")}
	}

	ctx = reqctx.WithTransactionID(ctx, t.ID)
	v, err, _ := s.group.Do("link:"+strconv.FormatUint(t.ID, 10), func() (interface{}, error) {
		return s.getOrCreateLink(context.WithoutCancel(ctx), t)
	})
	if err != nil {
		return nil, err
	}
	l := *v.(*model.PaymentLink)
	return &l, nil
}

// getOrCreateLink returns the usable link of t, minting one when none exists. Concurrent
// callers on this node share one call; the unique active-slot index covers other nodes.
func (s *transactionService) getOrCreateLink(ctx context.Context, t *model.Transaction) (*model.PaymentLink, error) {
	now := s.opts.Now()
	existing, err := s.linkRepo.FindActive(ctx, t.ID)
	switch {
	case err == nil && existing.Usable(now):
		return existing, nil
	case err == nil:
		status := existing.Status
		if status == model.PaymentLinkStatusPending {
			status = model.PaymentLinkStatusExpired
		}
		if _, err := s.linkRepo.Retire(ctx, existing.ID, status); err != nil {
			return nil, err
		}
		log.Infof("[tx] rid=%s tx=%d link=%s stage=link_retired status=%s", reqctx.RID(ctx), t.ID, existing.LinkID, status)
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, err
	}

	prior, err := s.linkRepo.CountForTransaction(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	code := ""
	if t.Code != nil {
		code = *t.Code
	}
	gl, err := s.gw.CreateLink(ctx, gateway.LinkRequest{
		TransactionID: t.ID,
		Attempt:       int(prior) + 1,
		Amount:        t.Amount,
		Description:   "Transaction " + code,
		ReturnURL:     s.opts.ReturnURL,
		Metadata: map[string]string{
			"conversationId": strconv.FormatUint(t.ConversationID, 10),
			"code":           code,
		},
	})
	if err != nil {
		return nil, wrapGateway("create_link", err)
	}
	if gl.Status != gateway.StatusPending {
		return nil, &GatewayError{Op: "create_link", Err: fmt.Errorf("provider returned a %s link", gl.Status)}
	}

	if known, err := s.linkRepo.FindByLinkID(ctx, gl.LinkID); err == nil {
		if known.ActiveSlot != nil && known.TransactionID == t.ID {
			return known, nil
		}
		return nil, &GatewayError{Op: "create_link", Err: fmt.Errorf("provider reissued retired link %s", gl.LinkID)}
	}

	l := &model.PaymentLink{
		TransactionID: t.ID,
		LinkID:        gl.LinkID,
		URL:           gl.URL,
		QRPayload:     gl.QRPayload,
		Amount:        t.Amount,
		ExpiresAt:     gl.ExpiresAt,
	}
	if err := s.linkRepo.Create(ctx, l); err != nil {
		if winner, findErr := s.linkRepo.FindActive(ctx, t.ID); findErr == nil {
			return winner, nil
		}
		return nil, err
	}
	log.Infof("[tx] rid=%s tx=%d link=%s stage=link_created", reqctx.RID(ctx), t.ID, l.LinkID)
	s.publish(ctx, t, realtime.EventPaymentLinkCreated, l)
	return l, nil
}

func (s *transactionService) ConfirmWithGateway(ctx context.Context, txID uint64, linkID, actorUID string) (*model.Transaction, error) {
	t, err := s.loadTx(ctx, txID)
	if err != nil {
		return nil, err
	}
	if actorUID != ActorSystem && !t.IsParticipant(actorUID) {
		return nil, ErrForbidden
	}
	if t.Status.Terminal() {
		return nil, invalidStatef("transaction is already %s", t.Status)
	}
	if t.Amount == 0 {
		return nil, validationf("free transactions are confirmed manually")
	}
	if s.gw == nil {
		return nil, &GatewayError{Op: "get_status", Err: errors.New("payment gateway is not configured")}
	}

	var link *model.PaymentLink
	if linkID == "" {
		link, err = s.linkRepo.FindActive(ctx, t.ID)
	} else {
		link, err = s.linkRepo.FindByLinkID(ctx, linkID)
	}
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if link.TransactionID != t.ID {
		return nil, validationf("link does not belong to this transaction")
	}

	ctx = reqctx.WithTransactionID(ctx, t.ID)
	status, err := s.gw.GetLinkStatus(ctx, link.LinkID)
	if err != nil {
		return nil, wrapGateway("get_status", err)
	}
	switch status {
	case gateway.StatusPending:
		return nil, ErrNotPaid
	case gateway.StatusExpired, gateway.StatusCancelled:
		if _, err := s.linkRepo.Retire(ctx, link.ID, model.PaymentLinkStatus(status)); err != nil {
			return nil, err
		}
		return nil, &GatewayError{Op: "get_status", Err: fmt.Errorf("payment link %s", status)}
	}

	now := s.opts.Now()
	updated, err := s.transition(ctx, t, model.TransactionStatusCompleted, map[string]interface{}{
		"completed_at":     now,
		"confirmed_by":     model.ConfirmedByGateway,
		"external_link_id": link.LinkID,
		"payment_method":   model.PaymentMethodGateway,
	})
	if err != nil {
		return nil, err
	}
	if _, err := s.linkRepo.Retire(ctx, link.ID, model.PaymentLinkStatusPaid); err != nil {
		log.Warnf("[tx] rid=%s tx=%d link=%s stage=link_retire_fail err=%v", reqctx.RID(ctx), t.ID, link.LinkID, err)
	}
	log.Infof("[tx] rid=%s tx=%d link=%s actor=%s stage=completed_gateway", reqctx.RID(ctx), t.ID, link.LinkID, actorUID)
	s.afterComplete(ctx, updated, actorUID)
	return updated, nil
}

func (s *transactionService) ConfirmManually(ctx context.Context, txID uint64, actorUID string, proofURL *string) (*model.Transaction, error) {
	t, err := s.participantTx(ctx, txID, actorUID)
	if err != nil {
		return nil, err
	}
	if actorUID != t.BuyerUID {
		return nil, ErrForbidden
	}
	if t.Status.Terminal() {
		return nil, invalidStatef("transaction is already %s", t.Status)
	}
	if t.Amount > 0 && !s.opts.AllowManualConfirmPriced {
		return nil, fmt.Errorf("%w: priced transactions must be confirmed through the gateway", ErrForbidden)
	}

	updates := map[string]interface{}{
		"completed_at": s.opts.Now(),
		"confirmed_by": model.ConfirmedByBuyer,
	}
	if proofURL != nil && strings.TrimSpace(*proofURL) != "" {
		updates["proof_url"] = strings.TrimSpace(*proofURL)
	}
	if t.Amount > 0 {
		updates["payment_method"] = model.PaymentMethodManualTransfer
	}
	updated, err := s.transition(ctx, t, model.TransactionStatusCompleted, updates)
	if err != nil {
		return nil, err
	}
	log.Infof("[tx] rid=%s tx=%d stage=completed_manual", reqctx.RID(ctx), t.ID)
	s.retireActiveLink(ctx, t.ID, model.PaymentLinkStatusCancelled)
	s.afterComplete(ctx, updated, actorUID)
	return updated, nil
}

func (s *transactionService) Cancel(ctx context.Context, txID uint64, actorUID string) (*model.Transaction, error) {
	t, err := s.participantTx(ctx, txID, actorUID)
	if err != nil {
		return nil, err
	}
	if t.Status != model.TransactionStatusPending {
		return nil, invalidStatef("transaction is already %s", t.Status)
	}
	updated, err := s.transition(ctx, t, model.TransactionStatusCancelled, map[string]interface{}{
		"cancelled_at": s.opts.Now(),
	})
	if err != nil {
		return nil, err
	}
	log.Infof("[tx] rid=%s tx=%d actor=%s stage=cancelled", reqctx.RID(ctx), t.ID, actorUID)
	s.retireActiveLink(ctx, t.ID, model.PaymentLinkStatusCancelled)

	s.publish(ctx, updated, realtime.EventTransactionUpdated, updated)
	if cv, err := s.conversation(ctx, updated.ConversationID); err == nil {
		s.systemMessage(ctx, cv, actorUID, updated, model.SystemEventTransactionCancelled)
	}
	other := updated.SellerUID
	if actorUID == updated.SellerUID {
		other = updated.BuyerUID
	}
	s.notify(ctx, updated, other, model.NotificationTypeTransactionCancelled, "Transaction cancelled", codeLabel(updated)+" was cancelled")
	return updated, nil
}

func (s *transactionService) UploadProof(ctx context.Context, txID uint64, actorUID, filename, contentType string, r io.Reader) (string, error) {
	t, err := s.participantTx(ctx, txID, actorUID)
	if err != nil {
		return "", err
	}
	if actorUID != t.BuyerUID {
		return "", ErrForbidden
	}
	if t.Status != model.TransactionStatusPending {
		return "", invalidStatef("transaction is already %s", t.Status)
	}
	if !strings.HasPrefix(contentType, "image/") {
		return "", validationf("proof must be an image")
	}
	if s.blobs == nil {
		return "", errors.New("blob store is not configured")
	}
	ext := strings.ToLower(path.Ext(filename))
	if ext == "" {
		ext = ".jpg"
	}
	object := fmt.Sprintf("proofs/%d/%s%s", t.ID, uuid.NewString(), ext)
	url, err := s.blobs.Upload(ctx, object, contentType, io.LimitReader(r, maxProofBytes))
	if err != nil {
		return "", err
	}
	log.Infof("[tx] rid=%s tx=%d stage=proof_uploaded object=%s", reqctx.RID(ctx), t.ID, object)
	return url, nil
}

// HandleWebhook feeds a provider callback into the same confirmation path as a poll.
// Replays and events for already settled transactions are acknowledged without effect.
func (s *transactionService) HandleWebhook(ctx context.Context, ev gateway.WebhookEvent) error {
	link, err := s.linkRepo.FindByLinkID(ctx, ev.LinkID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	}
	_, err = s.ConfirmWithGateway(ctx, link.TransactionID, link.LinkID, ActorSystem)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrValidation):
		return nil
	case errors.Is(err, ErrNotPaid):
		// early callback; the reconciler will see the payment later
		log.Infof("[tx] rid=%s link=%s stage=webhook_not_paid", reqctx.RID(ctx), ev.LinkID)
		return nil
	case errors.Is(err, ErrGateway) && !IsRetryable(err):
		return nil
	}
	return err
}

// transition applies the compare-and-set and returns the fresh row. Losing the race
// is reported as ErrInvalidState.
func (s *transactionService) transition(ctx context.Context, t *model.Transaction, to model.TransactionStatus, updates map[string]interface{}) (*model.Transaction, error) {
	ok, err := s.txRepo.Transition(ctx, t.ID, model.TransactionStatusPending, to, updates)
	if err != nil {
		return nil, err
	}
	current, err := s.txRepo.FindByID(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, invalidStatef("transaction is already %s", current.Status)
	}
	return current, nil
}

func (s *transactionService) afterComplete(ctx context.Context, t *model.Transaction, actorUID string) {
	if t.Amount > 0 && s.revenue != nil {
		if err := s.revenue.Credit(ctx, t.SellerUID, t.Amount); err != nil {
			log.Errorf("[tx] rid=%s tx=%d stage=revenue_fail err=%v", reqctx.RID(ctx), t.ID, err)
		}
	}
	s.publish(ctx, t, realtime.EventTransactionUpdated, t)
	if cv, err := s.conversation(ctx, t.ConversationID); err == nil {
		s.systemMessage(ctx, cv, actorUID, t, model.SystemEventTransactionCompleted)
	}
	recipients := []string{t.SellerUID}
	if actorUID == ActorSystem {
		recipients = append(recipients, t.BuyerUID)
	}
	for _, uid := range recipients {
		s.notify(ctx, t, uid, model.NotificationTypeTransactionCompleted, "Transaction completed", codeLabel(t)+" is complete")
	}
}

// retireActiveLink frees the transaction's link slot and cancels it with the provider,
// best-effort.
func (s *transactionService) retireActiveLink(ctx context.Context, txID uint64, status model.PaymentLinkStatus) {
	link, err := s.linkRepo.FindActive(ctx, txID)
	if err != nil {
		return
	}
	if _, err := s.linkRepo.Retire(ctx, link.ID, status); err != nil {
		log.Warnf("[tx] rid=%s tx=%d link=%s stage=link_retire_fail err=%v", reqctx.RID(ctx), txID, link.LinkID, err)
		return
	}
	if s.gw == nil {
		return
	}
	gctx, cancel := withShortDeadline(context.WithoutCancel(ctx))
	defer cancel()
	if err := s.gw.CancelLink(gctx, link.LinkID); err != nil {
		log.Warnf("[tx] rid=%s tx=%d link=%s stage=link_cancel_fail err=%v", reqctx.RID(ctx), txID, link.LinkID, err)
	}
}

func (s *transactionService) publish(ctx context.Context, t *model.Transaction, typ string, data any) {
	if _, err := s.pub.Publish(ctx, realtime.TransactionTopic(t.ConversationID), typ, data); err != nil {
		log.Warnf("[tx] rid=%s tx=%d stage=publish_fail type=%s err=%v", reqctx.RID(ctx), t.ID, typ, err)
	}
}

func (s *transactionService) systemMessage(ctx context.Context, cv *model.Conversation, actorUID string, t *model.Transaction, ev model.SystemEvent) {
	if s.messages == nil {
		return
	}
	p := model.SystemPayload{Event: ev, TransactionID: t.ID, Amount: t.Amount, Status: string(t.Status)}
	if _, err := s.messages.PostSystem(ctx, cv, actorUID, systemText(t, ev), p); err != nil {
		log.Warnf("[tx] rid=%s tx=%d stage=system_message_fail err=%v", reqctx.RID(ctx), t.ID, err)
	}
}

func (s *transactionService) notify(ctx context.Context, t *model.Transaction, uid, typ, title, body string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, NotifyInput{
		UserUID:        uid,
		Type:           typ,
		Title:          title,
		Body:           body,
		Data:           map[string]any{"status": t.Status, "amount": t.Amount},
		ItemID:         uint64Ptr(t.ItemID),
		ConversationID: uint64Ptr(t.ConversationID),
		TransactionID:  uint64Ptr(t.ID),
	})
}

func (s *transactionService) conversation(ctx context.Context, convID uint64) (*model.Conversation, error) {
	cv, err := s.convRepo.FindByID(ctx, convID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return cv, nil
}

func (s *transactionService) loadTx(ctx context.Context, txID uint64) (*model.Transaction, error) {
	t, err := s.txRepo.FindByID(ctx, txID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return t, nil
}

func (s *transactionService) participantTx(ctx context.Context, txID uint64, actorUID string) (*model.Transaction, error) {
	t, err := s.loadTx(ctx, txID)
	if err != nil {
		return nil, err
	}
	if !t.IsParticipant(actorUID) {
		return nil, ErrForbidden
	}
	return t, nil
}

func codeLabel(t *model.Transaction) string {
	if t.Code != nil {
		return "Transaction " + *t.Code
	}
	return "Free handover"
}

func createdBody(t *model.Transaction) string {
	if t.Amount == 0 {
		return "The seller offered the item for free"
	}
	return fmt.Sprintf("%s for %d is waiting for payment", codeLabel(t), t.Amount)
}

func systemText(t *model.Transaction, ev model.SystemEvent) string {
	switch ev {
	case model.SystemEventTransactionCreated:
		return createdBody(t)
	case model.SystemEventTransactionCompleted:
		return codeLabel(t) + " completed"
	case model.SystemEventTransactionCancelled:
		return codeLabel(t) + " cancelled"
	}
	return string(ev)
}
