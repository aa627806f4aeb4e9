package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/adopet/marketchat/internal/gateway"
	"github.com/adopet/marketchat/internal/model"
	"github.com/adopet/marketchat/internal/realtime"
	"github.com/adopet/marketchat/internal/repository"
)

func allowManual() TransactionOptions {
	return TransactionOptions{AllowManualConfirmPriced: true}
}

func TestCreateValidatesActorAndAmount(t *testing.T) {
	h := newHarness(t, allowManual())
	ctx := context.Background()
	cv := h.conversation(t)

	if _, err := h.txs.Create(ctx, cv.ID, "buyer", 100); !errors.Is(err, ErrForbidden) {
		t.Fatalf("buyer create: %v", err)
	}
	if _, err := h.txs.Create(ctx, cv.ID, "stranger", 100); !errors.Is(err, ErrForbidden) {
		t.Fatalf("stranger create: %v", err)
	}
	if _, err := h.txs.Create(ctx, cv.ID, "seller", -1); !errors.Is(err, ErrValidation) {
		t.Fatalf("negative amount: %v", err)
	}
	if _, err := h.txs.Create(ctx, 9999, "seller", 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing conversation: %v", err)
	}
}

func TestCodePresentIffPriced(t *testing.T) {
	h := newHarness(t, allowManual())
	ctx := context.Background()
	cv := h.conversation(t)

	for _, amount := range []int64{0, 1, 150000} {
		tx, err := h.txs.Create(ctx, cv.ID, "seller", amount)
		if err != nil {
			t.Fatalf("create %d: %v", amount, err)
		}
		if (tx.Code != nil) != (amount > 0) {
			t.Fatalf("amount=%d code=%v", amount, tx.Code)
		}
		if tx.Code == nil {
			if tx.PaymentMethod != model.PaymentMethodFree {
				t.Fatalf("free transaction method=%s", tx.PaymentMethod)
			}
			continue
		}
		if len(*tx.Code) != codeLength {
			t.Fatalf("code %q has length %d", *tx.Code, len(*tx.Code))
		}
		for _, r := range *tx.Code {
			if !strings.ContainsRune(codeAlphabet, r) {
				t.Fatalf("code %q contains %q", *tx.Code, r)
			}
		}
	}
}

func TestGatewayConfirmation(t *testing.T) {
	h := newHarness(t, allowManual())
	ctx := context.Background()
	cv := h.conversation(t)

	tx, err := h.txs.Create(ctx, cv.ID, "seller", 150000)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if tx.Status != model.TransactionStatusPending {
		t.Fatalf("status=%s", tx.Status)
	}
	if _, err := h.txs.RequestPaymentLink(ctx, tx.ID, "seller"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("seller requesting link: %v", err)
	}
	link, err := h.txs.RequestPaymentLink(ctx, tx.ID, "buyer")
	if err != nil {
		t.Fatalf("request link: %v", err)
	}

	if _, err := h.txs.ConfirmWithGateway(ctx, tx.ID, link.LinkID, "buyer"); !errors.Is(err, ErrNotPaid) {
		t.Fatalf("unpaid confirm: %v", err)
	}
	if err := h.gw.MarkPaid(link.LinkID); err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	done, err := h.txs.ConfirmWithGateway(ctx, tx.ID, link.LinkID, "buyer")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if done.Status != model.TransactionStatusCompleted || done.ConfirmedBy == nil || *done.ConfirmedBy != model.ConfirmedByGateway {
		t.Fatalf("unexpected transaction: %+v", done)
	}
	if done.ExternalLinkID == nil || *done.ExternalLinkID != link.LinkID || done.CompletedAt == nil {
		t.Fatalf("missing completion fields: %+v", done)
	}

	statusCalls := h.gw.StatusCalls
	if _, err := h.txs.ConfirmWithGateway(ctx, tx.ID, link.LinkID, "buyer"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("second confirm: %v", err)
	}
	if _, err := h.txs.ConfirmManually(ctx, tx.ID, "buyer", nil); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("manual after gateway: %v", err)
	}
	if h.gw.StatusCalls != statusCalls {
		t.Fatalf("terminal transaction must not reach the gateway")
	}
	if got, _ := h.revenue.Get(ctx, "seller"); got != 150000 {
		t.Fatalf("revenue=%d want 150000", got)
	}
	stored, _ := h.links.FindByLinkID(ctx, link.LinkID)
	if stored.Status != model.PaymentLinkStatusPaid || stored.ActiveSlot != nil {
		t.Fatalf("link not retired as paid: %+v", stored)
	}
	if got := h.pub.count(realtime.TransactionTopic(cv.ID), realtime.EventTransactionUpdated); got != 1 {
		t.Fatalf("transaction update events=%d want 1", got)
	}
}

func TestFreeTransactionConfirmsManually(t *testing.T) {
	h := newHarness(t, TransactionOptions{})
	ctx := context.Background()
	cv := h.conversation(t)

	tx, err := h.txs.Create(ctx, cv.ID, "seller", 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if tx.Code != nil {
		t.Fatalf("free transaction has code %q", *tx.Code)
	}
	if _, err := h.txs.RequestPaymentLink(ctx, tx.ID, "buyer"); !errors.Is(err, ErrValidation) {
		t.Fatalf("link for free transaction: %v", err)
	}
	if _, err := h.txs.ConfirmManually(ctx, tx.ID, "seller", nil); !errors.Is(err, ErrForbidden) {
		t.Fatalf("seller confirming: %v", err)
	}
	done, err := h.txs.ConfirmManually(ctx, tx.ID, "buyer", nil)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if done.Status != model.TransactionStatusCompleted || *done.ConfirmedBy != model.ConfirmedByBuyer || done.ProofURL != nil {
		t.Fatalf("unexpected transaction: %+v", done)
	}
	if h.gw.CreateCalls != 0 || h.gw.StatusCalls != 0 {
		t.Fatalf("free transaction reached the gateway")
	}
	if got, _ := h.revenue.Get(ctx, "seller"); got != 0 {
		t.Fatalf("revenue=%d want 0", got)
	}
}

func TestManualConfirmOfPricedTransaction(t *testing.T) {
	ctx := context.Background()

	strict := newHarness(t, TransactionOptions{AllowManualConfirmPriced: false})
	cv := strict.conversation(t)
	tx, _ := strict.txs.Create(ctx, cv.ID, "seller", 500)
	if _, err := strict.txs.ConfirmManually(ctx, tx.ID, "buyer", nil); !errors.Is(err, ErrForbidden) {
		t.Fatalf("manual confirm with policy off: %v", err)
	}

	lax := newHarness(t, allowManual())
	cv = lax.conversation(t)
	tx, _ = lax.txs.Create(ctx, cv.ID, "seller", 500)
	link, err := lax.txs.RequestPaymentLink(ctx, tx.ID, "buyer")
	if err != nil {
		t.Fatalf("request link: %v", err)
	}
	proof := "https://storage.example/proof.jpg"
	done, err := lax.txs.ConfirmManually(ctx, tx.ID, "buyer", &proof)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if done.PaymentMethod != model.PaymentMethodManualTransfer || done.ProofURL == nil || *done.ProofURL != proof {
		t.Fatalf("unexpected transaction: %+v", done)
	}
	if _, err := lax.links.FindActive(ctx, tx.ID); err == nil {
		t.Fatalf("outstanding link should be retired")
	}
	if lax.gw.CancelCalls != 1 {
		t.Fatalf("cancel calls=%d want 1", lax.gw.CancelCalls)
	}
	if status, _ := lax.gw.GetLinkStatus(ctx, link.LinkID); status != gateway.StatusCancelled {
		t.Fatalf("gateway link status=%s", status)
	}
	if got, _ := lax.revenue.Get(ctx, "seller"); got != 500 {
		t.Fatalf("revenue=%d want 500", got)
	}
}

func TestCancelThenConfirmFails(t *testing.T) {
	h := newHarness(t, allowManual())
	ctx := context.Background()
	cv := h.conversation(t)
	tx, _ := h.txs.Create(ctx, cv.ID, "seller", 1000)

	if _, err := h.txs.Cancel(ctx, tx.ID, "stranger"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("stranger cancel: %v", err)
	}
	cancelled, err := h.txs.Cancel(ctx, tx.ID, "buyer")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != model.TransactionStatusCancelled || cancelled.CancelledAt == nil {
		t.Fatalf("unexpected transaction: %+v", cancelled)
	}
	if _, err := h.txs.ConfirmManually(ctx, tx.ID, "buyer", nil); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("confirm after cancel: %v", err)
	}
	if _, err := h.txs.Cancel(ctx, tx.ID, "seller"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("second cancel: %v", err)
	}
	if _, err := h.txs.ConfirmWithGateway(ctx, tx.ID, "", "buyer"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("gateway confirm after cancel: %v", err)
	}
	got, _ := h.txs.Get(ctx, tx.ID, "seller")
	if got.Status != model.TransactionStatusCancelled || got.ConfirmedBy != nil {
		t.Fatalf("cancelled transaction changed: %+v", got)
	}
}

func TestCancelRacesConfirm(t *testing.T) {
	h := newHarness(t, allowManual())
	ctx := context.Background()
	cv := h.conversation(t)

	for i := 0; i < 10; i++ {
		tx, err := h.txs.Create(ctx, cv.ID, "seller", 0)
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		var wg sync.WaitGroup
		var cancelErr, confirmErr error
		wg.Add(2)
		go func() { defer wg.Done(); _, cancelErr = h.txs.Cancel(ctx, tx.ID, "seller") }()
		go func() { defer wg.Done(); _, confirmErr = h.txs.ConfirmManually(ctx, tx.ID, "buyer", nil) }()
		wg.Wait()

		if (cancelErr == nil) == (confirmErr == nil) {
			t.Fatalf("round %d: exactly one transition must win, cancel=%v confirm=%v", i, cancelErr, confirmErr)
		}
		loser := cancelErr
		if loser == nil {
			loser = confirmErr
		}
		if !errors.Is(loser, ErrInvalidState) {
			t.Fatalf("round %d: loser error %v", i, loser)
		}
	}
}

func TestConcurrentPaymentLinkRequestsShareOneLink(t *testing.T) {
	h := newHarness(t, allowManual())
	h.gw.Delay = 20 * time.Millisecond
	ctx := context.Background()
	cv := h.conversation(t)
	tx, _ := h.txs.Create(ctx, cv.ID, "seller", 150000)

	const n = 8
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			l, err := h.txs.RequestPaymentLink(ctx, tx.ID, "buyer")
			if err != nil {
				t.Errorf("request %d: %v", i, err)
				return
			}
			ids[i] = l.LinkID
		}(i)
	}
	wg.Wait()
	for i := 1; i < n; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("request %d got link %s, want %s", i, ids[i], ids[0])
		}
	}
	again, err := h.txs.RequestPaymentLink(ctx, tx.ID, "buyer")
	if err != nil || again.LinkID != ids[0] {
		t.Fatalf("sequential request: %+v %v", again, err)
	}
	if h.gw.CreateCalls != 1 {
		t.Fatalf("gateway create calls=%d want 1", h.gw.CreateCalls)
	}
}

func TestExpiredLinkIsReplaced(t *testing.T) {
	h := newHarness(t, allowManual())
	ctx := context.Background()
	cv := h.conversation(t)
	tx, _ := h.txs.Create(ctx, cv.ID, "seller", 2500)

	first, err := h.txs.RequestPaymentLink(ctx, tx.ID, "buyer")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	h.clock.Advance(h.gw.TTL + time.Minute)

	second, err := h.txs.RequestPaymentLink(ctx, tx.ID, "buyer")
	if err != nil {
		t.Fatalf("request after expiry: %v", err)
	}
	if second.LinkID == first.LinkID {
		t.Fatalf("expired link was reused")
	}
	old, _ := h.links.FindByLinkID(ctx, first.LinkID)
	if old.Status != model.PaymentLinkStatusExpired || old.ActiveSlot != nil {
		t.Fatalf("old link not retired: %+v", old)
	}

	if _, err := h.txs.ConfirmWithGateway(ctx, tx.ID, first.LinkID, "buyer"); !errors.Is(err, ErrGateway) || IsRetryable(err) {
		t.Fatalf("confirming an expired link should be a terminal gateway error, got %v", err)
	}
	got, _ := h.txs.Get(ctx, tx.ID, "buyer")
	if got.Status != model.TransactionStatusPending {
		t.Fatalf("status=%s", got.Status)
	}
}

func TestGatewayTimeoutLeavesTransactionPending(t *testing.T) {
	h := newHarness(t, allowManual())
	ctx := context.Background()
	cv := h.conversation(t)
	tx, _ := h.txs.Create(ctx, cv.ID, "seller", 900)
	link, err := h.txs.RequestPaymentLink(ctx, tx.ID, "buyer")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	_ = h.gw.MarkPaid(link.LinkID)

	h.gw.Delay = time.Second
	short, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	_, err = h.txs.ConfirmWithGateway(short, tx.ID, link.LinkID, "buyer")
	if !errors.Is(err, ErrGateway) || !IsRetryable(err) {
		t.Fatalf("expected retryable gateway error, got %v", err)
	}
	got, _ := h.txs.Get(ctx, tx.ID, "buyer")
	if got.Status != model.TransactionStatusPending {
		t.Fatalf("timeout must not transition, status=%s", got.Status)
	}

	h.gw.Delay = 0
	h.gw.FailNext = &gateway.Error{Op: "get_status", StatusCode: 503, Retryable: true, Err: errors.New("unavailable")}
	if _, err := h.txs.ConfirmWithGateway(ctx, tx.ID, link.LinkID, "buyer"); !IsRetryable(err) {
		t.Fatalf("expected retryable error, got %v", err)
	}
	if _, err := h.txs.ConfirmWithGateway(ctx, tx.ID, link.LinkID, "buyer"); err != nil {
		t.Fatalf("retry: %v", err)
	}
}

func TestWebhookAndReconcilerShareConfirmPath(t *testing.T) {
	h := newHarness(t, allowManual())
	ctx := context.Background()
	cv := h.conversation(t)

	hooked, _ := h.txs.Create(ctx, cv.ID, "seller", 100)
	hookLink, err := h.txs.RequestPaymentLink(ctx, hooked.ID, "buyer")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	_ = h.gw.MarkPaid(hookLink.LinkID)
	for i := 0; i < 2; i++ {
		if err := h.txs.HandleWebhook(ctx, gateway.WebhookEvent{LinkID: hookLink.LinkID, Status: gateway.StatusPaid}); err != nil {
			t.Fatalf("webhook delivery %d: %v", i, err)
		}
	}
	if err := h.txs.HandleWebhook(ctx, gateway.WebhookEvent{LinkID: "nope"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown link: %v", err)
	}

	polled, _ := h.txs.Create(ctx, cv.ID, "seller", 200)
	pollLink, err := h.txs.RequestPaymentLink(ctx, polled.ID, "buyer")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	unpaid, _ := h.txs.Create(ctx, cv.ID, "seller", 300)
	if _, err := h.txs.RequestPaymentLink(ctx, unpaid.ID, "buyer"); err != nil {
		t.Fatalf("request: %v", err)
	}
	_ = h.gw.MarkPaid(pollLink.LinkID)

	rec := NewReconciler(h.txs, h.txRepo, h.links, time.Minute)
	n, err := rec.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("completed=%d want 1", n)
	}
	for _, id := range []uint64{hooked.ID, polled.ID} {
		got, _ := h.txs.Get(ctx, id, "seller")
		if got.Status != model.TransactionStatusCompleted || *got.ConfirmedBy != model.ConfirmedByGateway {
			t.Fatalf("tx %d: %+v", id, got)
		}
	}
	if got, _ := h.txs.Get(ctx, unpaid.ID, "seller"); got.Status != model.TransactionStatusPending {
		t.Fatalf("unpaid transaction status=%s", got.Status)
	}
	if got, _ := h.revenue.Get(ctx, "seller"); got != 300 {
		t.Fatalf("revenue=%d want 300", got)
	}
}

func TestTransactionSideEffects(t *testing.T) {
	h := newHarness(t, allowManual())
	ctx := context.Background()
	cv := h.conversation(t)

	tx, _ := h.txs.Create(ctx, cv.ID, "seller", 0)
	if _, err := h.txs.ConfirmManually(ctx, tx.ID, "buyer", nil); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	msgs, _ := h.msgs.List(ctx, cv.ID, "buyer", repository.ListOptions{})
	var events []model.SystemEvent
	for _, m := range msgs {
		if m.Kind != model.MessageKindSystem {
			continue
		}
		p, err := m.DecodedPayload()
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		events = append(events, p.(model.SystemPayload).Event)
	}
	if len(events) != 2 || events[0] != model.SystemEventTransactionCreated || events[1] != model.SystemEventTransactionCompleted {
		t.Fatalf("system messages: %v", events)
	}
	list, _, _ := h.notifs.List(ctx, "buyer", false, 0)
	found := false
	for _, n := range list {
		if n.Type == model.NotificationTypeTransactionCreated && n.TransactionID != nil && *n.TransactionID == tx.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("buyer was not notified of the new transaction: %+v", list)
	}
	txs, err := h.txs.ListForConversation(ctx, cv.ID, "buyer")
	if err != nil || len(txs) != 1 {
		t.Fatalf("list: %+v %v", txs, err)
	}
	if _, err := h.txs.ListForConversation(ctx, cv.ID, "stranger"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("stranger list: %v", err)
	}
}

func TestSweepReachesLinksBeyondOneBatch(t *testing.T) {
	h := newHarness(t, allowManual())
	ctx := context.Background()
	cv := h.conversation(t)

	rec := NewReconciler(h.txs, h.txRepo, h.links, time.Minute)
	var last *model.PaymentLink
	var lastTx uint64
	for i := 0; i <= rec.batch; i++ {
		tx, err := h.txs.Create(ctx, cv.ID, "seller", 100)
		if err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
		if last, err = h.txs.RequestPaymentLink(ctx, tx.ID, "buyer"); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		lastTx = tx.ID
	}
	_ = h.gw.MarkPaid(last.LinkID)

	n, err := rec.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("completed=%d want 1", n)
	}
	if got, _ := h.txs.Get(ctx, lastTx, "seller"); got.Status != model.TransactionStatusCompleted {
		t.Fatalf("last transaction status=%s", got.Status)
	}
}

func TestEarlyWebhookLeavesTransactionPending(t *testing.T) {
	h := newHarness(t, allowManual())
	ctx := context.Background()
	cv := h.conversation(t)

	tx, _ := h.txs.Create(ctx, cv.ID, "seller", 100)
	link, err := h.txs.RequestPaymentLink(ctx, tx.ID, "buyer")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if err := h.txs.HandleWebhook(ctx, gateway.WebhookEvent{LinkID: link.LinkID, Status: gateway.StatusPaid}); err != nil {
		t.Fatalf("webhook before payment: %v", err)
	}
	_, err = h.txs.ConfirmWithGateway(ctx, tx.ID, link.LinkID, "buyer")
	if !errors.Is(err, ErrNotPaid) || errors.Is(err, ErrInvalidState) {
		t.Fatalf("unpaid confirm: %v", err)
	}
	if got, _ := h.txs.Get(ctx, tx.ID, "seller"); got.Status != model.TransactionStatusPending {
		t.Fatalf("status=%s", got.Status)
	}
}
