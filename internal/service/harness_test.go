package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/adopet/marketchat/internal/db"
	"github.com/adopet/marketchat/internal/gateway"
	"github.com/adopet/marketchat/internal/model"
	"github.com/adopet/marketchat/internal/realtime"
	"github.com/adopet/marketchat/internal/repository"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var dbSeq atomic.Int64

type recordingPublisher struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (p *recordingPublisher) Publish(_ context.Context, topic, typ string, data any) (realtime.Event, error) {
	ev, err := realtime.NewEvent(topic, typ, data)
	if err != nil {
		return ev, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	ev.Seq = uint64(len(p.events) + 1)
	p.events = append(p.events, ev)
	return ev, nil
}

func (p *recordingPublisher) count(topic, typ string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, ev := range p.events {
		if ev.Topic == topic && ev.Type == typ {
			n++
		}
	}
	return n
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type stubNames map[string]string

func (n stubNames) DisplayName(_ context.Context, uid string) string { return n[uid] }

type harness struct {
	db      *gorm.DB
	pub     *recordingPublisher
	gw      *gateway.Memory
	clock   *fakeClock
	items   repository.ItemRepository
	revenue RevenueService
	notifs  NotificationService
	convs   ConversationService
	msgs    MessageService
	txs     TransactionService
	txRepo  repository.TransactionRepository
	links   repository.PaymentLinkRepository
}

func newHarness(t *testing.T, opts TransactionOptions) *harness {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_test_%d?mode=memory&cache=shared", dbSeq.Add(1))
	conn, err := db.OpenSQLite(dsn, logger.Silent)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := db.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := conn.DB(); err == nil {
			sqlDB.Close()
		}
	})

	h := &harness{
		db:    conn,
		pub:   &recordingPublisher{},
		gw:    gateway.NewMemory(),
		clock: &fakeClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)},
	}
	h.gw.Now = h.clock.Now
	opts.Now = h.clock.Now

	h.items = repository.NewItemRepository(conn)
	convRepo := repository.NewConversationRepository(conn)
	msgRepo := repository.NewMessageRepository(conn)
	h.txRepo = repository.NewTransactionRepository(conn)
	h.links = repository.NewPaymentLinkRepository(conn)
	names := stubNames{"buyer": "Bea", "seller": "Sam"}

	catalog := NewItemCatalog(h.items)
	h.revenue = NewRevenueService(repository.NewUserRevenueRepository(conn))
	h.notifs = NewNotificationService(repository.NewNotificationRepository(conn), repository.NewDeviceTokenRepository(conn), h.pub, nil)
	h.convs = NewConversationService(convRepo, msgRepo, catalog, h.notifs, names, h.pub)
	h.msgs = NewMessageService(convRepo, msgRepo, catalog, h.notifs, names, h.pub)
	h.txs = NewTransactionService(h.txRepo, h.links, convRepo, h.msgs, h.notifs, h.revenue, h.gw, nil, h.pub, opts)
	return h
}

func (h *harness) item(t *testing.T, seller string, price uint) *model.Item {
	t.Helper()
	it := &model.Item{SellerUID: seller, Title: "Vintage lamp", Description: "works", Price: price}
	if err := h.items.Create(context.Background(), it); err != nil {
		t.Fatalf("create item: %v", err)
	}
	return it
}

func (h *harness) conversation(t *testing.T) *model.Conversation {
	t.Helper()
	it := h.item(t, "seller", 150000)
	cv, err := h.convs.GetOrCreate(context.Background(), it.ID, "buyer", "seller")
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	return cv
}

func (h *harness) send(t *testing.T, convID uint64, sender, content string) *model.Message {
	t.Helper()
	m, err := h.msgs.Send(context.Background(), SendInput{ConversationID: convID, SenderUID: sender, Content: content})
	if err != nil {
		t.Fatalf("send %q: %v", content, err)
	}
	return m
}
