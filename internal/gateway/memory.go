package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Memory is an in-process Gateway for local development and tests. CreateLink returns
// the existing usable link of a transaction instead of minting a second one.
type Memory struct {
	mu      sync.Mutex
	links   map[string]*Link
	byTx    map[uint64]string
	seq     int
	TTL     time.Duration
	BaseURL string
	Now     func() time.Time

	CreateCalls int
	StatusCalls int
	CancelCalls int

	// FailNext, when set, is returned (and cleared) by the next call of any method.
	FailNext error
	// Delay is slept inside each call, honouring ctx.
	Delay time.Duration
}

func NewMemory() *Memory {
	return &Memory{
		links:   make(map[string]*Link),
		byTx:    make(map[uint64]string),
		TTL:     15 * time.Minute,
		BaseURL: "https://pay.local/checkout/",
		Now:     func() time.Time { return time.Now().UTC() },
	}
}

func (m *Memory) enter(ctx context.Context, op string) error {
	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return &Error{Op: op, Retryable: true, Err: ctx.Err()}
		}
	}
	if m.FailNext != nil {
		err := m.FailNext
		m.FailNext = nil
		return err
	}
	return nil
}

func (m *Memory) CreateLink(ctx context.Context, req LinkRequest) (*Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CreateCalls++
	if err := m.enter(ctx, "create_link"); err != nil {
		return nil, err
	}
	if req.Amount <= 0 {
		return nil, &Error{Op: "create_link", Err: errors.New("amount must be positive")}
	}
	if id, ok := m.byTx[req.TransactionID]; ok {
		l := m.links[id]
		m.expireLocked(l)
		if l.Status == StatusPending {
			cp := *l
			return &cp, nil
		}
	}
	m.seq++
	id := fmt.Sprintf("plink_%d_%d", req.TransactionID, m.seq)
	exp := m.Now().Add(m.TTL)
	l := &Link{
		LinkID:    id,
		URL:       m.BaseURL + id,
		QRPayload: fmt.Sprintf("PAY|%s|%d", id, req.Amount),
		Amount:    req.Amount,
		Status:    StatusPending,
		ExpiresAt: &exp,
	}
	m.links[id] = l
	m.byTx[req.TransactionID] = id
	cp := *l
	return &cp, nil
}

func (m *Memory) GetLinkStatus(ctx context.Context, linkID string) (LinkStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StatusCalls++
	if err := m.enter(ctx, "get_status"); err != nil {
		return "", err
	}
	l, ok := m.links[linkID]
	if !ok {
		return "", &Error{Op: "get_status", StatusCode: 404, Err: ErrLinkNotFound}
	}
	m.expireLocked(l)
	return l.Status, nil
}

func (m *Memory) CancelLink(ctx context.Context, linkID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CancelCalls++
	if err := m.enter(ctx, "cancel_link"); err != nil {
		return err
	}
	l, ok := m.links[linkID]
	if !ok {
		return &Error{Op: "cancel_link", StatusCode: 404, Err: ErrLinkNotFound}
	}
	if l.Status == StatusPending {
		l.Status = StatusCancelled
	}
	return nil
}

// MarkPaid simulates the payer completing checkout.
func (m *Memory) MarkPaid(linkID string) error {
	return m.set(linkID, StatusPaid)
}

// Expire forces the link past its deadline.
func (m *Memory) Expire(linkID string) error {
	return m.set(linkID, StatusExpired)
}

func (m *Memory) set(linkID string, st LinkStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.links[linkID]
	if !ok {
		return ErrLinkNotFound
	}
	l.Status = st
	return nil
}

func (m *Memory) expireLocked(l *Link) {
	if l.Status == StatusPending && l.ExpiresAt != nil && !m.Now().Before(*l.ExpiresAt) {
		l.Status = StatusExpired
	}
}
