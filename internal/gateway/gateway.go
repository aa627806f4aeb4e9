package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type LinkStatus string

const (
	StatusPending   LinkStatus = "pending"
	StatusPaid      LinkStatus = "paid"
	StatusCancelled LinkStatus = "cancelled"
	StatusExpired   LinkStatus = "expired"
)

func (s LinkStatus) Valid() bool {
	switch s {
	case StatusPending, StatusPaid, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

type Link struct {
	LinkID    string     `json:"linkId"`
	URL       string     `json:"url"`
	QRPayload string     `json:"qrPayload"`
	Amount    int64      `json:"amount"`
	Status    LinkStatus `json:"status"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// LinkRequest asks the provider for a payable link. Requests with the same
// TransactionID and Attempt are idempotent on the provider side.
type LinkRequest struct {
	TransactionID uint64
	Attempt       int
	Amount        int64
	Description   string
	ReturnURL     string
	Metadata      map[string]string
}

func (r LinkRequest) IdempotencyKey() string {
	return fmt.Sprintf("tx-%d-%d", r.TransactionID, r.Attempt)
}

// Gateway is the boundary to the external payment provider. Each call is a single
// bounded round trip; retry cadence belongs to the caller.
type Gateway interface {
	CreateLink(ctx context.Context, req LinkRequest) (*Link, error)
	GetLinkStatus(ctx context.Context, linkID string) (LinkStatus, error)
	CancelLink(ctx context.Context, linkID string) error
}

var ErrLinkNotFound = errors.New("payment link not found")

// Error is returned for every failed gateway call. Retryable is true for transport
// failures, timeouts, throttling and provider 5xx.
type Error struct {
	Op         string
	Retryable  bool
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("gateway %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func IsRetryable(err error) bool {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr.Retryable
	}
	return errors.Is(err, context.DeadlineExceeded)
}
