package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/adopet/marketchat/internal/reqctx"
	"github.com/labstack/gommon/log"
	"golang.org/x/time/rate"
)

// HTTPClient talks JSON to a payment-link provider.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
	limiter    *rate.Limiter
}

func NewHTTPClient(baseURL, apiKey string, timeout time.Duration, rps float64, httpClient *http.Client) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		timeout:    timeout,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(limit, 1),
	}
}

type createLinkBody struct {
	Reference   string            `json:"reference"`
	Amount      int64             `json:"amount"`
	Description string            `json:"description"`
	ReturnURL   string            `json:"returnUrl,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type linkBody struct {
	LinkID      string     `json:"linkId"`
	CheckoutURL string     `json:"checkoutUrl"`
	QRCode      string     `json:"qrCode"`
	Amount      int64      `json:"amount"`
	Status      LinkStatus `json:"status"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
}

func (c *HTTPClient) CreateLink(ctx context.Context, req LinkRequest) (*Link, error) {
	if req.Amount <= 0 {
		return nil, &Error{Op: "create_link", Err: errors.New("amount must be positive")}
	}
	rid := reqctx.RID(ctx)
	start := time.Now()
	log.Infof("[gateway] rid=%s tx=%d stage=create_start attempt=%d", rid, req.TransactionID, req.Attempt)
	body := createLinkBody{
		Reference:   req.IdempotencyKey(),
		Amount:      req.Amount,
		Description: req.Description,
		ReturnURL:   req.ReturnURL,
		Metadata:    req.Metadata,
	}
	var out linkBody
	if err := c.do(ctx, "create_link", http.MethodPost, "/v1/payment-links", body, &out, req.IdempotencyKey()); err != nil {
		log.Warnf("[gateway] rid=%s tx=%d stage=create_fail err=%v", rid, req.TransactionID, err)
		return nil, err
	}
	if out.LinkID == "" {
		return nil, &Error{Op: "create_link", Err: errors.New("response missing linkId")}
	}
	if out.Status == "" {
		out.Status = StatusPending
	}
	log.Infof("[gateway] rid=%s tx=%d stage=create_done link=%s ms=%d", rid, req.TransactionID, out.LinkID, time.Since(start).Milliseconds())
	return &Link{
		LinkID:    out.LinkID,
		URL:       out.CheckoutURL,
		QRPayload: out.QRCode,
		Amount:    out.Amount,
		Status:    out.Status,
		ExpiresAt: out.ExpiresAt,
	}, nil
}

func (c *HTTPClient) GetLinkStatus(ctx context.Context, linkID string) (LinkStatus, error) {
	var out linkBody
	if err := c.do(ctx, "get_status", http.MethodGet, "/v1/payment-links/"+url.PathEscape(linkID), nil, &out, ""); err != nil {
		log.Warnf("[gateway] rid=%s tx=%d stage=status_fail link=%s err=%v", reqctx.RID(ctx), reqctx.TransactionID(ctx), linkID, err)
		return "", err
	}
	if !out.Status.Valid() {
		return "", &Error{Op: "get_status", Err: fmt.Errorf("unknown status %q", out.Status)}
	}
	log.Debugf("[gateway] rid=%s tx=%d stage=status_done link=%s status=%s", reqctx.RID(ctx), reqctx.TransactionID(ctx), linkID, out.Status)
	return out.Status, nil
}

func (c *HTTPClient) CancelLink(ctx context.Context, linkID string) error {
	return c.do(ctx, "cancel_link", http.MethodPost, "/v1/payment-links/"+url.PathEscape(linkID)+"/cancel", struct{}{}, nil, "")
}

func (c *HTTPClient) do(ctx context.Context, op, method, path string, in, out any, idemKey string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return &Error{Op: op, Retryable: true, Err: err}
	}

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return &Error{Op: op, Err: err}
		}
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return &Error{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}
	if idemKey != "" {
		req.Header.Set("Idempotency-Key", idemKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{Op: op, Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	resBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return &Error{Op: op, StatusCode: resp.StatusCode, Err: ErrLinkNotFound}
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return &Error{Op: op, Retryable: true, StatusCode: resp.StatusCode, Err: errors.New(truncate(string(resBody), 300))}
	case resp.StatusCode >= 300:
		return &Error{Op: op, StatusCode: resp.StatusCode, Err: errors.New(truncate(string(resBody), 300))}
	}
	if out == nil || len(resBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(resBody, out); err != nil {
		return &Error{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	return s[:n] + "..." + strconv.Itoa(len(s)-n) + " more bytes"
}
