package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/adopet/marketchat/internal/gateway"
	"github.com/adopet/marketchat/internal/model"
	"github.com/adopet/marketchat/internal/repository"
	"github.com/adopet/marketchat/internal/service"
	"github.com/labstack/echo/v4"
)

func newContext(method, target, body string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return resp
}

func TestRespondErrorMapping(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		status    int
		code      string
		retryable bool
	}{
		{"validation", fmt.Errorf("%w: content is required", service.ErrValidation), http.StatusBadRequest, "bad_request", false},
		{"forbidden", service.ErrForbidden, http.StatusForbidden, "forbidden", false},
		{"not found", service.ErrNotFound, http.StatusNotFound, "not_found", false},
		{"invalid state", fmt.Errorf("%w: transaction is already completed", service.ErrInvalidState), http.StatusConflict, "invalid_state", false},
		{"payment pending", service.ErrNotPaid, http.StatusConflict, "payment_pending", true},
		{"retryable gateway", &service.GatewayError{Op: "create", Retryable: true, Err: context.DeadlineExceeded}, http.StatusServiceUnavailable, "gateway_unavailable", true},
		{"terminal gateway", &service.GatewayError{Op: "create", Status: 422, Err: errors.New("rejected")}, http.StatusBadGateway, "gateway_error", false},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal_error", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, rec := newContext(http.MethodGet, "/", "")
			if err := respondError(c, tt.err); err != nil {
				t.Fatalf("respond: %v", err)
			}
			resp := decodeError(t, rec)
			if rec.Code != tt.status || resp.Error.Code != tt.code || resp.Error.Retryable != tt.retryable {
				t.Fatalf("got %d %+v", rec.Code, resp.Error)
			}
		})
	}
}

func TestDetailStripsSentinel(t *testing.T) {
	err := fmt.Errorf("%w: content is required", service.ErrValidation)
	if got := detail(err, service.ErrValidation); got != "content is required" {
		t.Fatalf("got %q", got)
	}
}

type stubMessages struct {
	service.MessageService
	sent    []service.SendInput
	sendErr error
	history []model.Message
}

func (s *stubMessages) Send(_ context.Context, in service.SendInput) (*model.Message, error) {
	if s.sendErr != nil {
		return nil, s.sendErr
	}
	s.sent = append(s.sent, in)
	return &model.Message{ID: 7, ConversationID: in.ConversationID, SenderUID: in.SenderUID, Content: in.Content, Kind: in.Kind}, nil
}

func (s *stubMessages) List(_ context.Context, _ uint64, _ string, _ repository.ListOptions) ([]model.Message, error) {
	return s.history, nil
}

func TestMessageHandlerSend(t *testing.T) {
	tests := []struct {
		name   string
		uid    string
		id     string
		body   string
		status int
	}{
		{"text", "buyer", "5", `{"content":"hi"}`, http.StatusCreated},
		{"image payload", "buyer", "5", `{"kind":"image","payload":{"url":"https://x/y.png"}}`, http.StatusCreated},
		{"payload for text", "buyer", "5", `{"content":"hi","payload":{"url":"x"}}`, http.StatusBadRequest},
		{"bad id", "buyer", "abc", `{"content":"hi"}`, http.StatusBadRequest},
		{"no uid", "", "5", `{"content":"hi"}`, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgs := &stubMessages{}
			h := NewMessageHandler(msgs)
			c, rec := newContext(http.MethodPost, "/", tt.body)
			c.SetParamNames("id")
			c.SetParamValues(tt.id)
			if tt.uid != "" {
				c.Set("uid", tt.uid)
			}
			if err := h.Send(c); err != nil {
				t.Fatalf("send: %v", err)
			}
			if rec.Code != tt.status {
				t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
			}
			if tt.status == http.StatusCreated && (len(msgs.sent) != 1 || msgs.sent[0].ConversationID != 5 || msgs.sent[0].SenderUID != tt.uid) {
				t.Fatalf("unexpected send input: %+v", msgs.sent)
			}
		})
	}
}

func TestMessageHandlerSendDecodesPayload(t *testing.T) {
	msgs := &stubMessages{}
	h := NewMessageHandler(msgs)
	c, rec := newContext(http.MethodPost, "/", `{"kind":"item_reference","payload":{"itemId":42}}`)
	c.SetParamNames("id")
	c.SetParamValues("5")
	c.Set("uid", "seller")
	if err := h.Send(c); err != nil {
		t.Fatalf("send: %v", err)
	}
	if rec.Code != http.StatusCreated || len(msgs.sent) != 1 {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	ref, ok := msgs.sent[0].Payload.(model.ItemReferencePayload)
	if !ok || ref.ItemID != 42 {
		t.Fatalf("payload not decoded: %#v", msgs.sent[0].Payload)
	}
}

func TestMessageHandlerSendMapsServiceErrors(t *testing.T) {
	h := NewMessageHandler(&stubMessages{sendErr: fmt.Errorf("%w: conversation is closed", service.ErrInvalidState)})
	c, rec := newContext(http.MethodPost, "/", `{"content":"hi"}`)
	c.SetParamNames("id")
	c.SetParamValues("5")
	c.Set("uid", "buyer")
	if err := h.Send(c); err != nil {
		t.Fatalf("send: %v", err)
	}
	if resp := decodeError(t, rec); rec.Code != http.StatusConflict || resp.Error.Message != "conversation is closed" {
		t.Fatalf("got %d %+v", rec.Code, resp)
	}
}

type stubTransactions struct {
	service.TransactionService
	webhooks []gateway.WebhookEvent
	err      error
}

func (s *stubTransactions) HandleWebhook(_ context.Context, ev gateway.WebhookEvent) error {
	s.webhooks = append(s.webhooks, ev)
	return s.err
}

func TestWebhookHandler(t *testing.T) {
	const secret = "whsec"
	body := []byte(`{"linkId":"lnk_1","reference":"tx-1","status":"paid"}`)
	tests := []struct {
		name      string
		signature string
		svcErr    error
		status    int
		calls     int
	}{
		{"valid", gateway.Sign(secret, body), nil, http.StatusOK, 1},
		{"bad signature", gateway.Sign("other", body), nil, http.StatusUnauthorized, 0},
		{"missing signature", "", nil, http.StatusUnauthorized, 0},
		{"unknown link", gateway.Sign(secret, body), service.ErrNotFound, http.StatusOK, 1},
		{"retryable", gateway.Sign(secret, body), &service.GatewayError{Op: "status", Retryable: true, Err: context.DeadlineExceeded}, http.StatusServiceUnavailable, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubTransactions{err: tt.svcErr}
			h := NewWebhookHandler(svc, secret)
			e := echo.New()
			req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", bytes.NewReader(body))
			if tt.signature != "" {
				req.Header.Set(gateway.SignatureHeader, tt.signature)
			}
			rec := httptest.NewRecorder()
			if err := h.Payment(e.NewContext(req, rec)); err != nil {
				t.Fatalf("payment: %v", err)
			}
			if rec.Code != tt.status || len(svc.webhooks) != tt.calls {
				t.Fatalf("status=%d calls=%d", rec.Code, len(svc.webhooks))
			}
			if tt.calls == 1 && svc.webhooks[0].LinkID != "lnk_1" {
				t.Fatalf("unexpected event %+v", svc.webhooks[0])
			}
		})
	}
}
