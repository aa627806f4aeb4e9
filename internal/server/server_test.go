package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/adopet/marketchat/internal/config"
	"github.com/adopet/marketchat/internal/db"
	"github.com/adopet/marketchat/internal/gateway"
	"github.com/adopet/marketchat/internal/identity"
	appmw "github.com/adopet/marketchat/internal/middleware"
	"github.com/adopet/marketchat/internal/model"
	"github.com/adopet/marketchat/internal/realtime"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestServer(t *testing.T) (*Server, *gorm.DB) {
	t.Helper()
	conn, err := db.OpenSQLite("file:server_test?mode=memory&cache=shared", logger.Silent)
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
	broker := realtime.NewBroker()
	t.Cleanup(func() { broker.Close() })
	cfg := &config.Config{AppEnv: "development", CORSAllowedSuffix: "example.app", AllowManualConfirmPriced: true}
	srv := New(cfg, conn, Deps{
		Transport: broker,
		Gateway:   gateway.NewMemory(),
		Auth:      appmw.NewAuthMiddleware(nil, true),
		Names:     identity.Static{"buyer": "Bea", "seller": "Sam"},
	}, "abc123", "now")
	return srv, conn
}

func do(t *testing.T, srv *Server, method, path, uid, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if uid != "" {
		req.Header.Set(appmw.DebugUIDHeader, uid)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestRoutesEndToEnd(t *testing.T) {
	srv, conn := newTestServer(t)
	item := &model.Item{SellerUID: "seller", Title: "Desk", Description: "oak", Price: 0}
	if err := conn.Create(item).Error; err != nil {
		t.Fatalf("seed item: %v", err)
	}

	if rec := do(t, srv, http.MethodGet, "/healthz", "", ""); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "abc123") {
		t.Fatalf("healthz: %d %s", rec.Code, rec.Body.String())
	}
	if rec := do(t, srv, http.MethodGet, "/api/conversations", "", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated list: %d", rec.Code)
	}

	rec := do(t, srv, http.MethodPost, "/api/items/1/interest", "buyer", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("interest: %d %s", rec.Code, rec.Body.String())
	}
	var cv struct {
		ConversationID uint64 `json:"conversationId"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &cv); err != nil || cv.ConversationID == 0 {
		t.Fatalf("decode conversation: %v %s", err, rec.Body.String())
	}

	if rec := do(t, srv, http.MethodPost, "/api/conversations/1/messages", "buyer", `{"content":"is it still available?"}`); rec.Code != http.StatusCreated {
		t.Fatalf("send: %d %s", rec.Code, rec.Body.String())
	}
	if rec := do(t, srv, http.MethodPost, "/api/conversations/1/messages", "stranger", `{"content":"hi"}`); rec.Code != http.StatusForbidden {
		t.Fatalf("stranger send: %d", rec.Code)
	}
	rec = do(t, srv, http.MethodGet, "/api/conversations/1/unread", "seller", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"unreadCount":1`) {
		t.Fatalf("unread: %d %s", rec.Code, rec.Body.String())
	}

	rec = do(t, srv, http.MethodPost, "/api/conversations/1/transactions", "seller", `{"amount":0}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create tx: %d %s", rec.Code, rec.Body.String())
	}
	rec = do(t, srv, http.MethodPost, "/api/transactions/1/confirm-manual", "buyer", `{}`)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"completed"`) {
		t.Fatalf("confirm: %d %s", rec.Code, rec.Body.String())
	}
	rec = do(t, srv, http.MethodPost, "/api/transactions/1/cancel", "buyer", "")
	if rec.Code != http.StatusConflict || !strings.Contains(rec.Body.String(), "invalid_state") {
		t.Fatalf("cancel after completion: %d %s", rec.Code, rec.Body.String())
	}

	rec = do(t, srv, http.MethodGet, "/api/notifications?unread_only=true", "seller", "")
	if rec.Code != http.StatusOK || strings.Contains(rec.Body.String(), `"unreadCount":0`) {
		t.Fatalf("seller notifications: %d %s", rec.Code, rec.Body.String())
	}
}

func TestOriginMatcher(t *testing.T) {
	match := originMatcher("example.app")
	tests := []struct {
		origin string
		want   bool
	}{
		{"http://localhost:3000", true},
		{"https://127.0.0.1:8443", true},
		{"https://shop.example.app", true},
		{"https://example.app.evil.com", false},
		{"ftp://shop.example.app", false},
		{"https://other.dev", false},
	}
	for _, tt := range tests {
		if got := match(tt.origin); got != tt.want {
			t.Errorf("%s: got %v want %v", tt.origin, got, tt.want)
		}
	}
}
