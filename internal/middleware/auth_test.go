package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"firebase.google.com/go/v4/auth"
	"github.com/adopet/marketchat/internal/reqctx"
	"github.com/labstack/echo/v4"
)

type fakeVerifier map[string]string

func (f fakeVerifier) VerifyIDToken(_ context.Context, token string) (*auth.Token, error) {
	uid, ok := f[token]
	if !ok {
		return nil, errors.New("bad token")
	}
	return &auth.Token{UID: uid}, nil
}

func TestRequireAuth(t *testing.T) {
	tests := []struct {
		name       string
		allowDebug bool
		headers    map[string]string
		target     string
		wantStatus int
		wantUID    string
	}{
		{"valid bearer", false, map[string]string{"Authorization": "Bearer good"}, "/", http.StatusOK, "u1"},
		{"invalid bearer", false, map[string]string{"Authorization": "Bearer nope"}, "/", http.StatusUnauthorized, ""},
		{"missing header", false, nil, "/", http.StatusUnauthorized, ""},
		{"debug header disabled", false, map[string]string{DebugUIDHeader: "dev"}, "/", http.StatusUnauthorized, ""},
		{"debug header enabled", true, map[string]string{DebugUIDHeader: "dev"}, "/", http.StatusOK, "dev"},
		{"query token on upgrade", false, map[string]string{"Upgrade": "websocket"}, "/?token=good", http.StatusOK, "u1"},
		{"query token without upgrade", false, nil, "/?token=good", http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &AuthMiddleware{verifier: fakeVerifier{"good": "u1"}, allowDebug: tt.allowDebug}
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)
			var gotUID string
			h := m.RequireAuth(func(c echo.Context) error {
				gotUID, _ = c.Get("uid").(string)
				return c.NoContent(http.StatusOK)
			})
			if err := h(c); err != nil {
				t.Fatalf("handler: %v", err)
			}
			if rec.Code != tt.wantStatus || gotUID != tt.wantUID {
				t.Fatalf("status=%d uid=%q want %d %q", rec.Code, gotUID, tt.wantStatus, tt.wantUID)
			}
		})
	}
}

func TestRequestContextCarriesRID(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(echo.HeaderXRequestID, "rid-1")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	var got string
	h := RequestContext(func(c echo.Context) error {
		got = reqctx.RID(c.Request().Context())
		return nil
	})
	if err := h(c); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if got != "rid-1" {
		t.Fatalf("rid=%q", got)
	}
}
