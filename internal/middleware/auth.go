package middleware

import (
	"context"
	"net/http"
	"strings"

	"firebase.google.com/go/v4/auth"
	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
)

// DebugUIDHeader lets local runs act as any user without a Firebase token.
const DebugUIDHeader = "X-Debug-UID"

type tokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
}

type AuthMiddleware struct {
	verifier   tokenVerifier
	allowDebug bool
}

// NewAuthMiddleware verifies Firebase ID tokens. client may be nil only when
// allowDebug is set, in which case the debug header is the only way in.
func NewAuthMiddleware(client *auth.Client, allowDebug bool) *AuthMiddleware {
	m := &AuthMiddleware{allowDebug: allowDebug}
	if client != nil {
		m.verifier = client
	}
	return m
}

func (m *AuthMiddleware) RequireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if uid, ok := m.authenticate(c); ok {
			c.Set("uid", uid)
			return next(c)
		}
		return c.JSON(http.StatusUnauthorized, map[string]any{
			"error": map[string]string{"code": "unauthorized", "message": "missing or invalid token"},
		})
	}
}

func (m *AuthMiddleware) authenticate(c echo.Context) (string, bool) {
	req := c.Request()
	if m.allowDebug {
		if uid := strings.TrimSpace(req.Header.Get(DebugUIDHeader)); uid != "" {
			return uid, true
		}
	}
	if m.verifier == nil {
		return "", false
	}
	tokenStr := bearerToken(req)
	if tokenStr == "" {
		return "", false
	}
	token, err := m.verifier.VerifyIDToken(req.Context(), tokenStr)
	if err != nil {
		log.Debugf("[auth] stage=verify_fail err=%v", err)
		return "", false
	}
	return token.UID, true
}

// bearerToken reads the Authorization header, falling back to the token query
// parameter for websocket upgrades, which cannot set headers from browsers.
func bearerToken(req *http.Request) string {
	authz := req.Header.Get("Authorization")
	if strings.HasPrefix(authz, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authz, "Bearer "))
	}
	if req.Header.Get("Upgrade") != "" {
		return req.URL.Query().Get("token")
	}
	return ""
}
