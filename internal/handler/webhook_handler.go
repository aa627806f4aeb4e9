package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/adopet/marketchat/internal/gateway"
	"github.com/adopet/marketchat/internal/reqctx"
	"github.com/adopet/marketchat/internal/service"
	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
)

const maxWebhookBytes = 64 << 10

// WebhookHandler receives payment provider callbacks. It is mounted without
// RequireAuth; the HMAC signature is the authentication.
type WebhookHandler struct {
	svc    service.TransactionService
	secret string
}

func NewWebhookHandler(svc service.TransactionService, secret string) *WebhookHandler {
	return &WebhookHandler{svc: svc, secret: secret}
}

func (h *WebhookHandler) Payment(c echo.Context) error {
	ctx := c.Request().Context()
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBytes))
	if err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "unreadable body"))
	}
	if err := gateway.VerifySignature(h.secret, body, c.Request().Header.Get(gateway.SignatureHeader)); err != nil {
		log.Warnf("[webhook] rid=%s stage=signature_fail err=%v", reqctx.RID(ctx), err)
		return c.JSON(http.StatusUnauthorized, NewErrorResponse("unauthorized", "invalid signature"))
	}
	ev, err := gateway.ParseWebhook(body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", err.Error()))
	}
	if err := h.svc.HandleWebhook(ctx, ev); err != nil {
		if errors.Is(err, service.ErrNotFound) {
			// unknown links are acknowledged so the provider stops retrying
			log.Infof("[webhook] rid=%s link=%s stage=unknown_link", reqctx.RID(ctx), ev.LinkID)
			return c.JSON(http.StatusOK, map[string]string{"status": "ignored"})
		}
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
