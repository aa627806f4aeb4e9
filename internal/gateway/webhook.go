package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const SignatureHeader = "X-Payment-Signature"

// WebhookEvent is the provider's push notice that a link changed state. It is only a
// hint: the receiver re-reads the status through GetLinkStatus before acting on it.
type WebhookEvent struct {
	LinkID    string     `json:"linkId"`
	Reference string     `json:"reference"`
	Status    LinkStatus `json:"status"`
}

var ErrBadSignature = errors.New("invalid webhook signature")

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func VerifySignature(secret string, body []byte, signature string) error {
	if secret == "" {
		return errors.New("webhook secret is not configured")
	}
	sig, err := hex.DecodeString(strings.TrimSpace(strings.TrimPrefix(signature, "sha256=")))
	if err != nil || len(sig) == 0 {
		return ErrBadSignature
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(sig, mac.Sum(nil)) {
		return ErrBadSignature
	}
	return nil
}

func ParseWebhook(body []byte) (WebhookEvent, error) {
	var ev WebhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return ev, fmt.Errorf("decode webhook: %w", err)
	}
	if ev.LinkID == "" {
		return ev, errors.New("webhook missing linkId")
	}
	return ev, nil
}
