package push

import (
	"context"
	"fmt"

	"firebase.google.com/go/v4/messaging"
	"github.com/labstack/gommon/log"
)

// FCM limits one multicast request to 500 tokens.
const maxTokensPerBatch = 500

type multicastSender interface {
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// FCM delivers notifications through Firebase Cloud Messaging.
type FCM struct {
	client multicastSender
}

func NewFCM(client *messaging.Client) *FCM {
	return &FCM{client: client}
}

// Send returns the tokens FCM reported as unregistered so the caller can forget them.
func (f *FCM) Send(ctx context.Context, tokens []string, title, body string, data map[string]string) ([]string, error) {
	var stale []string
	for _, batch := range chunk(tokens, maxTokensPerBatch) {
		resp, err := f.client.SendEachForMulticast(ctx, &messaging.MulticastMessage{
			Tokens:       batch,
			Notification: &messaging.Notification{Title: title, Body: body},
			Data:         data,
			Android:      &messaging.AndroidConfig{Priority: "high"},
			APNS: &messaging.APNSConfig{
				Payload: &messaging.APNSPayload{Aps: &messaging.Aps{Sound: "default"}},
			},
		})
		if err != nil {
			return stale, fmt.Errorf("fcm multicast: %w", err)
		}
		stale = append(stale, staleTokens(batch, resp)...)
		if resp.FailureCount > 0 {
			log.Debugf("[push] stage=partial success=%d failure=%d", resp.SuccessCount, resp.FailureCount)
		}
	}
	return stale, nil
}

func staleTokens(batch []string, resp *messaging.BatchResponse) []string {
	if resp == nil {
		return nil
	}
	var out []string
	for i, r := range resp.Responses {
		if i >= len(batch) || r == nil || r.Success {
			continue
		}
		if messaging.IsUnregistered(r.Error) {
			out = append(out, batch[i])
		}
	}
	return out
}

func chunk(tokens []string, size int) [][]string {
	var out [][]string
	for len(tokens) > size {
		out = append(out, tokens[:size])
		tokens = tokens[size:]
	}
	if len(tokens) > 0 {
		out = append(out, tokens)
	}
	return out
}
