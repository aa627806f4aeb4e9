package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ably/ably-go/ably"
	"github.com/labstack/gommon/log"
)

// AblyMirror forwards every event published through the wrapped Transport to the Ably
// channel of the same name, for mobile clients that subscribe through Ably instead of
// the websocket endpoint. Mirroring is best-effort: the inner publish decides success.
type AblyMirror struct {
	Transport
	rest *ably.REST
}

func NewAblyMirror(inner Transport, key string) (*AblyMirror, error) {
	rest, err := ably.NewREST(ably.WithKey(key))
	if err != nil {
		return nil, fmt.Errorf("failed to create ably client: %w", err)
	}
	return &AblyMirror{Transport: inner, rest: rest}, nil
}

func (m *AblyMirror) Publish(ctx context.Context, topic, typ string, data any) (Event, error) {
	ev, err := m.Transport.Publish(ctx, topic, typ, data)
	if err != nil {
		return ev, err
	}
	if err := m.rest.Channels.Get(topic).Publish(ctx, typ, ev); err != nil {
		log.Warnf("[realtime] stage=ably_publish topic=%s type=%s err=%v", topic, typ, err)
	}
	return ev, nil
}

// RequestToken issues a subscribe-only Ably token for uid limited to topics.
// Callers are responsible for checking uid may read every topic.
func (m *AblyMirror) RequestToken(ctx context.Context, uid string, topics []string) (*ably.TokenDetails, error) {
	capability := make(map[string][]string, len(topics))
	for _, t := range topics {
		capability[t] = []string{"subscribe", "history"}
	}
	raw, err := json.Marshal(capability)
	if err != nil {
		return nil, err
	}
	token, err := m.rest.Auth.RequestToken(ctx, &ably.TokenParams{
		ClientID:   uid,
		Capability: string(raw),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to request token: %w", err)
	}
	return token, nil
}
