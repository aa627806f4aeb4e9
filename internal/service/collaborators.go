package service

import (
	"context"
	"io"

	"github.com/adopet/marketchat/internal/realtime"
)

// Publisher is the write side of the channel transport.
type Publisher interface {
	Publish(ctx context.Context, topic, typ string, data any) (realtime.Event, error)
}

// Pusher delivers a notification to device tokens. It returns the tokens the
// provider reported as no longer registered.
type Pusher interface {
	Send(ctx context.Context, tokens []string, title, body string, data map[string]string) ([]string, error)
}

// Directory resolves display names for notification text.
type Directory interface {
	DisplayName(ctx context.Context, uid string) string
}

// BlobStore stores proof-of-payment images and returns a fetchable URL.
type BlobStore interface {
	Upload(ctx context.Context, objectPath, contentType string, r io.Reader) (string, error)
}

type nopPublisher struct{}

func (nopPublisher) Publish(_ context.Context, topic, typ string, data any) (realtime.Event, error) {
	return realtime.NewEvent(topic, typ, data)
}
