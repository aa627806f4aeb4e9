package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event is one change notification on a topic. Seq increases by one per event within a
// topic on a given node; ID is globally unique so receivers can drop redeliveries.
type Event struct {
	ID    string          `json:"id"`
	Topic string          `json:"topic"`
	Type  string          `json:"type"`
	Seq   uint64          `json:"seq"`
	Data  json.RawMessage `json:"data"`
	At    time.Time       `json:"at"`
}

// Handler is invoked sequentially per subscription, in topic order. Delivery is
// at-least-once, so handlers must tolerate seeing the same Event.ID twice.
type Handler func(Event)

type Transport interface {
	Subscribe(ctx context.Context, topic string, h Handler) (*Subscription, error)
	Unsubscribe(sub *Subscription)
	Publish(ctx context.Context, topic, typ string, data any) (Event, error)
}

func NewEvent(topic, typ string, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:    uuid.NewString(),
		Topic: topic,
		Type:  typ,
		Data:  raw,
		At:    time.Now().UTC(),
	}, nil
}

// Decode unmarshals the event data into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Data, v)
}
