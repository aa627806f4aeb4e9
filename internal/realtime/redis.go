package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/labstack/gommon/log"
	"github.com/redis/go-redis/v9"
)

// RedisTransport shares topics between API instances. Publishes go to Redis; a single
// pattern subscription feeds every received event into a local Broker, so local
// subscribers see events from all instances in Redis channel order.
type RedisTransport struct {
	client *redis.Client
	prefix string
	local  *Broker
	pubsub *redis.PubSub
	done   chan struct{}
}

func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// NewRedisTransport blocks until the pattern subscription is confirmed by the server.
func NewRedisTransport(ctx context.Context, client *redis.Client, prefix string) (*RedisTransport, error) {
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	ps := client.PSubscribe(ctx, prefix+"*")
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis psubscribe: %w", err)
	}
	t := &RedisTransport{
		client: client,
		prefix: prefix,
		local:  NewBroker(),
		pubsub: ps,
		done:   make(chan struct{}),
	}
	go t.loop()
	return t, nil
}

func (t *RedisTransport) loop() {
	defer close(t.done)
	for msg := range t.pubsub.Channel() {
		var ev Event
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			log.Warnf("[realtime] stage=redis_decode channel=%s err=%v", msg.Channel, err)
			continue
		}
		ev.Topic = strings.TrimPrefix(msg.Channel, t.prefix)
		if _, err := t.local.Deliver(ev); err != nil {
			return
		}
	}
}

func (t *RedisTransport) Subscribe(ctx context.Context, topic string, h Handler) (*Subscription, error) {
	return t.local.Subscribe(ctx, topic, h)
}

func (t *RedisTransport) Unsubscribe(sub *Subscription) {
	t.local.Unsubscribe(sub)
}

func (t *RedisTransport) Publish(ctx context.Context, topic, typ string, data any) (Event, error) {
	ev, err := NewEvent(topic, typ, data)
	if err != nil {
		return Event{}, err
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return Event{}, err
	}
	if err := t.client.Publish(ctx, t.prefix+topic, raw).Err(); err != nil {
		return Event{}, fmt.Errorf("redis publish %s: %w", topic, err)
	}
	return ev, nil
}

func (t *RedisTransport) Close() error {
	err := t.pubsub.Close()
	<-t.done
	_ = t.local.Close()
	return err
}
