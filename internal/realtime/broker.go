package realtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var ErrClosed = errors.New("transport closed")

// Broker is the in-process Transport. Every subscription owns an unbounded FIFO
// drained by a single goroutine, so publishers never block on slow handlers and
// nothing is dropped while the subscription lives.
type Broker struct {
	mu     sync.RWMutex
	topics map[string]*topicState
	closed bool
	nextID atomic.Uint64
}

type topicState struct {
	mu   sync.Mutex
	seq  uint64
	subs map[uint64]*Subscription
}

type Subscription struct {
	id      uint64
	topic   string
	handler Handler

	mu    sync.Mutex
	queue []Event
	wake  chan struct{}
	done  chan struct{}
	once  sync.Once
}

func (s *Subscription) Topic() string { return s.topic }

func NewBroker() *Broker {
	return &Broker{topics: make(map[string]*topicState)}
}

func (b *Broker) Subscribe(ctx context.Context, topic string, h Handler) (*Subscription, error) {
	if h == nil {
		return nil, errors.New("handler is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sub := &Subscription{
		id:      b.nextID.Add(1),
		topic:   topic,
		handler: h,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	ts, ok := b.topics[topic]
	if !ok {
		ts = &topicState{subs: make(map[uint64]*Subscription)}
		b.topics[topic] = ts
	}
	ts.mu.Lock()
	ts.subs[sub.id] = sub
	ts.mu.Unlock()
	b.mu.Unlock()

	go sub.run()
	return sub, nil
}

func (b *Broker) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	if ts, ok := b.topics[sub.topic]; ok {
		ts.mu.Lock()
		delete(ts.subs, sub.id)
		empty := len(ts.subs) == 0
		ts.mu.Unlock()
		if empty {
			delete(b.topics, sub.topic)
		}
	}
	b.mu.Unlock()
	sub.stop()
}

func (b *Broker) Publish(ctx context.Context, topic, typ string, data any) (Event, error) {
	if err := ctx.Err(); err != nil {
		return Event{}, err
	}
	ev, err := NewEvent(topic, typ, data)
	if err != nil {
		return Event{}, err
	}
	return b.Deliver(ev)
}

// Deliver fans an already-built event out to local subscribers of ev.Topic,
// stamping the topic sequence number.
func (b *Broker) Deliver(ev Event) (Event, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ev, ErrClosed
	}
	ts, ok := b.topics[ev.Topic]
	if !ok {
		return ev, nil
	}
	ts.mu.Lock()
	ts.seq++
	ev.Seq = ts.seq
	for _, sub := range ts.subs {
		sub.enqueue(ev)
	}
	ts.mu.Unlock()
	return ev, nil
}

func (b *Broker) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ts, ok := b.topics[topic]
	if !ok {
		return 0
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.subs)
}

func (b *Broker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	topics := b.topics
	b.topics = make(map[string]*topicState)
	b.mu.Unlock()

	for _, ts := range topics {
		ts.mu.Lock()
		for _, sub := range ts.subs {
			sub.stop()
		}
		ts.mu.Unlock()
	}
	return nil
}

func (s *Subscription) enqueue(ev Event) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *Subscription) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}
		for {
			s.mu.Lock()
			batch := s.queue
			s.queue = nil
			s.mu.Unlock()
			if len(batch) == 0 {
				break
			}
			for _, ev := range batch {
				select {
				case <-s.done:
					return
				default:
				}
				s.handler(ev)
			}
		}
	}
}
