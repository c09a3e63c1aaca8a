// Package transporttest provides an in-memory Transport for tests.
package transporttest

import (
	"context"
	"sync"

	"github.com/Hilda2312/iot-uts/internal/transport"
)

// Broker records publishes and delivers them to subscribers of the exact
// same topic, synchronously on the publishing goroutine.
type Broker struct {
	mu         sync.Mutex
	handlers   map[string][]transport.Handler
	published  []transport.Message
	publishErr error
	closed     bool
}

var _ transport.Transport = (*Broker)(nil)

// New returns an empty broker with no subscribers.
func New() *Broker {
	return &Broker{handlers: make(map[string][]transport.Handler)}
}

// Subscribe adds h for topic. Wildcards are not supported.
func (b *Broker) Subscribe(topic string, h transport.Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], h)
	return nil
}

// Publish fails with the error set by FailPublishes, if any, without recording.
func (b *Broker) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	if b.publishErr != nil {
		err := b.publishErr
		b.mu.Unlock()
		return err
	}
	msg := transport.Message{Topic: topic, Payload: append([]byte(nil), payload...)}
	b.published = append(b.published, msg)
	handlers := append([]transport.Handler(nil), b.handlers[topic]...)
	b.mu.Unlock()

	for _, h := range handlers {
		h(msg)
	}
	return nil
}

// Deliver simulates an inbound message from a device.
func (b *Broker) Deliver(topic string, payload []byte) {
	b.mu.Lock()
	handlers := append([]transport.Handler(nil), b.handlers[topic]...)
	b.mu.Unlock()

	for _, h := range handlers {
		h(transport.Message{Topic: topic, Payload: payload})
	}
}

// FailPublishes makes every later Publish return err; nil restores success.
func (b *Broker) FailPublishes(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publishErr = err
}

// Published returns a copy of every successful publish, in order.
func (b *Broker) Published() []transport.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]transport.Message(nil), b.published...)
}

// PublishedOn filters Published by topic.
func (b *Broker) PublishedOn(topic string) []transport.Message {
	var out []transport.Message
	for _, m := range b.Published() {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}

// Closed reports whether Close was called.
func (b *Broker) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}
