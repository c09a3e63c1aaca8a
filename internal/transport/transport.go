// Package transport owns the broker connection used for telemetry
// subscriptions and control publishes. MQTT is the default broker; NATS is
// supported for deployments that already run one.
package transport

import "context"

// Message is one inbound delivery.
type Message struct {
	Topic   string
	Payload []byte
}

// Handler is called once per delivery, possibly from several goroutines at once.
// It must not retain Payload after returning unless it copies it.
type Handler func(Message)

// Transport is a long-lived broker connection.
type Transport interface {
	// Subscribe registers h for topic. Subscriptions survive reconnects.
	Subscribe(topic string, h Handler) error
	// Publish returns once the broker confirmed the message or ctx ends.
	Publish(ctx context.Context, topic string, payload []byte) error
	Close()
}
