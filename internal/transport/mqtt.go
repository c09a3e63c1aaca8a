package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTConfig configures the paho client.
type MQTTConfig struct {
	Broker   string
	ClientID string
	// QoS is used for subscriptions and publishes. QoS 1 makes Publish wait for PUBACK.
	QoS byte
	// ConnectTimeout bounds the initial connection attempt.
	ConnectTimeout time.Duration
}

// MQTT is a Transport over one paho client.
type MQTT struct {
	client mqtt.Client
	qos    byte
	logger *slog.Logger

	mu   sync.Mutex
	subs map[string]Handler
}

// DialMQTT connects to the broker. Auto-reconnect is on and every topic passed
// to Subscribe is subscribed again after each reconnect, since sessions are clean.
func DialMQTT(cfg MQTTConfig, logger *slog.Logger) (*MQTT, error) {
	m := &MQTT{
		qos:    cfg.QoS,
		logger: logger,
		subs:   make(map[string]Handler),
	}

	opts := mqtt.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	// Handlers run in their own goroutines so a slow store write never stalls the router.
	opts.SetOrderMatters(false)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("MQTT connection lost", "broker", cfg.Broker, "error", err)
	})
	opts.SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
		logger.Info("MQTT reconnecting", "broker", cfg.Broker)
	})
	opts.SetOnConnectHandler(m.resubscribe)

	m.client = mqtt.NewClient(opts)

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	token := m.client.Connect()
	if !token.WaitTimeout(timeout) {
		return nil, fmt.Errorf("mqtt connect %s: timed out after %s", cfg.Broker, timeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.Broker, err)
	}
	logger.Info("Connected to MQTT", "broker", cfg.Broker, "client_id", cfg.ClientID)
	return m, nil
}

// Subscribe registers h for topic and subscribes right away when the client is
// connected. The registration outlives the connection: after every reconnect
// the on-connect handler subscribes again, so callers subscribe only once.
func (m *MQTT) Subscribe(topic string, h Handler) error {
	m.mu.Lock()
	m.subs[topic] = h
	m.mu.Unlock()

	if !m.client.IsConnectionOpen() {
		// The on-connect handler picks it up.
		return nil
	}
	return m.subscribe(topic, h)
}

// subscribe asks the broker for topic and waits for the SUBACK.
func (m *MQTT) subscribe(topic string, h Handler) error {
	token := m.client.Subscribe(topic, m.qos, func(_ mqtt.Client, msg mqtt.Message) {
		h(Message{Topic: msg.Topic(), Payload: msg.Payload()})
	})
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt subscribe %s: %w", topic, token.Error())
	}
	m.logger.Info("Listening on topic", "topic", topic)
	return nil
}

// resubscribe is the on-connect handler. Clean sessions lose their
// subscriptions on every reconnect; replay each registered topic.
func (m *MQTT) resubscribe(_ mqtt.Client) {
	m.mu.Lock()
	subs := make(map[string]Handler, len(m.subs))
	for topic, h := range m.subs {
		subs[topic] = h
	}
	m.mu.Unlock()

	for topic, h := range subs {
		if err := m.subscribe(topic, h); err != nil {
			m.logger.Error("Resubscribe failed", "topic", topic, "error", err)
		}
	}
}

// Publish sends payload at the configured QoS and returns once the broker
// acknowledged it, or when ctx ends, whichever comes first.
func (m *MQTT) Publish(ctx context.Context, topic string, payload []byte) error {
	token := m.client.Publish(topic, m.qos, false, payload)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("mqtt publish %s: %w", topic, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("mqtt publish %s: %w", topic, ctx.Err())
	}
}

// Close disconnects, giving in-flight work 250ms.
func (m *MQTT) Close() {
	m.client.Disconnect(250)
}
