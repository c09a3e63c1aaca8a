// Package control forwards relay commands from the HTTP surface to the device.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Hilda2312/iot-uts/internal/metrics"
)

var (
	// ErrInvalidState is returned for anything other than "ON" or "OFF".
	ErrInvalidState = errors.New("invalid relay state")
	// ErrPublish is returned when the transport did not confirm the command.
	ErrPublish = errors.New("relay command not delivered")
)

// State is the relay position sent to the device. Only StateOn and StateOff
// are valid; use ParseState to build one from user input.
type State string

const (
	StateOn  State = "ON"
	StateOff State = "OFF"
)

// ParseState accepts exactly "ON" or "OFF". Case matters: the firmware compares bytes.
func ParseState(s string) (State, error) {
	switch State(s) {
	case StateOn, StateOff:
		return State(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidState, s)
	}
}

// Command is the message published on the control topic.
type Command struct {
	Status State `json:"status"`
}

// Publisher is the outbound half of transport.Transport. Publish must return
// only after the broker accepted the message, or with an error.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Dispatcher validates relay requests and publishes them on one topic.
// It keeps no state between calls and is safe for concurrent use.
type Dispatcher struct {
	pub     Publisher
	topic   string
	timeout time.Duration
	logger  *slog.Logger
}

// NewDispatcher returns a dispatcher publishing on topic, e.g. "iot/control/relay".
// Each publish is bounded by timeout; a non-positive timeout means 5 seconds.
func NewDispatcher(pub Publisher, topic string, timeout time.Duration, logger *slog.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Dispatcher{pub: pub, topic: topic, timeout: timeout, logger: logger}
}

// Dispatch validates requested and publishes it. It returns only after the
// transport confirmed the publish, or with an error matching ErrInvalidState
// or ErrPublish. Invalid states never reach the transport.
func (d *Dispatcher) Dispatch(ctx context.Context, requested string) (Command, error) {
	// 1. Validate before touching the broker
	state, err := ParseState(requested)
	if err != nil {
		metrics.ControlCommands.WithLabelValues("unknown", "invalid").Inc()
		d.logger.Warn("Rejected relay command", "requested", requested)
		return Command{}, err
	}

	// 2. Encode the command the firmware expects: {"status":"ON"}
	cmd := Command{Status: state}
	payload, err := json.Marshal(cmd)
	if err != nil {
		return Command{}, fmt.Errorf("%w: encode: %w", ErrPublish, err)
	}

	// 3. Publish and wait for the broker's acknowledgement
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if err := d.pub.Publish(ctx, d.topic, payload); err != nil {
		metrics.ControlCommands.WithLabelValues(string(state), "publish_error").Inc()
		d.logger.Error("Failed to publish relay command", "topic", d.topic, "status", state, "error", err)
		return Command{}, fmt.Errorf("%w: %w", ErrPublish, err)
	}

	metrics.ControlCommands.WithLabelValues(string(state), "ok").Inc()
	d.logger.Info("Relay command sent", "topic", d.topic, "status", state)
	return cmd, nil
}
