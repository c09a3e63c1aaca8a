package transport

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
)

// NATS is a Transport over core NATS subjects. The client restores
// subscriptions on reconnect by itself.
type NATS struct {
	nc     *nats.Conn
	logger *slog.Logger
}

// DialNATS connects with unlimited reconnects.
func DialNATS(url, name string, logger *slog.Logger) (*NATS, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("NATS disconnected", "url", url, "error", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", url, err)
	}
	logger.Info("Connected to NATS", "url", nc.ConnectedUrl())
	return &NATS{nc: nc, logger: logger}, nil
}

// Subscribe delivers every message on subject to h. The nats client
// restores subscriptions after a reconnect by itself.
func (n *NATS) Subscribe(subject string, h Handler) error {
	_, err := n.nc.Subscribe(subject, func(m *nats.Msg) {
		h(Message{Topic: m.Subject, Payload: m.Data})
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}
	n.logger.Info("Listening on subject", "subject", subject)
	return nil
}

// Publish flushes after sending, so a nil error means the server received the message.
func (n *NATS) Publish(ctx context.Context, subject string, payload []byte) error {
	if err := n.nc.Publish(subject, payload); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	// FlushWithContext rejects contexts without a deadline.
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, nats.DefaultTimeout)
		defer cancel()
	}
	if err := n.nc.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("nats flush %s: %w", subject, err)
	}
	return nil
}

// Close drains pending deliveries before closing the connection.
func (n *NATS) Close() {
	if err := n.nc.Drain(); err != nil {
		n.logger.Warn("NATS drain failed", "error", err)
		n.nc.Close()
	}
}
