// Package broker wraps NATS JetStream as the decoupling bus between the
// Central Service and External Service: an AMQP-flavored topology (exchanges,
// TTL delay queues, a DLX) rendered over JetStream's native primitives —
// NakWithDelay for TTL-style retry, MaxDeliver + an explicit DLQ-subject
// republish + Term for dead-lettering.
package broker

import (
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Client wraps a NATS connection and its JetStream context.
type Client struct {
	Conn *nats.Conn
	JS   nats.JetStreamContext
	Log  *zap.Logger
}

// NewClient connects to NATS and initializes a JetStream context.
func NewClient(url string, logger *zap.Logger) (*Client, error) {
	nc, err := nats.Connect(url, nats.RetryOnFailedConnect(true), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("broker: connect: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("broker: jetstream: %w", err)
	}

	logger.Info("nats jetstream connected", zap.String("url", url))
	return &Client{Conn: nc, JS: js, Log: logger}, nil
}

// Close drains in-flight publishes and subscriptions before closing,
// falling back to an immediate Close if the drain itself errors.
func (c *Client) Close() {
	if c.Conn == nil {
		return
	}
	if err := c.Conn.Drain(); err != nil {
		c.Conn.Close()
	}
}
