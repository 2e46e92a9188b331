package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/trace"
)

// Envelope is the JSON wrapper every publish carries, letting the receiving
// side reconstruct the originating trace and continue it as a child span.
type Envelope struct {
	TraceID string          `json:"trace_id,omitempty"`
	SpanID  string          `json:"span_id,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// Publish marshals payload into an Envelope (stamping the active span's
// trace/span IDs, if any) and publishes it to subject on the stream backing
// that subject's JetStream context.
func (c *Client) Publish(ctx context.Context, subject string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("broker: marshal payload: %w", err)
	}

	env := Envelope{Payload: body}
	if span := trace.SpanContextFromContext(ctx); span.IsValid() {
		env.TraceID = span.TraceID().String()
		env.SpanID = span.SpanID().String()
	}

	envBody, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("broker: marshal envelope: %w", err)
	}

	if _, err := c.JS.Publish(subject, envBody, nats.Context(ctx)); err != nil {
		return fmt.Errorf("broker: publish %s: %w", subject, err)
	}
	return nil
}
