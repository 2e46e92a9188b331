package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// PoisonPillError marks a message as structurally unrecoverable — bad JSON,
// a CAP validation failure, anything no amount of redelivery will fix.
// Consume calls msg.Term() on these instead of NakWithDelay.
type PoisonPillError struct {
	Detail string
}

func (e *PoisonPillError) Error() string { return "poison pill: " + e.Detail }

// AsPoisonPill reports whether err is a *PoisonPillError.
func AsPoisonPill(err error) (*PoisonPillError, bool) {
	ppe, ok := err.(*PoisonPillError)
	return ppe, ok
}

// Handler processes one decoded message. Returning a *PoisonPillError
// terminates the delivery; any other error triggers NakWithDelay (or, past
// maxDeliver, a DLQ republish + Term); a nil error Acks.
type Handler func(ctx context.Context, data []byte) error

// ConsumeOpts configures a pull-subscription retry/DLQ driver.
type ConsumeOpts struct {
	Stream     string
	Subject    string
	Durable    string
	DLQSubject string
	MaxDeliver int
	NakDelay   time.Duration
}

// Consume starts a durable pull subscription on opts.Subject and drives
// Fetch/Ack/NakWithDelay/Term in a background goroutine until ctx is
// cancelled. This is the shared shape behind both the CS-side and ES-side
// broker consumers: a pull-subscribe Fetch loop with the Ack/Nak/Term
// trichotomy. A handler signals a poison pill by returning a
// *PoisonPillError; such a message is Term()ed without a DLQ copy.
func (c *Client) Consume(ctx context.Context, opts ConsumeOpts, tracer trace.Tracer, handle Handler) error {
	if opts.NakDelay <= 0 {
		opts.NakDelay = 10 * time.Second
	}
	sub, err := c.JS.PullSubscribe(
		opts.Subject,
		opts.Durable,
		nats.BindStream(opts.Stream),
		nats.MaxDeliver(opts.MaxDeliver),
	)
	if err != nil {
		return fmt.Errorf("broker: pull subscribe %s: %w", opts.Subject, err)
	}

	c.Log.Info("broker consumer started",
		zap.String("stream", opts.Stream),
		zap.String("subject", opts.Subject),
		zap.String("durable", opts.Durable),
	)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.Log.Info("broker consumer stopping", zap.String("durable", opts.Durable))
				return
			default:
				msgs, err := sub.Fetch(20, nats.Context(ctx))
				if err != nil {
					continue // nats.ErrTimeout on an empty queue is expected
				}
				for _, msg := range msgs {
					c.processMessage(ctx, msg, opts, tracer, handle)
				}
			}
		}
	}()

	return nil
}

func (c *Client) processMessage(ctx context.Context, msg *nats.Msg, opts ConsumeOpts, tracer trace.Tracer, handle Handler) {
	var env Envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		c.Log.Warn("terminating malformed envelope", zap.String("subject", msg.Subject), zap.Error(err))
		msg.Term()
		return
	}

	msgCtx := extractTraceContext(ctx, env.TraceID, env.SpanID)
	if tracer != nil {
		var span trace.Span
		msgCtx, span = tracer.Start(msgCtx, "broker.consume."+opts.Durable)
		defer span.End()
	}

	err := handle(msgCtx, env.Payload)
	if err == nil {
		msg.Ack()
		return
	}

	if _, ok := AsPoisonPill(err); ok {
		c.Log.Warn("terminating poison-pill message", zap.String("subject", msg.Subject), zap.Error(err))
		msg.Term()
		return
	}

	meta, metaErr := msg.Metadata()
	delivered := uint64(1)
	if metaErr == nil {
		delivered = meta.NumDelivered
	}

	if opts.DLQSubject != "" && int(delivered) >= opts.MaxDeliver {
		c.republishToDLQ(ctx, opts.DLQSubject, msg, delivered)
		msg.Term()
		return
	}

	c.Log.Error("nak broker message (transient error)",
		zap.String("subject", msg.Subject),
		zap.Uint64("num_delivered", delivered),
		zap.Error(err),
	)
	msg.NakWithDelay(opts.NakDelay)
}

// republishToDLQ hand-republishes an exhausted message to its dead-letter
// subject, mirroring the redelivery count onto RetryCountHeader since
// JetStream has no native dead-letter-exchange semantics to carry it
// automatically.
func (c *Client) republishToDLQ(ctx context.Context, dlqSubject string, msg *nats.Msg, delivered uint64) {
	hdr := nats.Header{}
	for k, v := range msg.Header {
		hdr[k] = v
	}
	hdr.Set(RetryCountHeader, strconv.FormatUint(delivered, 10))

	dlqMsg := &nats.Msg{
		Subject: dlqSubject,
		Data:    msg.Data,
		Header:  hdr,
	}
	if _, err := c.JS.PublishMsg(dlqMsg, nats.Context(ctx)); err != nil {
		c.Log.Error("failed to republish to DLQ", zap.String("dlq_subject", dlqSubject), zap.Error(err))
		return
	}
	c.Log.Warn("message dead-lettered", zap.String("dlq_subject", dlqSubject), zap.Uint64("num_delivered", delivered))
}

// extractTraceContext reconstructs the OTel span context carried in the
// envelope, mirroring globalExtractTraceContext's approach of linking async
// broker spans back to the originating synchronous trace.
func extractTraceContext(ctx context.Context, traceIDHex, spanIDHex string) context.Context {
	if traceIDHex == "" || spanIDHex == "" {
		return ctx
	}
	traceID, err := trace.TraceIDFromHex(traceIDHex)
	if err != nil {
		return ctx
	}
	spanID, err := trace.SpanIDFromHex(spanIDHex)
	if err != nil {
		return ctx
	}
	remote := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	})
	return trace.ContextWithRemoteSpanContext(ctx, remote)
}
