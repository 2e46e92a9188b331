package broker

import (
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Stream and subject names for the two outbox->inbox hops: disaster.*
// carries CS->ES disaster notifications; report.external carries ES->CS
// reports. Each has its own dead-letter subject, republished to by hand once
// MaxDeliver is exhausted (JetStream has no native DLX).
const (
	StreamDisasterEvents = "DISASTER_EVENTS"
	SubjectDisaster       = "disaster.>"
	SubjectDisasterDLQ    = "disaster.dlq"

	StreamReportEvents = "REPORT_EVENTS"
	SubjectReport       = "report.external"
	SubjectReportDLQ    = "report.dlq"

	// RetryCountHeader mirrors the redelivery count onto a hand-republished
	// DLQ copy so a DLQ consumer (or operator) can see how many times the
	// original delivery was attempted.
	RetryCountHeader = "x-retry-count"
)

// ProvisionStreams idempotently ensures both JetStream streams exist. It is
// a no-op when a stream is already present.
func (c *Client) ProvisionStreams() error {
	if err := c.ensureStream(StreamDisasterEvents, []string{SubjectDisaster, SubjectDisasterDLQ}); err != nil {
		return err
	}
	if err := c.ensureStream(StreamReportEvents, []string{SubjectReport, SubjectReportDLQ}); err != nil {
		return err
	}
	return nil
}

func (c *Client) ensureStream(name string, subjects []string) error {
	if _, err := c.JS.StreamInfo(name); err == nil {
		c.Log.Info("nats stream already exists", zap.String("stream", name))
		return nil
	} else if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("broker: stream info %s: %w", name, err)
	}

	cfg := &nats.StreamConfig{
		Name:      name,
		Subjects:  subjects,
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
	}
	if _, err := c.JS.AddStream(cfg); err != nil {
		return fmt.Errorf("broker: create stream %s: %w", name, err)
	}

	c.Log.Info("nats stream provisioned", zap.String("stream", name), zap.Strings("subjects", subjects))
	return nil
}
