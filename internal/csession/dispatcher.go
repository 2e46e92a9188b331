package csession

import (
	"context"

	"github.com/bonghwa-relay/gateway/internal/capxml"
	"github.com/bonghwa-relay/gateway/internal/wire"
)

// Dispatcher is implemented by internal/csengine and invoked by the session
// driver goroutine for every inbound ACTIVE-state message that isn't a
// session-management frame (ping/pong, auth). Handlers run synchronously on
// the driver goroutine, which is what gives the inbound disaster pipeline
// its per-CS-process serialization guarantee.
type Dispatcher interface {
	// HandleDisasterNotify processes an ETS_NFY_DIS_INFO body and returns the
	// ETS_CNF_DIS_INFO envelope to send back (ack or classified-failure NACK).
	HandleDisasterNotify(ctx context.Context, body []byte) capxml.Envelope

	// HandleReportAck processes an ETS_CNF_DEVICE_INFO / ETS_CNF_DEVICE_STS /
	// ETS_RES_DIS_REPORT body, correlating it to its report_transmit_log row.
	HandleReportAck(ctx context.Context, msgID wire.MessageID, body []byte)
}
