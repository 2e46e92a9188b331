// Package csengine implements the Central Service's two message pipelines:
// the inbound disaster-alert pipeline driven by
// internal/csession.Dispatcher callbacks, and the outbound report pipeline
// driven by internal/poller + the broker consumer on REPORT_EVENTS.
package csengine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/bonghwa-relay/gateway/internal/apperr"
	"github.com/bonghwa-relay/gateway/internal/broker"
	"github.com/bonghwa-relay/gateway/internal/capxml"
	"github.com/bonghwa-relay/gateway/internal/config"
	"github.com/bonghwa-relay/gateway/internal/store"
	"github.com/bonghwa-relay/gateway/internal/wire"
)

// DBPool is the subset of *pgxpool.Pool the engine needs, narrowed for
// testability.
type DBPool interface {
	store.DBTX
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Engine implements csession.Dispatcher and hosts the CS-side broker
// consumer and pollers.
type Engine struct {
	pool       DBPool
	bus        *broker.Client
	cfg        config.CAS
	timers     config.Timers
	maxRetries int32
	batchSize  int
	logger     *zap.Logger
	tracer     trace.Tracer

	sendFunc func(h wire.Header, body []byte) error
}

// New constructs an Engine. sendFunc is csession.Session.Send, wired after
// both the session and engine exist (they reference each other).
func New(pool DBPool, bus *broker.Client, cfg config.CAS, timers config.Timers, maxRetries int32, batchSize int, logger *zap.Logger, tracer trace.Tracer) *Engine {
	return &Engine{pool: pool, bus: bus, cfg: cfg, timers: timers, maxRetries: maxRetries, batchSize: batchSize, logger: logger, tracer: tracer}
}

// SetSendFunc wires the outbound TCP writer, breaking the csession<->csengine
// constructor cycle.
func (e *Engine) SetSendFunc(f func(h wire.Header, body []byte) error) {
	e.sendFunc = f
}

func nowTZ() pgtype.Timestamptz {
	var t pgtype.Timestamptz
	t.Scan(time.Now())
	return t
}

func fmtTimeISO() string {
	return time.Now().Format("2006-01-02T15:04:05Z07:00")
}

// buildNack maps a classified apperr.Error to the NACK envelope, reusing the
// original alert's references where one was successfully parsed.
func buildNack(transMsgID string, transMsgSeq int, original *capxml.Alert, err error) capxml.Envelope {
	kind := apperr.KindOf(err)
	note := apperr.NoteFor(kind)
	ack := capxml.BuildAckCAP(original, string(note), err.Error())
	return capxml.Envelope{
		ResultCode:  "400",
		Result:      "FAIL",
		TransMsgID:  transMsgID,
		TransMsgSeq: transMsgSeq,
		CapInfo:     &capxml.CapInfo{Alert: ack},
	}
}

func buildAck(transMsgID string, transMsgSeq int, original *capxml.Alert) capxml.Envelope {
	ack := capxml.BuildAckCAP(original, string(apperr.NoteOK), "OK")
	return capxml.Envelope{
		ResultCode:  "200",
		Result:      "OK",
		TransMsgID:  transMsgID,
		TransMsgSeq: transMsgSeq,
		CapInfo:     &capxml.CapInfo{Alert: ack},
	}
}

func outboundIDForDevice(destID string, ts int64, rand4 string) string {
	return fmt.Sprintf("KR.%s_%d-%s", destID, ts, rand4)
}

func outboundIDForDisasterResult(identifier string) string {
	return identifier + "_RPT_1"
}

func identifierFromOutboundID(outboundID string) string {
	return strings.TrimSuffix(outboundID, "_RPT_1")
}
