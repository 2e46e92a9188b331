package csengine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"go.uber.org/zap"

	"github.com/bonghwa-relay/gateway/internal/apperr"
	"github.com/bonghwa-relay/gateway/internal/broker"
	"github.com/bonghwa-relay/gateway/internal/store"
)

// ReportEventPayload is the broker payload consumed off report.external:
// rawMessage is the ESS HTTP body as originally submitted
// to the External Service.
type ReportEventPayload struct {
	Type               string          `json:"type"`
	ExternalSystemName string          `json:"externalSystemName"`
	RawMessage         json.RawMessage `json:"rawMessage"`
}

// essReportBody is the one field this side needs out of rawMessage across
// all three report types — the CAP identifier a DISASTER_RESULT report
// acknowledges.
type essReportBody struct {
	Identifier string `json:"identifier"`
}

// StartReportConsumer wires the CS-side broker consumer on report.external,
// translating inbound reports into report_transmit_log rows for the
// reportTransmitWorker poller to send over the CAS TCP session.
func (e *Engine) StartReportConsumer(ctx context.Context) error {
	return e.bus.Consume(ctx, broker.ConsumeOpts{
		Stream:     broker.StreamReportEvents,
		Subject:    broker.SubjectReport,
		Durable:    "cs-report-consumer",
		DLQSubject: broker.SubjectReportDLQ,
		MaxDeliver: int(e.maxRetries) + 1,
		NakDelay:   e.timers.RetryDelay,
	}, e.tracer, e.consumeReportMessage)
}

// consumeReportMessage implements the consumer handler for the
// CS side: append mq_receive_log, then — within one transaction — parse the
// payload, mint an outbound_id, insert report_transmit_log, and mark the
// inbox row SUCCESS. A *broker.PoisonPillError return terminates the
// delivery instead of retrying it; any other error feeds the broker's
// retry/DLQ path.
func (e *Engine) consumeReportMessage(ctx context.Context, data []byte) error {
	mqLogs := store.NewMQReceiveLogStore(e.pool)
	logID, err := mqLogs.Insert(ctx, data)
	if err != nil {
		return fmt.Errorf("csengine: insert mq_receive_log: %w", err)
	}

	if err := e.processReportMessage(ctx, logID, data); err != nil {
		detail := err.Error()
		retryable := apperr.Retryable(apperr.KindOf(err))
		note := "[Final Failed] "
		if retryable {
			note = "[retrying] "
		}
		if merr := mqLogs.MarkFailed(context.WithoutCancel(ctx), logID, note+detail); merr != nil {
			e.logger.Error("mark mq_receive_log retry-failed failed", zap.Error(merr))
		}
		if retryable {
			return err
		}
		return &broker.PoisonPillError{Detail: detail}
	}
	return nil
}

func (e *Engine) processReportMessage(ctx context.Context, logID pgtype.UUID, data []byte) error {
	var payload ReportEventPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return apperr.Wrap(apperr.KindParsing, err, "parse report.external payload")
	}

	var body essReportBody
	if err := json.Unmarshal(payload.RawMessage, &body); err != nil {
		return apperr.Wrap(apperr.KindParsing, err, "parse ESS report body")
	}

	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return apperr.Wrap(apperr.KindTransientStorage, err, "begin transaction")
	}
	defer tx.Rollback(ctx)

	reportType := store.ReportType(payload.Type)
	outboundID, err := e.mintOutboundID(ctx, tx, reportType, body.Identifier)
	if err != nil {
		return err
	}

	transmitLogs := store.NewReportTransmitLogStore(tx)
	if _, err := transmitLogs.Insert(ctx, store.InsertReportTransmitLogParams{
		MQReceiveLogID:     logID,
		Type:               reportType,
		OutboundID:         outboundID,
		ExternalSystemName: payload.ExternalSystemName,
		RawMessage:         payload.RawMessage,
	}); err != nil {
		return apperr.Wrap(apperr.KindTransientStorage, err, "insert report_transmit_log")
	}

	mqLogs := store.NewMQReceiveLogStore(tx)
	if err := mqLogs.MarkSuccess(ctx, logID); err != nil {
		return apperr.Wrap(apperr.KindTransientStorage, err, "mark mq_receive_log SUCCESS")
	}

	if err := tx.Commit(ctx); err != nil {
		return apperr.Wrap(apperr.KindTransientStorage, err, "commit transaction")
	}
	return nil
}

// mintOutboundID implements the CS-side step-3 detail: a fresh
// epoch-ms + random-suffix id for DEVICE_* reports (closing the millisecond
// collision window noted in the protocol), or identifier+"_RPT_1" for
// DISASTER_RESULT — which additionally requires the referenced alert to
// exist, failing into the retry path (not a poison pill) when it doesn't,
// since the original alert may simply not have been published yet.
func (e *Engine) mintOutboundID(ctx context.Context, tx pgx.Tx, reportType store.ReportType, identifier string) (string, error) {
	if reportType == store.ReportTypeDisasterResult {
		if identifier == "" {
			return "", apperr.New(apperr.KindValidation, "DISASTER_RESULT report missing identifier")
		}
		publishLogs := store.NewDisasterPublishLogStore(tx)
		exists, err := publishLogs.ExistsByIdentifier(ctx, identifier)
		if err != nil {
			return "", apperr.Wrap(apperr.KindTransientStorage, err, "check disaster_publish_log existence")
		}
		if !exists {
			return "", apperr.New(apperr.KindTransientStorage, "no disaster_publish_log for identifier %q yet", identifier)
		}
		return outboundIDForDisasterResult(identifier), nil
	}

	suffix := uuid.NewString()[:4]
	return outboundIDForDevice(e.cfg.DestID, time.Now().UnixMilli(), suffix), nil
}
