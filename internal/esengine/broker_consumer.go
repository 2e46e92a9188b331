package esengine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
	"go.uber.org/zap"

	"github.com/bonghwa-relay/gateway/internal/apperr"
	"github.com/bonghwa-relay/gateway/internal/broker"
	"github.com/bonghwa-relay/gateway/internal/store"
)

// DisasterEventPayload is the broker payload consumed off disaster.*
//, mirroring csengine.DisasterEventPayload on the publish
// side.
type DisasterEventPayload struct {
	Identifier string `json:"identifier"`
	EventCode  string `json:"eventCode"`
	RawMessage string `json:"rawMessage"`
}

// StartDisasterConsumer wires the ES-side broker consumer on disaster.*,
// fanning one inbound alert out to one disaster_transmit_log row per active
// subscriber of its event code.
func (e *Engine) StartDisasterConsumer(ctx context.Context) error {
	return e.bus.Consume(ctx, broker.ConsumeOpts{
		Stream:     broker.StreamDisasterEvents,
		Subject:    broker.SubjectDisaster,
		Durable:    "es-disaster-consumer",
		DLQSubject: broker.SubjectDisasterDLQ,
		MaxDeliver: int(e.maxRetries) + 1,
		NakDelay:   e.timers.RetryDelay,
	}, e.tracer, e.consumeDisasterMessage)
}

// consumeDisasterMessage implements the consumer handler for
// the ES side: append mq_receive_log, then — within one transaction — parse
// the payload, look up every active subscriber of the alert's event code,
// batch-insert one disaster_transmit_log row per subscriber, and mark the
// inbox row SUCCESS.
func (e *Engine) consumeDisasterMessage(ctx context.Context, data []byte) error {
	mqLogs := store.NewMQReceiveLogStore(e.pool)
	logID, err := mqLogs.Insert(ctx, data)
	if err != nil {
		return fmt.Errorf("esengine: insert mq_receive_log: %w", err)
	}

	if err := e.processDisasterMessage(ctx, logID, data); err != nil {
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

func (e *Engine) processDisasterMessage(ctx context.Context, logID pgtype.UUID, data []byte) error {
	var payload DisasterEventPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return apperr.Wrap(apperr.KindParsing, err, "parse disaster.* payload")
	}

	systems := store.NewExternalSystemStore(e.pool)
	subscribers, err := systems.ListActiveSubscribers(ctx, payload.EventCode)
	if err != nil {
		return apperr.Wrap(apperr.KindTransientStorage, err, "list active subscribers")
	}

	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return apperr.Wrap(apperr.KindTransientStorage, err, "begin transaction")
	}
	defer tx.Rollback(ctx)

	if len(subscribers) > 0 {
		rows := make([]store.InsertDisasterTransmitLogParams, len(subscribers))
		for i, sub := range subscribers {
			rows[i] = store.InsertDisasterTransmitLogParams{
				MQReceiveLogID:   logID,
				ExternalSystemID: sub.ID,
				Identifier:       payload.Identifier,
				RawMessage:       []byte(payload.RawMessage),
			}
		}
		transmitLogs := store.NewDisasterTransmitLogStore(tx)
		if err := transmitLogs.InsertBatch(ctx, rows); err != nil {
			return apperr.Wrap(apperr.KindTransientStorage, err, "insert disaster_transmit_log batch")
		}
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
