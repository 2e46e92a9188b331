package esengine

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/bonghwa-relay/gateway/internal/essession"
	"github.com/bonghwa-relay/gateway/internal/store"
)

// DisasterTransmitItem is one row the disasterTransmitWorker poller
// dispatches.
type DisasterTransmitItem = store.DisasterTransmitLog

// FetchPendingDisasterTransmits is the poller fetch function for
// disasterTransmitWorker.
func (e *Engine) FetchPendingDisasterTransmits(ctx context.Context) ([]DisasterTransmitItem, error) {
	logs := store.NewDisasterTransmitLogStore(e.pool)
	return logs.ListPending(ctx, staleCutoff(e.timers.Xmit), e.batchSize)
}

// HandleDisasterTransmit implements the reliable-emit state machine of
// the protocol for one disaster_transmit_log row: re-read, terminal/retry
// checks, online check, SENT transition, emit-and-await-ack, and the
// failure path shared by nack/mismatch/timeout.
func (e *Engine) HandleDisasterTransmit(ctx context.Context, row DisasterTransmitItem) {
	logs := store.NewDisasterTransmitLogStore(e.pool)

	fresh, err := logs.GetByID(ctx, row.ID)
	if err != nil {
		e.logger.Error("re-read disaster_transmit_log failed", zap.Error(err))
		return
	}
	if fresh.Status == store.StatusSuccess || fresh.Status == store.StatusFailed {
		return
	}
	row = *fresh

	if row.RetryCount >= e.maxRetries {
		if err := logs.IncrementRetry(ctx, row.ID, e.maxRetries); err != nil {
			e.logger.Error("mark disaster_transmit_log FAILED at retry ceiling failed", zap.Error(err))
		}
		return
	}

	subscriberID := store.UUIDString(row.ExternalSystemID)
	if !e.sessions.IsOnline(subscriberID) {
		if row.Status == store.StatusSent {
			if err := logs.MarkPending(ctx, row.ID); err != nil {
				e.logger.Error("downgrade stale SENT disaster_transmit_log failed", zap.Error(err))
			}
		}
		return
	}

	if err := logs.MarkSent(ctx, row.ID); err != nil {
		e.logger.Error("mark disaster_transmit_log SENT failed", zap.Error(err))
		return
	}

	status, err := e.sessions.EmitDisaster(ctx, subscriberID, essession.DisasterPayload{
		LogID:      store.UUIDString(row.ID),
		Identifier: row.Identifier,
		RawMessage: string(row.RawMessage),
	}, e.timers.Xmit)

	if err == nil && status == essession.AckStatusAck {
		if err := logs.MarkSuccess(ctx, row.ID); err != nil {
			e.logger.Error("mark disaster_transmit_log SUCCESS failed", zap.Error(err))
		}
		return
	}

	if err != nil && !errors.Is(err, essession.ErrAckTimeout) {
		e.logger.Warn("ws emit failed, retrying on next tick",
			zap.String("identifier", row.Identifier), zap.String("subscriber_id", subscriberID), zap.Error(err))
	}

	if err := logs.IncrementRetry(ctx, row.ID, e.maxRetries); err != nil {
		e.logger.Error("increment disaster_transmit_log retry_count failed", zap.Error(err))
	}
}
