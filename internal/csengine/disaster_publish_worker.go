package csengine

import (
	"context"

	"go.uber.org/zap"

	"github.com/bonghwa-relay/gateway/internal/store"
)

// DisasterEventPayload is the broker payload published to disaster.<eventCode>:
// the ES-side consumer fans this out to one
// disaster_transmit_log row per active subscriber of eventCode.
type DisasterEventPayload struct {
	Identifier string `json:"identifier"`
	EventCode  string `json:"eventCode"`
	RawMessage string `json:"rawMessage"`
}

// DisasterPublishItem is one row the disasterPublishWorker poller dispatches.
type DisasterPublishItem = store.DisasterPublishLog

// FetchPendingDisasterPublishes is the poller fetch function for
// disasterPublishWorker.
func (e *Engine) FetchPendingDisasterPublishes(ctx context.Context) ([]DisasterPublishItem, error) {
	logs := store.NewDisasterPublishLogStore(e.pool)
	return logs.ListPending(ctx, e.batchSize)
}

// HandleDisasterPublish publishes one disaster_publish_log row to the
// broker's disaster topic. Unlike the WS/TCP deliveries, a broker publish
// has no asynchronous ACK to wait on — a successful publish is terminal
// SUCCESS, skipping the SENT state entirely (the protocol: "SENT ... is only
// used where an asynchronous ACK is expected").
func (e *Engine) HandleDisasterPublish(ctx context.Context, row DisasterPublishItem) {
	logs := store.NewDisasterPublishLogStore(e.pool)

	err := e.bus.Publish(ctx, row.RoutingKey, DisasterEventPayload{
		Identifier: row.Identifier,
		EventCode:  row.EventCode,
		RawMessage: string(row.RawMessage),
	})
	if err != nil {
		e.logger.Warn("publish disaster_publish_log to broker failed, will retry",
			zap.String("identifier", row.Identifier), zap.Error(err))
		if merr := logs.IncrementRetry(ctx, row.ID, e.maxRetries); merr != nil {
			e.logger.Error("bump disaster_publish_log retry failed", zap.Error(merr))
		}
		return
	}

	if err := logs.MarkSuccess(ctx, row.ID); err != nil {
		e.logger.Error("mark disaster_publish_log SUCCESS failed", zap.Error(err))
	}
}
