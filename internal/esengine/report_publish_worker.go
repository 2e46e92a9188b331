package esengine

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/bonghwa-relay/gateway/internal/store"
)

// ReportEventPayload is the broker payload published to report.external:
// the CS-side consumer turns this into a report_transmit_log
// row bound for the CAS session. Field shape must match
// csengine.ReportEventPayload exactly, as the two are opposite ends of the
// same wire message.
type ReportEventPayload struct {
	Type               string          `json:"type"`
	ExternalSystemName string          `json:"externalSystemName"`
	RawMessage         json.RawMessage `json:"rawMessage"`
}

// ReportPublishItem is one row the reportPublishWorker poller dispatches.
type ReportPublishItem = store.ReportPublishLog

// FetchPendingReportPublishes is the poller fetch function for
// reportPublishWorker.
func (e *Engine) FetchPendingReportPublishes(ctx context.Context) ([]ReportPublishItem, error) {
	logs := store.NewReportPublishLogStore(e.pool)
	return logs.ListPending(ctx, e.batchSize)
}

// HandleReportPublish publishes one report_publish_log row to the broker's
// report.external subject. As with disaster_publish_log, a broker publish
// has no asynchronous ACK, so a successful publish is terminal SUCCESS
// without a SENT interstitial.
func (e *Engine) HandleReportPublish(ctx context.Context, row ReportPublishItem) {
	logs := store.NewReportPublishLogStore(e.pool)

	err := e.bus.Publish(ctx, row.RoutingKey, ReportEventPayload{
		Type:               string(row.Type),
		ExternalSystemName: row.ExternalSystemName,
		RawMessage:         json.RawMessage(row.RawMessage),
	})
	if err != nil {
		e.logger.Warn("publish report_publish_log to broker failed, will retry",
			zap.String("type", string(row.Type)), zap.Error(err))
		if merr := logs.IncrementRetry(ctx, row.ID, e.maxRetries); merr != nil {
			e.logger.Error("bump report_publish_log retry failed", zap.Error(merr))
		}
		return
	}

	if err := logs.MarkSuccess(ctx, row.ID); err != nil {
		e.logger.Error("mark report_publish_log SUCCESS failed", zap.Error(err))
	}
}
