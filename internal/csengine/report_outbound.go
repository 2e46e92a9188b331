package csengine

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"go.uber.org/zap"

	"github.com/bonghwa-relay/gateway/internal/capxml"
	"github.com/bonghwa-relay/gateway/internal/store"
	"github.com/bonghwa-relay/gateway/internal/wire"
)

// HandleReportAck implements csession.Dispatcher for ETS_CNF_DEVICE_INFO,
// ETS_CNF_DEVICE_STS, and ETS_RES_DIS_REPORT, correlating the ack back to
// its report_transmit_log row by (outbound_id, report_sequence) and either
// closing it out on success or reverting it to PENDING for the poller to
// retry step 5.
func (e *Engine) HandleReportAck(ctx context.Context, msgID wire.MessageID, body []byte) {
	env, err := capxml.Unmarshal(body)
	if err != nil {
		e.logger.Warn("unparseable report ack", zap.String("message_id", msgID.String()), zap.Error(err))
		return
	}

	logs := store.NewReportTransmitLogStore(e.pool)
	row, err := logs.GetByOutboundAndSequence(ctx, env.TransMsgID, int32(env.TransMsgSeq))
	if err != nil {
		e.logger.Warn("report ack matched no outstanding send",
			zap.String("outbound_id", env.TransMsgID), zap.Int("sequence", env.TransMsgSeq), zap.Error(err))
		return
	}

	if env.ResultCode == "200" {
		if err := logs.MarkSuccess(ctx, row.ID); err != nil {
			e.logger.Error("mark report_transmit_log SUCCESS failed", zap.Error(err))
		}
		return
	}

	if err := logs.MarkPendingWithError(ctx, row.ID, "resultCode="+env.ResultCode+" result="+env.Result); err != nil {
		e.logger.Error("revert report_transmit_log to PENDING failed", zap.Error(err))
	}
}

// ReportTransmitItem is one row the reportTransmitWorker poller dispatches.
type ReportTransmitItem = store.ReportTransmitLog

// FetchPendingReportTransmits is the poller fetch function for
// reportTransmitWorker.
func (e *Engine) FetchPendingReportTransmits(ctx context.Context) ([]ReportTransmitItem, error) {
	logs := store.NewReportTransmitLogStore(e.pool)
	var cutoff pgtype.Timestamptz
	cutoff.Scan(time.Now().Add(-e.timers.Xmit))
	return logs.ListPendingOrStaleSent(ctx, cutoff, e.batchSize)
}

// HandleReportTransmit sends (or re-sends) one report_transmit_log row over
// the CAS TCP session.
func (e *Engine) HandleReportTransmit(ctx context.Context, row ReportTransmitItem) {
	if e.sendFunc == nil {
		return
	}

	logs := store.NewReportTransmitLogStore(e.pool)

	// A stale SENT row, or a PENDING row carrying a NACK/timeout note, gets a
	// fresh sequence and retry bump. The bump rewrites error_detail to
	// reDriveNote, so a row whose re-send failed is not bumped twice.
	const reDriveNote = "re-drive after stale SENT / NACK"
	isRetry := row.Status == store.StatusSent ||
		(row.ErrorDetail.Valid && row.ErrorDetail.String != reDriveNote)
	if isRetry {
		if err := logs.IncrementSequenceAndRetry(ctx, row.ID, e.maxRetries, reDriveNote); err != nil {
			e.logger.Error("bump report_transmit_log retry failed", zap.Error(err))
			return
		}
		refreshed, err := logs.GetByOutboundAndSequence(ctx, row.OutboundID, row.ReportSequence+1)
		if err != nil {
			e.logger.Error("re-fetch report_transmit_log after retry bump failed", zap.Error(err))
			return
		}
		row = *refreshed
		if row.Status == store.StatusFailed {
			return
		}
	}

	msgID, err := reportMessageID(row.Type)
	if err != nil {
		e.logger.Error("unknown report type", zap.String("type", string(row.Type)), zap.Error(err))
		return
	}

	alert, err := e.buildReportAlert(ctx, logs, row)
	if err != nil {
		e.logger.Error("build report CAP failed, leaving for next tick", zap.String("outbound_id", row.OutboundID), zap.Error(err))
		return
	}
	if alert == nil {
		// buildReportAlert already marked the row terminal FAILED (missing
		// DISASTER_RESULT references).
		return
	}

	env := capxml.Envelope{
		TransMsgID:  row.OutboundID,
		TransMsgSeq: int(row.ReportSequence),
		CapInfo:     &capxml.CapInfo{Alert: alert},
	}

	body, err := capxml.Marshal(env)
	if err != nil {
		e.logger.Error("marshal report envelope failed", zap.Error(err))
		return
	}

	if err := e.sendFunc(wire.Header{MessageID: msgID, DataFormat: wire.DataFormatXML, MagicNumber: e.cfg.MagicNumber}, body); err != nil {
		e.logger.Warn("send report over cas session failed, leaving PENDING for next tick", zap.Error(err))
		return
	}

	if err := logs.MarkSent(ctx, row.ID); err != nil {
		e.logger.Error("mark report_transmit_log SENT failed", zap.Error(err))
	}
}

func reportMessageID(t store.ReportType) (wire.MessageID, error) {
	switch t {
	case store.ReportTypeDeviceInfo:
		return wire.MsgNfyDeviceInfo, nil
	case store.ReportTypeDeviceStatus:
		return wire.MsgNfyDeviceSts, nil
	case store.ReportTypeDisasterResult:
		return wire.MsgReqDisReport, nil
	default:
		return 0, errUnknownReportType(t)
	}
}

type errUnknownReportType store.ReportType

func (e errUnknownReportType) Error() string { return "unknown report type: " + string(e) }

// reportCAPShape is the per-type part of the CAP alert table: everything but
// the identifier/sender/addresses/sent/references/raw payload, which are
// filled in by buildReportAlert.
type reportCAPShape struct {
	msgType        string
	event          string
	eventCodeValue string
	paramValueName string
}

var reportCAPShapes = map[store.ReportType]reportCAPShape{
	store.ReportTypeDeviceInfo:     {msgType: "Alert", event: "단말장치 제원정보", eventCodeValue: "DIS", paramValueName: "DEVICE_DATA"},
	store.ReportTypeDeviceStatus:   {msgType: "Alert", event: "단말장치 상태정보", eventCodeValue: "DIS", paramValueName: "DEVICE_STATUS"},
	store.ReportTypeDisasterResult: {msgType: "Ack", event: "결과 보고", eventCodeValue: "DIM", paramValueName: "LASReport"},
}

// buildReportAlert builds the typed CAP alert for row per the outbound
// report pipeline's table. A nil, nil return means the row has already been
// marked terminal FAILED (a DISASTER_RESULT whose original alert cannot be
// found) and the caller must not attempt to send.
func (e *Engine) buildReportAlert(ctx context.Context, logs *store.ReportTransmitLogStore, row ReportTransmitItem) (*capxml.Alert, error) {
	shape, ok := reportCAPShapes[row.Type]
	if !ok {
		return nil, errUnknownReportType(row.Type)
	}

	var references string
	if row.Type == store.ReportTypeDisasterResult {
		refs, err := e.disasterResultReferences(ctx, row.OutboundID)
		if err != nil {
			if err := logs.MarkFailed(ctx, row.ID, err.Error()); err != nil {
				e.logger.Error("mark report_transmit_log FAILED failed", zap.Error(err))
			}
			return nil, nil
		}
		references = refs
	}

	return capxml.BuildReportCAP(capxml.ReportCAPParams{
		Identifier:     row.OutboundID,
		Sender:         e.cfg.DestID,
		Addresses:      e.cfg.CentralSystemID,
		Sent:           fmtTimeISO(),
		MsgType:        shape.msgType,
		Event:          shape.event,
		EventCodeValue: shape.eventCodeValue,
		ParamValueName: shape.paramValueName,
		ParamValue:     string(row.RawMessage),
		References:     references,
	}), nil
}

// disasterResultReferences recovers the original alert's (sender, identifier,
// sent) for a DISASTER_RESULT report's <references> by stripping the
// "_RPT_1" suffix back to the alert identifier and looking up its
// disaster_publish_log row.
func (e *Engine) disasterResultReferences(ctx context.Context, outboundID string) (string, error) {
	identifier := identifierFromOutboundID(outboundID)
	publishLogs := store.NewDisasterPublishLogStore(e.pool)
	original, err := publishLogs.GetByIdentifier(ctx, identifier)
	if err != nil {
		return "", fmt.Errorf("no disaster_publish_log for identifier %q: %w", identifier, err)
	}
	env, err := capxml.Unmarshal(original.RawMessage)
	if err != nil || env.CapInfo == nil || env.CapInfo.Alert == nil {
		return "", fmt.Errorf("disaster_publish_log %q has no parsable capInfo.alert", identifier)
	}
	alert := env.CapInfo.Alert
	if alert.Sender == "" || alert.Sent == "" {
		return "", fmt.Errorf("disaster_publish_log %q missing sender/sent", identifier)
	}
	return alert.Sender + "," + alert.Identifier + "," + alert.Sent, nil
}

