package csengine

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
	"go.uber.org/zap"

	"github.com/bonghwa-relay/gateway/internal/apperr"
	"github.com/bonghwa-relay/gateway/internal/capxml"
	"github.com/bonghwa-relay/gateway/internal/store"
)

// HandleDisasterNotify implements csession.Dispatcher for ETS_NFY_DIS_INFO:
// parse, dedup, validate, publish-log, ack — or a
// classified NACK on any failure.
func (e *Engine) HandleDisasterNotify(ctx context.Context, body []byte) capxml.Envelope {
	env, alert, err := e.parseDisasterNotify(body)
	if err != nil {
		return buildNack("", 0, nil, err)
	}

	if err := e.processDisasterNotify(ctx, env, alert); err != nil {
		e.logger.Warn("disaster notify rejected", zap.String("identifier", alert.Identifier), zap.Error(err))
		return buildNack(env.TransMsgID, env.TransMsgSeq, alert, err)
	}

	return buildAck(env.TransMsgID, env.TransMsgSeq, alert)
}

func (e *Engine) parseDisasterNotify(body []byte) (capxml.Envelope, *capxml.Alert, error) {
	env, err := capxml.Unmarshal(body)
	if err != nil {
		return capxml.Envelope{}, nil, apperr.Wrap(apperr.KindParsing, err, "parse ETS_NFY_DIS_INFO envelope")
	}
	if env.CapInfo == nil || env.CapInfo.Alert == nil {
		return env, nil, apperr.New(apperr.KindParsing, "missing capInfo.alert")
	}
	return env, env.CapInfo.Alert, nil
}

func (e *Engine) processDisasterNotify(ctx context.Context, env capxml.Envelope, alert *capxml.Alert) error {
	tcpLogs := store.NewTCPReceiveLogStore(e.pool)

	exists, err := tcpLogs.ExistsByInboundSeq(ctx, env.TransMsgID, int32(env.TransMsgSeq))
	if err != nil {
		return apperr.Wrap(apperr.KindTransientStorage, err, "check inbound dedup")
	}
	if exists {
		return apperr.New(apperr.KindDuplicate, "duplicate inbound_id=%s inbound_seq=%d", env.TransMsgID, env.TransMsgSeq)
	}

	rawBody, err := capxml.Marshal(env)
	if err != nil {
		return apperr.Wrap(apperr.KindParsing, err, "re-marshal envelope for storage")
	}

	logID, err := tcpLogs.Insert(ctx, env.TransMsgID, int32(env.TransMsgSeq), rawBody)
	if err != nil {
		if store.IsUniqueViolation(err) {
			return apperr.New(apperr.KindDuplicate, "duplicate inbound_id=%s inbound_seq=%d", env.TransMsgID, env.TransMsgSeq)
		}
		return apperr.Wrap(apperr.KindTransientStorage, err, "insert tcp_receive_log")
	}

	if err := e.validateAndPublish(ctx, logID, env, alert); err != nil {
		if merr := tcpLogs.MarkFailed(context.WithoutCancel(ctx), logID, err.Error()); merr != nil {
			e.logger.Error("failed to mark tcp_receive_log FAILED", zap.Error(merr))
		}
		return err
	}

	return nil
}

// validateAndPublish runs CAP field validation and the event-code allowlist
// check, then, inside a single transaction, the disaster_publish_log insert
// and the tcp_receive_log SUCCESS transition.
func (e *Engine) validateAndPublish(ctx context.Context, logID pgtype.UUID, env capxml.Envelope, alert *capxml.Alert) error {
	if alert.Identifier == "" || alert.Sender == "" || alert.Sent == "" || alert.EventCodeValue() == "" {
		return apperr.New(apperr.KindValidation, "missing required CAP field (identifier/sender/sent/eventCode)")
	}
	eventCode := alert.EventCodeValue()
	if !capxml.ValidEventCode(eventCode) {
		return apperr.New(apperr.KindProfile, "event code %q not in allowlist", eventCode)
	}

	rawBody, err := capxml.Marshal(env)
	if err != nil {
		return apperr.Wrap(apperr.KindParsing, err, "re-marshal envelope for publish log")
	}

	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return apperr.Wrap(apperr.KindTransientStorage, err, "begin transaction")
	}
	defer tx.Rollback(ctx)

	publishLogs := store.NewDisasterPublishLogStore(tx)
	_, _, err = publishLogs.Insert(ctx, store.InsertDisasterPublishLogParams{
		TCPReceiveLogID: logID,
		RoutingKey:      "disaster." + eventCode,
		Identifier:      alert.Identifier,
		EventCode:       eventCode,
		RawMessage:      rawBody,
	})
	if err != nil {
		return apperr.Wrap(apperr.KindTransientStorage, err, "insert disaster_publish_log")
	}

	tcpLogs := store.NewTCPReceiveLogStore(tx)
	if err := tcpLogs.MarkSuccess(ctx, logID); err != nil {
		return apperr.Wrap(apperr.KindTransientStorage, err, "mark tcp_receive_log SUCCESS")
	}

	if err := tx.Commit(ctx); err != nil {
		return apperr.Wrap(apperr.KindTransientStorage, err, "commit transaction")
	}
	return nil
}
