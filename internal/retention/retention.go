// Package retention implements the daily housekeeping job that purges
// terminal mq_receive_log (and, on the CS side, tcp_receive_log) rows and
// all api_receive_log rows past a configurable age, publishing a lightweight
// tick over plain NATS once the sweep completes.
package retention

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/bonghwa-relay/gateway/internal/broker"
	"github.com/bonghwa-relay/gateway/internal/store"
)

const tickSubject = "SYSTEM_EVENTS.retention.swept"

// tickPayload is the JSON envelope published after each sweep.
type tickPayload struct {
	Event          string `json:"event"`
	Timestamp      string `json:"timestamp"`
	MQReceiveRows  int64  `json:"mqReceiveRows"`
	APIReceiveRows int64  `json:"apiReceiveRows"`
	TCPReceiveRows int64  `json:"tcpReceiveRows,omitempty"`
}

// Worker runs the daily retention sweep. IncludeTCPReceiveLog is true on the
// Central Service, which owns tcp_receive_log; false on the External
// Service, which has no such table.
type Worker struct {
	pool                 store.DBTX
	bus                  *broker.Client
	window               time.Duration
	includeTCPReceiveLog bool
	cron                 *cron.Cron
	logger               *zap.Logger
}

// New constructs a Worker. window is the retention cutoff (rows older than
// now-window are purged; for the tables with a status, only SUCCESS/FAILED
// rows); spec default is 30 days.
func New(pool store.DBTX, bus *broker.Client, window time.Duration, includeTCPReceiveLog bool, logger *zap.Logger) *Worker {
	return &Worker{
		pool:                 pool,
		bus:                  bus,
		window:               window,
		includeTCPReceiveLog: includeTCPReceiveLog,
		cron:                 cron.New(cron.WithSeconds()),
		logger:               logger,
	}
}

// Start registers the daily sweep and starts the scheduler.
func (w *Worker) Start() error {
	if _, err := w.cron.AddFunc("@daily", w.sweep); err != nil {
		return err
	}
	w.cron.Start()
	w.logger.Info("retention worker started", zap.Duration("window", w.window))
	return nil
}

// Stop gracefully stops the scheduler.
func (w *Worker) Stop() {
	ctx := w.cron.Stop()
	<-ctx.Done()
	w.logger.Info("retention worker stopped")
}

func (w *Worker) sweep() {
	ctx := context.Background()

	var cutoff pgtype.Timestamptz
	cutoff.Scan(time.Now().Add(-w.window))

	mqLogs := store.NewMQReceiveLogStore(w.pool)
	mqRows, err := mqLogs.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		w.logger.Error("retention sweep: mq_receive_log delete failed", zap.Error(err))
	}

	apiLogs := store.NewAPIReceiveLogStore(w.pool)
	apiRows, err := apiLogs.DeleteBefore(ctx, cutoff)
	if err != nil {
		w.logger.Error("retention sweep: api_receive_log delete failed", zap.Error(err))
	}

	var tcpRows int64
	if w.includeTCPReceiveLog {
		tcpLogs := store.NewTCPReceiveLogStore(w.pool)
		tcpRows, err = tcpLogs.DeleteTerminalBefore(ctx, cutoff)
		if err != nil {
			w.logger.Error("retention sweep: tcp_receive_log delete failed", zap.Error(err))
		}
	}

	w.logger.Info("retention sweep complete",
		zap.Int64("mq_receive_rows", mqRows),
		zap.Int64("api_receive_rows", apiRows),
		zap.Int64("tcp_receive_rows", tcpRows),
	)

	w.publishTick(mqRows, apiRows, tcpRows)
}

func (w *Worker) publishTick(mqRows, apiRows, tcpRows int64) {
	payload := tickPayload{
		Event:          "retention.swept",
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
		MQReceiveRows:  mqRows,
		APIReceiveRows: apiRows,
		TCPReceiveRows: tcpRows,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		w.logger.Error("failed to marshal retention tick payload", zap.Error(err))
		return
	}
	// Plain NATS, not JetStream: a retention tick is an ephemeral signal,
	// not an event needing at-least-once delivery.
	if err := w.bus.Conn.Publish(tickSubject, data); err != nil {
		w.logger.Error("failed to publish retention tick", zap.Error(err))
	}
}
