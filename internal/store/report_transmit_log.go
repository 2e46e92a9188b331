package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

// ReportTransmitLog is the CS outbox to CAS over TCP.
// The tuple (outbound_id, report_sequence) uniquely identifies a single send
// attempt, used to correlate a later ETS_CNF_* ack back to this row.
type ReportTransmitLog struct {
	ID                 pgtype.UUID
	MQReceiveLogID     pgtype.UUID
	Type               ReportType
	OutboundID         string
	ExternalSystemName string
	RawMessage         []byte
	Status             Status
	RetryCount         int32
	ReportSequence     int32
	ErrorDetail        pgtype.Text
	CreatedAt          pgtype.Timestamptz
	UpdatedAt          pgtype.Timestamptz
}

type ReportTransmitLogStore struct {
	db DBTX
}

func NewReportTransmitLogStore(db DBTX) *ReportTransmitLogStore {
	return &ReportTransmitLogStore{db: db}
}

type InsertReportTransmitLogParams struct {
	MQReceiveLogID     pgtype.UUID
	Type               ReportType
	OutboundID         string
	ExternalSystemName string
	RawMessage         []byte
}

// Insert appends a new row in PENDING status with report_sequence = 1. Per
// the preserved behavior, report_sequence is not incremented on
// the first attempt — only on explicit retries via IncrementSequenceAndRetry.
func (s *ReportTransmitLogStore) Insert(ctx context.Context, p InsertReportTransmitLogParams) (pgtype.UUID, error) {
	var id pgtype.UUID
	err := s.db.QueryRow(ctx, `
		INSERT INTO report_transmit_logs (mq_receive_log_id, type, outbound_id, external_system_name, raw_message, status, report_sequence)
		VALUES ($1,$2,$3,$4,$5,$6,1)
		RETURNING id`,
		p.MQReceiveLogID, p.Type, p.OutboundID, p.ExternalSystemName, p.RawMessage, StatusPending).Scan(&id)
	return id, err
}

// ListPendingOrStaleSent returns PENDING rows, or SENT rows whose updated_at
// is older than staleSentCutoff (treated as stuck-SENT and re-driven), per
// the sender poller.
func (s *ReportTransmitLogStore) ListPendingOrStaleSent(ctx context.Context, staleSentCutoff pgtype.Timestamptz, limit int) ([]ReportTransmitLog, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, mq_receive_log_id, type, outbound_id, external_system_name, raw_message, status, retry_count, report_sequence, error_detail, created_at, updated_at
		FROM report_transmit_logs
		WHERE status = $1 OR (status = $2 AND updated_at < $3)
		ORDER BY created_at
		LIMIT $4`, StatusPending, StatusSent, staleSentCutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ReportTransmitLog
	for rows.Next() {
		l, err := scanReportTransmitLog(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

// GetByOutboundAndSequence correlates an inbound ETS_CNF_* ack back to its
// send attempt.
func (s *ReportTransmitLogStore) GetByOutboundAndSequence(ctx context.Context, outboundID string, sequence int32) (*ReportTransmitLog, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, mq_receive_log_id, type, outbound_id, external_system_name, raw_message, status, retry_count, report_sequence, error_detail, created_at, updated_at
		FROM report_transmit_logs WHERE outbound_id = $1 AND report_sequence = $2`, outboundID, sequence)
	return scanReportTransmitLog(row)
}

// MarkSent transitions a row to SENT, refreshing updated_at so the
// stale-SENT re-drive window restarts from the send.
func (s *ReportTransmitLogStore) MarkSent(ctx context.Context, id pgtype.UUID) error {
	_, err := s.db.Exec(ctx, `
		UPDATE report_transmit_logs SET status = $2, updated_at = now() WHERE id = $1`, id, StatusSent)
	return err
}

// MarkPendingWithError reverts a SENT row back to PENDING with an error
// detail after a non-200 CAS ack step 5 — the retry
// count and sequence are bumped later, by the poller on its next pickup,
// not here.
func (s *ReportTransmitLogStore) MarkPendingWithError(ctx context.Context, id pgtype.UUID, errDetail string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE report_transmit_logs SET status = $2, error_detail = $3, updated_at = now() WHERE id = $1`,
		id, StatusPending, errDetail)
	return err
}

// MarkSuccess transitions a row to SUCCESS on CAS ack.
func (s *ReportTransmitLogStore) MarkSuccess(ctx context.Context, id pgtype.UUID) error {
	_, err := s.db.Exec(ctx, `
		UPDATE report_transmit_logs SET status = $2, updated_at = now() WHERE id = $1`, id, StatusSuccess)
	return err
}

// MarkFailed transitions a row straight to terminal FAILED — used when a
// DISASTER_RESULT report's referenced disaster_publish_log is missing its
// sender/sent fields and <references> can never be reconstructed, so no
// amount of re-driving will help.
func (s *ReportTransmitLogStore) MarkFailed(ctx context.Context, id pgtype.UUID, errDetail string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE report_transmit_logs SET status = $2, error_detail = $3, updated_at = now() WHERE id = $1`,
		id, StatusFailed, errDetail)
	return err
}

// IncrementSequenceAndRetry bumps both report_sequence and retry_count on a
// re-drive, transitioning to terminal FAILED once retry_count exceeds
// maxRetries; otherwise leaves the row PENDING for the next poller tick.
func (s *ReportTransmitLogStore) IncrementSequenceAndRetry(ctx context.Context, id pgtype.UUID, maxRetries int32, errDetail string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE report_transmit_logs SET
			report_sequence = report_sequence + 1,
			retry_count = retry_count + 1,
			error_detail = $3,
			status = CASE WHEN retry_count + 1 > $2 THEN $4 ELSE $5 END,
			updated_at = now()
		WHERE id = $1`, id, maxRetries, errDetail, StatusFailed, StatusPending)
	return err
}

func scanReportTransmitLog(row rowScanner) (*ReportTransmitLog, error) {
	var l ReportTransmitLog
	if err := row.Scan(&l.ID, &l.MQReceiveLogID, &l.Type, &l.OutboundID, &l.ExternalSystemName, &l.RawMessage, &l.Status, &l.RetryCount, &l.ReportSequence, &l.ErrorDetail, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return nil, err
	}
	return &l, nil
}
