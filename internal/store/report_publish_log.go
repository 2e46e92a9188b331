package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

// ReportType enumerates the three report kinds ESS can submit.
type ReportType string

const (
	ReportTypeDeviceInfo    ReportType = "DEVICE_INFO"
	ReportTypeDeviceStatus  ReportType = "DEVICE_STATUS"
	ReportTypeDisasterResult ReportType = "DISASTER_RESULT"
)

// ReportPublishLog is the ES outbox to the broker.
type ReportPublishLog struct {
	ID                 pgtype.UUID
	Type               ReportType
	ExternalSystemName string
	APIReceiveLogID    pgtype.UUID
	RoutingKey         string
	RawMessage         []byte
	Status             Status
	RetryCount         int32
	CreatedAt          pgtype.Timestamptz
	UpdatedAt          pgtype.Timestamptz
}

type ReportPublishLogStore struct {
	db DBTX
}

func NewReportPublishLogStore(db DBTX) *ReportPublishLogStore {
	return &ReportPublishLogStore{db: db}
}

type InsertReportPublishLogParams struct {
	Type               ReportType
	ExternalSystemName string
	APIReceiveLogID    pgtype.UUID
	RoutingKey         string
	RawMessage         []byte
}

// Insert appends a new row in PENDING status, inside the same transaction as
// the report-ingress handler's domain-row writes.
func (s *ReportPublishLogStore) Insert(ctx context.Context, p InsertReportPublishLogParams) (pgtype.UUID, error) {
	var id pgtype.UUID
	err := s.db.QueryRow(ctx, `
		INSERT INTO report_publish_logs (type, external_system_name, api_receive_log_id, routing_key, raw_message, status)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id`,
		p.Type, p.ExternalSystemName, p.APIReceiveLogID, p.RoutingKey, p.RawMessage, StatusPending).Scan(&id)
	return id, err
}

// ListPending returns PENDING rows for the report-publish poller.
func (s *ReportPublishLogStore) ListPending(ctx context.Context, limit int) ([]ReportPublishLog, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, type, external_system_name, api_receive_log_id, routing_key, raw_message, status, retry_count, created_at, updated_at
		FROM report_publish_logs WHERE status = $1 ORDER BY created_at LIMIT $2`, StatusPending, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ReportPublishLog
	for rows.Next() {
		var l ReportPublishLog
		if err := rows.Scan(&l.ID, &l.Type, &l.ExternalSystemName, &l.APIReceiveLogID, &l.RoutingKey, &l.RawMessage, &l.Status, &l.RetryCount, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// MarkSuccess transitions a row straight to terminal SUCCESS: a broker
// publish has no asynchronous ACK to await, so there is no SENT interstitial
// state on this table's happy path, matching
// disaster_publish_log's MarkSuccess.
func (s *ReportPublishLogStore) MarkSuccess(ctx context.Context, id pgtype.UUID) error {
	_, err := s.db.Exec(ctx, `
		UPDATE report_publish_logs SET status = $2, updated_at = now() WHERE id = $1`, id, StatusSuccess)
	return err
}

// IncrementRetry bumps retry_count and, past maxRetries, transitions to
// terminal FAILED.
func (s *ReportPublishLogStore) IncrementRetry(ctx context.Context, id pgtype.UUID, maxRetries int32) error {
	_, err := s.db.Exec(ctx, `
		UPDATE report_publish_logs SET
			retry_count = retry_count + 1,
			status = CASE WHEN retry_count + 1 > $2 THEN $3 ELSE status END,
			updated_at = now()
		WHERE id = $1`, id, maxRetries, StatusFailed)
	return err
}
