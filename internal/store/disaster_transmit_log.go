package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

// DisasterTransmitLog is the ES outbox to ESS over WebSocket. Invariant:
// (external_system_id, identifier) unique — exactly one row per alert per
// subscriber regardless of broker redelivery.
type DisasterTransmitLog struct {
	ID               pgtype.UUID
	MQReceiveLogID   pgtype.UUID
	ExternalSystemID pgtype.UUID
	Identifier       string
	RawMessage       []byte
	Status           Status
	RetryCount       int32
	CreatedAt        pgtype.Timestamptz
	UpdatedAt        pgtype.Timestamptz
}

type DisasterTransmitLogStore struct {
	db DBTX
}

func NewDisasterTransmitLogStore(db DBTX) *DisasterTransmitLogStore {
	return &DisasterTransmitLogStore{db: db}
}

type InsertDisasterTransmitLogParams struct {
	MQReceiveLogID   pgtype.UUID
	ExternalSystemID pgtype.UUID
	Identifier       string
	RawMessage       []byte
}

// InsertBatch bulk-inserts one row per subscriber with ON CONFLICT DO
// NOTHING, so redelivery of the same mq_receive_log row never duplicates a
// subscriber's transmit log.
func (s *DisasterTransmitLogStore) InsertBatch(ctx context.Context, rows []InsertDisasterTransmitLogParams) error {
	for _, r := range rows {
		if _, err := s.db.Exec(ctx, `
			INSERT INTO disaster_transmit_logs (mq_receive_log_id, external_system_id, identifier, raw_message, status)
			VALUES ($1,$2,$3,$4,$5)
			ON CONFLICT (external_system_id, identifier) DO NOTHING`,
			r.MQReceiveLogID, r.ExternalSystemID, r.Identifier, r.RawMessage, StatusPending); err != nil {
			return err
		}
	}
	return nil
}

// GetByID re-reads one row, used at the top of the reliable-emit state
// machine to check whether it has already reached a terminal status since
// it was fetched.
func (s *DisasterTransmitLogStore) GetByID(ctx context.Context, id pgtype.UUID) (*DisasterTransmitLog, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, mq_receive_log_id, external_system_id, identifier, raw_message, status, retry_count, created_at, updated_at
		FROM disaster_transmit_logs WHERE id = $1`, id)
	return scanDisasterTransmitLog(row)
}

// ExistsByIdentifier reports whether this subscriber was ever a target of
// identifier — backs the /disaster-result ingress validator, kept distinct
// from disaster_publish_log's same-named method since the two tables serve
// different sides of the relay.
func (s *DisasterTransmitLogStore) ExistsByIdentifier(ctx context.Context, externalSystemID pgtype.UUID, identifier string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM disaster_transmit_logs WHERE external_system_id = $1 AND identifier = $2)`,
		externalSystemID, identifier).Scan(&exists)
	return exists, err
}

// ListPending returns PENDING/stale-SENT rows across every subscriber, in
// the order they should be (re)delivered — the fetch function for the
// disasterTransmitWorker poller, which dispatches
// each row to the reliable-emit engine regardless of which subscriber it
// targets.
func (s *DisasterTransmitLogStore) ListPending(ctx context.Context, staleSentCutoff pgtype.Timestamptz, limit int) ([]DisasterTransmitLog, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, mq_receive_log_id, external_system_id, identifier, raw_message, status, retry_count, created_at, updated_at
		FROM disaster_transmit_logs
		WHERE status = $1 OR (status = $2 AND updated_at < $3)
		ORDER BY created_at
		LIMIT $4`, StatusPending, StatusSent, staleSentCutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DisasterTransmitLog
	for rows.Next() {
		l, err := scanDisasterTransmitLog(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

// ListPendingForSubscriber returns PENDING/stale-SENT rows targeting one
// subscriber, in the order they should be (re)delivered.
func (s *DisasterTransmitLogStore) ListPendingForSubscriber(ctx context.Context, externalSystemID pgtype.UUID, staleSentCutoff pgtype.Timestamptz, limit int) ([]DisasterTransmitLog, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, mq_receive_log_id, external_system_id, identifier, raw_message, status, retry_count, created_at, updated_at
		FROM disaster_transmit_logs
		WHERE external_system_id = $1
		  AND (status = $2 OR (status = $3 AND updated_at < $4))
		ORDER BY created_at
		LIMIT $5`, externalSystemID, StatusPending, StatusSent, staleSentCutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DisasterTransmitLog
	for rows.Next() {
		l, err := scanDisasterTransmitLog(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

// MarkPending downgrades a stale SENT row back to PENDING when its
// subscriber has no active socket step 3.
func (s *DisasterTransmitLogStore) MarkPending(ctx context.Context, id pgtype.UUID) error {
	_, err := s.db.Exec(ctx, `
		UPDATE disaster_transmit_logs SET status = $2, updated_at = now() WHERE id = $1`, id, StatusPending)
	return err
}

// MarkSent transitions a row to SENT, refreshing updated_at so the stale-SENT
// re-drive window restarts from the moment of send.
func (s *DisasterTransmitLogStore) MarkSent(ctx context.Context, id pgtype.UUID) error {
	_, err := s.db.Exec(ctx, `
		UPDATE disaster_transmit_logs SET status = $2, updated_at = now() WHERE id = $1`, id, StatusSent)
	return err
}

// MarkSuccess transitions a row to SUCCESS on subscriber ack.
func (s *DisasterTransmitLogStore) MarkSuccess(ctx context.Context, id pgtype.UUID) error {
	_, err := s.db.Exec(ctx, `
		UPDATE disaster_transmit_logs SET status = $2, updated_at = now() WHERE id = $1`, id, StatusSuccess)
	return err
}

// IncrementRetry bumps retry_count and, past maxRetries, transitions to
// terminal FAILED. Guarded to rows not already in a terminal status, so a
// late call racing behind a concurrent success/failure transition is a no-op
// rather than reopening a closed row.
func (s *DisasterTransmitLogStore) IncrementRetry(ctx context.Context, id pgtype.UUID, maxRetries int32) error {
	_, err := s.db.Exec(ctx, `
		UPDATE disaster_transmit_logs SET
			retry_count = retry_count + 1,
			status = CASE WHEN retry_count + 1 > $2 THEN $3 ELSE $4 END,
			updated_at = now()
		WHERE id = $1 AND status NOT IN ($3, $5)`, id, maxRetries, StatusFailed, StatusPending, StatusSuccess)
	return err
}

func scanDisasterTransmitLog(row rowScanner) (*DisasterTransmitLog, error) {
	var l DisasterTransmitLog
	if err := row.Scan(&l.ID, &l.MQReceiveLogID, &l.ExternalSystemID, &l.Identifier, &l.RawMessage, &l.Status, &l.RetryCount, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return nil, err
	}
	return &l, nil
}
