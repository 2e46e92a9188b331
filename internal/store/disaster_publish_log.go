package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// DisasterPublishLog is the CS outbox to the broker.
// identifier uniqueness is the system-wide idempotency key for the disaster
// fan-out: at most one row per CAP alert identifier ever exists.
type DisasterPublishLog struct {
	ID              pgtype.UUID
	TCPReceiveLogID pgtype.UUID
	RoutingKey      string
	Identifier      string
	EventCode       string
	RawMessage      []byte
	Status          Status
	RetryCount      int32
	CreatedAt       pgtype.Timestamptz
	UpdatedAt       pgtype.Timestamptz
}

type DisasterPublishLogStore struct {
	db DBTX
}

func NewDisasterPublishLogStore(db DBTX) *DisasterPublishLogStore {
	return &DisasterPublishLogStore{db: db}
}

type InsertDisasterPublishLogParams struct {
	TCPReceiveLogID pgtype.UUID
	RoutingKey      string
	Identifier      string
	EventCode       string
	RawMessage      []byte
}

// Insert inserts with ON CONFLICT(identifier) DO NOTHING, collapsing a
// duplicate alert that slipped past the tcp_receive_log dedup check because
// it arrived with a different transMsgId (the protocol step 6). Returns
// (id, true) on a fresh insert, (zero, false) when the conflict fired.
func (s *DisasterPublishLogStore) Insert(ctx context.Context, p InsertDisasterPublishLogParams) (pgtype.UUID, bool, error) {
	var id pgtype.UUID
	err := s.db.QueryRow(ctx, `
		INSERT INTO disaster_publish_logs (tcp_receive_log_id, routing_key, identifier, event_code, raw_message, status)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (identifier) DO NOTHING
		RETURNING id`,
		p.TCPReceiveLogID, p.RoutingKey, p.Identifier, p.EventCode, p.RawMessage, StatusPending).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return pgtype.UUID{}, false, nil
		}
		return pgtype.UUID{}, false, err
	}
	return id, true, nil
}

// ExistsByIdentifier reports whether a disaster_publish_log row already
// exists for identifier — the CS-side broker-consumer sanity check run before
// a DISASTER_RESULT report's outbound_id is minted, kept distinct
// from disaster_transmit_log's same-named method since the two tables serve
// different sides of the relay.
func (s *DisasterPublishLogStore) ExistsByIdentifier(ctx context.Context, identifier string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM disaster_publish_logs WHERE identifier = $1)`, identifier).Scan(&exists)
	return exists, err
}

// GetByIdentifier fetches the row needed to reconstruct the original alert's
// sender/sent for a DISASTER_RESULT report's <references> (the protocol
// step 2).
func (s *DisasterPublishLogStore) GetByIdentifier(ctx context.Context, identifier string) (*DisasterPublishLog, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, tcp_receive_log_id, routing_key, identifier, event_code, raw_message, status, retry_count, created_at, updated_at
		FROM disaster_publish_logs WHERE identifier = $1`, identifier)
	return scanDisasterPublishLog(row)
}

// ListPending returns PENDING rows for the disaster-publish poller, capped
// at limit.
func (s *DisasterPublishLogStore) ListPending(ctx context.Context, limit int) ([]DisasterPublishLog, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, tcp_receive_log_id, routing_key, identifier, event_code, raw_message, status, retry_count, created_at, updated_at
		FROM disaster_publish_logs WHERE status = $1 ORDER BY created_at LIMIT $2`, StatusPending, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DisasterPublishLog
	for rows.Next() {
		l, err := scanDisasterPublishLog(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

// MarkSent transitions a row to SENT. The disaster-publish path does not
// call it: a successful broker publish goes straight to MarkSuccess.
func (s *DisasterPublishLogStore) MarkSent(ctx context.Context, id pgtype.UUID) error {
	_, err := s.db.Exec(ctx, `
		UPDATE disaster_publish_logs SET status = $2, updated_at = now() WHERE id = $1`, id, StatusSent)
	return err
}

// MarkSuccess transitions a row straight to terminal SUCCESS: a broker
// publish has no asynchronous ACK to await, so there is no SENT interstitial
// state on this table's happy path.
func (s *DisasterPublishLogStore) MarkSuccess(ctx context.Context, id pgtype.UUID) error {
	_, err := s.db.Exec(ctx, `
		UPDATE disaster_publish_logs SET status = $2, updated_at = now() WHERE id = $1`, id, StatusSuccess)
	return err
}

// IncrementRetry bumps retry_count and, if it now exceeds maxRetries,
// transitions the row to terminal FAILED instead of leaving it PENDING.
func (s *DisasterPublishLogStore) IncrementRetry(ctx context.Context, id pgtype.UUID, maxRetries int32) error {
	_, err := s.db.Exec(ctx, `
		UPDATE disaster_publish_logs SET
			retry_count = retry_count + 1,
			status = CASE WHEN retry_count + 1 > $2 THEN $3 ELSE status END,
			updated_at = now()
		WHERE id = $1`, id, maxRetries, StatusFailed)
	return err
}

func scanDisasterPublishLog(row rowScanner) (*DisasterPublishLog, error) {
	var l DisasterPublishLog
	if err := row.Scan(&l.ID, &l.TCPReceiveLogID, &l.RoutingKey, &l.Identifier, &l.EventCode, &l.RawMessage, &l.Status, &l.RetryCount, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return nil, err
	}
	return &l, nil
}
