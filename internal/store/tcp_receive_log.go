package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// TCPReceiveLog is the CS inbox from CAS. Invariant:
// (inbound_id, inbound_seq) unique — the primary dedup key for CAS
// deliveries.
type TCPReceiveLog struct {
	ID           pgtype.UUID
	InboundID    string
	InboundSeq   int32
	RawMessage   []byte
	Status       Status
	ErrorMessage pgtype.Text
	CreatedAt    pgtype.Timestamptz
	UpdatedAt    pgtype.Timestamptz
}

type TCPReceiveLogStore struct {
	db DBTX
}

func NewTCPReceiveLogStore(db DBTX) *TCPReceiveLogStore {
	return &TCPReceiveLogStore{db: db}
}

// ExistsByInboundSeq reports whether (inboundID, inboundSeq) has already been
// recorded, the duplicate-delivery check in the protocol step 2.
func (s *TCPReceiveLogStore) ExistsByInboundSeq(ctx context.Context, inboundID string, inboundSeq int32) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM tcp_receive_logs WHERE inbound_id = $1 AND inbound_seq = $2)`,
		inboundID, inboundSeq).Scan(&exists)
	return exists, err
}

// Insert appends a new row in PENDING status.
func (s *TCPReceiveLogStore) Insert(ctx context.Context, inboundID string, inboundSeq int32, rawMessage []byte) (pgtype.UUID, error) {
	var id pgtype.UUID
	err := s.db.QueryRow(ctx, `
		INSERT INTO tcp_receive_logs (inbound_id, inbound_seq, raw_message, status)
		VALUES ($1,$2,$3,$4)
		RETURNING id`, inboundID, inboundSeq, rawMessage, StatusPending).Scan(&id)
	return id, err
}

// MarkSuccess transitions a row to SUCCESS.
func (s *TCPReceiveLogStore) MarkSuccess(ctx context.Context, id pgtype.UUID) error {
	_, err := s.db.Exec(ctx, `
		UPDATE tcp_receive_logs SET status = $2, updated_at = now() WHERE id = $1`, id, StatusSuccess)
	return err
}

// MarkFailed transitions a row to FAILED on a best-effort, separate
// connection —, this runs outside the rolled-back
// transaction that produced the original classified failure.
func (s *TCPReceiveLogStore) MarkFailed(ctx context.Context, id pgtype.UUID, errMsg string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE tcp_receive_logs SET status = $2, error_message = $3, updated_at = now() WHERE id = $1`,
		id, StatusFailed, errMsg)
	return err
}

// DeleteTerminalBefore removes SUCCESS/FAILED rows older than cutoff, for the
// retention worker.
func (s *TCPReceiveLogStore) DeleteTerminalBefore(ctx context.Context, cutoff pgtype.Timestamptz) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM tcp_receive_logs
		WHERE status IN ($1, $2) AND created_at < $3`, StatusSuccess, StatusFailed, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// IsUniqueViolation reports whether err is a Postgres unique_violation,
// distinguishing the (inbound_id, inbound_seq) race from any other insert
// failure so callers can fall back to the duplicate-delivery path instead of
// a classified error.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
