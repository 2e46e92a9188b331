package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

// MQReceiveLog is the broker inbox shared by both CS and ES consumers:
// appended on receipt, then transitioned to a
// terminal status.
type MQReceiveLog struct {
	ID           pgtype.UUID
	RawMessage   []byte
	Status       Status
	ErrorMessage pgtype.Text
	CreatedAt    pgtype.Timestamptz
	UpdatedAt    pgtype.Timestamptz
}

type MQReceiveLogStore struct {
	db DBTX
}

func NewMQReceiveLogStore(db DBTX) *MQReceiveLogStore {
	return &MQReceiveLogStore{db: db}
}

// Insert appends a new row in PENDING status.
func (s *MQReceiveLogStore) Insert(ctx context.Context, rawMessage []byte) (pgtype.UUID, error) {
	var id pgtype.UUID
	err := s.db.QueryRow(ctx, `
		INSERT INTO mq_receive_logs (raw_message, status)
		VALUES ($1, $2)
		RETURNING id`, rawMessage, StatusPending).Scan(&id)
	return id, err
}

// MarkSuccess transitions a row to SUCCESS. Intended to be called inside the
// same transaction as the side-specific outbox insert it guards, per
// the protocol step 3.
func (s *MQReceiveLogStore) MarkSuccess(ctx context.Context, id pgtype.UUID) error {
	_, err := s.db.Exec(ctx, `
		UPDATE mq_receive_logs SET status = $2, updated_at = now() WHERE id = $1`, id, StatusSuccess)
	return err
}

// MarkFailed transitions a row to FAILED, recording the error detail.
func (s *MQReceiveLogStore) MarkFailed(ctx context.Context, id pgtype.UUID, errMsg string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE mq_receive_logs SET status = $2, error_message = $3, updated_at = now() WHERE id = $1`,
		id, StatusFailed, errMsg)
	return err
}

// DeleteTerminalBefore removes SUCCESS/FAILED rows older than cutoff, for the
// retention worker. Returns the number of rows removed.
func (s *MQReceiveLogStore) DeleteTerminalBefore(ctx context.Context, cutoff pgtype.Timestamptz) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM mq_receive_logs
		WHERE status IN ($1, $2) AND created_at < $3`, StatusSuccess, StatusFailed, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
