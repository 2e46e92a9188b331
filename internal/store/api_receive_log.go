package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

// APIReceiveLog is an append-only audit row for every ES HTTP ingress call
//.
type APIReceiveLog struct {
	ID               pgtype.UUID
	ExternalSystemID pgtype.UUID
	RequestPath      string
	RequestBody      []byte
	CreatedAt        pgtype.Timestamptz
}

type APIReceiveLogStore struct {
	db DBTX
}

func NewAPIReceiveLogStore(db DBTX) *APIReceiveLogStore {
	return &APIReceiveLogStore{db: db}
}

// Insert records one ingress call and returns its generated id, for use as
// the api_receive_log_id foreign key on the resulting report_publish_log row.
func (s *APIReceiveLogStore) Insert(ctx context.Context, externalSystemID pgtype.UUID, requestPath string, requestBody []byte) (pgtype.UUID, error) {
	var id pgtype.UUID
	err := s.db.QueryRow(ctx, `
		INSERT INTO api_receive_logs (external_system_id, request_path, request_body)
		VALUES ($1,$2,$3)
		RETURNING id`, externalSystemID, requestPath, requestBody).Scan(&id)
	return id, err
}

// DeleteBefore removes rows older than cutoff, for the retention worker
//. Unlike the outbox/inbox tables, api_receive_log carries
// no status — every row is already "done" the moment it's written — so
// age is the only purge criterion.
func (s *APIReceiveLogStore) DeleteBefore(ctx context.Context, cutoff pgtype.Timestamptz) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM api_receive_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
