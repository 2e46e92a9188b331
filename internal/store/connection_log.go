package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

// ConnectionLog is an append-only observational row recording a CS/ES
// connection lifecycle event (session established, dropped, auth failure).
type ConnectionLog struct {
	ID        pgtype.UUID
	Side      string // "CS" or "ES"
	Event     string
	Detail    pgtype.Text
	CreatedAt pgtype.Timestamptz
}

type ConnectionLogStore struct {
	db DBTX
}

func NewConnectionLogStore(db DBTX) *ConnectionLogStore {
	return &ConnectionLogStore{db: db}
}

// Insert records one connection-lifecycle event. Failures here are
// best-effort observability and must never block the session driver, per
// the protocol — callers log and continue on error rather than propagate.
func (s *ConnectionLogStore) Insert(ctx context.Context, side, event string, detail pgtype.Text) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO connection_logs (side, event, detail)
		VALUES ($1,$2,$3)`, side, event, detail)
	return err
}
