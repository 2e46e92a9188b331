// Package store is the Postgres persistence layer for every inbox/outbox
// table the gateway maintains. It follows a `db.Querier` convention: a
// narrow, hand-written interface per entity, a `New(DBTX)` constructor that
// accepts either a *pgxpool.Pool or a pgx.Tx, and pgx/pgtype types at the
// boundary rather than database/sql's.
//
// No sqlc codegen runs here (this module writes code directly, never SQL
// files fed to a generator), so the Querier-per-entity shape is reproduced
// by hand rather than generated.
package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// DBTX is the minimal surface both *pgxpool.Pool and pgx.Tx satisfy, letting
// every store accept a transaction for atomic multi-table writes or the pool
// directly for a single read/write.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Status is the lifecycle value shared by every outbox/inbox table, per the
// PENDING ⊕ SENT ⊕ SUCCESS ⊕ FAILED invariant in the protocol.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusSent    Status = "SENT"
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
)

// UUIDString renders a pgtype.UUID in canonical hyphenated form, since
// pgtype.UUID itself carries no Stringer.
func UUIDString(id pgtype.UUID) string {
	return uuid.UUID(id.Bytes).String()
}
