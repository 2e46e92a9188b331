package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

// DeviceStatusLog is an append-only observational row recording one
// device-status report.
type DeviceStatusLog struct {
	ID        pgtype.UUID
	DeviceID  pgtype.UUID
	Status    string
	ReportedAt pgtype.Timestamptz
	CreatedAt pgtype.Timestamptz
}

type DeviceStatusLogStore struct {
	db DBTX
}

func NewDeviceStatusLogStore(db DBTX) *DeviceStatusLogStore {
	return &DeviceStatusLogStore{db: db}
}

type InsertDeviceStatusLogParams struct {
	DeviceID   pgtype.UUID
	Status     string
	ReportedAt pgtype.Timestamptz
}

// InsertBatch bulk-inserts device-status rows within the caller's
// transaction, one statement per row (pgx batching is not needed at the
// volume the report-ingress handler sees).
func (s *DeviceStatusLogStore) InsertBatch(ctx context.Context, rows []InsertDeviceStatusLogParams) error {
	for _, r := range rows {
		if _, err := s.db.Exec(ctx, `
			INSERT INTO device_status_logs (device_id, status, reported_at)
			VALUES ($1,$2,$3)`, r.DeviceID, r.Status, r.ReportedAt); err != nil {
			return err
		}
	}
	return nil
}
