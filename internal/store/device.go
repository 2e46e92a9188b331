package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

// Device is one row of the device registry. The unique
// constraint is (external_system_id, device_id); upserts key off it.
type Device struct {
	ID                 pgtype.UUID
	ExternalSystemID   pgtype.UUID
	DeviceID           string
	Type               string
	Name               string
	ServerIP           pgtype.Text
	ServerName         pgtype.Text
	Model              pgtype.Text
	Lat                pgtype.Float8
	Lon                pgtype.Float8
	Address            pgtype.Text
	Note               pgtype.Text
}

type DeviceStore struct {
	db DBTX
}

func NewDeviceStore(db DBTX) *DeviceStore {
	return &DeviceStore{db: db}
}

// UpsertParams mirrors the fields ESS supplies in a device-info report.
type UpsertDeviceParams struct {
	ExternalSystemID pgtype.UUID
	DeviceID         string
	Type             string
	Name             string
	ServerIP         pgtype.Text
	ServerName       pgtype.Text
	Model            pgtype.Text
	Lat              pgtype.Float8
	Lon              pgtype.Float8
	Address          pgtype.Text
	Note             pgtype.Text
}

// Upsert inserts or updates a device keyed on (external_system_id, device_id),
// the "upserted by ESS" invariant.
func (s *DeviceStore) Upsert(ctx context.Context, p UpsertDeviceParams) (*Device, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO devices (external_system_id, device_id, type, name, server_ip, server_name, model, lat, lon, address, note)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (external_system_id, device_id) DO UPDATE SET
			type = EXCLUDED.type,
			name = EXCLUDED.name,
			server_ip = EXCLUDED.server_ip,
			server_name = EXCLUDED.server_name,
			model = EXCLUDED.model,
			lat = EXCLUDED.lat,
			lon = EXCLUDED.lon,
			address = EXCLUDED.address,
			note = EXCLUDED.note
		RETURNING id, external_system_id, device_id, type, name, server_ip, server_name, model, lat, lon, address, note`,
		p.ExternalSystemID, p.DeviceID, p.Type, p.Name, p.ServerIP, p.ServerName, p.Model, p.Lat, p.Lon, p.Address, p.Note)

	var d Device
	if err := row.Scan(&d.ID, &d.ExternalSystemID, &d.DeviceID, &d.Type, &d.Name, &d.ServerIP, &d.ServerName, &d.Model, &d.Lat, &d.Lon, &d.Address, &d.Note); err != nil {
		return nil, err
	}
	return &d, nil
}

// GetByDeviceID fetches one device within an external system's namespace.
func (s *DeviceStore) GetByDeviceID(ctx context.Context, externalSystemID pgtype.UUID, deviceID string) (*Device, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, external_system_id, device_id, type, name, server_ip, server_name, model, lat, lon, address, note
		FROM devices WHERE external_system_id = $1 AND device_id = $2`, externalSystemID, deviceID)

	var d Device
	if err := row.Scan(&d.ID, &d.ExternalSystemID, &d.DeviceID, &d.Type, &d.Name, &d.ServerIP, &d.ServerName, &d.Model, &d.Lat, &d.Lon, &d.Address, &d.Note); err != nil {
		return nil, err
	}
	return &d, nil
}
