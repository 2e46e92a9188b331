package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

// ExternalSystem is one row of the ESS registry: the source
// of truth for HTTP auth, CORS, and alert-fanout targeting.
type ExternalSystem struct {
	ID                   pgtype.UUID
	SystemName           string
	APIKey               string
	OriginURLs           []string
	SubscribedEventCodes []string
	IsActive             bool
	CreatedAt            pgtype.Timestamptz
	UpdatedAt            pgtype.Timestamptz
}

// ExternalSystemStore is the narrow data-access surface for external_system.
type ExternalSystemStore struct {
	db DBTX
}

func NewExternalSystemStore(db DBTX) *ExternalSystemStore {
	return &ExternalSystemStore{db: db}
}

// GetByCredentials looks up an active external_system by (system_name,
// api_key), used by the ES HTTP auth middleware and the WS handshake.
func (s *ExternalSystemStore) GetByCredentials(ctx context.Context, systemName, apiKey string) (*ExternalSystem, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, system_name, api_key, origin_urls, subscribed_event_codes, is_active, created_at, updated_at
		FROM external_systems
		WHERE system_name = $1 AND api_key = $2 AND is_active`, systemName, apiKey)
	return scanExternalSystem(row)
}

// GetByID fetches one external_system by primary key, active or not.
func (s *ExternalSystemStore) GetByID(ctx context.Context, id pgtype.UUID) (*ExternalSystem, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, system_name, api_key, origin_urls, subscribed_event_codes, is_active, created_at, updated_at
		FROM external_systems
		WHERE id = $1`, id)
	return scanExternalSystem(row)
}

// ListActiveSubscribers returns every active external_system whose
// subscribed_event_codes contains eventCode, for disaster fan-out targeting.
func (s *ExternalSystemStore) ListActiveSubscribers(ctx context.Context, eventCode string) ([]ExternalSystem, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, system_name, api_key, origin_urls, subscribed_event_codes, is_active, created_at, updated_at
		FROM external_systems
		WHERE is_active AND $1 = ANY(subscribed_event_codes)`, eventCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ExternalSystem
	for rows.Next() {
		es, err := scanExternalSystem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *es)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExternalSystem(row rowScanner) (*ExternalSystem, error) {
	var es ExternalSystem
	if err := row.Scan(&es.ID, &es.SystemName, &es.APIKey, &es.OriginURLs, &es.SubscribedEventCodes, &es.IsActive, &es.CreatedAt, &es.UpdatedAt); err != nil {
		return nil, err
	}
	return &es, nil
}
