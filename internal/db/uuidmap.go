package db

import (
	"context"
	"time"

	"github.com/haseab/retrace-sub006/internal/errors"
	"github.com/haseab/retrace-sub006/internal/model"
)

// Mapping is one persisted external/internal identifier pair.
type Mapping struct {
	Entity     model.EntityType
	ExternalID string
	InternalID int64
	CreatedAt  time.Time
}

// UpsertMapping persists externalID -> internalID for an entity type.
// Registering the same pair again is a no-op; re-pointing an external id
// replaces its internal id. Two external ids for one internal id violate the
// bijection and fail as a constraint error.
func (d *DB) UpsertMapping(ctx context.Context, entity model.EntityType, externalID string, internalID int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := exec(ctx, d.conn, `
		INSERT INTO uuid_mapping (entity_type, external_id, internal_id, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(entity_type, external_id) DO UPDATE SET internal_id = excluded.internal_id`,
		string(entity), externalID, internalID, time.Now().UnixMilli())
	return err
}

// DeleteMapping removes one mapping.
func (d *DB) DeleteMapping(ctx context.Context, entity model.EntityType, externalID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return execAffected(ctx, d.conn,
		`DELETE FROM uuid_mapping WHERE entity_type = ? AND external_id = ?`, string(entity), externalID)
}

// LoadMappings returns every persisted mapping.
func (d *DB) LoadMappings(ctx context.Context) ([]Mapping, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	const query = `SELECT entity_type, external_id, internal_id, created_at FROM uuid_mapping`
	rows, err := d.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.NewQueryFailed(query, err)
	}
	defer rows.Close()

	var out []Mapping
	for rows.Next() {
		var (
			m      Mapping
			entity string
			ms     int64
		)
		if err := rows.Scan(&entity, &m.ExternalID, &m.InternalID, &ms); err != nil {
			return nil, errors.NewQueryFailed(query, err)
		}
		if m.Entity, err = model.ParseEntityType(entity); err != nil {
			return nil, errors.NewQueryFailed(query, err)
		}
		m.CreatedAt = time.UnixMilli(ms).UTC()
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewQueryFailed(query, err)
	}
	return out, nil
}
