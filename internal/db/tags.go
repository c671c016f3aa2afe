package db

import (
	"context"
	"database/sql"

	"github.com/haseab/retrace-sub006/internal/errors"
	"github.com/haseab/retrace-sub006/internal/model"
)

// CreateTag returns the tag with the given name, creating it if needed.
// Names are normalized first, so repeated calls yield the same id.
func (d *DB) CreateTag(ctx context.Context, name string) (*model.Tag, error) {
	norm := model.NormalizeTagName(name)
	if norm == "" {
		return nil, errors.NewInvalidRequest("tag name is required")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	var tag *model.Tag
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := exec(ctx, tx, `INSERT INTO tag (name) VALUES (?) ON CONFLICT(name) DO NOTHING`, norm); err != nil {
			return err
		}
		t, err := getTagByName(ctx, tx, norm)
		tag = t
		return err
	})
	if err != nil {
		return nil, err
	}
	return tag, nil
}

// GetTagByName returns the tag, or nil when none has that name.
func (d *DB) GetTagByName(ctx context.Context, name string) (*model.Tag, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return getTagByName(ctx, d.conn, model.NormalizeTagName(name))
}

func getTagByName(ctx context.Context, q querier, norm string) (*model.Tag, error) {
	const query = `SELECT id, name FROM tag WHERE name = ?`
	var t model.Tag
	err := q.QueryRowContext(ctx, query, norm).Scan(&t.ID, &t.Name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewQueryFailed(query, err)
	}
	return &t, nil
}

// ListTags returns every tag by name.
func (d *DB) ListTags(ctx context.Context) ([]model.Tag, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return queryTags(ctx, d.conn, `SELECT id, name FROM tag ORDER BY name`)
}

// DeleteTag removes a tag and its session links.
func (d *DB) DeleteTag(ctx context.Context, id int64) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return execAffected(ctx, d.conn, `DELETE FROM tag WHERE id = ?`, id)
}

// TagSession attaches a tag to a session. Tagging twice is a no-op.
func (d *DB) TagSession(ctx context.Context, sessionID, tagID int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := exec(ctx, d.conn,
		`INSERT OR IGNORE INTO segment_tag (segment_id, tag_id) VALUES (?, ?)`, sessionID, tagID)
	return err
}

// UntagSession detaches a tag from a session.
func (d *DB) UntagSession(ctx context.Context, sessionID, tagID int64) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return execAffected(ctx, d.conn,
		`DELETE FROM segment_tag WHERE segment_id = ? AND tag_id = ?`, sessionID, tagID)
}

// TagsForSession returns a session's tags by name.
func (d *DB) TagsForSession(ctx context.Context, sessionID int64) ([]model.Tag, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return queryTags(ctx, d.conn, `
		SELECT t.id, t.name FROM tag t
		JOIN segment_tag st ON st.tag_id = t.id
		WHERE st.segment_id = ?
		ORDER BY t.name`, sessionID)
}

// HiddenSessionIDs returns the sessions carrying the reserved hidden tag.
func (d *DB) HiddenSessionIDs(ctx context.Context) ([]int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	const query = `
		SELECT st.segment_id FROM segment_tag st
		JOIN tag t ON t.id = st.tag_id
		WHERE t.name = ?
		ORDER BY st.segment_id`
	rows, err := d.conn.QueryContext(ctx, query, model.HiddenTag)
	if err != nil {
		return nil, errors.NewQueryFailed(query, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, errors.NewQueryFailed(query, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewQueryFailed(query, err)
	}
	return ids, nil
}

func queryTags(ctx context.Context, q querier, query string, args ...any) ([]model.Tag, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewQueryFailed(query, err)
	}
	defer rows.Close()

	var out []model.Tag
	for rows.Next() {
		var t model.Tag
		if err := rows.Scan(&t.ID, &t.Name); err != nil {
			return nil, errors.NewQueryFailed(query, err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewQueryFailed(query, err)
	}
	return out, nil
}
