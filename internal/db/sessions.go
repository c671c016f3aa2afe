package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/haseab/retrace-sub006/internal/config"
	"github.com/haseab/retrace-sub006/internal/errors"
	"github.com/haseab/retrace-sub006/internal/model"
)

const sessionColumns = `id, bundle_id, window_name, browser_url, display_id, start_date, end_date`

// InsertSession stores a new session and sets s.ID.
func (d *DB) InsertSession(ctx context.Context, s *model.Session) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var end any
	if s.EndDate != nil {
		end = d.encodeTime(*s.EndDate)
	}
	id, err := insertID(ctx, d.conn, `
		INSERT INTO segment (bundle_id, window_name, browser_url, display_id, start_date, end_date)
		VALUES (?, ?, ?, ?, ?, ?)`,
		s.BundleID, toNullString(s.WindowName), toNullString(s.BrowserURL), s.DisplayID,
		d.encodeTime(s.StartDate), end,
	)
	if err != nil {
		return 0, err
	}
	s.ID = id
	return id, nil
}

// StartSession closes every open session at s.StartDate and inserts s, in
// one transaction, so at most one session is ever open. An open session that
// started later than s is closed at its own start. Sets s.ID.
func (d *DB) StartSession(ctx context.Context, s *model.Session) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	start := d.encodeTime(s.StartDate)
	var id int64
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := exec(ctx, tx, `
			UPDATE segment SET end_date = CASE WHEN start_date > ? THEN start_date ELSE ? END
			WHERE end_date IS NULL`,
			start, start); err != nil {
			return err
		}
		var err error
		id, err = insertID(ctx, tx, `
			INSERT INTO segment (bundle_id, window_name, browser_url, display_id, start_date)
			VALUES (?, ?, ?, ?, ?)`,
			s.BundleID, toNullString(s.WindowName), toNullString(s.BrowserURL), s.DisplayID, start)
		return err
	})
	if err != nil {
		return 0, err
	}
	s.ID = id
	s.EndDate = nil
	return id, nil
}

// CloseSession sets the end time of an open session. It reports false when
// the session does not exist or was already closed.
func (d *DB) CloseSession(ctx context.Context, id int64, end time.Time) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return execAffected(ctx, d.conn,
		`UPDATE segment SET end_date = ? WHERE id = ? AND end_date IS NULL`,
		d.encodeTime(end), id)
}

// GetSession returns the session, or nil when it does not exist.
func (d *DB) GetSession(ctx context.Context, id int64) (*model.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	query := `SELECT ` + sessionColumns + ` FROM segment WHERE id = ?`
	s, err := d.scanSession(d.conn.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewQueryFailed(query, err)
	}
	return s, nil
}

// ActiveSession returns the most recently started open session, or nil.
func (d *DB) ActiveSession(ctx context.Context) (*model.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	query := `SELECT ` + sessionColumns + ` FROM segment
		WHERE end_date IS NULL ORDER BY start_date DESC, id DESC LIMIT 1`
	s, err := d.scanSession(d.conn.QueryRowContext(ctx, query))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewQueryFailed(query, err)
	}
	return s, nil
}

// SessionsInRange returns sessions overlapping [start, end], oldest first.
// The upper bound is capped by the cutoff date.
func (d *DB) SessionsInRange(ctx context.Context, start, end time.Time) ([]model.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	upper := d.cfg.CapEnd(&end)
	var c conds
	c.add("start_date <= ?", d.encodeTime(*upper))
	c.add("(end_date IS NULL OR end_date >= ?)", d.encodeTime(start))

	query := `SELECT ` + sessionColumns + ` FROM segment` + c.where() + ` ORDER BY start_date ASC, id ASC`
	return d.querySessions(ctx, query, c.args...)
}

// SessionsBefore returns up to limit sessions that started strictly before
// cursor, newest first.
func (d *DB) SessionsBefore(ctx context.Context, cursor time.Time, limit int) ([]model.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var c conds
	c.add("start_date < ?", d.encodeTime(cursor))
	if cut := d.cutoffArg(); cut != nil {
		c.add("start_date <= ?", cut)
	}
	query := `SELECT ` + sessionColumns + ` FROM segment` + c.where() +
		` ORDER BY start_date DESC, id DESC` + limitClause(limit)
	return d.querySessions(ctx, query, c.args...)
}

// SessionsAfter returns up to limit sessions that started strictly after
// cursor, oldest first.
func (d *DB) SessionsAfter(ctx context.Context, cursor time.Time, limit int) ([]model.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var c conds
	c.add("start_date > ?", d.encodeTime(cursor))
	if cut := d.cutoffArg(); cut != nil {
		c.add("start_date <= ?", cut)
	}
	query := `SELECT ` + sessionColumns + ` FROM segment` + c.where() +
		` ORDER BY start_date ASC, id ASC` + limitClause(limit)
	return d.querySessions(ctx, query, c.args...)
}

// DeleteSession removes a session. Under the cascade policy its frames (and
// through them nodes, documents and queue entries) go too; under the detach
// policy frames survive with their session cleared.
func (d *DB) DeleteSession(ctx context.Context, id int64) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var deleted bool
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		if d.cfg.SessionDelete == config.SessionDeleteCascade {
			if _, err := exec(ctx, tx, `DELETE FROM frame WHERE segment_id = ?`, id); err != nil {
				return err
			}
		}
		ok, err := execAffected(ctx, tx, `DELETE FROM segment WHERE id = ?`, id)
		deleted = ok
		return err
	})
	if err != nil {
		return false, err
	}
	return deleted, nil
}

// VideosForSession returns the videos linked to a session, oldest first.
func (d *DB) VideosForSession(ctx context.Context, sessionID int64) ([]model.Video, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	query := `SELECT ` + prefixed("v", videoColumns) + ` FROM video v
		JOIN video_segment vs ON vs.video_id = v.id
		WHERE vs.segment_id = ?
		ORDER BY v.created_at ASC, v.id ASC`
	return d.queryVideos(ctx, query, sessionID)
}

func (d *DB) querySessions(ctx context.Context, query string, args ...any) ([]model.Session, error) {
	rows, err := d.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewQueryFailed(query, err)
	}
	defer rows.Close()

	var out []model.Session
	for rows.Next() {
		s, err := d.scanSession(rows)
		if err != nil {
			return nil, errors.NewQueryFailed(query, err)
		}
		out = append(out, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewQueryFailed(query, err)
	}
	return out, nil
}

func (d *DB) scanSession(row rowScanner) (*model.Session, error) {
	var (
		s          model.Session
		windowName sql.NullString
		browserURL sql.NullString
		start, end any
	)
	if err := row.Scan(&s.ID, &s.BundleID, &windowName, &browserURL, &s.DisplayID, &start, &end); err != nil {
		return nil, err
	}
	s.WindowName = fromNullString(windowName)
	s.BrowserURL = fromNullString(browserURL)

	var err error
	if s.StartDate, err = d.decodeTime(start); err != nil {
		return nil, err
	}
	if s.EndDate, err = d.decodeNullTime(end); err != nil {
		return nil, err
	}
	return &s, nil
}
