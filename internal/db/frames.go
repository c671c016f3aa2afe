package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/haseab/retrace-sub006/internal/errors"
	"github.com/haseab/retrace-sub006/internal/model"
)

const frameColumns = `id, created_at, segment_id, video_id, video_frame_index, is_starred, encoding_status, processing_status`

// InsertFrame stores a captured frame and sets f.ID. The video link is
// normally unset at capture time.
func (d *DB) InsertFrame(ctx context.Context, f *model.Frame) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var index sql.NullInt64
	if f.VideoFrameIndex != nil {
		index = sql.NullInt64{Int64: int64(*f.VideoFrameIndex), Valid: true}
	}
	id, err := insertID(ctx, d.conn, `
		INSERT INTO frame (created_at, segment_id, video_id, video_frame_index, is_starred, encoding_status, processing_status)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.encodeTime(f.CreatedAt), toNullInt64(f.SessionID), toNullInt64(f.VideoID), index,
		boolToInt(f.Starred), f.EncodingStatus.String(), f.ProcessingStatus.String(),
	)
	if err != nil {
		return 0, err
	}
	f.ID = id
	return id, nil
}

// GetFrame returns the frame, or nil when it does not exist.
func (d *DB) GetFrame(ctx context.Context, id int64) (*model.Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	query := `SELECT ` + frameColumns + ` FROM frame WHERE id = ?`
	f, err := d.scanFrame(d.conn.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewQueryFailed(query, err)
	}
	return f, nil
}

// FramesInRange returns frames captured in [start, end], oldest first. The
// upper bound is capped by the cutoff date. A limit <= 0 returns all.
func (d *DB) FramesInRange(ctx context.Context, start, end time.Time, limit int) ([]model.Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	upper := d.cfg.CapEnd(&end)
	query := `SELECT ` + frameColumns + ` FROM frame
		WHERE created_at >= ? AND created_at <= ?
		ORDER BY created_at ASC, id ASC` + limitClause(limit)
	return d.queryFrames(ctx, query, d.encodeTime(start), d.encodeTime(*upper))
}

// FramesBefore returns up to limit frames captured strictly before cursor,
// newest first.
func (d *DB) FramesBefore(ctx context.Context, cursor time.Time, limit int) ([]model.Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var c conds
	c.add("created_at < ?", d.encodeTime(cursor))
	if cut := d.cutoffArg(); cut != nil {
		c.add("created_at <= ?", cut)
	}
	query := `SELECT ` + frameColumns + ` FROM frame` + c.where() +
		` ORDER BY created_at DESC, id DESC` + limitClause(limit)
	return d.queryFrames(ctx, query, c.args...)
}

// FramesAfter returns up to limit frames captured strictly after cursor,
// oldest first.
func (d *DB) FramesAfter(ctx context.Context, cursor time.Time, limit int) ([]model.Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var c conds
	c.add("created_at > ?", d.encodeTime(cursor))
	if cut := d.cutoffArg(); cut != nil {
		c.add("created_at <= ?", cut)
	}
	query := `SELECT ` + frameColumns + ` FROM frame` + c.where() +
		` ORDER BY created_at ASC, id ASC` + limitClause(limit)
	return d.queryFrames(ctx, query, c.args...)
}

// FramesForSession returns a session's frames, oldest first.
func (d *DB) FramesForSession(ctx context.Context, sessionID int64) ([]model.Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	query := `SELECT ` + frameColumns + ` FROM frame WHERE segment_id = ? ORDER BY created_at ASC, id ASC`
	return d.queryFrames(ctx, query, sessionID)
}

// FramesForVideo returns a video's frames in container order.
func (d *DB) FramesForVideo(ctx context.Context, videoID int64) ([]model.Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	query := `SELECT ` + frameColumns + ` FROM frame WHERE video_id = ? ORDER BY video_frame_index ASC, id ASC`
	return d.queryFrames(ctx, query, videoID)
}

// LinkFrameToVideo records where an encoded frame lives and marks its
// encoding successful. A frame is linked once; relinking reports false.
func (d *DB) LinkFrameToVideo(ctx context.Context, frameID, videoID int64, index int) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return execAffected(ctx, d.conn, `
		UPDATE frame SET video_id = ?, video_frame_index = ?, encoding_status = ?
		WHERE id = ? AND video_id IS NULL`,
		videoID, index, model.EncodingSuccess.String(), frameID)
}

// MarkFrameEncodingFailed records that the encoder gave up on a frame.
func (d *DB) MarkFrameEncodingFailed(ctx context.Context, frameID int64) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return execAffected(ctx, d.conn,
		`UPDATE frame SET encoding_status = ? WHERE id = ? AND encoding_status = ?`,
		model.EncodingFailed.String(), frameID, model.EncodingPending.String())
}

// SetFrameStarred sets or clears the starred flag.
func (d *DB) SetFrameStarred(ctx context.Context, frameID int64, starred bool) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return execAffected(ctx, d.conn,
		`UPDATE frame SET is_starred = ? WHERE id = ?`, boolToInt(starred), frameID)
}

// SetProcessingStatus moves a frame through the OCR pipeline. Leaving the
// pending state drops the frame's queue entry in the same transaction.
func (d *DB) SetProcessingStatus(ctx context.Context, frameID int64, status model.ProcessingStatus) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var ok bool
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		ok, err = setProcessingStatus(ctx, tx, frameID, status)
		return err
	})
	if err != nil {
		return false, err
	}
	return ok, nil
}

func setProcessingStatus(ctx context.Context, tx *sql.Tx, frameID int64, status model.ProcessingStatus) (bool, error) {
	ok, err := execAffected(ctx, tx,
		`UPDATE frame SET processing_status = ? WHERE id = ?`, status.String(), frameID)
	if err != nil || !ok {
		return false, err
	}
	if status != model.ProcessingPending {
		if _, err := exec(ctx, tx, `DELETE FROM processing_queue WHERE frame_id = ?`, frameID); err != nil {
			return false, err
		}
	}
	return true, nil
}

// FramesWithProcessingStatus scans for frames in a given OCR state, oldest
// first. With ProcessingInProgress it finds jobs orphaned by a crash.
func (d *DB) FramesWithProcessingStatus(ctx context.Context, status model.ProcessingStatus, limit int) ([]model.Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	query := `SELECT ` + frameColumns + ` FROM frame WHERE processing_status = ?
		ORDER BY created_at ASC, id ASC` + limitClause(limit)
	return d.queryFrames(ctx, query, status.String())
}

// DeleteFrame removes a frame. Nodes, the document link and its content,
// and any queue entry go with it; the session and video are untouched.
func (d *DB) DeleteFrame(ctx context.Context, id int64) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return execAffected(ctx, d.conn, `DELETE FROM frame WHERE id = ?`, id)
}

// DeleteFrames removes a batch of frames in one transaction and returns how
// many existed.
func (d *DB) DeleteFrames(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	var total int64
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		// Chunked to stay under SQLite's host parameter limit.
		const chunk = 500
		for start := 0; start < len(ids); start += chunk {
			end := min(start+chunk, len(ids))
			query := `DELETE FROM frame WHERE id IN (` + placeholders(end-start) + `)`
			res, err := exec(ctx, tx, query, int64Args(ids[start:end])...)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return errors.NewQueryFailed(query, err)
			}
			total += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

// DeleteFramesInRange removes every frame captured in [start, end] in one
// transaction. Starred frames are kept unless includeStarred is set.
func (d *DB) DeleteFramesInRange(ctx context.Context, start, end time.Time, includeStarred bool) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var c conds
	c.add("created_at >= ?", d.encodeTime(start))
	c.add("created_at <= ?", d.encodeTime(end))
	if !includeStarred {
		c.add("is_starred = 0")
	}
	query := `DELETE FROM frame` + c.where()

	var n int64
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		res, err := exec(ctx, tx, query, c.args...)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		if err != nil {
			return errors.NewQueryFailed(query, err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (d *DB) queryFrames(ctx context.Context, query string, args ...any) ([]model.Frame, error) {
	rows, err := d.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewQueryFailed(query, err)
	}
	defer rows.Close()

	var out []model.Frame
	for rows.Next() {
		f, err := d.scanFrame(rows)
		if err != nil {
			return nil, errors.NewQueryFailed(query, err)
		}
		out = append(out, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewQueryFailed(query, err)
	}
	return out, nil
}

func (d *DB) scanFrame(row rowScanner) (*model.Frame, error) {
	var (
		f          model.Frame
		created    any
		sessionID  sql.NullInt64
		videoID    sql.NullInt64
		index      sql.NullInt64
		starred    int
		encoding   string
		processing string
	)
	if err := row.Scan(&f.ID, &created, &sessionID, &videoID, &index, &starred, &encoding, &processing); err != nil {
		return nil, err
	}

	var err error
	if f.CreatedAt, err = d.decodeTime(created); err != nil {
		return nil, err
	}
	if f.EncodingStatus, err = model.ParseEncodingStatus(encoding); err != nil {
		return nil, err
	}
	if f.ProcessingStatus, err = model.ParseProcessingStatus(processing); err != nil {
		return nil, err
	}
	f.SessionID = fromNullInt64(sessionID)
	f.VideoID = fromNullInt64(videoID)
	f.VideoFrameIndex = fromNullInt(index)
	f.Starred = starred != 0
	return &f, nil
}
