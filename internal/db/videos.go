package db

import (
	"context"
	"database/sql"
	"path/filepath"

	"github.com/haseab/retrace-sub006/internal/errors"
	"github.com/haseab/retrace-sub006/internal/model"
)

const videoColumns = `id, width, height, path, file_size, frame_rate, processing_state, created_at`

// InsertVideo stores a new video container in the recording state and sets
// v.ID. An empty Path is filled with a fresh chunk path.
func (d *DB) InsertVideo(ctx context.Context, v *model.Video) (int64, error) {
	if v.Path == "" {
		p, err := model.NewVideoPath(v.CreatedAt)
		if err != nil {
			return 0, err
		}
		v.Path = p
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	id, err := insertID(ctx, d.conn, `
		INSERT INTO video (width, height, path, file_size, frame_rate, processing_state, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		v.Width, v.Height, v.Path, v.FileSize, v.FrameRate, v.State.String(), d.encodeTime(v.CreatedAt),
	)
	if err != nil {
		return 0, err
	}
	v.ID = id
	return id, nil
}

// GetVideo returns the video, or nil when it does not exist.
func (d *DB) GetVideo(ctx context.Context, id int64) (*model.Video, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	query := `SELECT ` + videoColumns + ` FROM video WHERE id = ?`
	v, err := d.scanVideo(d.conn.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewQueryFailed(query, err)
	}
	return v, nil
}

// FinalizeVideo records the final file size of a recording video. It
// reports false when the video is missing or no longer recording.
func (d *DB) FinalizeVideo(ctx context.Context, id, fileSize int64) (bool, error) {
	return d.transitionVideo(ctx, id, model.VideoFinalized, &fileSize)
}

// AttachFramesToVideo links frames to a recording video in container order,
// records the video against each linked frame's session and finalizes it,
// all in one transaction. Frames already linked elsewhere are left alone.
// ok is false, with nothing written, when the video is missing or no longer
// recording.
func (d *DB) AttachFramesToVideo(ctx context.Context, videoID int64, frameIDs []int64, fileSize int64) (linked int, ok bool, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	err = d.withTx(ctx, func(tx *sql.Tx) error {
		finalized, err := execAffected(ctx, tx, `
			UPDATE video SET processing_state = ?, file_size = ?
			WHERE id = ? AND processing_state = ?`,
			model.VideoFinalized.String(), fileSize, videoID, model.VideoRecording.String())
		if err != nil || !finalized {
			return err
		}

		for i, id := range frameIDs {
			ok, err := execAffected(ctx, tx, `
				UPDATE frame SET video_id = ?, video_frame_index = ?, encoding_status = ?
				WHERE id = ? AND video_id IS NULL`,
				videoID, i, model.EncodingSuccess.String(), id)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			linked++
			if _, err := exec(ctx, tx, `
				INSERT OR IGNORE INTO video_segment (video_id, segment_id)
				SELECT ?, segment_id FROM frame WHERE id = ? AND segment_id IS NOT NULL`,
				videoID, id); err != nil {
				return err
			}
		}
		ok = true
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	return linked, ok, nil
}

// FailVideo marks a recording video as failed.
func (d *DB) FailVideo(ctx context.Context, id int64) (bool, error) {
	return d.transitionVideo(ctx, id, model.VideoFailed, nil)
}

func (d *DB) transitionVideo(ctx context.Context, id int64, to model.VideoState, fileSize *int64) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return execAffected(ctx, d.conn, `
		UPDATE video SET processing_state = ?, file_size = COALESCE(?, file_size)
		WHERE id = ? AND processing_state = ?`,
		to.String(), toNullInt64(fileSize), id, model.VideoRecording.String())
}

// VideoFrameCount derives the number of frames linked to a video.
func (d *DB) VideoFrameCount(ctx context.Context, id int64) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	const query = `SELECT COUNT(*) FROM frame WHERE video_id = ?`
	var n int
	if err := d.conn.QueryRowContext(ctx, query, id).Scan(&n); err != nil {
		return 0, errors.NewQueryFailed(query, err)
	}
	return n, nil
}

// DeleteVideo removes a video row. Linked frames survive with their video
// cleared; the chunk file itself belongs to the encoder.
func (d *DB) DeleteVideo(ctx context.Context, id int64) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return execAffected(ctx, d.conn, `DELETE FROM video WHERE id = ?`, id)
}

// VideoFilePath resolves a video's relative path against the storage root.
func (d *DB) VideoFilePath(v *model.Video) string {
	if filepath.IsAbs(v.Path) {
		return v.Path
	}
	return filepath.Join(d.cfg.StorageRoot, filepath.FromSlash(v.Path))
}

func (d *DB) queryVideos(ctx context.Context, query string, args ...any) ([]model.Video, error) {
	rows, err := d.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewQueryFailed(query, err)
	}
	defer rows.Close()

	var out []model.Video
	for rows.Next() {
		v, err := d.scanVideo(rows)
		if err != nil {
			return nil, errors.NewQueryFailed(query, err)
		}
		out = append(out, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewQueryFailed(query, err)
	}
	return out, nil
}

func (d *DB) scanVideo(row rowScanner) (*model.Video, error) {
	var (
		v       model.Video
		state   string
		created any
	)
	if err := row.Scan(&v.ID, &v.Width, &v.Height, &v.Path, &v.FileSize, &v.FrameRate, &state, &created); err != nil {
		return nil, err
	}
	var err error
	if v.State, err = model.ParseVideoState(state); err != nil {
		return nil, err
	}
	if v.CreatedAt, err = d.decodeTime(created); err != nil {
		return nil, err
	}
	return &v, nil
}
