package db

import (
	"context"
	"os"
	"sort"
	"time"

	"github.com/haseab/retrace-sub006/internal/errors"
	"github.com/haseab/retrace-sub006/internal/model"
)

// hiddenFilter excludes sessions tagged hidden. Expects the segment alias s.
const hiddenFilter = `NOT EXISTS (
	SELECT 1 FROM segment_tag st JOIN tag t ON t.id = st.tag_id
	WHERE st.segment_id = s.id AND t.name = '` + model.HiddenTag + `')`

// Stats summarizes the store. Hidden sessions are left out of the session
// count. Frames, sessions and documents past the cutoff date are not counted.
func (d *DB) Stats(ctx context.Context) (*model.Stats, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var st model.Stats

	frameCut, sessionCut, docCut := "", "", ""
	var countArgs, boundArgs []any
	if cut := d.cutoffArg(); cut != nil {
		frameCut = ` WHERE created_at <= ?`
		sessionCut = ` AND s.start_date <= ?`
		docCut = ` WHERE EXISTS (SELECT 1 FROM doc_segment ds JOIN frame f ON f.id = ds.frame_id
			WHERE ds.doc_id = doc_content.id AND f.created_at <= ?)`
		countArgs = []any{cut, cut, cut}
		boundArgs = []any{cut}
	}

	counts := `SELECT
		(SELECT COUNT(*) FROM frame` + frameCut + `),
		(SELECT COUNT(*) FROM segment s WHERE ` + hiddenFilter + sessionCut + `),
		(SELECT COUNT(*) FROM doc_content` + docCut + `)`
	if err := d.conn.QueryRowContext(ctx, counts, countArgs...).Scan(&st.FrameCount, &st.SessionCount, &st.DocumentCount); err != nil {
		return nil, errors.NewQueryFailed(counts, err)
	}

	bounds := `SELECT MIN(created_at), MAX(created_at) FROM frame` + frameCut
	var oldest, newest any
	if err := d.conn.QueryRowContext(ctx, bounds, boundArgs...).Scan(&oldest, &newest); err != nil {
		return nil, errors.NewQueryFailed(bounds, err)
	}
	var err error
	if st.OldestFrameDate, err = d.decodeNullTime(oldest); err != nil {
		return nil, errors.NewQueryFailed(bounds, err)
	}
	if st.NewestFrameDate, err = d.decodeNullTime(newest); err != nil {
		return nil, errors.NewQueryFailed(bounds, err)
	}

	st.SizeBytes = d.fileSize()
	return &st, nil
}

// fileSize sums the store file and its WAL and shared-memory sidecars.
func (d *DB) fileSize() int64 {
	var total int64
	for _, p := range []string{d.path, d.path + "-wal", d.path + "-shm"} {
		if info, err := os.Stat(p); err == nil {
			total += info.Size()
		}
	}
	return total
}

// AppUsage aggregates focus time per application over sessions overlapping
// [start, end], clipped to the range. Hidden sessions are excluded. Open
// sessions count up to now. Sorted by duration, longest first.
func (d *DB) AppUsage(ctx context.Context, start, end time.Time) ([]model.AppUsage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	upper := d.cfg.CapEnd(&end)
	query := `SELECT ` + prefixed("s", sessionColumns) + ` FROM segment s
		WHERE s.start_date <= ? AND (s.end_date IS NULL OR s.end_date >= ?) AND ` + hiddenFilter
	sessions, err := d.querySessions(ctx, query, d.encodeTime(*upper), d.encodeTime(start))
	if err != nil {
		return nil, err
	}

	now := time.Now()
	byApp := make(map[string]*model.AppUsage)
	for _, s := range sessions {
		clipped := s
		if clipped.StartDate.Before(start) {
			clipped.StartDate = start
		}
		stop := now
		if s.EndDate != nil {
			stop = *s.EndDate
		}
		if stop.After(*upper) {
			stop = *upper
		}
		clipped.EndDate = &stop

		u, ok := byApp[s.BundleID]
		if !ok {
			u = &model.AppUsage{BundleID: s.BundleID}
			byApp[s.BundleID] = u
		}
		u.SessionCount++
		u.Duration += clipped.Duration(now)
	}

	out := make([]model.AppUsage, 0, len(byApp))
	for _, u := range byApp {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Duration != out[j].Duration {
			return out[i].Duration > out[j].Duration
		}
		return out[i].BundleID < out[j].BundleID
	})
	return out, nil
}
