package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/haseab/retrace-sub006/internal/model"
)

var base = time.Date(2025, 3, 7, 10, 0, 0, 0, time.UTC)

func at(minutes int) time.Time {
	return base.Add(time.Duration(minutes) * time.Minute)
}

func openTestDB(t *testing.T, opts Options) *DB {
	t.Helper()
	d, err := Init(context.Background(), filepath.Join(t.TempDir(), "retrace.db"), opts)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func mustSession(t *testing.T, d *DB, app string, start, end time.Time) int64 {
	t.Helper()
	s := &model.Session{BundleID: app, StartDate: start}
	if !end.IsZero() {
		s.EndDate = &end
	}
	id, err := d.InsertSession(context.Background(), s)
	require.NoError(t, err)
	return id
}

func mustFrame(t *testing.T, d *DB, sessionID int64, ts time.Time) int64 {
	t.Helper()
	f := &model.Frame{CreatedAt: ts}
	if sessionID != 0 {
		f.SessionID = &sessionID
	}
	id, err := d.InsertFrame(context.Background(), f)
	require.NoError(t, err)
	return id
}

func mustIndex(t *testing.T, d *DB, frameID int64, text string, runs ...model.TextRun) int64 {
	t.Helper()
	id, err := d.IndexFrameText(context.Background(), frameID, DocumentText{PrimaryText: text}, runs)
	require.NoError(t, err)
	return id
}

func countRows(t *testing.T, d *DB, query string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, d.conn.QueryRow(query, args...).Scan(&n))
	return n
}
