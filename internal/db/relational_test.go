package db

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haseab/retrace-sub006/internal/config"
	"github.com/haseab/retrace-sub006/internal/errors"
	"github.com/haseab/retrace-sub006/internal/model"
)

func TestSessions_InsertGetClose(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t, Options{})

	title := "main.go - retrace"
	s := &model.Session{BundleID: "com.test.App", WindowName: &title, DisplayID: 2, StartDate: at(0)}
	id, err := d.InsertSession(ctx, s)
	require.NoError(t, err)
	require.Equal(t, id, s.ID)

	active, err := d.ActiveSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, active)
	require.Equal(t, id, active.ID)

	closed, err := d.CloseSession(ctx, id, at(5))
	require.NoError(t, err)
	require.True(t, closed)

	again, err := d.CloseSession(ctx, id, at(9))
	require.NoError(t, err)
	require.False(t, again, "closing twice must not move the end")

	got, err := d.GetSession(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "com.test.App", got.BundleID)
	assert.Equal(t, title, *got.WindowName)
	assert.Nil(t, got.BrowserURL)
	assert.Equal(t, int64(2), got.DisplayID)
	assert.True(t, got.StartDate.Equal(at(0)))
	require.NotNil(t, got.EndDate)
	assert.True(t, got.EndDate.Equal(at(5)))

	active, err = d.ActiveSession(ctx)
	require.NoError(t, err)
	require.Nil(t, active)

	missing, err := d.GetSession(ctx, 9999)
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestStartSession_ClosesOpenSessions(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t, Options{})

	early := mustSession(t, d, "a", at(0), time.Time{})
	later := mustSession(t, d, "b", at(20), time.Time{})

	s := &model.Session{BundleID: "c", StartDate: at(10)}
	id, err := d.StartSession(ctx, s)
	require.NoError(t, err)
	require.Equal(t, id, s.ID)

	got, err := d.GetSession(ctx, early)
	require.NoError(t, err)
	require.NotNil(t, got.EndDate)
	assert.True(t, got.EndDate.Equal(at(10)))

	got, err = d.GetSession(ctx, later)
	require.NoError(t, err)
	require.NotNil(t, got.EndDate)
	assert.True(t, got.EndDate.Equal(at(20)), "never closed before it started")

	active, err := d.ActiveSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, id, active.ID)
}

func TestStartSession_ConcurrentLeavesOneOpen(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t, Options{})

	const n = 16
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := d.StartSession(ctx, &model.Session{BundleID: fmt.Sprintf("app.%d", i), StartDate: at(i)})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, n, countRows(t, d, `SELECT COUNT(*) FROM segment`))
	assert.Equal(t, 1, countRows(t, d, `SELECT COUNT(*) FROM segment WHERE end_date IS NULL`))
}

func TestSessions_RangeAndCursors(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t, Options{})

	s1 := mustSession(t, d, "a", at(0), at(10))
	s2 := mustSession(t, d, "b", at(10), at(20))
	s3 := mustSession(t, d, "c", at(20), time.Time{})

	inRange, err := d.SessionsInRange(ctx, at(12), at(25))
	require.NoError(t, err)
	require.Len(t, inRange, 2)
	assert.Equal(t, s2, inRange[0].ID)
	assert.Equal(t, s3, inRange[1].ID)

	// Inclusive bounds: a session ending exactly at start overlaps.
	edge, err := d.SessionsInRange(ctx, at(10), at(10))
	require.NoError(t, err)
	require.Len(t, edge, 2)

	before, err := d.SessionsBefore(ctx, at(20), 10)
	require.NoError(t, err)
	require.Len(t, before, 2)
	assert.Equal(t, s2, before[0].ID, "newest first")
	assert.Equal(t, s1, before[1].ID)

	after, err := d.SessionsAfter(ctx, at(0), 1)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, s2, after[0].ID, "strictly after the cursor")
}

func TestFrames_InsertLinkAndCursors(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t, Options{})

	sid := mustSession(t, d, "com.test.App", at(0), at(10))
	f1 := mustFrame(t, d, sid, at(1))
	f2 := mustFrame(t, d, sid, at(2))
	f3 := mustFrame(t, d, sid, at(3))

	v := &model.Video{Width: 1920, Height: 1080, FrameRate: 1, CreatedAt: at(0)}
	vid, err := d.InsertVideo(ctx, v)
	require.NoError(t, err)
	require.Contains(t, v.Path, "chunks/202503/07/")

	ok, err := d.LinkFrameToVideo(ctx, f1, vid, 0)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = d.LinkFrameToVideo(ctx, f1, vid, 7)
	require.NoError(t, err)
	require.False(t, ok, "a frame is linked once")
	_, err = d.LinkFrameToVideo(ctx, f2, vid, 1)
	require.NoError(t, err)

	got, err := d.GetFrame(ctx, f1)
	require.NoError(t, err)
	require.True(t, got.Encoded())
	require.Equal(t, 0, *got.VideoFrameIndex)
	require.Equal(t, model.ProcessingPending, got.ProcessingStatus)

	failed, err := d.MarkFrameEncodingFailed(ctx, f3)
	require.NoError(t, err)
	require.True(t, failed)
	got, err = d.GetFrame(ctx, f3)
	require.NoError(t, err)
	require.Equal(t, model.EncodingFailed, got.EncodingStatus)

	count, err := d.VideoFrameCount(ctx, vid)
	require.NoError(t, err)
	require.Equal(t, 2, count)

	byVideo, err := d.FramesForVideo(ctx, vid)
	require.NoError(t, err)
	require.Len(t, byVideo, 2)
	require.Equal(t, f1, byVideo[0].ID)

	inRange, err := d.FramesInRange(ctx, at(1), at(2), 0)
	require.NoError(t, err)
	require.Len(t, inRange, 2)

	before, err := d.FramesBefore(ctx, at(3), 1)
	require.NoError(t, err)
	require.Len(t, before, 1)
	require.Equal(t, f2, before[0].ID)

	after, err := d.FramesAfter(ctx, at(1), 10)
	require.NoError(t, err)
	require.Len(t, after, 2)
	require.Equal(t, f2, after[0].ID)

	starred, err := d.SetFrameStarred(ctx, f2, true)
	require.NoError(t, err)
	require.True(t, starred)
	got, err = d.GetFrame(ctx, f2)
	require.NoError(t, err)
	require.True(t, got.Starred)

	missing, err := d.GetFrame(ctx, 424242)
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestVideos_FinalizeAndSessions(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t, Options{Config: config.DatabaseConfig{StorageRoot: "/data/retrace"}})

	sid := mustSession(t, d, "a", at(0), at(5))
	v := &model.Video{Width: 100, Height: 100, Path: "chunks/x", CreatedAt: at(0)}
	vid, err := d.InsertVideo(ctx, v)
	require.NoError(t, err)
	require.Equal(t, "/data/retrace/chunks/x", d.VideoFilePath(v))

	other := mustSession(t, d, "b", at(5), at(9))
	f1 := mustFrame(t, d, sid, at(1))
	f2 := mustFrame(t, d, sid, at(2))
	f3 := mustFrame(t, d, other, at(6))
	loose := mustFrame(t, d, 0, at(7))

	linked, ok, err := d.AttachFramesToVideo(ctx, vid, []int64{f1, f2, f3, loose}, 4096)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 4, linked)

	for _, s := range []int64{sid, other} {
		videos, err := d.VideosForSession(ctx, s)
		require.NoError(t, err)
		require.Len(t, videos, 1, "session %d", s)
		require.Equal(t, vid, videos[0].ID)
	}
	require.Equal(t, 2, countRows(t, d, `SELECT COUNT(*) FROM video_segment WHERE video_id = ?`, vid))

	got, err := d.GetFrame(ctx, f3)
	require.NoError(t, err)
	require.Equal(t, 2, *got.VideoFrameIndex)

	video, err := d.GetVideo(ctx, vid)
	require.NoError(t, err)
	require.Equal(t, model.VideoFinalized, video.State)
	require.Equal(t, int64(4096), video.FileSize)

	// A finalized video takes no more frames and nothing is written.
	late := mustFrame(t, d, sid, at(3))
	linked, ok, err = d.AttachFramesToVideo(ctx, vid, []int64{late}, 1)
	require.NoError(t, err)
	require.False(t, ok)
	require.Zero(t, linked)
	got, err = d.GetFrame(ctx, late)
	require.NoError(t, err)
	require.Nil(t, got.VideoID)

	ok, err = d.FinalizeVideo(ctx, vid, 1)
	require.NoError(t, err)
	require.False(t, ok, "only recording videos transition")
	ok, err = d.FailVideo(ctx, vid)
	require.NoError(t, err)
	require.False(t, ok)

	missing, _, err := d.AttachFramesToVideo(ctx, 9999, []int64{late}, 1)
	require.NoError(t, err)
	require.Zero(t, missing)
}

func TestDeleteFrame_CascadesToNodesAndDocument(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t, Options{})

	sid := mustSession(t, d, "com.test.App", at(0), at(5))
	vid, err := d.InsertVideo(ctx, &model.Video{Width: 10, Height: 10, CreatedAt: at(0)})
	require.NoError(t, err)
	f := mustFrame(t, d, sid, at(2))
	_, err = d.LinkFrameToVideo(ctx, f, vid, 0)
	require.NoError(t, err)

	box := model.Rect{X: 0.1, Y: 0.1, Width: 0.2, Height: 0.1}
	docID := mustIndex(t, d, f, "hello world",
		model.TextRun{Offset: 0, Length: 5, Box: box},
		model.TextRun{Offset: 6, Length: 5, Box: box})
	_, err = d.Enqueue(ctx, f, model.PriorityNormal)
	require.NoError(t, err)

	deleted, err := d.DeleteFrame(ctx, f)
	require.NoError(t, err)
	require.True(t, deleted)

	assert.Equal(t, 0, countRows(t, d, `SELECT COUNT(*) FROM node WHERE frame_id = ?`, f))
	assert.Equal(t, 0, countRows(t, d, `SELECT COUNT(*) FROM doc_segment WHERE frame_id = ?`, f))
	assert.Equal(t, 0, countRows(t, d, `SELECT COUNT(*) FROM doc_content WHERE id = ?`, docID))
	assert.Equal(t, 0, countRows(t, d, `SELECT COUNT(*) FROM processing_queue WHERE frame_id = ?`, f))

	session, err := d.GetSession(ctx, sid)
	require.NoError(t, err)
	assert.NotNil(t, session, "owning session survives")
	video, err := d.GetVideo(ctx, vid)
	require.NoError(t, err)
	assert.NotNil(t, video, "owning video survives")

	results, _, err := d.Search(ctx, "hello", model.SearchFilters{}, 10, 0, model.SearchAll)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestDeleteFrames_Batch(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t, Options{})

	var ids []int64
	for i := range 5 {
		ids = append(ids, mustFrame(t, d, 0, at(i)))
	}
	n, err := d.DeleteFrames(ctx, append(ids[:3], 99999))
	require.NoError(t, err)
	require.Equal(t, int64(3), n)
	assert.Equal(t, 2, countRows(t, d, `SELECT COUNT(*) FROM frame`))
}

func TestDeleteFramesInRange_KeepsStarred(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t, Options{})

	keep := mustFrame(t, d, 0, at(1))
	mustFrame(t, d, 0, at(2))
	mustFrame(t, d, 0, at(30))
	_, err := d.SetFrameStarred(ctx, keep, true)
	require.NoError(t, err)

	n, err := d.DeleteFramesInRange(ctx, at(0), at(10), false)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
	assert.Equal(t, 2, countRows(t, d, `SELECT COUNT(*) FROM frame`))
}

func TestDeleteSession_CascadePolicy(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t, Options{Config: config.DatabaseConfig{SessionDelete: config.SessionDeleteCascade}})

	sid := mustSession(t, d, "a", at(0), at(5))
	f := mustFrame(t, d, sid, at(1))
	mustIndex(t, d, f, "cascade me")

	ok, err := d.DeleteSession(ctx, sid)
	require.NoError(t, err)
	require.True(t, ok)

	frame, err := d.GetFrame(ctx, f)
	require.NoError(t, err)
	assert.Nil(t, frame)
	assert.Equal(t, 0, countRows(t, d, `SELECT COUNT(*) FROM doc_content`))
}

func TestDeleteSession_DetachPolicy(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t, Options{Config: config.DatabaseConfig{
		Source:        config.SourceLegacy,
		SessionDelete: config.SessionDeleteDetach,
	}})

	sid := mustSession(t, d, "a", at(0), at(5))
	f := mustFrame(t, d, sid, at(1))
	mustIndex(t, d, f, "keep me")

	ok, err := d.DeleteSession(ctx, sid)
	require.NoError(t, err)
	require.True(t, ok)

	frame, err := d.GetFrame(ctx, f)
	require.NoError(t, err)
	require.NotNil(t, frame)
	assert.Nil(t, frame.SessionID)

	doc, err := d.DocumentForFrame(ctx, f)
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Nil(t, doc.SessionID)
}

func TestCutoffDate_CapsTimeQueries(t *testing.T) {
	ctx := context.Background()
	cutoff := at(5)
	d := openTestDB(t, Options{Config: config.DatabaseConfig{CutoffDate: &cutoff}})

	sid := mustSession(t, d, "a", at(0), at(20))
	early := mustFrame(t, d, sid, at(1))
	late := mustFrame(t, d, sid, at(10))
	mustIndex(t, d, early, "frozen text")
	mustIndex(t, d, late, "frozen text")

	frames, err := d.FramesInRange(ctx, at(0), at(60), 0)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, early, frames[0].ID)

	after, err := d.FramesAfter(ctx, at(0), 10)
	require.NoError(t, err)
	require.Len(t, after, 1)

	for _, mode := range []model.SearchMode{model.SearchRelevant, model.SearchAll} {
		results, total, err := d.Search(ctx, "frozen", model.SearchFilters{}, 10, 0, mode)
		require.NoError(t, err)
		require.Len(t, results, 1, mode.String())
		assert.Equal(t, 1, total)
		assert.Equal(t, early, results[0].ID)
	}

	n, err := d.MatchCount(ctx, "frozen", model.SearchFilters{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	mustSession(t, d, "b", at(30), at(40))
	st, err := d.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.FrameCount)
	assert.Equal(t, int64(1), st.SessionCount)
	assert.Equal(t, int64(1), st.DocumentCount)
	require.NotNil(t, st.NewestFrameDate)
	assert.True(t, st.NewestFrameDate.Equal(at(1)))
}

func TestISO8601Encoding_RoundTripsAndOrders(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t, Options{Config: config.DatabaseConfig{DateEncoding: config.EncodingISO8601}})

	ts := time.Date(2025, 3, 7, 10, 2, 3, 456_000_000, time.UTC)
	f := mustFrame(t, d, 0, ts)
	mustFrame(t, d, 0, ts.Add(time.Hour))

	var raw string
	require.NoError(t, d.conn.QueryRow(`SELECT created_at FROM frame WHERE id = ?`, f).Scan(&raw))
	assert.Equal(t, "2025-03-07T10:02:03.456", raw)

	got, err := d.GetFrame(ctx, f)
	require.NoError(t, err)
	assert.True(t, got.CreatedAt.Equal(ts))

	frames, err := d.FramesBefore(ctx, ts.Add(30*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, f, frames[0].ID)
}

func TestNodes_ValidationAndText(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t, Options{})

	f := mustFrame(t, d, 0, at(0))
	box := model.Rect{X: 0, Y: 0, Width: 0.5, Height: 0.5}

	_, err := d.IndexFrameText(ctx, f, DocumentText{PrimaryText: "héllo"},
		[]model.TextRun{{Offset: 2, Length: 4, Box: box}})
	require.True(t, errors.Is(err, errors.ErrQueryFailed), "range past text end rejected")
	assert.Equal(t, 0, countRows(t, d, `SELECT COUNT(*) FROM doc_content`), "failed index leaves nothing")

	mustIndex(t, d, f, "héllo wörld", model.TextRun{Offset: 0, Length: 5, Box: box})
	require.NoError(t, d.InsertNodes(ctx, f, []model.TextRun{{Offset: 6, Length: 5, Box: box}}))

	err = d.InsertNodes(ctx, f, []model.TextRun{{Offset: 0, Length: 1, Box: model.Rect{X: 0.9, Width: 0.5}}})
	require.Error(t, err, "box past unit square rejected")

	nodes, err := d.NodesForFrame(ctx, f)
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, 0, nodes[0].Order)
	assert.Equal(t, 1, nodes[1].Order)

	texts, err := d.NodesWithText(ctx, f)
	require.NoError(t, err)
	require.Len(t, texts, 2)
	assert.Equal(t, "héllo", texts[0].Text)
	assert.Equal(t, "wörld", texts[1].Text)

	// Re-indexing replaces text and nodes.
	mustIndex(t, d, f, "new", model.TextRun{Offset: 0, Length: 3, Box: box})
	nodes, err = d.NodesForFrame(ctx, f)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, 1, countRows(t, d, `SELECT COUNT(*) FROM doc_content`))
}

func TestIndexFrameText_MissingFrame(t *testing.T) {
	d := openTestDB(t, Options{})
	_, err := d.IndexFrameText(context.Background(), 777, DocumentText{PrimaryText: "x"}, nil)
	require.True(t, errors.Is(err, errors.ErrQueryFailed))
}

func TestTags_CreateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t, Options{})

	first, err := d.CreateTag(ctx, "hidden")
	require.NoError(t, err)
	second, err := d.CreateTag(ctx, "  Hidden ")
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, countRows(t, d, `SELECT COUNT(*) FROM tag`))

	_, err = d.CreateTag(ctx, "  ")
	require.True(t, errors.Is(err, errors.ErrInvalidRequest))

	sid := mustSession(t, d, "a", at(0), at(1))
	require.NoError(t, d.TagSession(ctx, sid, first.ID))
	require.NoError(t, d.TagSession(ctx, sid, first.ID))

	tags, err := d.TagsForSession(ctx, sid)
	require.NoError(t, err)
	require.Len(t, tags, 1)

	hidden, err := d.HiddenSessionIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, []int64{sid}, hidden)

	removed, err := d.UntagSession(ctx, sid, first.ID)
	require.NoError(t, err)
	require.True(t, removed)

	byName, err := d.GetTagByName(ctx, "HIDDEN")
	require.NoError(t, err)
	require.Equal(t, first.ID, byName.ID)

	ok, err := d.DeleteTag(ctx, first.ID)
	require.NoError(t, err)
	require.True(t, ok)
	all, err := d.ListTags(ctx)
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestTagSession_UnknownSessionIsConstraintError(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t, Options{})

	tag, err := d.CreateTag(ctx, "work")
	require.NoError(t, err)
	err = d.TagSession(ctx, 31337, tag.ID)
	require.True(t, errors.IsConstraint(err), "got %v", err)
}

func TestStats_ExcludesHiddenSessions(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t, Options{})

	visible := mustSession(t, d, "a", at(0), at(5))
	hidden := mustSession(t, d, "b", at(5), at(10))
	tag, err := d.CreateTag(ctx, model.HiddenTag)
	require.NoError(t, err)
	require.NoError(t, d.TagSession(ctx, hidden, tag.ID))

	f1 := mustFrame(t, d, visible, at(1))
	mustFrame(t, d, hidden, at(6))
	mustIndex(t, d, f1, "counted")

	st, err := d.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.FrameCount)
	assert.Equal(t, int64(1), st.SessionCount)
	assert.Equal(t, int64(1), st.DocumentCount)
	assert.Greater(t, st.SizeBytes, int64(0))
	require.NotNil(t, st.OldestFrameDate)
	assert.True(t, st.OldestFrameDate.Equal(at(1)))
	assert.True(t, st.NewestFrameDate.Equal(at(6)))

	usage, err := d.AppUsage(ctx, at(0), at(60))
	require.NoError(t, err)
	require.Len(t, usage, 1)
	assert.Equal(t, "a", usage[0].BundleID)
	assert.Equal(t, 5*time.Minute, usage[0].Duration)
}

func TestStats_EmptyStore(t *testing.T) {
	d := openTestDB(t, Options{})
	st, err := d.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, st.FrameCount)
	assert.Nil(t, st.OldestFrameDate)
}
