package idmap

import (
	"context"
	"database/sql"
	stderrors "errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haseab/retrace-sub006/internal/db"
	"github.com/haseab/retrace-sub006/internal/legacy"
	"github.com/haseab/retrace-sub006/internal/model"
)

func openStore(t *testing.T) *db.DB {
	t.Helper()
	d, err := db.Init(context.Background(), filepath.Join(t.TempDir(), "retrace.db"), db.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func TestMapper_RegisterAndResolve(t *testing.T) {
	ctx := context.Background()
	d := openStore(t)
	m := New(d, nil)

	ext := uuid.New()
	require.NoError(t, m.Register(ctx, model.EntityFrame, ext, 42))

	id, ok := m.InternalID(model.EntityFrame, ext)
	require.True(t, ok)
	assert.Equal(t, int64(42), id)

	back, ok := m.ExternalID(model.EntityFrame, 42)
	require.True(t, ok)
	assert.Equal(t, ext, back)

	_, ok = m.InternalID(model.EntitySegment, ext)
	assert.False(t, ok, "entity types are separate namespaces")

	// A fresh mapper sees the persisted pair.
	fresh := New(d, nil)
	require.NoError(t, fresh.Load(ctx))
	assert.Equal(t, 1, fresh.Len())
	id, ok = fresh.InternalID(model.EntityFrame, ext)
	require.True(t, ok)
	assert.Equal(t, int64(42), id)
}

func TestMapper_ReRegisterMovesReverseEntry(t *testing.T) {
	ctx := context.Background()
	m := New(openStore(t), nil)

	ext := uuid.New()
	require.NoError(t, m.Register(ctx, model.EntityVideo, ext, 1))
	require.NoError(t, m.Register(ctx, model.EntityVideo, ext, 2))

	_, ok := m.ExternalID(model.EntityVideo, 1)
	assert.False(t, ok)
	got, ok := m.ExternalID(model.EntityVideo, 2)
	require.True(t, ok)
	assert.Equal(t, ext, got)
	assert.Equal(t, 1, m.Len())
}

func TestMapper_Forget(t *testing.T) {
	ctx := context.Background()
	d := openStore(t)
	m := New(d, nil)

	ext := uuid.New()
	require.NoError(t, m.Register(ctx, model.EntitySegment, ext, 7))
	require.NoError(t, m.Forget(ctx, model.EntitySegment, ext))

	_, ok := m.InternalID(model.EntitySegment, ext)
	assert.False(t, ok)
	_, ok = m.ExternalID(model.EntitySegment, 7)
	assert.False(t, ok)

	rows, err := d.LoadMappings(ctx)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

type failingStore struct{ Store }

func (failingStore) UpsertMapping(context.Context, model.EntityType, string, int64) error {
	return stderrors.New("disk full")
}

func TestMapper_PersistFailureLeavesCacheUntouched(t *testing.T) {
	m := New(failingStore{}, nil)
	ext := uuid.New()

	require.Error(t, m.Register(context.Background(), model.EntityFrame, ext, 1))
	_, ok := m.InternalID(model.EntityFrame, ext)
	assert.False(t, ok)
	assert.Zero(t, m.Len())
}

// gatedStore records upserts and stalls the one for id 1 until released.
type gatedStore struct {
	Store
	entered chan struct{}
	release chan struct{}

	mu        sync.Mutex
	persisted int64
}

func (g *gatedStore) UpsertMapping(_ context.Context, _ model.EntityType, _ string, internalID int64) error {
	g.mu.Lock()
	g.persisted = internalID
	g.mu.Unlock()
	if internalID == 1 {
		close(g.entered)
		<-g.release
	}
	return nil
}

func TestMapper_ConcurrentRegisterKeepsCacheInStoreOrder(t *testing.T) {
	ctx := context.Background()
	store := &gatedStore{entered: make(chan struct{}), release: make(chan struct{})}
	m := New(store, nil)
	ext := uuid.New()

	firstDone := make(chan error, 1)
	go func() { firstDone <- m.Register(ctx, model.EntityFrame, ext, 1) }()
	<-store.entered

	secondDone := make(chan error, 1)
	go func() { secondDone <- m.Register(ctx, model.EntityFrame, ext, 2) }()

	select {
	case <-secondDone:
		t.Fatal("second Register finished while the first was still writing")
	case <-time.After(50 * time.Millisecond):
	}

	close(store.release)
	require.NoError(t, <-firstDone)
	require.NoError(t, <-secondDone)

	cached, ok := m.InternalID(model.EntityFrame, ext)
	require.True(t, ok)
	assert.Equal(t, int64(2), store.persisted)
	assert.Equal(t, store.persisted, cached)
}

func TestMapper_LoadRejectsMalformedIDs(t *testing.T) {
	ctx := context.Background()
	d := openStore(t)
	require.NoError(t, d.UpsertMapping(ctx, model.EntityFrame, "not-a-uuid", 1))

	require.Error(t, New(d, nil).Load(ctx))
}

func legacyStore(t *testing.T, segments, frames int64) *legacy.Reader {
	t.Helper()
	path := filepath.Join(t.TempDir(), "legacy.db")
	raw, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	for _, stmt := range []string{
		`CREATE TABLE segment (id INTEGER PRIMARY KEY)`,
		`CREATE TABLE frame (id INTEGER PRIMARY KEY)`,
		`CREATE TABLE video (id INTEGER PRIMARY KEY)`,
	} {
		_, err := raw.Exec(stmt)
		require.NoError(t, err)
	}
	_, err = raw.Exec(`INSERT INTO segment (id) VALUES (?)`, segments)
	require.NoError(t, err)
	_, err = raw.Exec(`INSERT INTO frame (id) VALUES (?)`, frames)
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	r, err := legacy.Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestApplyAutoIncrementOffset(t *testing.T) {
	ctx := context.Background()
	d := openStore(t)
	src := legacyStore(t, 1200, 500000)

	report, err := ApplyAutoIncrementOffset(ctx, d, src, nil)
	require.NoError(t, err)
	require.True(t, report.Applied)
	assert.Equal(t, int64(500000), report.Floors[model.EntityFrame])
	assert.Zero(t, report.Floors[model.EntityVideo])

	id, err := d.InsertFrame(ctx, &model.Frame{CreatedAt: time.Now()})
	require.NoError(t, err)
	assert.Greater(t, id, int64(500000))

	again, err := ApplyAutoIncrementOffset(ctx, d, src, nil)
	require.NoError(t, err)
	assert.False(t, again.Applied)
	assert.NotEmpty(t, again.Skipped)
}

func TestApplyAutoIncrementOffset_EmptyLegacy(t *testing.T) {
	ctx := context.Background()
	d := openStore(t)
	src := legacyStore(t, 0, 0)

	report, err := ApplyAutoIncrementOffset(ctx, d, src, nil)
	require.NoError(t, err)
	assert.False(t, report.Applied)
}
