package db

import (
	"context"
	"fmt"
	"time"

	"github.com/haseab/retrace-sub006/internal/errors"
)

// CheckpointResult reports the outcome of a WAL checkpoint.
type CheckpointResult struct {
	Busy         bool `json:"busy"`
	LogFrames    int  `json:"log_frames"`
	Checkpointed int  `json:"checkpointed"`
}

// Checkpoint merges the WAL into the main file and truncates it. Best run
// while idle; readers in other processes can make it report Busy.
func (d *DB) Checkpoint(ctx context.Context) (*CheckpointResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	const query = `PRAGMA wal_checkpoint(TRUNCATE)`
	var (
		busy int
		res  CheckpointResult
	)
	start := time.Now()
	if err := d.conn.QueryRowContext(ctx, query).Scan(&busy, &res.LogFrames, &res.Checkpointed); err != nil {
		return nil, errors.NewQueryFailed(query, err)
	}
	res.Busy = busy != 0
	d.log.Info("checkpoint", "busy", res.Busy, "frames", res.LogFrames, "took", time.Since(start))
	return &res, nil
}

// Vacuum rebuilds the file to reclaim free pages.
func (d *DB) Vacuum(ctx context.Context) error {
	return d.maintain(ctx, "vacuum", `VACUUM`)
}

// IncrementalVacuum frees up to pages free-list pages (all when pages <= 0).
func (d *DB) IncrementalVacuum(ctx context.Context, pages int) error {
	stmt := `PRAGMA incremental_vacuum`
	if pages > 0 {
		stmt = fmt.Sprintf(`PRAGMA incremental_vacuum(%d)`, pages)
	}
	return d.maintain(ctx, "incremental vacuum", stmt)
}

// Analyze refreshes the query planner statistics.
func (d *DB) Analyze(ctx context.Context) error {
	return d.maintain(ctx, "analyze", `ANALYZE`)
}

// RebuildIndex re-tokenizes all content into the search index.
func (d *DB) RebuildIndex(ctx context.Context) error {
	return d.maintain(ctx, "rebuild index", `INSERT INTO doc_fts(doc_fts) VALUES ('rebuild')`)
}

// OptimizeIndex merges the search index segments.
func (d *DB) OptimizeIndex(ctx context.Context) error {
	return d.maintain(ctx, "optimize index", `INSERT INTO doc_fts(doc_fts) VALUES ('optimize')`)
}

// IndexIntegrityCheck verifies the search index against its content table.
// A mismatch surfaces as QUERY_FAILED.
func (d *DB) IndexIntegrityCheck(ctx context.Context) error {
	return d.maintain(ctx, "index integrity check", `INSERT INTO doc_fts(doc_fts, rank) VALUES ('integrity-check', 1)`)
}

// maintain runs one maintenance statement outside any data transaction.
func (d *DB) maintain(ctx context.Context, name, stmt string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	start := time.Now()
	if _, err := d.conn.ExecContext(ctx, stmt); err != nil {
		d.log.Warn("maintenance failed", "op", name, "err", err)
		return errors.NewQueryFailed(stmt, err)
	}
	d.log.Info("maintenance", "op", name, "took", time.Since(start))
	return nil
}
