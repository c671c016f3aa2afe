package db

import (
	"context"
	"database/sql"

	"github.com/haseab/retrace-sub006/internal/errors"
	"github.com/haseab/retrace-sub006/internal/model"
)

// SequenceSeeded reports whether any autoincrement sequence entry exists,
// meaning either native rows were inserted or the offset step already ran.
func (d *DB) SequenceSeeded(ctx context.Context) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return sequenceSeeded(ctx, d.conn)
}

func sequenceSeeded(ctx context.Context, q querier) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM sqlite_sequence)`
	var exists bool
	if err := q.QueryRowContext(ctx, query).Scan(&exists); err != nil {
		return false, errors.NewQueryFailed(query, err)
	}
	return exists, nil
}

// SeedSequences pre-seeds each entity's autoincrement sequence so the next
// native id is floor+1. It runs only against a store with no sequence entries
// and reports whether it seeded anything. Zero floors are skipped.
func (d *DB) SeedSequences(ctx context.Context, floors map[model.EntityType]int64) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	seeded := false
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		exists, err := sequenceSeeded(ctx, tx)
		if err != nil || exists {
			return err
		}
		for _, entity := range model.EntityTypes {
			floor := floors[entity]
			if floor <= 0 {
				continue
			}
			if _, err := exec(ctx, tx,
				`INSERT INTO sqlite_sequence (name, seq) VALUES (?, ?)`, entity.Table(), floor); err != nil {
				return err
			}
			seeded = true
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return seeded, nil
}

// SequenceValue returns the current autoincrement high-water mark for an
// entity's table, or 0 when none is recorded.
func (d *DB) SequenceValue(ctx context.Context, entity model.EntityType) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	const query = `SELECT seq FROM sqlite_sequence WHERE name = ?`
	var seq int64
	err := d.conn.QueryRowContext(ctx, query, entity.Table()).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, errors.NewQueryFailed(query, err)
	}
	return seq, nil
}
