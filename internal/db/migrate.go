package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/haseab/retrace-sub006/internal/errors"
)

// MigrationRecord is one row of the migration ledger.
type MigrationRecord struct {
	Version   int       `json:"version"`
	AppliedAt time.Time `json:"applied_at"`
}

// RunMigrations applies every known migration above the recorded version,
// in ascending order, each in its own transaction with its ledger row.
// It returns how many were applied. On failure the failing migration is
// rolled back and earlier ones stay committed.
func (d *DB) RunMigrations(ctx context.Context) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.runMigrations(ctx, migrations)
}

func (d *DB) runMigrations(ctx context.Context, list []migration) (int, error) {
	if _, err := d.conn.ExecContext(ctx, ledgerDDL); err != nil {
		return 0, errors.NewMigrationFailed(0, err)
	}

	current, err := currentVersion(ctx, d.conn)
	if err != nil {
		return 0, errors.NewMigrationFailed(0, err)
	}

	applied := 0
	for _, m := range list {
		if m.version <= current {
			continue
		}
		err := d.withTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.stmts); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`,
				m.version, time.Now().UnixMilli())
			return err
		})
		if err != nil {
			d.log.Error("migration failed", "version", m.version, "name", m.name, "err", err)
			return applied, errors.NewMigrationFailed(m.version, err)
		}
		d.log.Info("applied migration", "version", m.version, "name", m.name)
		applied++
	}
	return applied, nil
}

// CurrentVersion returns MAX(version) from the ledger, or 0 when empty.
func (d *DB) CurrentVersion(ctx context.Context) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	v, err := currentVersion(ctx, d.conn)
	if err != nil {
		return 0, errors.NewQueryFailed("SELECT MAX(version) FROM schema_migrations", err)
	}
	return v, nil
}

func currentVersion(ctx context.Context, q querier) (int, error) {
	var v sql.NullInt64
	if err := q.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_migrations`).Scan(&v); err != nil {
		return 0, fmt.Errorf("read migration ledger: %w", err)
	}
	return int(v.Int64), nil
}

// AppliedMigrations lists the ledger in version order.
func (d *DB) AppliedMigrations(ctx context.Context) ([]MigrationRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	const query = `SELECT version, applied_at FROM schema_migrations ORDER BY version`
	rows, err := d.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.NewQueryFailed(query, err)
	}
	defer rows.Close()

	var out []MigrationRecord
	for rows.Next() {
		var (
			r  MigrationRecord
			ms int64
		)
		if err := rows.Scan(&r.Version, &ms); err != nil {
			return nil, errors.NewQueryFailed(query, err)
		}
		r.AppliedAt = time.UnixMilli(ms).UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewQueryFailed(query, err)
	}
	return out, nil
}
