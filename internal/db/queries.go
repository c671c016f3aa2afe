package db

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	"github.com/haseab/retrace-sub006/internal/errors"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// withTx runs fn in a transaction. The caller must hold d.mu.
func (d *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewQueryFailed("BEGIN", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return errors.NewQueryFailed("COMMIT", err)
	}
	return nil
}

// exec runs a single statement and wraps failures as QUERY_FAILED.
func exec(ctx context.Context, q querier, query string, args ...any) (sql.Result, error) {
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewQueryFailed(query, err)
	}
	return res, nil
}

// execAffected runs a statement and reports whether any row changed.
func execAffected(ctx context.Context, q querier, query string, args ...any) (bool, error) {
	res, err := exec(ctx, q, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.NewQueryFailed(query, err)
	}
	return n > 0, nil
}

// insertID runs an INSERT and returns the new rowid.
func insertID(ctx context.Context, q querier, query string, args ...any) (int64, error) {
	res, err := exec(ctx, q, query, args...)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, errors.NewQueryFailed(query, err)
	}
	return id, nil
}

// encodeTime converts t to the configured persisted form.
func (d *DB) encodeTime(t time.Time) any {
	return d.cfg.DateEncoding.Encode(t)
}

// decodeTime converts a scanned column back into a time.
func (d *DB) decodeTime(v any) (time.Time, error) {
	return d.cfg.DateEncoding.Decode(v)
}

// decodeNullTime is decodeTime for nullable columns.
func (d *DB) decodeNullTime(v any) (*time.Time, error) {
	if v == nil {
		return nil, nil
	}
	t, err := d.decodeTime(v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// cutoffArg returns the encoded cutoff bound, or nil when there is none.
func (d *DB) cutoffArg() any {
	if d.cfg.CutoffDate == nil {
		return nil
	}
	return d.encodeTime(*d.cfg.CutoffDate)
}

// conds accumulates AND-ed predicates and their arguments.
type conds struct {
	clauses []string
	args    []any
}

func (c *conds) add(clause string, args ...any) {
	c.clauses = append(c.clauses, clause)
	c.args = append(c.args, args...)
}

// in adds "col IN (?, ...)" or, when negate, "col NOT IN (...)". NULL columns
// are kept by NOT IN so frames without a session survive an exclusion list.
func (c *conds) in(col string, values []string, negate bool) {
	if len(values) == 0 {
		return
	}
	ph := placeholders(len(values))
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	if negate {
		c.add("("+col+" IS NULL OR "+col+" NOT IN ("+ph+"))", args...)
		return
	}
	c.add(col+" IN ("+ph+")", args...)
}

// where renders " WHERE a AND b", or "" when empty.
func (c *conds) where() string {
	if len(c.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(c.clauses, " AND ")
}

// and renders " AND a AND b" for appending to an existing WHERE.
func (c *conds) and() string {
	if len(c.clauses) == 0 {
		return ""
	}
	return " AND " + strings.Join(c.clauses, " AND ")
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

// limitClause renders " LIMIT n" for positive n.
func limitClause(limit int) string {
	if limit <= 0 {
		return ""
	}
	return " LIMIT " + strconv.Itoa(limit)
}

// toNullString converts a *string to sql.NullString.
func toNullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// fromNullString converts a sql.NullString to *string.
func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

func toNullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func fromNullInt64(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	return &n.Int64
}

func fromNullInt(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// prefixed qualifies a comma-separated column list with a table alias.
func prefixed(alias, columns string) string {
	cols := strings.Split(columns, ",")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}
