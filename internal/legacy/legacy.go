// Package legacy reads the frozen, previously imported store. It never writes.
package legacy

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/haseab/retrace-sub006/internal/errors"
	"github.com/haseab/retrace-sub006/internal/model"
)

// Reader provides read-only access to a legacy store.
type Reader struct {
	db   *sql.DB
	path string
}

// Open opens the legacy store in read-only mode.
func Open(ctx context.Context, path string) (*Reader, error) {
	dsn := fmt.Sprintf("file:%s?mode=ro", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.NewConnectionFailed(path, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.NewConnectionFailed(path, err)
	}
	return &Reader{db: db, path: path}, nil
}

// Path returns the file the reader was opened on.
func (r *Reader) Path() string { return r.path }

// Close closes the database connection.
func (r *Reader) Close() error {
	return r.db.Close()
}

// MaxID returns the highest identifier in the entity's table, or 0 when the
// table is empty or absent.
func (r *Reader) MaxID(ctx context.Context, entity model.EntityType) (int64, error) {
	query := `SELECT COALESCE(MAX(id), 0) FROM ` + entity.Table()
	var id int64
	err := r.db.QueryRowContext(ctx, query).Scan(&id)
	if err != nil {
		if strings.Contains(err.Error(), "no such table") {
			return 0, nil
		}
		return 0, errors.NewQueryFailed(query, err)
	}
	return id, nil
}
