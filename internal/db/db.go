// Package db is the embedded storage engine: schema and migrations, the
// relational access layer, full-text search and the OCR processing queue.
//
// Every public method on DB holds the handle's mutex for the whole operation
// and the pool is pinned to a single connection, so statements from different
// callers never interleave. Readers in other processes are not blocked thanks
// to WAL mode.
package db

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/haseab/retrace-sub006/internal/config"
	"github.com/haseab/retrace-sub006/internal/errors"
	"github.com/haseab/retrace-sub006/internal/keyprovider"
	"github.com/haseab/retrace-sub006/internal/logging"

	_ "modernc.org/sqlite"
)

// Options configures Open.
type Options struct {
	Config      config.DatabaseConfig
	CacheSizeKB int

	// KeyProvider enables at-rest encryption when non-nil.
	KeyProvider keyprovider.Provider

	// Search tuning. Zero values fall back to defaults.
	SearchTopN    int
	SearchWindow  int
	SnippetTokens int
	StartMark     string
	EndMark       string

	// MaxRetries is the OCR retry budget used by Retry.
	MaxRetries int

	Logger *log.Logger
}

// OptionsFromConfig derives Options from the application config.
func OptionsFromConfig(cfg *config.Config, logger *log.Logger) Options {
	return Options{
		Config:        cfg.DatabaseConfig(),
		CacheSizeKB:   cfg.CacheSizeKB,
		SearchTopN:    cfg.SearchTopN,
		SearchWindow:  cfg.SearchWindow,
		SnippetTokens: cfg.SnippetTokens,
		MaxRetries:    cfg.MaxRetries,
		Logger:        logger,
	}
}

// Default tuning values.
const (
	DefaultSearchTopN    = 50
	DefaultSearchWindow  = 10000
	DefaultSnippetTokens = 32
	DefaultMaxRetries    = 3
	DefaultCacheSizeKB   = 64 * 1024

	// Internal highlight markers. ops converts them to HTML.
	DefaultStartMark = "[[[B]]]"
	DefaultEndMark   = "[[[/B]]]"
)

// DB is a handle on one open store file.
type DB struct {
	mu   sync.Mutex
	conn *sql.DB
	path string
	cfg  config.DatabaseConfig
	opts Options
	log  *log.Logger
}

// Open opens (creating if needed) the store at path and applies the
// connection pragmas. It does not migrate; call RunMigrations, or use Init.
func Open(ctx context.Context, path string, opts Options) (*DB, error) {
	opts = withDefaults(opts)
	logger := logging.OrDiscard(opts.Logger)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, errors.NewConnectionFailed(path, fmt.Errorf("create storage root: %w", err))
	}
	_ = os.Chmod(dir, 0700)

	var key []byte
	if opts.KeyProvider != nil {
		k, err := opts.KeyProvider.GetOrCreateKey()
		if err != nil {
			return nil, errors.NewConnectionFailed(path, fmt.Errorf("obtain encryption key: %w", err))
		}
		key = k
	}

	conn, err := sql.Open("sqlite", buildDSN(path, connectionPragmas(opts.CacheSizeKB, key)))
	if err != nil {
		return nil, errors.NewConnectionFailed(path, err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, errors.NewConnectionFailed(path, err)
	}
	if key != nil {
		if err := verifyCipher(ctx, conn); err != nil {
			conn.Close()
			return nil, errors.NewConnectionFailed(path, err)
		}
	}
	if err := verifyWALMode(ctx, conn); err != nil {
		conn.Close()
		return nil, errors.NewConnectionFailed(path, err)
	}

	_ = os.Chmod(path, 0600)

	logger.Debug("opened store", "path", path, "source", opts.Config.Source, "encrypted", key != nil)
	return &DB{
		conn: conn,
		path: path,
		cfg:  opts.Config,
		opts: opts,
		log:  logger,
	}, nil
}

// Init opens the store and brings its schema to the latest version.
// A migration failure closes the handle: the process must not continue with
// a partially migrated schema.
func Init(ctx context.Context, path string, opts Options) (*DB, error) {
	d, err := Open(ctx, path, opts)
	if err != nil {
		return nil, err
	}
	if _, err := d.RunMigrations(ctx); err != nil {
		d.conn.Close()
		return nil, err
	}
	return d, nil
}

func withDefaults(opts Options) Options {
	if opts.Config.DateEncoding == "" {
		opts.Config.DateEncoding = config.EncodingUnixMillis
	}
	if opts.Config.Source == "" {
		opts.Config.Source = config.SourceNative
	}
	if opts.Config.SessionDelete == "" {
		opts.Config.SessionDelete = config.SessionDeleteCascade
	}
	if opts.CacheSizeKB <= 0 {
		opts.CacheSizeKB = DefaultCacheSizeKB
	}
	if opts.SearchTopN <= 0 {
		opts.SearchTopN = DefaultSearchTopN
	}
	if opts.SearchWindow <= 0 {
		opts.SearchWindow = DefaultSearchWindow
	}
	if opts.SnippetTokens <= 0 {
		opts.SnippetTokens = DefaultSnippetTokens
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.StartMark == "" {
		opts.StartMark = DefaultStartMark
	}
	if opts.EndMark == "" {
		opts.EndMark = DefaultEndMark
	}
	return opts
}

// Path returns the store file path.
func (d *DB) Path() string { return d.path }

// Config returns the query-builder configuration.
func (d *DB) Config() config.DatabaseConfig { return d.cfg }

// Markers returns the highlight markers snippets are wrapped in.
func (d *DB) Markers() (start, end string) { return d.opts.StartMark, d.opts.EndMark }

// MaxRetries returns the OCR retry budget.
func (d *DB) MaxRetries() int { return d.opts.MaxRetries }

// Close checkpoints the WAL back into the main file and closes the handle.
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := d.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		d.log.Warn("checkpoint before close failed", "err", err)
	}
	return d.conn.Close()
}

// verifyWALMode checks that WAL mode is active (set via connection string).
func verifyWALMode(ctx context.Context, conn *sql.DB) error {
	var journalMode string
	if err := conn.QueryRowContext(ctx, "PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to verify journal mode: %w", err)
	}
	if journalMode != "wal" {
		return fmt.Errorf("expected WAL mode, got %s", journalMode)
	}
	return nil
}

// verifyCipher confirms the driver actually applied the key. Plain SQLite
// silently ignores PRAGMA key, so an unencrypted file would otherwise be
// created under a caller who asked for encryption.
func verifyCipher(ctx context.Context, conn *sql.DB) error {
	var version string
	err := conn.QueryRowContext(ctx, "PRAGMA cipher_version;").Scan(&version)
	if err == sql.ErrNoRows || (err == nil && version == "") {
		return fmt.Errorf("encryption requested but the sqlite driver has no cipher codec")
	}
	if err != nil {
		return fmt.Errorf("verify cipher: %w", err)
	}
	return nil
}

// keyPragma renders a raw key as a SQLCipher blob literal.
func keyPragma(key []byte) string {
	return fmt.Sprintf(`key("x'%s'")`, hex.EncodeToString(key))
}
