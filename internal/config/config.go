package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
)

// Source identifies which provenance a database holds.
type Source string

const (
	SourceNative Source = "native" // live capture stream
	SourceLegacy Source = "legacy" // frozen imported dataset
)

// SessionDeletePolicy controls what deleting a session does to its frames.
type SessionDeletePolicy string

const (
	SessionDeleteCascade SessionDeletePolicy = "cascade" // delete frames, nodes, documents
	SessionDeleteDetach  SessionDeletePolicy = "detach"  // keep frames, clear their session
)

// Config holds application configuration.
type Config struct {
	// StorageRoot is the directory holding the database, key file and chunks.
	// Usually supplied by flag or RETRACE_HOME rather than the file itself.
	StorageRoot string `json:"storage_root,omitempty"`

	// DatabaseFile is the store file name under StorageRoot.
	DatabaseFile string `json:"database_file,omitempty"`

	// Source is the provenance of this store: "native" or "legacy".
	Source Source `json:"source,omitempty"`

	// DateEncoding is how timestamps are persisted: "unix_ms" or "iso8601".
	DateEncoding DateEncoding `json:"date_encoding,omitempty"`

	// CutoffDate freezes an imported dataset at a known-good boundary.
	// Accepts RFC 3339 or YYYY-MM-DD. Empty means no cutoff.
	CutoffDate string `json:"cutoff_date,omitempty"`

	// SessionDelete overrides the delete policy. Empty derives it from Source.
	SessionDelete SessionDeletePolicy `json:"session_delete,omitempty"`

	// LegacyDBPath is the read-only legacy store consulted by the offset step.
	LegacyDBPath string `json:"legacy_db_path,omitempty"`

	// Encrypted requests at-rest encryption with a key from the key provider.
	Encrypted bool `json:"encrypted,omitempty"`

	// CacheSizeKB is the page cache size per connection.
	CacheSizeKB int `json:"cache_size_kb,omitempty"`

	// SearchTopN caps the candidate set of relevance-first search.
	SearchTopN int `json:"search_top_n,omitempty"`

	// SearchWindow caps the recent-frame window of chronological search.
	SearchWindow int `json:"search_window,omitempty"`

	// SnippetTokens is the number of tokens around the best match in snippets.
	SnippetTokens int `json:"snippet_tokens,omitempty"`

	// MaxRetries is how many times an OCR job is retried before the frame is failed.
	MaxRetries int `json:"max_retries,omitempty"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"log_level,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	DisabledTools []string `json:"disabled_tools,omitempty"`

	// AllowedPaths are extra absolute directories exports may be written to,
	// besides <storage_root>/exports.
	AllowedPaths []string `json:"allowed_paths,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		DatabaseFile:  "retrace.db",
		Source:        SourceNative,
		DateEncoding:  EncodingUnixMillis,
		CacheSizeKB:   64 * 1024,
		SearchTopN:    50,
		SearchWindow:  10000,
		SnippetTokens: 32,
		MaxRetries:    3,
		LogLevel:      "info",
	}
}

// DefaultStorageRoot returns RETRACE_HOME if set, else $XDG_DATA_HOME/retrace.
func DefaultStorageRoot() string {
	if explicit := os.Getenv("RETRACE_HOME"); explicit != "" {
		return explicit
	}
	return filepath.Join(xdg.DataHome, "retrace")
}

// Load loads configuration from baseDir/config.json and applies RETRACE_*
// environment overrides. Returns defaults if the file doesn't exist.
func Load(baseDir string) (*Config, error) {
	fileCfg, err := loadFileRaw(filepath.Join(baseDir, "config.json"))
	if err != nil {
		return nil, err
	}
	cfg := Merge(DefaultConfig(), fileCfg)
	if cfg.StorageRoot == "" {
		cfg.StorageRoot = baseDir
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", configPath, err)
	}
	return cfg, nil
}

// applyEnv overlays RETRACE_* environment variables.
func (c *Config) applyEnv() error {
	if v := os.Getenv("RETRACE_SOURCE"); v != "" {
		c.Source = Source(v)
	}
	if v := os.Getenv("RETRACE_DATE_ENCODING"); v != "" {
		c.DateEncoding = DateEncoding(v)
	}
	if v := os.Getenv("RETRACE_CUTOFF_DATE"); v != "" {
		c.CutoffDate = v
	}
	if v := os.Getenv("RETRACE_LEGACY_DB"); v != "" {
		c.LegacyDBPath = v
	}
	if v := os.Getenv("RETRACE_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("RETRACE_ENCRYPTED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("RETRACE_ENCRYPTED: %w", err)
		}
		c.Encrypted = b
	}
	return nil
}

// Validate checks enum fields and the cutoff date.
func (c *Config) Validate() error {
	switch c.Source {
	case SourceNative, SourceLegacy:
	default:
		return fmt.Errorf("source must be native or legacy, got %q", c.Source)
	}
	switch c.DateEncoding {
	case EncodingUnixMillis, EncodingISO8601:
	default:
		return fmt.Errorf("date_encoding must be unix_ms or iso8601, got %q", c.DateEncoding)
	}
	switch c.SessionDelete {
	case "", SessionDeleteCascade, SessionDeleteDetach:
	default:
		return fmt.Errorf("session_delete must be cascade or detach, got %q", c.SessionDelete)
	}
	if _, err := c.cutoff(); err != nil {
		return err
	}
	if c.SearchTopN < 0 || c.SearchWindow < 0 || c.SnippetTokens < 0 || c.MaxRetries < 0 {
		return fmt.Errorf("search_top_n, search_window, snippet_tokens and max_retries must not be negative")
	}
	if c.SnippetTokens > 64 {
		return fmt.Errorf("snippet_tokens must be at most 64, got %d", c.SnippetTokens)
	}
	return nil
}

func (c *Config) cutoff() (*time.Time, error) {
	s := strings.TrimSpace(c.CutoffDate)
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return nil, fmt.Errorf("cutoff_date %q is neither RFC 3339 nor YYYY-MM-DD", s)
	}
	// A bare date freezes the dataset at the end of that day.
	end := t.Add(24*time.Hour - time.Millisecond)
	return &end, nil
}

// ExportsDir returns the default directory for export files.
func (c *Config) ExportsDir() string {
	return filepath.Join(c.StorageRoot, "exports")
}

// DatabasePath returns the full path of the store file.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.StorageRoot, c.DatabaseFile)
}

// DatabaseConfig derives the value that parameterizes every query builder.
// Call Validate first; an unparseable cutoff is treated as absent here.
func (c *Config) DatabaseConfig() DatabaseConfig {
	cutoff, _ := c.cutoff()
	policy := c.SessionDelete
	if policy == "" {
		policy = SessionDeleteCascade
		if c.Source == SourceLegacy {
			policy = SessionDeleteDetach
		}
	}
	return DatabaseConfig{
		DateEncoding:  c.DateEncoding,
		StorageRoot:   c.StorageRoot,
		Source:        c.Source,
		CutoffDate:    cutoff,
		SessionDelete: policy,
	}
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := *base

	if overlay.StorageRoot != "" {
		result.StorageRoot = overlay.StorageRoot
	}
	if overlay.DatabaseFile != "" {
		result.DatabaseFile = overlay.DatabaseFile
	}
	if overlay.Source != "" {
		result.Source = overlay.Source
	}
	if overlay.DateEncoding != "" {
		result.DateEncoding = overlay.DateEncoding
	}
	if overlay.CutoffDate != "" {
		result.CutoffDate = overlay.CutoffDate
	}
	if overlay.SessionDelete != "" {
		result.SessionDelete = overlay.SessionDelete
	}
	if overlay.LegacyDBPath != "" {
		result.LegacyDBPath = overlay.LegacyDBPath
	}
	if overlay.CacheSizeKB != 0 {
		result.CacheSizeKB = overlay.CacheSizeKB
	}
	if overlay.SearchTopN != 0 {
		result.SearchTopN = overlay.SearchTopN
	}
	if overlay.SearchWindow != 0 {
		result.SearchWindow = overlay.SearchWindow
	}
	if overlay.SnippetTokens != 0 {
		result.SnippetTokens = overlay.SnippetTokens
	}
	if overlay.MaxRetries != 0 {
		result.MaxRetries = overlay.MaxRetries
	}
	if overlay.LogLevel != "" {
		result.LogLevel = overlay.LogLevel
	}

	// Booleans: overlay wins if true, else base
	result.Encrypted = base.Encrypted || overlay.Encrypted

	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)
	result.AllowedPaths = mergeStringSlice(base.AllowedPaths, overlay.AllowedPaths)

	return &result
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range append(append([]string{}, a...), b...) {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
