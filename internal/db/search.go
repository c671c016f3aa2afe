package db

import (
	"context"
	"database/sql"
	"strings"
	"unicode"

	"github.com/haseab/retrace-sub006/internal/errors"
	"github.com/haseab/retrace-sub006/internal/model"
)

// MaxSearchQueryChars bounds the raw query text accepted by the surfaces.
const MaxSearchQueryChars = 1000

// bm25 column weights: primary text, secondary (chrome) text, title.
const rankExpr = `bm25(doc_fts, 1.0, 0.5, 2.0)`

// BuildMatchQuery turns free text into an FTS5 MATCH expression. Each
// whitespace-separated term is quoted (embedded quotes doubled) and given a
// prefix wildcard; terms are AND-ed. Terms with no letter or digit produce
// no tokens and are dropped. Returns "" when no terms remain.
func BuildMatchQuery(text string) string {
	var quoted []string
	for _, t := range strings.Fields(text) {
		if strings.IndexFunc(t, isWordRune) < 0 {
			continue
		}
		quoted = append(quoted, `"`+strings.ReplaceAll(t, `"`, `""`)+`"*`)
	}
	return strings.Join(quoted, " ")
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsNumber(r)
}

// Search runs a full-text query and returns one page of hits, newest first,
// plus the filtered total.
//
// SearchRelevant ranks the whole index, keeps the best SearchTopN and only
// then joins metadata and applies filters; the total is therefore at most
// SearchTopN. SearchAll selects the newest SearchWindow frames matching the
// filters first and ranks only within that window.
func (d *DB) Search(ctx context.Context, text string, filters model.SearchFilters, limit, offset int, mode model.SearchMode) ([]model.SearchResult, int, error) {
	match := BuildMatchQuery(text)
	if match == "" {
		return nil, 0, nil
	}
	if limit <= 0 {
		limit = 20
	}
	offset = max(offset, 0)

	d.mu.Lock()
	defer d.mu.Unlock()

	if mode == model.SearchAll {
		return d.searchChronological(ctx, match, filters, limit, offset)
	}
	return d.searchRelevant(ctx, match, filters, limit, offset)
}

func (d *DB) searchRelevant(ctx context.Context, match string, filters model.SearchFilters, limit, offset int) ([]model.SearchResult, int, error) {
	ranked := `
		WITH ranked AS (
			SELECT rowid AS doc_id,
			       ` + rankExpr + ` AS score,
			       snippet(doc_fts, -1, ?, ?, '…', ?) AS snip
			FROM doc_fts
			WHERE doc_fts MATCH ?
			ORDER BY score
			LIMIT ?
		)`
	rankArgs := []any{d.opts.StartMark, d.opts.EndMark, d.opts.SnippetTokens, match, d.opts.SearchTopN}

	c := d.filterConds(filters, "f.created_at")
	from := `
		FROM ranked r
		JOIN doc_segment ds ON ds.doc_id = r.doc_id
		JOIN frame f ON f.id = ds.frame_id
		LEFT JOIN segment s ON s.id = ds.segment_id` + c.where()

	countQuery := ranked + ` SELECT COUNT(*)` + from
	var total int
	if err := d.conn.QueryRowContext(ctx, countQuery, append(append([]any{}, rankArgs...), c.args...)...).Scan(&total); err != nil {
		return nil, 0, errors.NewQueryFailed(countQuery, err)
	}

	query := ranked + ` SELECT f.id, r.doc_id, f.created_at, r.snip, r.score,
		s.bundle_id, s.window_name, s.browser_url, ds.segment_id, f.video_id, f.video_frame_index` +
		from + ` ORDER BY f.created_at DESC, f.id DESC LIMIT ? OFFSET ?`
	args := append(append(append([]any{}, rankArgs...), c.args...), limit, offset)

	results, err := d.queryResults(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return results, total, nil
}

func (d *DB) searchChronological(ctx context.Context, match string, filters model.SearchFilters, limit, offset int) ([]model.SearchResult, int, error) {
	c := d.filterConds(filters, "fr.created_at")
	join := ""
	if len(filters.IncludedApps) > 0 || len(filters.ExcludedApps) > 0 {
		join = ` LEFT JOIN segment s ON s.id = fr.segment_id`
	}
	recent := `
		WITH recent AS (
			SELECT fr.id, fr.created_at, fr.video_id, fr.video_frame_index
			FROM frame fr` + join + c.where() + `
			ORDER BY fr.created_at DESC
			LIMIT ?
		)`
	recentArgs := append(append([]any{}, c.args...), d.opts.SearchWindow)

	from := `
		FROM recent f
		JOIN doc_segment ds ON ds.frame_id = f.id
		JOIN doc_fts ON doc_fts.rowid = ds.doc_id
		LEFT JOIN segment s ON s.id = ds.segment_id
		WHERE doc_fts MATCH ?`

	countQuery := recent + ` SELECT COUNT(*)` + from
	var total int
	if err := d.conn.QueryRowContext(ctx, countQuery, append(append([]any{}, recentArgs...), match)...).Scan(&total); err != nil {
		return nil, 0, errors.NewQueryFailed(countQuery, err)
	}

	query := recent + ` SELECT f.id, ds.doc_id, f.created_at,
		snippet(doc_fts, -1, ?, ?, '…', ?) AS snip, ` + rankExpr + ` AS score,
		s.bundle_id, s.window_name, s.browser_url, ds.segment_id, f.video_id, f.video_frame_index` +
		from + ` ORDER BY f.created_at DESC, f.id DESC LIMIT ? OFFSET ?`
	args := append(append([]any{}, recentArgs...), d.opts.StartMark, d.opts.EndMark, d.opts.SnippetTokens, match, limit, offset)

	results, err := d.queryResults(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return results, total, nil
}

// MatchCount returns the number of indexed frames matching text and filters,
// without any top-N or window cap. App-only filters never touch the frame
// table; the junction carries the session.
func (d *DB) MatchCount(ctx context.Context, text string, filters model.SearchFilters) (int, error) {
	match := BuildMatchQuery(text)
	if match == "" {
		return 0, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	var c conds
	c.add("doc_fts MATCH ?", match)

	joins := ` JOIN doc_segment ds ON ds.doc_id = doc_fts.rowid`
	if len(filters.IncludedApps) > 0 || len(filters.ExcludedApps) > 0 {
		joins += ` LEFT JOIN segment s ON s.id = ds.segment_id`
	}
	dates := d.filterConds(model.SearchFilters{StartDate: filters.StartDate, EndDate: filters.EndDate}, "f.created_at")
	if len(dates.clauses) > 0 {
		joins += ` JOIN frame f ON f.id = ds.frame_id`
	}
	apps := d.filterConds(model.SearchFilters{IncludedApps: filters.IncludedApps, ExcludedApps: filters.ExcludedApps}, "")

	query := `SELECT COUNT(*) FROM doc_fts` + joins + c.where() + dates.and() + apps.and()
	args := append(append(c.args, dates.args...), apps.args...)

	var n int
	if err := d.conn.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, errors.NewQueryFailed(query, err)
	}
	return n, nil
}

// filterConds builds the date and app predicates. Dates apply to timeCol
// (skipped when empty) with the end capped by the cutoff; apps apply to
// s.bundle_id.
func (d *DB) filterConds(f model.SearchFilters, timeCol string) *conds {
	c := &conds{}
	if timeCol != "" {
		if f.StartDate != nil {
			c.add(timeCol+" >= ?", d.encodeTime(*f.StartDate))
		}
		if end := d.cfg.CapEnd(f.EndDate); end != nil {
			c.add(timeCol+" <= ?", d.encodeTime(*end))
		}
	}
	c.in("s.bundle_id", f.IncludedApps, false)
	c.in("s.bundle_id", f.ExcludedApps, true)
	return c
}

func (d *DB) queryResults(ctx context.Context, query string, args ...any) ([]model.SearchResult, error) {
	rows, err := d.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewQueryFailed(query, err)
	}
	defer rows.Close()

	var out []model.SearchResult
	for rows.Next() {
		var (
			r          model.SearchResult
			created    any
			bundleID   sql.NullString
			windowName sql.NullString
			browserURL sql.NullString
			sessionID  sql.NullInt64
			videoID    sql.NullInt64
			index      sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &r.ContentID, &created, &r.Snippet, &r.Score,
			&bundleID, &windowName, &browserURL, &sessionID, &videoID, &index); err != nil {
			return nil, errors.NewQueryFailed(query, err)
		}
		if r.Timestamp, err = d.decodeTime(created); err != nil {
			return nil, errors.NewQueryFailed(query, err)
		}
		r.Metadata = model.SearchMetadata{
			BundleID:   bundleID.String,
			WindowName: fromNullString(windowName),
			BrowserURL: fromNullString(browserURL),
		}
		r.SessionID = fromNullInt64(sessionID)
		r.VideoID = fromNullInt64(videoID)
		r.FrameIndex = fromNullInt(index)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewQueryFailed(query, err)
	}
	return out, nil
}
