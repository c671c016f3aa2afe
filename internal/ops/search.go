package ops

import (
	"context"
	"fmt"
	"html"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/haseab/retrace-sub006/internal/db"
	"github.com/haseab/retrace-sub006/internal/errors"
	"github.com/haseab/retrace-sub006/internal/model"
)

// Search limits
const (
	DefaultSearchLimit = 20
	MaxSearchLimit     = 200
	MaxQueryLength     = db.MaxSearchQueryChars
	MaxSnippetChars    = 300
)

// SearchInput contains parameters for the Search operation.
type SearchInput struct {
	Query        string // required
	Mode         string // "relevant" (default) or "all"
	Range        TimeRange
	IncludedApps []string
	ExcludedApps []string
	Limit        int // default: 20, max: 200
	Offset       int
}

// SearchOutput contains the result of the Search operation. Snippets are
// HTML-safe: captured text is escaped and only <mark> highlight tags remain.
type SearchOutput struct {
	Items      []model.SearchResult `json:"items"`
	Pagination Pagination           `json:"pagination"`
	Mode       string               `json:"mode"`
}

// Search runs a full-text search. Results are sorted newest first in both
// modes; the mode decides which candidates are considered.
func Search(ctx context.Context, database *db.DB, input SearchInput) (*SearchOutput, error) {
	query, err := validateQuery(input.Query)
	if err != nil {
		return nil, err
	}
	mode, err := model.ParseSearchMode(strings.TrimSpace(input.Mode))
	if err != nil {
		return nil, errors.NewInvalidRequest(err.Error())
	}
	filters, err := buildFilters(input.Range, input.IncludedApps, input.ExcludedApps)
	if err != nil {
		return nil, err
	}

	limit := clampLimit(input.Limit, DefaultSearchLimit, MaxSearchLimit)
	offset := max(input.Offset, 0)

	results, total, err := database.Search(ctx, query, filters, limit, offset, mode)
	if err != nil {
		return nil, err
	}

	startMark, endMark := database.Markers()
	items := make([]model.SearchResult, len(results))
	for i, r := range results {
		r.RelevanceScore = normalizeScore(r.Score)
		r.Snippet = truncateSnippet(escapeSnippetHTML(r.Snippet, startMark, endMark), MaxSnippetChars)
		items[i] = r
	}

	return &SearchOutput{
		Items: items,
		Pagination: Pagination{
			Limit:   limit,
			Offset:  offset,
			HasMore: offset+len(items) < total,
			Total:   total,
		},
		Mode: mode.String(),
	}, nil
}

// MatchCountInput contains parameters for the MatchCount operation.
type MatchCountInput struct {
	Query        string
	Range        TimeRange
	IncludedApps []string
	ExcludedApps []string
}

// MatchCountOutput is the uncapped number of matching frames.
type MatchCountOutput struct {
	Count int `json:"count"`
}

// MatchCount counts every matching frame, ignoring the search caps.
func MatchCount(ctx context.Context, database *db.DB, input MatchCountInput) (*MatchCountOutput, error) {
	query, err := validateQuery(input.Query)
	if err != nil {
		return nil, err
	}
	filters, err := buildFilters(input.Range, input.IncludedApps, input.ExcludedApps)
	if err != nil {
		return nil, err
	}
	n, err := database.MatchCount(ctx, query, filters)
	if err != nil {
		return nil, err
	}
	return &MatchCountOutput{Count: n}, nil
}

func validateQuery(q string) (string, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return "", errors.NewInvalidRequest("query is required")
	}
	if utf8.RuneCountInString(q) > MaxQueryLength {
		return "", errors.NewInvalidRequest(fmt.Sprintf("query exceeds maximum length of %d characters", MaxQueryLength))
	}
	if db.BuildMatchQuery(q) == "" {
		return "", errors.NewInvalidRequest("query has no searchable terms")
	}
	return q, nil
}

func buildFilters(r TimeRange, included, excluded []string) (model.SearchFilters, error) {
	start, end, err := r.Parse()
	if err != nil {
		return model.SearchFilters{}, err
	}
	return model.SearchFilters{
		StartDate:    start,
		EndDate:      end,
		IncludedApps: cleanList(included),
		ExcludedApps: cleanList(excluded),
	}, nil
}

// normalizeScore maps a raw BM25 value (lower is better, usually negative)
// into 0..1 with better matches closer to 1.
func normalizeScore(score float64) float64 {
	a := math.Abs(score)
	return a / (1 + a)
}

// truncateSnippet truncates a snippet to approximately maxChars while:
// 1. Preserving valid UTF-8 (never splits multi-byte runes)
// 2. Preserving markup integrity (closes any open <mark> tags)
// 3. Preferring word boundaries when possible
func truncateSnippet(s string, maxChars int) string {
	if maxChars <= 0 {
		return "..."
	}

	if len(s) <= maxChars {
		return s
	}

	truncateAt := maxChars
	for truncateAt > 0 && !utf8.RuneStart(s[truncateAt]) {
		truncateAt--
	}
	if truncateAt == 0 {
		return "..."
	}

	truncated := s[:truncateAt]

	// Only <mark> tags and entities from escaping can be cut in half here.
	if lastLT := strings.LastIndex(truncated, "<"); lastLT != -1 && !strings.Contains(truncated[lastLT:], ">") {
		truncated = truncated[:lastLT]
	}
	if lastAmp := strings.LastIndex(truncated, "&"); lastAmp != -1 && !strings.Contains(truncated[lastAmp:], ";") {
		truncated = truncated[:lastAmp]
	}

	if lastSpace := strings.LastIndex(truncated, " "); lastSpace > truncateAt/2 {
		truncated = truncated[:lastSpace]
	}

	unclosed := strings.Count(truncated, "<mark>") - strings.Count(truncated, "</mark>")
	for range unclosed {
		truncated += "</mark>"
	}

	return truncated + "..."
}

// escapeSnippetHTML escapes captured screen text in a snippet while turning
// the store's highlight markers into <mark> tags. OCR text can contain
// anything that was on screen, markup included.
func escapeSnippetHTML(s, startMark, endMark string) string {
	const (
		openPlaceholder  = "\x00RETRACE_MARK_OPEN\x00"
		closePlaceholder = "\x00RETRACE_MARK_CLOSE\x00"
	)

	s = strings.ReplaceAll(s, startMark, openPlaceholder)
	s = strings.ReplaceAll(s, endMark, closePlaceholder)

	s = html.EscapeString(s)

	s = strings.ReplaceAll(s, openPlaceholder, "<mark>")
	s = strings.ReplaceAll(s, closePlaceholder, "</mark>")
	return s
}
