package model

import (
	"fmt"
	"time"
)

// SearchMode selects the execution plan for a full-text search.
type SearchMode int

const (
	// SearchRelevant ranks first (top-N by BM25), then joins metadata.
	SearchRelevant SearchMode = iota
	// SearchAll filters a bounded recent window first, then ranks within it.
	SearchAll
)

// String returns the wire name of the mode.
func (m SearchMode) String() string {
	switch m {
	case SearchRelevant:
		return "relevant"
	case SearchAll:
		return "all"
	default:
		return fmt.Sprintf("SearchMode(%d)", int(m))
	}
}

// ParseSearchMode maps a wire name to a mode. Empty means relevant.
func ParseSearchMode(s string) (SearchMode, error) {
	switch s {
	case "", "relevant":
		return SearchRelevant, nil
	case "all":
		return SearchAll, nil
	default:
		return 0, fmt.Errorf("unknown search mode %q (want relevant or all)", s)
	}
}

// SearchFilters narrows a search by session metadata and capture time.
type SearchFilters struct {
	StartDate    *time.Time
	EndDate      *time.Time
	IncludedApps []string
	ExcludedApps []string
}

// SearchMetadata carries session context for a hit.
type SearchMetadata struct {
	BundleID   string  `json:"bundle_id,omitempty"`
	WindowName *string `json:"window_name,omitempty"`
	BrowserURL *string `json:"browser_url,omitempty"`
}

// SearchResult is one ranked hit. ID is the frame identifier. Score is the
// raw BM25 value (lower is better); RelevanceScore is normalized to 0..1.
type SearchResult struct {
	ID             int64          `json:"id"`
	ContentID      int64          `json:"content_id"`
	Timestamp      time.Time      `json:"timestamp"`
	Snippet        string         `json:"snippet"`
	Score          float64        `json:"-"`
	RelevanceScore float64        `json:"relevance_score"`
	Metadata       SearchMetadata `json:"metadata"`
	SessionID      *int64         `json:"session_id,omitempty"`
	VideoID        *int64         `json:"video_id,omitempty"`
	FrameIndex     *int           `json:"frame_index,omitempty"`
}

// Stats summarizes the store.
type Stats struct {
	FrameCount      int64      `json:"frame_count"`
	SessionCount    int64      `json:"session_count"`
	DocumentCount   int64      `json:"document_count"`
	SizeBytes       int64      `json:"size_bytes"`
	OldestFrameDate *time.Time `json:"oldest_frame_date,omitempty"`
	NewestFrameDate *time.Time `json:"newest_frame_date,omitempty"`
}
