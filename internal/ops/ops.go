// Package ops validates caller input and shapes output for the CLI, MCP and
// HTTP surfaces on top of the storage engine.
package ops

import (
	"fmt"
	"strings"
	"time"

	"github.com/haseab/retrace-sub006/internal/errors"
)

// Pagination limits
const (
	DefaultListLimit = 50
	MaxListLimit     = 500
	DefaultQueueList = 20
	MaxQueueList     = 200
)

// Pagination contains pagination metadata for list operations.
type Pagination struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
	Total   int  `json:"total"`
}

// clampLimit applies a default to non-positive limits and caps the rest.
func clampLimit(limit, def, maxLimit int) int {
	if limit <= 0 {
		return def
	}
	return min(limit, maxLimit)
}

// TimeRange is an optional [Start, End] window given as RFC 3339 or
// YYYY-MM-DD strings. A bare end date covers the whole day.
type TimeRange struct {
	Start string
	End   string
}

// Parse resolves the range. Missing bounds are nil.
func (r TimeRange) Parse() (start, end *time.Time, err error) {
	if start, err = parseBound(r.Start, false); err != nil {
		return nil, nil, err
	}
	if end, err = parseBound(r.End, true); err != nil {
		return nil, nil, err
	}
	if start != nil && end != nil && end.Before(*start) {
		return nil, nil, errors.NewInvalidRequest("end must not be before start")
	}
	return start, end, nil
}

func parseBound(s string, endOfDay bool) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("invalid time %q: want RFC 3339 or YYYY-MM-DD", s))
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Millisecond)
	}
	return &t, nil
}

// cleanList trims entries and drops empty ones.
func cleanList(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
