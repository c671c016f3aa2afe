package config

import (
	"fmt"
	"strconv"
	"time"
)

// DateEncoding is how timestamps are persisted.
type DateEncoding string

const (
	EncodingUnixMillis DateEncoding = "unix_ms" // INTEGER milliseconds since epoch
	EncodingISO8601    DateEncoding = "iso8601" // TEXT, UTC, millisecond precision
)

// isoLayout sorts lexicographically in time order, so range predicates work on TEXT.
const isoLayout = "2006-01-02T15:04:05.000"

// Encode converts t into the persisted representation.
func (e DateEncoding) Encode(t time.Time) any {
	if e == EncodingISO8601 {
		return t.UTC().Format(isoLayout)
	}
	return t.UnixMilli()
}

// Decode converts a scanned column value back into a time. Both
// representations are accepted regardless of e, since imported data is not
// always consistent.
func (e DateEncoding) Decode(v any) (time.Time, error) {
	switch x := v.(type) {
	case int64:
		return time.UnixMilli(x).UTC(), nil
	case float64:
		return time.UnixMilli(int64(x)).UTC(), nil
	case []byte:
		return decodeText(string(x))
	case string:
		return decodeText(x)
	case time.Time:
		return x.UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("cannot decode %T as time", v)
	}
}

func decodeText(s string) (time.Time, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	for _, layout := range []string{isoLayout, "2006-01-02T15:04:05", time.RFC3339Nano, "2006-01-02 15:04:05.000", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse time %q", s)
}

// DatabaseConfig parameterizes every query builder in the storage layer, so
// native and imported data can share one code path.
type DatabaseConfig struct {
	DateEncoding  DateEncoding
	StorageRoot   string
	Source        Source
	CutoffDate    *time.Time
	SessionDelete SessionDeletePolicy
}

// CapEnd applies the cutoff to an upper time bound. A nil end with a cutoff
// becomes the cutoff; a nil end without one stays nil.
func (c DatabaseConfig) CapEnd(end *time.Time) *time.Time {
	if c.CutoffDate == nil {
		return end
	}
	if end == nil || end.After(*c.CutoffDate) {
		cutoff := *c.CutoffDate
		return &cutoff
	}
	return end
}
