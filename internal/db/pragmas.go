package db

import (
	"fmt"
	"net/url"
)

// connectionPragmas lists the per-connection tuning applied through the DSN.
// The key, when present, must come first.
func connectionPragmas(cacheSizeKB int, key []byte) []string {
	var pragmas []string
	if key != nil {
		pragmas = append(pragmas, keyPragma(key))
	}
	return append(pragmas,
		"busy_timeout(5000)",
		"foreign_keys(1)",
		// Only takes effect on a fresh file, before the first table exists.
		"auto_vacuum(INCREMENTAL)",
		"journal_mode(WAL)",
		"synchronous(NORMAL)",
		fmt.Sprintf("cache_size(-%d)", cacheSizeKB),
		"temp_store(MEMORY)",
	)
}

// buildDSN appends pragmas to the file path as repeated _pragma parameters,
// preserving their order.
func buildDSN(path string, pragmas []string) string {
	q := url.Values{}
	for _, p := range pragmas {
		q.Add("_pragma", p)
	}
	return path + "?" + q.Encode()
}
