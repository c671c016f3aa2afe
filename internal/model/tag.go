package model

import (
	"regexp"
	"strings"
)

// HiddenTag is the reserved tag that suppresses a session from aggregate statistics.
const HiddenTag = "hidden"

// Tag is a free-form label attachable to sessions.
type Tag struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

var whitespaceRegex = regexp.MustCompile(`\s+`)

// NormalizeTagName trims, lowercases and collapses internal whitespace, so
// "  Hidden " and "hidden" name the same tag.
func NormalizeTagName(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ToLower(s)
	return whitespaceRegex.ReplaceAllString(s, " ")
}
