package storage

import (
	"regexp"
	"strings"
)

var (
	illegalChars   = regexp.MustCompile(`[\\/:*?"<>|]`)
	repeatedSpace  = regexp.MustCompile(`\s+`)
	repeatedUnders = regexp.MustCompile(`_+`)
)

// SafeFilename scrubs a title into a filesystem-safe name. Illegal path
// characters become underscores, runs of whitespace collapse, and the result
// is capped at maxRunes runes so CJK titles do not overflow path limits.
func SafeFilename(name string, maxRunes int) string {
	if name == "" {
		return "untitled"
	}

	cleaned := illegalChars.ReplaceAllString(name, "_")
	cleaned = repeatedSpace.ReplaceAllString(cleaned, " ")
	cleaned = repeatedUnders.ReplaceAllString(cleaned, "_")
	cleaned = strings.Trim(cleaned, " ._")

	runes := []rune(cleaned)
	if maxRunes > 0 && len(runes) > maxRunes {
		cleaned = strings.TrimRight(string(runes[:maxRunes]), " ")
	}

	if cleaned == "" {
		return "untitled"
	}
	return cleaned
}
